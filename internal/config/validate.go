package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTools() error {
	if strings.TrimSpace(c.Tools.FFmpeg) == "" {
		return errors.New("tools.ffmpeg must be set")
	}
	if strings.TrimSpace(c.Tools.FFprobe) == "" {
		return errors.New("tools.ffprobe must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.ProgressThrottleMS < 0 {
		return errors.New("pipeline.progress_throttle_ms must not be negative")
	}
	if c.Pipeline.ChannelCapacity <= 0 {
		return errors.New("pipeline.channel_capacity must be positive")
	}
	if c.Pipeline.ProbeTimeoutSeconds <= 0 {
		return errors.New("pipeline.probe_timeout_seconds must be positive")
	}
	if c.Pipeline.CancelGraceSeconds <= 0 {
		return errors.New("pipeline.cancel_grace_seconds must be positive")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if !c.API.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind %q must be host:port: %w", c.API.Bind, err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

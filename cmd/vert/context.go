package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"vert/internal/config"
	"vert/internal/converters"
	"vert/internal/logging"
	"vert/internal/manager"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// fileLogger logs only to vert.log so interactive output stays clean.
func (c *commandContext) fileLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Paths.LogDir == "" {
		return logging.NewNop(), nil
	}
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      "json",
		OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "vert.log")},
	})
}

// newManager builds a manager over the built-in converters.
func (c *commandContext) newManager(logger *slog.Logger, recorders ...manager.Recorder) (*manager.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	registry, err := converters.NewRegistry(converters.SettingsFromConfig(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("build converter registry: %w", err)
	}
	return manager.New(registry,
		manager.WithLogger(logger),
		manager.WithRecorders(recorders...),
		manager.WithChannelCapacity(cfg.Pipeline.ChannelCapacity),
		manager.WithCancelGrace(cfg.Pipeline.CancelGrace()),
	), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

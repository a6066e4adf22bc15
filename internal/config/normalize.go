package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeTools(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

// normalizeTools applies VERT_FFMPEG and VERT_FFPROBE when the file leaves the
// tool at its default, and expands tool values that look like paths.
func (c *Config) normalizeTools() error {
	c.Tools.FFmpeg = envOverride(c.Tools.FFmpeg, defaultFFmpeg, "VERT_FFMPEG")
	c.Tools.FFprobe = envOverride(c.Tools.FFprobe, defaultFFprobe, "VERT_FFPROBE")

	tools := []struct {
		key   string
		value *string
	}{
		{"tools.ffmpeg", &c.Tools.FFmpeg},
		{"tools.ffprobe", &c.Tools.FFprobe},
		{"tools.magick", &c.Tools.Magick},
		{"tools.pandoc", &c.Tools.Pandoc},
		{"tools.qpdf", &c.Tools.Qpdf},
	}
	for _, tool := range tools {
		value := strings.TrimSpace(*tool.value)
		if strings.ContainsRune(value, '/') || strings.HasPrefix(value, "~") {
			expanded, err := expandPath(value)
			if err != nil {
				return fmt.Errorf("%s: %w", tool.key, err)
			}
			value = expanded
		}
		*tool.value = value
	}
	return nil
}

func envOverride(value, fallback, env string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed != "" && trimmed != fallback {
		return trimmed
	}
	if fromEnv, ok := os.LookupEnv(env); ok && strings.TrimSpace(fromEnv) != "" {
		return strings.TrimSpace(fromEnv)
	}
	return trimmed
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		c.API.Token = strings.TrimSpace(os.Getenv("VERT_API_TOKEN"))
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

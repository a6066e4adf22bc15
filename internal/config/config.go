package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains data and log directories.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Tools names the external executables. Bare names are resolved through PATH.
type Tools struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	Magick  string `toml:"magick"`
	Pandoc  string `toml:"pandoc"`
	Qpdf    string `toml:"qpdf"`
}

// Pipeline tunes the encoder pipeline and the manager's cancellation wait.
type Pipeline struct {
	ProgressThrottleMS  int `toml:"progress_throttle_ms"`
	ChannelCapacity     int `toml:"channel_capacity"`
	ProbeTimeoutSeconds int `toml:"probe_timeout_seconds"`
	CancelGraceSeconds  int `toml:"cancel_grace_seconds"`
}

// Throttle returns the minimum spacing between stdout progress updates.
func (p Pipeline) Throttle() time.Duration {
	return time.Duration(p.ProgressThrottleMS) * time.Millisecond
}

// ProbeTimeout bounds one duration probe.
func (p Pipeline) ProbeTimeout() time.Duration {
	return time.Duration(p.ProbeTimeoutSeconds) * time.Second
}

// CancelGrace bounds how long a cancel waits for the task's stream to close.
func (p Pipeline) CancelGrace() time.Duration {
	return time.Duration(p.CancelGraceSeconds) * time.Second
}

// API configures the daemon's HTTP server.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	// Token, when set, is required as "Authorization: Bearer <token>" on
	// every /api route. Falls back to VERT_API_TOKEN.
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for vert.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Tools    Tools    `toml:"tools"`
	Pipeline Pipeline `toml:"pipeline"`
	API      API      `toml:"api"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vert.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath is the task history database inside the data directory.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.DataDir, "journal.db")
}

// LockPath is the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "vertd.lock")
}

// FFmpegBinary returns the encoder executable.
func (c *Config) FFmpegBinary() string {
	return binaryOr(c.Tools.FFmpeg, defaultFFmpeg)
}

// FFprobeBinary returns the prober executable.
func (c *Config) FFprobeBinary() string {
	return binaryOr(c.Tools.FFprobe, defaultFFprobe)
}

// MagickBinary returns the ImageMagick executable.
func (c *Config) MagickBinary() string {
	return binaryOr(c.Tools.Magick, defaultMagick)
}

// PandocBinary returns the pandoc executable.
func (c *Config) PandocBinary() string {
	return binaryOr(c.Tools.Pandoc, defaultPandoc)
}

// QpdfBinary returns the executable that applies PDF permissions.
func (c *Config) QpdfBinary() string {
	return binaryOr(c.Tools.Qpdf, defaultQpdf)
}

func binaryOr(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

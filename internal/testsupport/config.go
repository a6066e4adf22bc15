package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"vert/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Pipeline.ProgressThrottleMS = 1
	cfgVal.Pipeline.CancelGraceSeconds = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTool points one [tools] entry ("ffmpeg", "ffprobe", "magick",
// "pandoc", "qpdf") at a /bin/sh script with the given body.
func WithTool(name, body string) ConfigOption {
	return func(b *configBuilder) {
		path := WriteScript(b.t, filepath.Join(b.baseDir, "bin"), name, body)
		switch name {
		case "ffmpeg":
			b.cfg.Tools.FFmpeg = path
		case "ffprobe":
			b.cfg.Tools.FFprobe = path
		case "magick":
			b.cfg.Tools.Magick = path
		case "pandoc":
			b.cfg.Tools.Pandoc = path
		case "qpdf":
			b.cfg.Tools.Qpdf = path
		default:
			b.t.Fatalf("unknown tool %q", name)
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the vert external binaries are
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "magick", "pandoc", "qpdf"}
		}
		binDir := filepath.Join(b.baseDir, "path-bin")
		for _, name := range names {
			WriteScript(b.t, binDir, name, "exit 0")
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

package converters

import (
	"log/slog"
	"time"

	"vert/internal/config"
	"vert/internal/conversion"
	"vert/internal/logging"
	"vert/internal/pipeline"
)

// DefaultProbeTimeout bounds the duration probe when Settings leaves it unset.
const DefaultProbeTimeout = 30 * time.Second

// Settings carries the tool locations and pipeline tuning shared by every
// converter.
type Settings struct {
	FFmpeg  string
	FFprobe string
	Magick  string
	Pandoc  string
	Qpdf    string

	Throttle     time.Duration
	Capacity     int
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// SettingsFromConfig maps the [tools] and [pipeline] sections.
func SettingsFromConfig(cfg *config.Config, logger *slog.Logger) Settings {
	if cfg == nil {
		return Settings{Logger: logger}
	}
	return Settings{
		FFmpeg:       cfg.FFmpegBinary(),
		FFprobe:      cfg.FFprobeBinary(),
		Magick:       cfg.MagickBinary(),
		Pandoc:       cfg.PandocBinary(),
		Qpdf:         cfg.QpdfBinary(),
		Throttle:     cfg.Pipeline.Throttle(),
		Capacity:     cfg.Pipeline.ChannelCapacity,
		ProbeTimeout: cfg.Pipeline.ProbeTimeout(),
		Logger:       logger,
	}
}

func (s Settings) logger(component string) *slog.Logger {
	return logging.NewComponentLogger(s.Logger, component)
}

func (s Settings) probeTimeout() time.Duration {
	if s.ProbeTimeout <= 0 {
		return DefaultProbeTimeout
	}
	return s.ProbeTimeout
}

// spec fills the pipeline fields common to every converter.
func (s Settings) spec(task conversion.Task, binary string, args []string, logger *slog.Logger) pipeline.Spec {
	return pipeline.Spec{
		TaskID:    task.ID,
		Binary:    binary,
		Args:      args,
		OutputDir: outputDir(task.OutputPath),
		Throttle:  s.Throttle,
		Capacity:  s.Capacity,
		Logger:    logger,
	}
}

// NewRegistry builds the registry holding the four built-in converters.
func NewRegistry(settings Settings) (*conversion.Registry, error) {
	return conversion.NewRegistry(
		NewVideoConverter(settings),
		NewAudioConverter(settings),
		NewImageConverter(settings),
		NewDocumentConverter(settings),
	)
}

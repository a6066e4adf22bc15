package config

const (
	defaultConfigPath          = "~/.config/vert/config.toml"
	defaultDataDir             = "~/.local/share/vert"
	defaultLogDir              = "~/.local/share/vert/logs"
	defaultFFmpeg              = "ffmpeg"
	defaultFFprobe             = "ffprobe"
	defaultMagick              = "magick"
	defaultPandoc              = "pandoc"
	defaultQpdf                = "qpdf"
	defaultProgressThrottleMS  = 250
	defaultChannelCapacity     = 32
	defaultProbeTimeoutSeconds = 30
	defaultCancelGraceSeconds  = 5
	defaultAPIBind             = "127.0.0.1:24153"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Tools: Tools{
			FFmpeg:  defaultFFmpeg,
			FFprobe: defaultFFprobe,
			Magick:  defaultMagick,
			Pandoc:  defaultPandoc,
			Qpdf:    defaultQpdf,
		},
		Pipeline: Pipeline{
			ProgressThrottleMS:  defaultProgressThrottleMS,
			ChannelCapacity:     defaultChannelCapacity,
			ProbeTimeoutSeconds: defaultProbeTimeoutSeconds,
			CancelGraceSeconds:  defaultCancelGraceSeconds,
		},
		API: API{
			Enabled: true,
			Bind:    defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

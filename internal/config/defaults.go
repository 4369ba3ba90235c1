package config

const (
	defaultConfigPath            = "~/.config/cinegrid/config.toml"
	defaultDataDir               = "~/.local/share/cinegrid"
	defaultLogDir                = "~/.local/share/cinegrid/logs"
	defaultAPIBind               = "127.0.0.1:7491"
	defaultFastPathBaseURL       = "http://127.0.0.1:8042/cine"
	defaultHighFidelityBaseURL   = "http://127.0.0.1:8042/dicom-web"
	defaultRequestTimeout        = 30
	defaultFPS                   = 30
	defaultTickRate              = 60
	defaultGridDim               = 2
	defaultAutoplay              = true
	defaultMaxTransitionAttempts = 3
	defaultPreloadChunkSize      = 8
	defaultPreloadConcurrency    = 4
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"

	// MaxGridDim bounds the layout to 4x4.
	MaxGridDim = 4
	// MaxSlots is the fixed number of slots regardless of layout.
	MaxSlots = MaxGridDim * MaxGridDim
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Sources: Sources{
			FastPathBaseURL:     defaultFastPathBaseURL,
			HighFidelityBaseURL: defaultHighFidelityBaseURL,
			RequestTimeout:      defaultRequestTimeout,
		},
		Playback: Playback{
			DefaultFPS:            defaultFPS,
			TickRate:              defaultTickRate,
			GridDim:               defaultGridDim,
			Autoplay:              defaultAutoplay,
			MaxTransitionAttempts: defaultMaxTransitionAttempts,
		},
		Preload: Preload{
			ChunkSize:   defaultPreloadChunkSize,
			Concurrency: defaultPreloadConcurrency,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

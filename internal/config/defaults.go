package config

const (
	defaultConfigPath            = "~/.config/deeplinker/config.toml"
	defaultDataDir               = "~/.local/share/deeplinker"
	defaultStorageSubdir         = "blobs"
	defaultWorkSubdir            = "work"
	defaultLogSubdir             = "logs"
	defaultDatabaseName          = "deeplinker.db"
	defaultMaxVideoBytes         = 2 << 30
	defaultMaxPhotoBytes         = 20 << 20
	defaultMinFreeBytes          = 512 << 20
	defaultPreviewSeconds        = 3
	defaultCollageFrames         = 4
	defaultCollageQuality        = 85
	defaultCollageCellWidth      = 480
	defaultWatermarkPosition     = "bottom-right"
	defaultWatermarkOpacity      = 0.5
	defaultWatermarkTarget       = "auto"
	defaultCacheSize             = 1024
	defaultCacheTTLSeconds       = 300
	defaultChunkSizeBytes        = 1 << 20
	defaultTransferConcurrency   = 8
	defaultTransferRetries       = 3
	defaultRetryInitialMillis    = 200
	defaultRetryMaxMillis        = 5000
	defaultRequestTimeoutSeconds = 60
	defaultPipelineWorkers       = 8
	defaultQueueDepth            = 64
	defaultStageTimeoutSeconds   = 600
	defaultAPIBind               = "127.0.0.1:7580"
	defaultNotifyTimeoutSeconds  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30

	// MinPreviewSeconds and MaxPreviewSeconds bound preview clip durations.
	MinPreviewSeconds = 1
	MaxPreviewSeconds = 60
)

// DefaultPreference is the artifact order the delivery gate tries.
var DefaultPreference = []string{"watermark", "preview", "collage", "raw"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Tools: Tools{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Limits: Limits{
			MaxVideoBytes: defaultMaxVideoBytes,
			MaxPhotoBytes: defaultMaxPhotoBytes,
			MinFreeBytes:  defaultMinFreeBytes,
		},
		Preview: Preview{
			Enabled:         true,
			DurationSeconds: defaultPreviewSeconds,
		},
		Collage: Collage{
			Enabled:   true,
			Frames:    defaultCollageFrames,
			Quality:   defaultCollageQuality,
			CellWidth: defaultCollageCellWidth,
		},
		Watermark: Watermark{
			Enabled:  false,
			Position: defaultWatermarkPosition,
			Opacity:  defaultWatermarkOpacity,
			Target:   defaultWatermarkTarget,
		},
		Delivery: Delivery{
			ProtectContent:  true,
			Preference:      append([]string(nil), DefaultPreference...),
			CacheSize:       defaultCacheSize,
			CacheTTLSeconds: defaultCacheTTLSeconds,
		},
		Transfer: Transfer{
			ChunkSizeBytes:        defaultChunkSizeBytes,
			Concurrency:           defaultTransferConcurrency,
			Retries:               defaultTransferRetries,
			RetryInitialMillis:    defaultRetryInitialMillis,
			RetryMaxMillis:        defaultRetryMaxMillis,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Pipeline: Pipeline{
			Workers:             defaultPipelineWorkers,
			QueueDepth:          defaultQueueDepth,
			StageTimeoutSeconds: defaultStageTimeoutSeconds,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
			LinkReady:             true,
			DerivationFailed:      true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

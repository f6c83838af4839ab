package config

const (
	defaultStagingDir            = "~/.local/share/trackweave/staging"
	defaultOutputDir             = "~/downloads"
	defaultLogDir                = "~/.local/share/trackweave/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultFetchAttempts         = 5
	defaultSegmentRetries        = 3
	defaultRequestTimeoutSeconds = 60
	defaultSampleRate            = 16000
	defaultMaxOffsetSeconds      = 120
	defaultSimilarityBits        = 10
	defaultMinOverlapFrames      = 32
	defaultConfidenceThreshold   = 0.65
	defaultFFmpegBinary          = "ffmpeg"
	defaultMkvmergeBinary        = "mkvmerge"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
		},
		Download: Download{
			Workers:               0, // derived from available parallelism
			RateLimitBytesPerSec:  0, // unthrottled
			FetchAttempts:         defaultFetchAttempts,
			SegmentRetries:        defaultSegmentRetries,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			KeepPartialOnCancel:   true,
		},
		Alignment: Alignment{
			SampleRate:          defaultSampleRate,
			MaxOffsetSeconds:    defaultMaxOffsetSeconds,
			SimilarityBits:      defaultSimilarityBits,
			MinOverlapFrames:    defaultMinOverlapFrames,
			ConfidenceThreshold: defaultConfidenceThreshold,
		},
		Tools: Tools{
			FFmpegBinary:   defaultFFmpegBinary,
			MkvmergeBinary: defaultMkvmergeBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

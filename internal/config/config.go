package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
}

// Download contains fetch scheduling and throttling settings.
type Download struct {
	// Workers bounds concurrent segment fetches across all variants.
	// Zero selects a value derived from available parallelism.
	Workers int `toml:"workers"`
	// RateLimitBytesPerSec caps aggregate transfer across all workers.
	// Zero disables throttling.
	RateLimitBytesPerSec int64 `toml:"rate_limit_bytes_per_sec"`
	// FetchAttempts is the per-request retry bound inside the fetcher.
	FetchAttempts int `toml:"fetch_attempts"`
	// SegmentRetries is the coordinator-level requeue budget per segment.
	SegmentRetries int `toml:"segment_retries"`
	// RequestTimeoutSeconds bounds a single segment request.
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
	// KeepPartialOnCancel preserves downloaded segments for resume when the
	// session is cancelled (not when it fails).
	KeepPartialOnCancel bool `toml:"keep_partial_on_cancel"`
}

// Alignment contains fingerprint and cross-correlation settings.
type Alignment struct {
	// SampleRate is the mono PCM rate requested from the external decoder.
	SampleRate int `toml:"sample_rate"`
	// MaxOffsetSeconds bounds the offset search window in either direction.
	MaxOffsetSeconds int `toml:"max_offset_seconds"`
	// SimilarityBits is the Hamming distance at or under which two
	// fingerprint frames count as matching.
	SimilarityBits int `toml:"similarity_bits"`
	// MinOverlapFrames is the smallest overlap considered viable.
	MinOverlapFrames int `toml:"min_overlap_frames"`
	// ConfidenceThreshold gates whether an offset is trusted; below it the
	// pipeline falls back to zero offset and surfaces a warning.
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
}

// Tools names the external binaries the pipeline invokes.
type Tools struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	MkvmergeBinary string `toml:"mkvmerge_binary"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for trackweave.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Download  Download  `toml:"download"`
	Alignment Alignment `toml:"alignment"`
	Tools     Tools     `toml:"tools"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path of the default config file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/trackweave/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return is
// the resolved path, the third reports whether the file existed.
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

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("trackweave.toml")
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

func (c *Config) normalize() error {
	for _, field := range []*string{&c.Paths.StagingDir, &c.Paths.OutputDir, &c.Paths.LogDir} {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if strings.TrimSpace(c.Tools.FFmpegBinary) == "" {
		c.Tools.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Tools.MkvmergeBinary) == "" {
		c.Tools.MkvmergeBinary = defaultMkvmergeBinary
	}
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}

// EnsureDirectories creates the directories a session needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

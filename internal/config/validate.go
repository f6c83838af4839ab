package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateAlignment(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.Workers < 0 {
		return errors.New("download.workers must not be negative")
	}
	if c.Download.RateLimitBytesPerSec < 0 {
		return errors.New("download.rate_limit_bytes_per_sec must not be negative")
	}
	if c.Download.FetchAttempts < 1 {
		return errors.New("download.fetch_attempts must be at least 1")
	}
	if c.Download.SegmentRetries < 0 {
		return errors.New("download.segment_retries must not be negative")
	}
	if c.Download.RequestTimeoutSeconds < 1 {
		return errors.New("download.request_timeout_seconds must be at least 1")
	}
	return nil
}

func (c *Config) validateAlignment() error {
	if c.Alignment.SampleRate < 8000 {
		return errors.New("alignment.sample_rate must be at least 8000")
	}
	if c.Alignment.MaxOffsetSeconds < 1 {
		return errors.New("alignment.max_offset_seconds must be at least 1")
	}
	if c.Alignment.SimilarityBits < 0 || c.Alignment.SimilarityBits > 32 {
		return errors.New("alignment.similarity_bits must be between 0 and 32")
	}
	if c.Alignment.MinOverlapFrames < 1 {
		return errors.New("alignment.min_overlap_frames must be at least 1")
	}
	if c.Alignment.ConfidenceThreshold < 0 || c.Alignment.ConfidenceThreshold > 1 {
		return errors.New("alignment.confidence_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

package testsupport

import (
	"path/filepath"
	"testing"

	"trackweave/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure test directories: %v", err)
	}
	return &cfg
}

// WithWorkers overrides the download worker count.
func WithWorkers(n int) ConfigOption {
	return func(c *config.Config) { c.Download.Workers = n }
}

// WithRateLimit overrides the aggregate bandwidth cap.
func WithRateLimit(bytesPerSec int64) ConfigOption {
	return func(c *config.Config) { c.Download.RateLimitBytesPerSec = bytesPerSec }
}

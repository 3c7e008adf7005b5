package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"deeplinker/internal/config"
)

// ConfigOption adjusts a test configuration after its directories are set.
type ConfigOption func(t testing.TB, cfg *config.Config)

// NewConfig returns a config rooted in a fresh temp directory, with fast
// retry timings and preview jitter off so results are deterministic.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		DataDir:      root,
		StorageDir:   filepath.Join(root, "blobs"),
		WorkDir:      filepath.Join(root, "work"),
		DatabasePath: filepath.Join(root, "deeplinker.db"),
		LogDir:       filepath.Join(root, "logs"),
	}
	cfg.API.Bind = "127.0.0.1:0"
	cfg.Limits.MinFreeBytes = 0
	cfg.Preview.Jitter = false
	cfg.Transfer.RetryInitialMillis, cfg.Transfer.RetryMaxMillis = 1, 5

	for _, opt := range opts {
		opt(t, &cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithWatermark enables the watermark stage with the given text.
func WithWatermark(text string) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Watermark.Enabled, cfg.Watermark.Text = true, text
	}
}

// WithPipeline overrides worker count and queue depth.
func WithPipeline(workers, depth int) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.Pipeline.Workers, cfg.Pipeline.QueueDepth = workers, depth
	}
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(_ testing.TB, cfg *config.Config) {
		cfg.API.Token = token
	}
}

// WithStubbedBinaries puts no-op executables named names (ffmpeg and ffprobe
// by default) first on PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, cfg *config.Config) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		bin := filepath.Join(cfg.Paths.DataDir, "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the temp root backing cfg.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.DataDir
}

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"deeplinker/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DEEPLINKER_API_TOKEN", "env-token")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "deeplinker")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.StorageDir != filepath.Join(wantData, "blobs") {
		t.Fatalf("unexpected storage dir: %q", cfg.Paths.StorageDir)
	}
	if cfg.Paths.DatabasePath != filepath.Join(wantData, "deeplinker.db") {
		t.Fatalf("unexpected database path: %q", cfg.Paths.DatabasePath)
	}
	if cfg.API.Token != "env-token" {
		t.Fatalf("expected API token from env, got %q", cfg.API.Token)
	}
	if cfg.Preview.DurationSeconds != 3 || cfg.Collage.Frames != 4 || cfg.Collage.Quality != 85 {
		t.Fatalf("unexpected derivation defaults: %+v %+v", cfg.Preview, cfg.Collage)
	}
	if cfg.Watermark.Position != "bottom-right" || cfg.Watermark.Opacity != 0.5 {
		t.Fatalf("unexpected watermark defaults: %+v", cfg.Watermark)
	}
	if !cfg.Delivery.ProtectContent {
		t.Fatal("expected content protection enabled by default")
	}
	if cfg.Transfer.Concurrency != 8 || cfg.Transfer.ChunkSizeBytes != 1<<20 || cfg.Transfer.Retries != 3 {
		t.Fatalf("unexpected transfer defaults: %+v", cfg.Transfer)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.StorageDir, cfg.Paths.WorkDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "deeplinker.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Collage struct {
			Frames int `toml:"frames"`
		} `toml:"collage"`
		Watermark struct {
			Enabled  bool   `toml:"enabled"`
			Text     string `toml:"text"`
			Position string `toml:"position"`
		} `toml:"watermark"`
		Delivery struct {
			Preference []string `toml:"preference"`
		} `toml:"delivery"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Collage.Frames = 9
	custom.Watermark.Enabled = true
	custom.Watermark.Text = "@channel"
	custom.Watermark.Position = " Top-Left "
	custom.Delivery.Preference = []string{"Preview", "raw", "preview"}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Collage.Frames != 9 {
		t.Fatalf("expected 9 collage frames, got %d", cfg.Collage.Frames)
	}
	if cfg.Watermark.Position != "top-left" {
		t.Fatalf("expected normalized position, got %q", cfg.Watermark.Position)
	}
	if cfg.Paths.WorkDir != filepath.Join(tempDir, "data", "work") {
		t.Fatalf("expected work dir under custom data dir, got %q", cfg.Paths.WorkDir)
	}
	if strings.Join(cfg.Delivery.Preference, ",") != "preview,raw" {
		t.Fatalf("expected deduplicated preference, got %v", cfg.Delivery.Preference)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "deeplinker.toml")
	if err := os.WriteFile(configPath, []byte("[preview]\nlength = 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "deeplinker") {
		t.Fatalf("expected data dir to contain deeplinker, got %q", cfg.Paths.DataDir)
	}
	if cfg.Collage.Frames != config.Default().Collage.Frames {
		t.Fatalf("sample collage frames drifted from defaults: %d", cfg.Collage.Frames)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"preview too long", func(c *config.Config) { c.Preview.DurationSeconds = 61 }},
		{"preview zero", func(c *config.Config) { c.Preview.DurationSeconds = 0 }},
		{"collage frames", func(c *config.Config) { c.Collage.Frames = 5 }},
		{"opacity low", func(c *config.Config) { c.Watermark.Opacity = 0.05 }},
		{"bad position", func(c *config.Config) { c.Watermark.Position = "middle" }},
		{"watermark without text", func(c *config.Config) { c.Watermark.Enabled = true }},
		{"bad target", func(c *config.Config) { c.Watermark.Target = "thumbnail" }},
		{"bad preference", func(c *config.Config) { c.Delivery.Preference = []string{"thumbnail"} }},
		{"zero concurrency", func(c *config.Config) { c.Transfer.Concurrency = 0 }},
		{"backoff inverted", func(c *config.Config) { c.Transfer.RetryMaxMillis = 100 }},
		{"zero workers", func(c *config.Config) { c.Pipeline.Workers = 0 }},
		{"zero photo limit", func(c *config.Config) { c.Limits.MaxPhotoBytes = 0 }},
		{"ntfy topic not a url", func(c *config.Config) { c.Notifications.NtfyTopic = "my-topic" }},
		{"public bind without token", func(c *config.Config) { c.API.Bind = "0.0.0.0:7580" }},
		{"wildcard bind without token", func(c *config.Config) { c.API.Bind = ":7580" }},
		{"bind without port", func(c *config.Config) { c.API.Bind = "127.0.0.1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateAPIBind(t *testing.T) {
	allowed := []struct {
		bind  string
		token string
	}{
		{"127.0.0.1:7580", ""},
		{"[::1]:7580", ""},
		{"localhost:7580", ""},
		{"0.0.0.0:7580", "secret"},
		{"192.168.1.20:7580", "secret"},
	}
	for _, tc := range allowed {
		cfg := config.Default()
		cfg.API.Bind, cfg.API.Token = tc.bind, tc.token
		if err := cfg.Validate(); err != nil {
			t.Fatalf("bind %q token %q: %v", tc.bind, tc.token, err)
		}
	}

	cfg := config.Default()
	cfg.API.Bind = "192.168.1.20:7580"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "api.token") {
		t.Fatalf("expected api.token error, got %v", err)
	}
}

func TestEncodeMasksToken(t *testing.T) {
	cfg := config.Default()
	cfg.API.Token = "secret"
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Fatalf("expected token to be masked: %s", data)
	}
	if cfg.API.Token != "secret" {
		t.Fatal("Encode must not mutate the receiver")
	}
}

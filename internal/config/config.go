package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains on-disk locations used by the daemon.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	StorageDir   string `toml:"storage_dir"`
	WorkDir      string `toml:"work_dir"`
	DatabasePath string `toml:"database_path"`
	LogDir       string `toml:"log_dir"`
}

// Tools names the external media binaries.
type Tools struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
}

// Limits bounds what an upload may contain.
type Limits struct {
	MaxVideoBytes int64 `toml:"max_video_bytes"`
	MaxPhotoBytes int64 `toml:"max_photo_bytes"`
	// MinFreeBytes is the free space the storage volume must keep after an
	// upload. Zero disables the check.
	MinFreeBytes int64 `toml:"min_free_bytes"`
}

// Preview controls preview clip extraction.
type Preview struct {
	Enabled         bool `toml:"enabled"`
	DurationSeconds int  `toml:"duration_seconds"`
	Jitter          bool `toml:"jitter"`
}

// Collage controls frame collage composition.
type Collage struct {
	Enabled   bool `toml:"enabled"`
	Frames    int  `toml:"frames"`
	Quality   int  `toml:"quality"`
	CellWidth int  `toml:"cell_width"`
}

// Watermark controls the text overlay stage.
type Watermark struct {
	Enabled  bool    `toml:"enabled"`
	Text     string  `toml:"text"`
	Position string  `toml:"position"`
	Opacity  float64 `toml:"opacity"`
	FontSize int     `toml:"font_size"`
	// Target selects the base artifact: auto, raw, preview, or collage.
	Target string `toml:"target"`
}

// Delivery controls link resolution.
type Delivery struct {
	ProtectContent  bool     `toml:"protect_content"`
	Preference      []string `toml:"preference"`
	CacheSize       int      `toml:"cache_size"`
	CacheTTLSeconds int      `toml:"cache_ttl_seconds"`
	PublicBaseURL   string   `toml:"public_base_url"`
}

// Transfer controls chunked downloads of remote sources.
type Transfer struct {
	ChunkSizeBytes        int64 `toml:"chunk_size_bytes"`
	Concurrency           int   `toml:"concurrency"`
	Retries               int   `toml:"retries"`
	RetryInitialMillis    int   `toml:"retry_initial_ms"`
	RetryMaxMillis        int   `toml:"retry_max_ms"`
	RequestTimeoutSeconds int   `toml:"request_timeout_seconds"`
}

// Pipeline controls the processing worker pool.
type Pipeline struct {
	Workers             int `toml:"workers"`
	QueueDepth          int `toml:"queue_depth"`
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"`
}

// API contains the HTTP bind address and optional bearer token.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Notifications configures ntfy push messages. An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	LinkReady             bool   `toml:"link_ready"`
	DerivationFailed      bool   `toml:"derivation_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for deeplinker.
//
// Configuration sections by subsystem:
//   - Paths: data, blob storage, scratch workspace, database and log locations
//   - Tools: ffmpeg and ffprobe binaries
//   - Limits: per-kind upload size limits and free-space floor
//   - Preview, Collage, Watermark: derivation defaults
//   - Delivery: protection default, artifact preference, descriptor cache
//   - Transfer: chunked download tuning
//   - Pipeline: worker pool sizing and stage timeout
//   - API: HTTP bind address and bearer token
//   - Notifications: ntfy topic and which events are pushed
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Tools         Tools         `toml:"tools"`
	Limits        Limits        `toml:"limits"`
	Preview       Preview       `toml:"preview"`
	Collage       Collage       `toml:"collage"`
	Watermark     Watermark     `toml:"watermark"`
	Delivery      Delivery      `toml:"delivery"`
	Transfer      Transfer      `toml:"transfer"`
	Pipeline      Pipeline      `toml:"pipeline"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
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
		decoder.DisallowUnknownFields()
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

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("deeplinker.toml")
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

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.StorageDir, c.Paths.WorkDir, c.Paths.LogDir, filepath.Dir(c.Paths.DatabasePath)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StageTimeout returns the per-stage deadline.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeoutSeconds) * time.Second
}

// CacheTTL returns the delivery descriptor cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Delivery.CacheTTLSeconds) * time.Second
}

// RetryBackoff returns the initial and maximum chunk retry delays.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Transfer.RetryInitialMillis) * time.Millisecond,
		time.Duration(c.Transfer.RetryMaxMillis) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout for transfers.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Transfer.RequestTimeoutSeconds) * time.Second
}

// NotifyTimeout returns the ntfy request timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// MaxBytes returns the configured size limit for kind, or zero when unknown.
func (c *Config) MaxBytes(kind string) int64 {
	switch kind {
	case "video":
		return c.Limits.MaxVideoBytes
	case "photo":
		return c.Limits.MaxPhotoBytes
	default:
		return 0
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML, masking the API token.
func (c *Config) Encode() ([]byte, error) {
	clone := *c
	if clone.API.Token != "" {
		clone.API.Token = "********"
	}
	return toml.Marshal(clone)
}

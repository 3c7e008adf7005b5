package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizeWatermark()
	c.normalizeDelivery()
	c.normalizeAPI()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	defaults := []struct {
		field *string
		name  string
		value string
	}{
		{&c.Paths.StorageDir, "paths.storage_dir", filepath.Join(c.Paths.DataDir, defaultStorageSubdir)},
		{&c.Paths.WorkDir, "paths.work_dir", filepath.Join(c.Paths.DataDir, defaultWorkSubdir)},
		{&c.Paths.LogDir, "paths.log_dir", filepath.Join(c.Paths.DataDir, defaultLogSubdir)},
		{&c.Paths.DatabasePath, "paths.database_path", filepath.Join(c.Paths.DataDir, defaultDatabaseName)},
	}
	for _, d := range defaults {
		if strings.TrimSpace(*d.field) == "" {
			*d.field = d.value
		}
		if *d.field, err = expandPath(*d.field); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
	c.Tools.FFprobe = strings.TrimSpace(c.Tools.FFprobe)
	if c.Tools.FFprobe == "" {
		c.Tools.FFprobe = "ffprobe"
	}
}

func (c *Config) normalizeWatermark() {
	c.Watermark.Position = strings.ToLower(strings.TrimSpace(c.Watermark.Position))
	if c.Watermark.Position == "" {
		c.Watermark.Position = defaultWatermarkPosition
	}
	c.Watermark.Target = strings.ToLower(strings.TrimSpace(c.Watermark.Target))
	if c.Watermark.Target == "" {
		c.Watermark.Target = defaultWatermarkTarget
	}
	c.Watermark.Text = strings.TrimSpace(c.Watermark.Text)
}

func (c *Config) normalizeDelivery() {
	if len(c.Delivery.Preference) == 0 {
		c.Delivery.Preference = append([]string(nil), DefaultPreference...)
	}
	prefs := make([]string, 0, len(c.Delivery.Preference))
	seen := make(map[string]struct{}, len(c.Delivery.Preference))
	for _, p := range c.Delivery.Preference {
		normalized := strings.ToLower(strings.TrimSpace(p))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		prefs = append(prefs, normalized)
	}
	c.Delivery.Preference = prefs
	c.Delivery.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Delivery.PublicBaseURL), "/")
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("DEEPLINKER_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

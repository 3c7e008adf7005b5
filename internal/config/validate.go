package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"deeplinker/internal/media"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLimits(); err != nil {
		return err
	}
	if err := c.validatePreview(); err != nil {
		return err
	}
	if err := c.validateCollage(); err != nil {
		return err
	}
	if err := c.validateWatermark(); err != nil {
		return err
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}
	if err := c.validateTransfer(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateNotifications()
}

// validateAPI refuses an unauthenticated API on anything but loopback.
func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(c.API.Bind)
	if err != nil {
		return fmt.Errorf("api.bind must be host:port, got %q", c.API.Bind)
	}
	if c.API.Token == "" && !isLoopbackHost(host) {
		return fmt.Errorf("api.token must be set when api.bind (%s) is not a loopback address", c.API.Bind)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Limits.MaxVideoBytes <= 0 {
		return errors.New("limits.max_video_bytes must be positive")
	}
	if c.Limits.MaxPhotoBytes <= 0 {
		return errors.New("limits.max_photo_bytes must be positive")
	}
	if c.Limits.MinFreeBytes < 0 {
		return errors.New("limits.min_free_bytes must be >= 0")
	}
	return nil
}

func (c *Config) validatePreview() error {
	d := c.Preview.DurationSeconds
	if d < MinPreviewSeconds || d > MaxPreviewSeconds {
		return fmt.Errorf("preview.duration_seconds must be between %d and %d", MinPreviewSeconds, MaxPreviewSeconds)
	}
	return nil
}

func (c *Config) validateCollage() error {
	if !media.ValidFrameCount(c.Collage.Frames) {
		return fmt.Errorf("collage.frames must be one of %v", media.FrameCounts)
	}
	if c.Collage.Quality < 1 || c.Collage.Quality > 100 {
		return errors.New("collage.quality must be between 1 and 100")
	}
	if c.Collage.CellWidth <= 0 {
		return errors.New("collage.cell_width must be positive")
	}
	return nil
}

var watermarkTargets = []string{"auto", "raw", "preview", "collage"}

func (c *Config) validateWatermark() error {
	if _, err := media.ParsePosition(c.Watermark.Position); err != nil {
		return fmt.Errorf("watermark.position: %w", err)
	}
	if !media.ValidOpacity(c.Watermark.Opacity) {
		return fmt.Errorf("watermark.opacity must be between %.1f and %.1f", media.MinOpacity, media.MaxOpacity)
	}
	if c.Watermark.FontSize < 0 {
		return errors.New("watermark.font_size must be >= 0")
	}
	if !slices.Contains(watermarkTargets, c.Watermark.Target) {
		return fmt.Errorf("watermark.target must be one of %v", watermarkTargets)
	}
	if c.Watermark.Enabled && c.Watermark.Text == "" {
		return errors.New("watermark.text must be set when watermark.enabled is true")
	}
	return nil
}

func (c *Config) validateDelivery() error {
	for _, p := range c.Delivery.Preference {
		if !slices.Contains(DefaultPreference, p) {
			return fmt.Errorf("delivery.preference: unknown stage %q", p)
		}
	}
	if c.Delivery.CacheSize < 0 {
		return errors.New("delivery.cache_size must be >= 0")
	}
	if c.Delivery.CacheTTLSeconds < 0 {
		return errors.New("delivery.cache_ttl_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateTransfer() error {
	if c.Transfer.ChunkSizeBytes <= 0 {
		return errors.New("transfer.chunk_size_bytes must be positive")
	}
	if c.Transfer.Retries < 0 {
		return errors.New("transfer.retries must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"transfer.concurrency":             c.Transfer.Concurrency,
		"transfer.retry_initial_ms":        c.Transfer.RetryInitialMillis,
		"transfer.retry_max_ms":            c.Transfer.RetryMaxMillis,
		"transfer.request_timeout_seconds": c.Transfer.RequestTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Transfer.RetryMaxMillis < c.Transfer.RetryInitialMillis {
		return errors.New("transfer.retry_max_ms must be >= transfer.retry_initial_ms")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	return ensurePositiveMap(map[string]int{
		"pipeline.workers":               c.Pipeline.Workers,
		"pipeline.queue_depth":           c.Pipeline.QueueDepth,
		"pipeline.stage_timeout_seconds": c.Pipeline.StageTimeoutSeconds,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"deeplinker/internal/config"
	"deeplinker/internal/logging"
	"deeplinker/internal/media"
	"deeplinker/internal/services"
)

// Persisted settings keys.
const (
	KeyGeneratePreview   = "generate_preview"
	KeyPreviewLength     = "preview_length"
	KeyGenerateCollage   = "generate_collage"
	KeyCollageFrames     = "collage_frames"
	KeyWatermarkEnabled  = "watermark_enabled"
	KeyWatermarkText     = "watermark_text"
	KeyWatermarkPosition = "watermark_position"
	KeyWatermarkOpacity  = "watermark_opacity"
	KeyWatermarkTarget   = "watermark_target"
	KeyContentProtection = "content_protection"
)

// SettingKeys lists every key accepted by SetSetting.
var SettingKeys = []string{
	KeyGeneratePreview,
	KeyPreviewLength,
	KeyGenerateCollage,
	KeyCollageFrames,
	KeyWatermarkEnabled,
	KeyWatermarkText,
	KeyWatermarkPosition,
	KeyWatermarkOpacity,
	KeyWatermarkTarget,
	KeyContentProtection,
}

// Settings is the effective set of derivation defaults.
type Settings struct {
	GeneratePreview   bool    `json:"generate_preview"`
	PreviewLength     int     `json:"preview_length"`
	GenerateCollage   bool    `json:"generate_collage"`
	CollageFrames     int     `json:"collage_frames"`
	WatermarkEnabled  bool    `json:"watermark_enabled"`
	WatermarkText     string  `json:"watermark_text"`
	WatermarkPosition string  `json:"watermark_position"`
	WatermarkOpacity  float64 `json:"watermark_opacity"`
	WatermarkTarget   string  `json:"watermark_target"`
	ContentProtection bool    `json:"content_protection"`
}

// SettingsStore persists settings records.
type SettingsStore interface {
	Setting(ctx context.Context, key string) (json.RawMessage, error)
	SetSetting(ctx context.Context, key string, value any) error
	Settings(ctx context.Context) (map[string]json.RawMessage, error)
}

// DefaultSettings derives settings from the TOML configuration.
func DefaultSettings(cfg *config.Config) Settings {
	return Settings{
		GeneratePreview:   cfg.Preview.Enabled,
		PreviewLength:     cfg.Preview.DurationSeconds,
		GenerateCollage:   cfg.Collage.Enabled,
		CollageFrames:     cfg.Collage.Frames,
		WatermarkEnabled:  cfg.Watermark.Enabled,
		WatermarkText:     cfg.Watermark.Text,
		WatermarkPosition: cfg.Watermark.Position,
		WatermarkOpacity:  cfg.Watermark.Opacity,
		WatermarkTarget:   cfg.Watermark.Target,
		ContentProtection: cfg.Delivery.ProtectContent,
	}
}

// overlay applies records on top of s. Unknown keys are ignored.
func (s Settings) overlay(records map[string]json.RawMessage) (Settings, error) {
	if len(records) == 0 {
		return s, nil
	}
	base, err := json.Marshal(s)
	if err != nil {
		return s, err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return s, err
	}
	for key, value := range records {
		if slices.Contains(SettingKeys, key) {
			merged[key] = value
		}
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return s, err
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return s, err
	}
	return out, nil
}

// Validate checks value ranges. Watermark text is only required at ingest time
// so the text and the enabled flag can be set in either order.
func (s Settings) Validate() error {
	if s.PreviewLength < config.MinPreviewSeconds || s.PreviewLength > config.MaxPreviewSeconds {
		return fmt.Errorf("%s must be between %d and %d", KeyPreviewLength, config.MinPreviewSeconds, config.MaxPreviewSeconds)
	}
	if !media.ValidFrameCount(s.CollageFrames) {
		return fmt.Errorf("%s must be one of %v", KeyCollageFrames, media.FrameCounts)
	}
	if _, err := media.ParsePosition(s.WatermarkPosition); err != nil {
		return fmt.Errorf("%s: %w", KeyWatermarkPosition, err)
	}
	if !media.ValidOpacity(s.WatermarkOpacity) {
		return fmt.Errorf("%s must be between %.1f and %.1f", KeyWatermarkOpacity, media.MinOpacity, media.MaxOpacity)
	}
	if _, err := parseTarget(s.WatermarkTarget); err != nil {
		return fmt.Errorf("%s: %w", KeyWatermarkTarget, err)
	}
	return nil
}

// EffectiveSettings layers persisted records over the TOML defaults.
func (c *Coordinator) EffectiveSettings(ctx context.Context) (Settings, error) {
	records, err := c.registry.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	settings, err := c.defaults.overlay(records)
	if err != nil {
		return Settings{}, services.Wrap(services.ErrFatal, "ingest", "settings", "decode settings records", err)
	}
	return settings, nil
}

// Setting returns the effective value for key.
func (c *Coordinator) Setting(ctx context.Context, key string) (json.RawMessage, error) {
	if !slices.Contains(SettingKeys, key) {
		return nil, services.Wrap(services.ErrNotFound, "ingest", "setting", fmt.Sprintf("unknown setting %q", key), nil)
	}
	settings, err := c.EffectiveSettings(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields[key], nil
}

// SetSetting validates value against the merged settings and persists it.
func (c *Coordinator) SetSetting(ctx context.Context, key string, value json.RawMessage) (Settings, error) {
	if !slices.Contains(SettingKeys, key) {
		return Settings{}, services.ValidationError("ingest", "set setting", "unknown setting %q (known: %v)", key, SettingKeys)
	}
	if !json.Valid(value) {
		return Settings{}, services.ValidationError("ingest", "set setting", "value for %s is not valid JSON", key)
	}
	current, err := c.EffectiveSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	next, err := current.overlay(map[string]json.RawMessage{key: value})
	if err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Settings{}, services.ValidationError("ingest", "set setting", "%s expects a %s value", key, typeErr.Type)
		}
		return Settings{}, services.ValidationError("ingest", "set setting", "%s: %v", key, err)
	}
	if err := next.Validate(); err != nil {
		return Settings{}, services.ValidationError("ingest", "set setting", "%v", err)
	}
	if err := c.registry.SetSetting(ctx, key, value); err != nil {
		return Settings{}, err
	}
	c.logger.Info("setting updated",
		logging.String("key", key),
		logging.Event("setting_updated"),
	)
	return next, nil
}

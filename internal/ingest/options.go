package ingest

import (
	"fmt"
	"strings"

	"deeplinker/internal/config"
	"deeplinker/internal/media"
	"deeplinker/internal/pipeline"
	"deeplinker/internal/registry"
	"deeplinker/internal/services"
)

// Options are per-upload overrides. Nil fields fall back to the settings
// records and then to the TOML defaults.
type Options struct {
	// Token requests an explicit token instead of a generated one.
	Token string `json:"token,omitempty"`
	Title string `json:"title,omitempty"`
	// SourceSize is the declared size of a remote source in bytes.
	SourceSize int64 `json:"source_size,omitempty"`

	Preview           *bool    `json:"preview,omitempty"`
	PreviewSeconds    *int     `json:"preview_seconds,omitempty"`
	Collage           *bool    `json:"collage,omitempty"`
	CollageFrames     *int     `json:"collage_frames,omitempty"`
	Watermark         *bool    `json:"watermark,omitempty"`
	WatermarkText     *string  `json:"watermark_text,omitempty"`
	WatermarkPosition *string  `json:"watermark_position,omitempty"`
	WatermarkOpacity  *float64 `json:"watermark_opacity,omitempty"`
	WatermarkTarget   *string  `json:"watermark_target,omitempty"`
	Protected         *bool    `json:"protected,omitempty"`
}

func (o Options) validate() error {
	if o.Token != "" && !registry.ValidToken(o.Token) {
		return services.ValidationError("ingest", "options", "token %q must be 4-64 characters of [A-Za-z0-9_-]", o.Token)
	}
	if o.SourceSize < 0 {
		return services.ValidationError("ingest", "options", "source size must not be negative")
	}
	if o.PreviewSeconds != nil {
		if d := *o.PreviewSeconds; d < config.MinPreviewSeconds || d > config.MaxPreviewSeconds {
			return services.ValidationError("ingest", "options", "preview duration %ds outside %d-%ds", d, config.MinPreviewSeconds, config.MaxPreviewSeconds)
		}
	}
	if o.CollageFrames != nil && !media.ValidFrameCount(*o.CollageFrames) {
		return services.ValidationError("ingest", "options", "collage frame count %d must be one of %v", *o.CollageFrames, media.FrameCounts)
	}
	if o.WatermarkOpacity != nil && !media.ValidOpacity(*o.WatermarkOpacity) {
		return services.ValidationError("ingest", "options", "watermark opacity %.2f outside [%.1f, %.1f]", *o.WatermarkOpacity, media.MinOpacity, media.MaxOpacity)
	}
	if o.WatermarkPosition != nil {
		if _, err := media.ParsePosition(*o.WatermarkPosition); err != nil {
			return services.ValidationError("ingest", "options", "%v", err)
		}
	}
	if o.WatermarkTarget != nil {
		if _, err := parseTarget(*o.WatermarkTarget); err != nil {
			return services.ValidationError("ingest", "options", "%v", err)
		}
	}
	return nil
}

// plan is the resolved set of stages and their parameters.
type plan struct {
	stages    []registry.Stage
	params    pipeline.Params
	protected bool
}

func resolvePlan(cfg *config.Config, settings Settings, opts Options) (plan, error) {
	p := plan{protected: pick(opts.Protected, settings.ContentProtection)}

	preview := pick(opts.Preview, settings.GeneratePreview)
	collage := pick(opts.Collage, settings.GenerateCollage)
	watermark := pick(opts.Watermark, settings.WatermarkEnabled)

	position, err := media.ParsePosition(pick(opts.WatermarkPosition, settings.WatermarkPosition))
	if err != nil {
		return plan{}, services.ValidationError("ingest", "options", "%v", err)
	}
	target, err := parseTarget(pick(opts.WatermarkTarget, settings.WatermarkTarget))
	if err != nil {
		return plan{}, services.ValidationError("ingest", "options", "%v", err)
	}
	text := strings.TrimSpace(pick(opts.WatermarkText, settings.WatermarkText))
	if watermark && text == "" {
		return plan{}, services.ValidationError("ingest", "options", "watermark requested without text")
	}

	p.params = pipeline.Params{
		PreviewSeconds: pick(opts.PreviewSeconds, settings.PreviewLength),
		PreviewJitter:  cfg.Preview.Jitter,
		Frames:         pick(opts.CollageFrames, settings.CollageFrames),
		CollageQuality: cfg.Collage.Quality,
		CellWidth:      cfg.Collage.CellWidth,
		Watermark: media.Watermark{
			Text:     text,
			Position: position,
			Opacity:  pick(opts.WatermarkOpacity, settings.WatermarkOpacity),
			FontSize: cfg.Watermark.FontSize,
		},
		WatermarkTarget: resolveTarget(target, preview),
	}
	if preview {
		p.stages = append(p.stages, registry.StagePreview)
	}
	if collage {
		p.stages = append(p.stages, registry.StageCollage)
	}
	if watermark {
		p.stages = append(p.stages, registry.StageWatermark)
	}
	return p, nil
}

func pick[T any](override *T, fallback T) T {
	if override != nil {
		return *override
	}
	return fallback
}

const targetAuto = "auto"

func parseTarget(value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "":
		return targetAuto, nil
	case targetAuto, string(pipeline.TargetRaw), string(pipeline.TargetPreview), string(pipeline.TargetCollage):
		return value, nil
	default:
		return "", fmt.Errorf("unknown watermark target %q", value)
	}
}

// resolveTarget maps auto to the preview when one is being generated and to
// the raw source otherwise.
func resolveTarget(target string, preview bool) pipeline.Target {
	if target == targetAuto {
		if preview {
			return pipeline.TargetPreview
		}
		return pipeline.TargetRaw
	}
	return pipeline.Target(target)
}

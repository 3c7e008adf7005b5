package media

import "context"

// photoProcessor only supports watermarking; a still has no timeline.
type photoProcessor struct {
	tools *Toolchain
}

func (p *photoProcessor) Kind() Kind { return KindPhoto }

func (p *photoProcessor) Probe(ctx context.Context, path string) (Info, error) {
	info, err := p.tools.inspect(ctx, path)
	if err != nil {
		return Info{}, err
	}
	info.DurationSeconds = 0
	info.HasAudio = false
	return info, nil
}

func (p *photoProcessor) ExtractPreview(context.Context, string, string, float64, float64) error {
	return ErrUnsupported
}

func (p *photoProcessor) ExtractFrames(context.Context, string, string, []float64) ([]string, error) {
	return nil, ErrUnsupported
}

func (p *photoProcessor) OverlayWatermark(ctx context.Context, src, dst string, wm Watermark) error {
	return p.tools.watermarkImage(ctx, src, dst, wm)
}

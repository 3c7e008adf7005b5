package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type videoProcessor struct {
	tools *Toolchain
}

func (p *videoProcessor) Kind() Kind { return KindVideo }

func (p *videoProcessor) Probe(ctx context.Context, path string) (Info, error) {
	return p.tools.inspect(ctx, path)
}

func (p *videoProcessor) ExtractPreview(ctx context.Context, src, dst string, start, duration float64) error {
	if duration <= 0 {
		return fmt.Errorf("preview duration must be positive, got %v", duration)
	}
	return p.tools.ffmpeg(ctx, "preview",
		"-ss", formatSeconds(start),
		"-i", src,
		"-t", formatSeconds(duration),
		"-map", "0:v:0", "-map", "0:a?",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac",
		"-movflags", "+faststart",
		dst,
	)
}

func (p *videoProcessor) ExtractFrames(ctx context.Context, src, dir string, offsets []float64) ([]string, error) {
	frames := make([]string, 0, len(offsets))
	for i, offset := range offsets {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		out := filepath.Join(dir, fmt.Sprintf("frame_%02d.png", i))
		err := p.tools.ffmpeg(ctx, "frame",
			"-ss", formatSeconds(offset),
			"-i", src,
			"-frames:v", "1",
			out,
		)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return frames, ctxErr
			}
			continue
		}
		// ffmpeg exits zero without writing a frame when seeking past the end.
		if info, statErr := os.Stat(out); statErr != nil || info.Size() == 0 {
			continue
		}
		frames = append(frames, out)
	}
	return frames, nil
}

func (p *videoProcessor) OverlayWatermark(ctx context.Context, src, dst string, wm Watermark) error {
	if IsImagePath(src) {
		return p.tools.watermarkImage(ctx, src, dst, wm)
	}
	return p.tools.watermarkVideo(ctx, src, dst, wm)
}

func formatSeconds(v float64) string {
	if v < 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

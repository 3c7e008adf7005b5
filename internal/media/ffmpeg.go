package media

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"deeplinker/internal/media/ffprobe"
)

// CommandRunner executes an external binary and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ProbeFunc inspects a media file.
type ProbeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Toolchain carries the ffmpeg/ffprobe binaries shared by every processor.
type Toolchain struct {
	FFmpeg  string
	FFprobe string

	run   CommandRunner
	probe ProbeFunc
}

// NewToolchain resolves binary names, falling back to PATH lookups.
func NewToolchain(ffmpegBinary, ffprobeBinary string) *Toolchain {
	ffmpegBinary = strings.TrimSpace(ffmpegBinary)
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	ffprobeBinary = strings.TrimSpace(ffprobeBinary)
	if ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}
	return &Toolchain{
		FFmpeg:  ffmpegBinary,
		FFprobe: ffprobeBinary,
		run:     execRunner,
		probe:   ffprobe.Inspect,
	}
}

// WithRunner swaps the command runner. Used by tests to capture arguments.
func (t *Toolchain) WithRunner(run CommandRunner) *Toolchain {
	clone := *t
	clone.run = run
	return &clone
}

// WithProbe swaps the ffprobe implementation.
func (t *Toolchain) WithProbe(probe ProbeFunc) *Toolchain {
	clone := *t
	clone.probe = probe
	return &clone
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

func (t *Toolchain) ffmpeg(ctx context.Context, op string, args ...string) error {
	full := append([]string{"-hide_banner", "-v", "error", "-y"}, args...)
	output, err := t.run(ctx, t.FFmpeg, full...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg %s: %w: %s", op, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (t *Toolchain) inspect(ctx context.Context, path string) (Info, error) {
	result, err := t.probe(ctx, t.FFprobe, path)
	if err != nil {
		return Info{}, err
	}
	info := Info{HasAudio: result.AudioStreamCount() > 0}
	if d := result.DurationSeconds(); d > 0 {
		info.DurationSeconds = d
	}
	if video, ok := result.PrimaryVideo(); ok {
		info.Width = video.Width
		info.Height = video.Height
	}
	return info, nil
}

// drawtextFilter renders the watermark filter expression.
func drawtextFilter(wm Watermark) string {
	x, y := anchorExpr(wm.Position)
	size := "h/18"
	if wm.FontSize > 0 {
		size = strconv.Itoa(wm.FontSize)
	}
	alpha := strconv.FormatFloat(wm.Opacity, 'f', 2, 64)
	return fmt.Sprintf(
		"drawtext=text='%s':fontsize=%s:fontcolor=white@%s:borderw=2:bordercolor=black@%s:x=%s:y=%s",
		escapeDrawtext(wm.Text), size, alpha, alpha, x, y,
	)
}

const watermarkMargin = 20

func anchorExpr(pos Position) (string, string) {
	margin := strconv.Itoa(watermarkMargin)
	left, hcenter, right := margin, "(w-text_w)/2", "w-text_w-"+margin
	top, vcenter, bottom := margin, "(h-text_h)/2", "h-text_h-"+margin
	switch pos {
	case TopLeft:
		return left, top
	case TopCenter:
		return hcenter, top
	case TopRight:
		return right, top
	case CenterLeft:
		return left, vcenter
	case Center:
		return hcenter, vcenter
	case CenterRight:
		return right, vcenter
	case BottomLeft:
		return left, bottom
	case BottomCenter:
		return hcenter, bottom
	default:
		return right, bottom
	}
}

// Quoted drawtext values cannot contain a bare quote, so it is swapped for
// the typographic apostrophe.
var drawtextEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, "’",
	`%`, `\%`,
)

func escapeDrawtext(text string) string {
	return drawtextEscaper.Replace(text)
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}, ".bmp": {},
}

// IsImagePath reports whether path carries a still image extension.
func IsImagePath(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (t *Toolchain) watermarkImage(ctx context.Context, src, dst string, wm Watermark) error {
	return t.ffmpeg(ctx, "watermark", "-i", src, "-vf", drawtextFilter(wm), "-frames:v", "1", "-q:v", "2", dst)
}

func (t *Toolchain) watermarkVideo(ctx context.Context, src, dst string, wm Watermark) error {
	return t.ffmpeg(ctx, "watermark",
		"-i", src,
		"-map", "0:v:0", "-map", "0:a?",
		"-vf", drawtextFilter(wm),
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "copy",
		"-movflags", "+faststart",
		dst,
	)
}

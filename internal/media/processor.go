package media

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported reports that a media kind has no implementation for the
// requested capability.
var ErrUnsupported = errors.New("operation not supported for media kind")

// Info holds the stream facts the pipeline needs.
type Info struct {
	DurationSeconds float64
	Width           int
	Height          int
	HasAudio        bool
}

// Watermark describes a text overlay.
type Watermark struct {
	Text     string
	Position Position
	Opacity  float64
	// FontSize in pixels; zero selects a size relative to the frame height.
	FontSize int
}

// Processor is the capability set every media kind exposes.
type Processor interface {
	Kind() Kind
	Probe(ctx context.Context, path string) (Info, error)
	// ExtractPreview writes a clip of duration seconds starting at start.
	ExtractPreview(ctx context.Context, src, dst string, start, duration float64) error
	// ExtractFrames writes one still per offset into dir and returns the
	// paths of the frames that could be extracted, in offset order.
	ExtractFrames(ctx context.Context, src, dir string, offsets []float64) ([]string, error)
	OverlayWatermark(ctx context.Context, src, dst string, wm Watermark) error
}

// ForKind returns the processor for kind backed by the given toolchain.
func ForKind(kind Kind, tools *Toolchain) (Processor, error) {
	if tools == nil {
		tools = NewToolchain("", "")
	}
	switch kind {
	case KindVideo:
		return &videoProcessor{tools: tools}, nil
	case KindPhoto:
		return &photoProcessor{tools: tools}, nil
	default:
		return nil, fmt.Errorf("no processor for media kind %q", kind)
	}
}

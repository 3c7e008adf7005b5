package media

import (
	"fmt"
	"math/rand/v2"
)

// FrameCounts lists the collage sizes a request may ask for.
var FrameCounts = []int{4, 6, 9, 12}

// ValidFrameCount reports whether n is a supported collage size.
func ValidFrameCount(n int) bool {
	_, _, err := Grid(n)
	return err == nil
}

// Grid returns the column/row layout for a collage of n cells.
func Grid(n int) (cols, rows int, err error) {
	switch n {
	case 4:
		return 2, 2, nil
	case 6:
		return 3, 2, nil
	case 9:
		return 3, 3, nil
	case 12:
		return 4, 3, nil
	default:
		return 0, 0, fmt.Errorf("unsupported collage frame count %d", n)
	}
}

// PreviewWindow picks the start offset of a clip of length clip seconds from a
// source of length total seconds. The window is centered on the middle of the
// content; when rng is non-nil the start is jittered by up to a quarter of the
// available slack in either direction. noop is true when the source is
// shorter than the requested clip and should be delivered unchanged.
func PreviewWindow(total, clip float64, rng *rand.Rand) (start float64, noop bool) {
	if clip <= 0 || total < clip {
		return 0, true
	}
	slack := total - clip
	start = slack / 2
	if rng != nil && slack > 0 {
		start += (rng.Float64()*2 - 1) * slack / 4
	}
	if start < 0 {
		start = 0
	}
	if start > slack {
		start = slack
	}
	return start, false
}

// FrameOffsets returns n evenly spaced offsets i*total/n for i in [0, n).
func FrameOffsets(total float64, n int) []float64 {
	if n <= 0 || total <= 0 {
		return nil
	}
	offsets := make([]float64, n)
	step := total / float64(n)
	for i := range offsets {
		offsets[i] = float64(i) * step
	}
	return offsets
}

// Package media wraps the ffmpeg/ffprobe operations used to derive preview
// clips, frame collages, and watermarked variants from uploaded media.
//
// Each media kind exposes the same Processor capability set. A kind that has
// no meaningful implementation for a capability (a photo has no timeline to
// clip) returns ErrUnsupported, which callers record as a no-op rather than
// a failure. The sampling helpers (PreviewWindow, FrameOffsets, Grid) are
// pure functions so the pipeline can reason about windows and cell counts
// without shelling out.
package media

package media_test

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"deeplinker/internal/media"
)

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestComposeCollageGridDimensions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		frames     int
		cols, rows int
	}{
		{4, 2, 2},
		{6, 3, 2},
		{9, 3, 3},
		{12, 4, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_frames", tt.frames), func(t *testing.T) {
			paths := make([]string, tt.frames)
			for i := range paths {
				paths[i] = filepath.Join(dir, fmt.Sprintf("f%d_%02d.png", tt.frames, i))
				writePNG(t, paths[i], 32, 18, color.RGBA{R: uint8(i * 20), A: 255})
			}
			out := filepath.Join(dir, fmt.Sprintf("collage_%d.jpg", tt.frames))
			if err := media.ComposeCollage(paths, out, media.CollageOptions{CellWidth: 64}); err != nil {
				t.Fatalf("ComposeCollage: %v", err)
			}
			f, err := os.Open(out)
			if err != nil {
				t.Fatalf("open output: %v", err)
			}
			defer f.Close()
			cfg, err := jpeg.DecodeConfig(f)
			if err != nil {
				t.Fatalf("decode output: %v", err)
			}
			if cfg.Width != tt.cols*64 || cfg.Height != tt.rows*36 {
				t.Fatalf("unexpected collage size %dx%d", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestComposeCollageRejectsUnsupportedCount(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("f%d.png", i))
		writePNG(t, paths[i], 8, 8, color.White)
	}
	if err := media.ComposeCollage(paths, filepath.Join(dir, "out.jpg"), media.CollageOptions{}); err == nil {
		t.Fatal("expected error for 3 frames")
	}
}

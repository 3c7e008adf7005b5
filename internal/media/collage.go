package media

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

// DefaultCellWidth bounds the width of a single collage cell.
const DefaultCellWidth = 480

// CollageOptions controls collage composition.
type CollageOptions struct {
	Quality   int
	CellWidth int
	Gap       int
}

// ComposeCollage lays frames out on the grid for len(frames) cells and writes
// a JPEG to dst. Cell height follows the first frame's aspect ratio; every
// frame is scaled to fit its cell without cropping.
func ComposeCollage(frames []string, dst string, opts CollageOptions) error {
	cols, rows, err := Grid(len(frames))
	if err != nil {
		return err
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	if opts.CellWidth <= 0 {
		opts.CellWidth = DefaultCellWidth
	}
	if opts.Gap < 0 {
		opts.Gap = 0
	}

	images := make([]image.Image, 0, len(frames))
	for _, path := range frames {
		img, err := decodeImage(path)
		if err != nil {
			return err
		}
		images = append(images, img)
	}

	first := images[0].Bounds()
	if first.Dx() == 0 || first.Dy() == 0 {
		return errors.New("collage: empty first frame")
	}
	cellW := opts.CellWidth
	cellH := cellW * first.Dy() / first.Dx()
	if cellH <= 0 {
		cellH = cellW
	}

	width := cols*cellW + (cols+1)*opts.Gap
	height := rows*cellH + (rows+1)*opts.Gap
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	for i, img := range images {
		col, row := i%cols, i/cols
		cell := image.Rect(
			opts.Gap+col*(cellW+opts.Gap),
			opts.Gap+row*(cellH+opts.Gap),
			opts.Gap+col*(cellW+opts.Gap)+cellW,
			opts.Gap+row*(cellH+opts.Gap)+cellH,
		)
		draw.CatmullRom.Scale(canvas, fitRect(cell, img.Bounds()), img, img.Bounds(), draw.Over, nil)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("collage: create output: %w", err)
	}
	if err := jpeg.Encode(out, canvas, &jpeg.Options{Quality: opts.Quality}); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("collage: encode: %w", err)
	}
	return out.Close()
}

// fitRect returns the largest rectangle with src's aspect ratio centered in cell.
func fitRect(cell, src image.Rectangle) image.Rectangle {
	cw, ch := cell.Dx(), cell.Dy()
	sw, sh := src.Dx(), src.Dy()
	if sw == 0 || sh == 0 {
		return cell
	}
	w, h := cw, cw*sh/sw
	if h > ch {
		h = ch
		w = ch * sw / sh
	}
	x := cell.Min.X + (cw-w)/2
	y := cell.Min.Y + (ch-h)/2
	return image.Rect(x, y, x+w, y+h)
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("collage: open frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("collage: decode %s: %w", path, err)
	}
	return img, nil
}

// Package render produces the monochrome label images that get printed:
// text set in a TrueType font, or a photo dithered down to two colours.
// Every image is exactly as tall as the print head.
package render

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/nixxel-company-limited/labelprinter/tape"
)

// ErrEmptyText is returned when there is nothing to render.
var ErrEmptyText = errors.New("no text to render")

// Renderer sets lines of text in a TrueType font
type Renderer struct {
	font *truetype.Font
	// size in pixels; zero fits each line to its band
	size float64
}

// NewRenderer parses a TrueType font
func NewRenderer(ttf []byte, size float64) (*Renderer, error) {
	f, err := truetype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Renderer{font: f, size: size}, nil
}

// LoadFont reads and parses a TrueType font file
func LoadFont(path string, size float64) (*Renderer, error) {
	ttf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font: %w", err)
	}
	return NewRenderer(ttf, size)
}

// face returns a font face whose line height fits in band pixels
func (r *Renderer) face(band int) font.Face {
	size := r.size
	if size <= 0 {
		size = float64(band)
		sizing := truetype.NewFace(r.font, &truetype.Options{Size: size, DPI: 72})
		m := sizing.Metrics()
		sizing.Close()
		if h := (m.Ascent + m.Descent).Ceil(); h > band {
			size = size * float64(band) / float64(h)
		}
	}

	return truetype.NewFace(r.font, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// Render draws the lines black on white, stacked evenly across the print
// head, each starting at the left edge. The image is as wide as the longest
// line.
func (r *Renderer) Render(lines ...string) (*image.Gray, error) {
	if len(strings.TrimSpace(strings.Join(lines, ""))) == 0 {
		return nil, ErrEmptyText
	}

	band := tape.MaxHeight / len(lines)
	if band == 0 {
		return nil, fmt.Errorf("too many lines: %d", len(lines))
	}

	face := r.face(band)
	defer face.Close()

	width := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > width {
			width = w
		}
	}

	img := image.NewGray(image.Rect(0, 0, width, tape.MaxHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: face,
	}
	ascent := face.Metrics().Ascent
	for i, line := range lines {
		d.Dot = fixed.Point26_6{X: 0, Y: fixed.I(i*band) + ascent}
		d.DrawString(line)
	}

	return img, nil
}

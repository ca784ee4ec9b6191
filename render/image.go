package render

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/makeworld-the-better-one/dither/v2"
	"golang.org/x/image/draw"

	"github.com/nixxel-company-limited/labelprinter/tape"
)

// LoadImage decodes a PNG, JPEG or GIF file and prepares it for printing
func LoadImage(path string) (*image.Paletted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return Monochrome(img), nil
}

// Monochrome scales an image to the print head height, keeping its aspect
// ratio, flattens it onto white and dithers it to black and white
func Monochrome(i image.Image) *image.Paletted {
	src := i.Bounds()
	width := 1
	if src.Dy() > 0 {
		width = src.Dx() * tape.MaxHeight / src.Dy()
	}
	if width < 1 {
		width = 1
	}

	bounds := image.Rect(0, 0, width, tape.MaxHeight)
	scaled := image.NewRGBA(bounds)
	draw.Draw(scaled, bounds, image.White, image.Point{}, draw.Src)
	// resize image using Catmull Rom scaling
	draw.CatmullRom.Scale(scaled, bounds, i, src, draw.Over, nil)

	palette := []color.Color{color.Black, color.White}
	ditherer := dither.NewDitherer(palette)
	ditherer.Matrix = dither.FloydSteinberg
	ditherer.Serpentine = true

	return ditherer.DitherPaletted(scaled)
}

// Package tape turns a rendered monochrome bitmap into the per-column byte
// lines a tape printer consumes.
//
// The bitmap is laid out upright: X runs along the tape and Y across the print
// head. The printer receives one line per tape column, each line holding the
// head pixels packed eight to a byte.
package tape

import (
	"fmt"
	"image"
	"image/color"
)

// Bitmap is a two dimensional monochrome pixel grid. GetBit returns 1 for an
// inked pixel and 0 for a blank one.
type Bitmap interface {
	Width() int
	Height() int
	GetBit(x int, y int) byte
}

// PixelBitmap stores one byte per pixel in row-major order.
type PixelBitmap struct {
	pixels        [][]byte
	width, height int
}

// NewPixelBitmap creates a blank bitmap.
func NewPixelBitmap(width, height int) *PixelBitmap {
	pixels := make([][]byte, height)
	for y := range pixels {
		pixels[y] = make([]byte, width)
	}
	return &PixelBitmap{pixels: pixels, width: width, height: height}
}

func (b *PixelBitmap) Width() int {
	return b.width
}

func (b *PixelBitmap) Height() int {
	return b.height
}

func (b *PixelBitmap) GetBit(x int, y int) byte {
	return b.pixels[y][x]
}

// SetBit sets the pixel at (x,y); any non-zero value inks it.
func (b *PixelBitmap) SetBit(x int, y int, v byte) {
	if v != 0 {
		v = 1
	}
	b.pixels[y][x] = v
}

func (b *PixelBitmap) String() string {
	return fmt.Sprintf("PixelBitmap(%d,%d)", b.width, b.height)
}

// ImageBitmap exposes an image as a Bitmap. Pixels darker than mid grey are
// inked.
type ImageBitmap struct {
	image image.Image
}

// FromImage wraps an image. The image bounds need not start at the origin.
func FromImage(i image.Image) *ImageBitmap {
	return &ImageBitmap{image: i}
}

func (b *ImageBitmap) Width() int {
	return b.image.Bounds().Dx()
}

func (b *ImageBitmap) Height() int {
	return b.image.Bounds().Dy()
}

func (b *ImageBitmap) GetBit(x int, y int) byte {
	origin := b.image.Bounds().Min
	c := color.Gray16Model.Convert(b.image.At(origin.X+x, origin.Y+y)).(color.Gray16)
	if c.Y < 0x8000 {
		return 1
	}
	return 0
}

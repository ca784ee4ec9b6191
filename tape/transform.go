package tape

import (
	"errors"
	"fmt"
)

// MaxHeight is the number of dots on the print head.
const MaxHeight = 64

var (
	// ErrInvalidBitmap is returned for bitmaps the print head cannot hold.
	ErrInvalidBitmap = errors.New("invalid bitmap")

	// ErrInternalConsistency is returned when a packed stream does not split
	// into exactly one row per tape column. It indicates a broken caller
	// contract and is fatal to the job.
	ErrInternalConsistency = errors.New("internal consistency error")
)

// Matrix is the ordered list of lines for one label, one per tape column.
// Rows may differ in length.
type Matrix [][]byte

// RowBytes is the packed length of every row: one bit per print head dot.
const RowBytes = MaxHeight / 8

// Pack rotates the bitmap by 270 degrees so that each tape column becomes a
// row, and packs every row eight pixels to a byte, most significant bit
// first. Within a row the first bit is the bottom pixel of the upright
// bitmap; this is the order the print head expects. Bitmaps shorter than
// the head occupy its first dots and every row is padded to RowBytes.
func Pack(b Bitmap) ([]byte, error) {
	width, height := b.Width(), b.Height()
	if width < 0 || height < 0 || height > MaxHeight {
		return nil, fmt.Errorf("%w: %dx%d, height must be at most %d", ErrInvalidBitmap, width, height, MaxHeight)
	}

	stream := make([]byte, width*RowBytes)

	for x := 0; x < width; x++ {
		row := stream[x*RowBytes : (x+1)*RowBytes]
		for headRow := 0; headRow < height; headRow++ {
			if b.GetBit(x, height-1-headRow) != 0 {
				row[headRow/8] |= 0x80 >> (headRow % 8)
			}
		}
	}

	return stream, nil
}

// Rows partitions a packed stream into width rows of rowLen bytes.
func Rows(stream []byte, width int, rowLen int) (Matrix, error) {
	if width < 0 || rowLen < 0 || len(stream) != width*rowLen {
		return nil, fmt.Errorf("%w: %d bytes do not form %d rows of %d bytes",
			ErrInternalConsistency, len(stream), width, rowLen)
	}

	m := make(Matrix, width)
	for i := range m {
		m[i] = stream[i*rowLen : (i+1)*rowLen : (i+1)*rowLen]
	}
	return m, nil
}

// StripBias removes leading byte-lines that are blank in every row and
// returns how many were removed. An all-blank matrix reduces to empty rows.
func StripBias(m Matrix) (Matrix, int) {
	if len(m) == 0 {
		return m, 0
	}

	bias := 0
	for blankColumn(m, bias) {
		bias++
	}

	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = row[bias:]
	}
	return out, bias
}

// blankColumn reports whether byte i exists and is zero in every row.
func blankColumn(m Matrix, i int) bool {
	for _, row := range m {
		if i >= len(row) || row[i] != 0 {
			return false
		}
	}
	return true
}

// TrimTrailing drops the trailing zero bytes of every row.
func TrimTrailing(m Matrix) Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		end := len(row)
		for end > 0 && row[end-1] == 0 {
			end--
		}
		out[i] = row[:end]
	}
	return out
}

// Transform converts a bitmap into the label matrix and the bias to print it
// with. A bitmap with no inked pixels yields empty rows and a bias of
// RowBytes whatever its height.
func Transform(b Bitmap) (Matrix, int, error) {
	stream, err := Pack(b)
	if err != nil {
		return nil, 0, err
	}

	m, err := Rows(stream, b.Width(), RowBytes)
	if err != nil {
		return nil, 0, err
	}

	m, bias := StripBias(m)
	return TrimTrailing(m), bias, nil
}

// Package protocol implements the line-oriented command set spoken by DYMO
// LabelManager class tape printers. A Builder assembles instructions into a
// pending buffer without doing any I/O; Send transmits the buffer in a single
// write and optionally reads back the fixed-size status response.
package protocol

import (
	"errors"
	"fmt"
)

// Control characters
const (
	ESC = 0x1b
	SYN = 0x16
)

// Instruction opcodes following ESC
const (
	opStatus       = 'A'
	opBias         = 'B'
	opTapeColor    = 'C'
	opBytesPerLine = 'D'
	opCut          = 'E'
)

const (
	// MaxBytesPerLine is the height of the print head in bytes (64 dots).
	MaxBytesPerLine = 8

	// StatusSize is the length of the status response returned by the device.
	StatusSize = 8

	// chainMarkByte is the fill pattern of the chain mark calibration line.
	chainMarkByte = 0x99

	// unknownBytesPerLine marks the bytes-per-line cache as not yet sent.
	unknownBytesPerLine = -1
)

var (
	// ErrInvalidArgument is returned when a value is outside the range the
	// protocol accepts. It never reaches the device.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIO is returned when writing to or reading from the device fails.
	ErrIO = errors.New("device i/o error")
)

// Status is the raw status response of the printer. Its meaning is defined
// by the device and not interpreted here.
type Status [StatusSize]byte

func (s Status) String() string {
	return fmt.Sprintf("% x", s[:])
}

// Builder accumulates protocol instructions into a pending command buffer
// and tracks the printer state (bias and bytes-per-line) the buffer implies.
// A Builder is not safe for concurrent use.
type Builder struct {
	buf            []byte
	bias           int
	bytesPerLine   int
	expectResponse bool
}

// NewBuilder creates a builder with an empty buffer, zero bias and an
// unknown bytes-per-line.
func NewBuilder() *Builder {
	return &Builder{bytesPerLine: unknownBytesPerLine}
}

// Reset discards the pending buffer and any pending response request.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.expectResponse = false
}

// Pending returns a copy of the bytes assembled so far.
func (b *Builder) Pending() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Bias returns the last bias set on this builder.
func (b *Builder) Bias() int {
	return b.bias
}

// BytesPerLine returns the cached bytes-per-line, or -1 if none has been
// sent since the last bias change.
func (b *Builder) BytesPerLine() int {
	return b.bytesPerLine
}

// AppendRaw appends bytes verbatim.
func (b *Builder) AppendRaw(data ...byte) {
	b.buf = append(b.buf, data...)
}

// SetBias sets the dot-tab, the number of blank bytes left at the start of
// the print head before each line. Changing the bias invalidates the
// bytes-per-line cache.
func (b *Builder) SetBias(value int) error {
	if value < 0 || value > MaxBytesPerLine {
		return fmt.Errorf("%w: bias %d not in [0, %d]", ErrInvalidArgument, value, MaxBytesPerLine)
	}

	b.AppendRaw(ESC, opBias, byte(value))
	b.bias = value
	b.bytesPerLine = unknownBytesPerLine
	return nil
}

// SetTapeColor selects the tape colour.
func (b *Builder) SetTapeColor(value int) error {
	if value < 0 || value > 0xff {
		return fmt.Errorf("%w: tape color %d", ErrInvalidArgument, value)
	}

	b.AppendRaw(ESC, opTapeColor, byte(value))
	return nil
}

// SetBytesPerLine sets how many bytes each following line carries. Nothing
// is emitted when the value matches the one already in effect.
func (b *Builder) SetBytesPerLine(value int) error {
	if value < 0 || b.bias+value > MaxBytesPerLine {
		return fmt.Errorf("%w: %d bytes per line with bias %d exceeds %d",
			ErrInvalidArgument, value, b.bias, MaxBytesPerLine)
	}
	if value == b.bytesPerLine {
		return nil
	}

	b.AppendRaw(ESC, opBytesPerLine, byte(value))
	b.bytesPerLine = value
	return nil
}

// AppendLine appends one printed line. Its length becomes the bytes-per-line.
func (b *Builder) AppendLine(line []byte) error {
	if err := b.SetBytesPerLine(len(line)); err != nil {
		return err
	}

	b.AppendRaw(SYN)
	b.AppendRaw(line...)
	return nil
}

// AppendChainMark appends the calibration pattern used between chained labels.
func (b *Builder) AppendChainMark() error {
	if err := b.SetBias(0); err != nil {
		return err
	}
	if err := b.SetBytesPerLine(MaxBytesPerLine); err != nil {
		return err
	}

	line := make([]byte, MaxBytesPerLine)
	for i := range line {
		line[i] = chainMarkByte
	}
	return b.AppendLine(line)
}

// AppendSkipLines feeds count blank lines.
func (b *Builder) AppendSkipLines(count int) error {
	if count <= 0 {
		return fmt.Errorf("%w: skip count %d must be positive", ErrInvalidArgument, count)
	}
	if err := b.SetBytesPerLine(0); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		b.AppendRaw(SYN)
	}
	return nil
}

// AppendInit appends the eight zero byte synchronisation preamble.
func (b *Builder) AppendInit() {
	b.AppendRaw(make([]byte, MaxBytesPerLine)...)
}

// AppendCut triggers the tape cutter.
func (b *Builder) AppendCut() {
	b.AppendRaw(ESC, opCut)
}

// RequestStatus asks the printer for its status. The next Send reads the
// response back.
func (b *Builder) RequestStatus() {
	b.AppendRaw(ESC, opStatus)
	b.expectResponse = true
}

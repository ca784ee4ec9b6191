// Package label sequences complete print jobs on one printer session.
package label

import (
	"fmt"
	"image"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/nixxel-company-limited/labelprinter/protocol"
	"github.com/nixxel-company-limited/labelprinter/tape"
)

const (
	// DefaultMargin is the number of blank lines between the print head and
	// the cutter.
	DefaultMargin = 56

	// TapeColor is the only tape colour the printer is driven with.
	TapeColor = 0
)

// Options controls the job sequence
type Options struct {
	// SendInit emits the init preamble at the start of every label.
	SendInit bool
	// Margin is fed twice after the label: once to move the content past
	// the cutter and once as trailing margin.
	Margin int
}

// Printer is a print session bound to one device handle. Jobs on the same
// Printer are serialized.
type Printer struct {
	dev     io.ReadWriter
	opts    Options
	builder *protocol.Builder
	logger  *zap.Logger
	mu      sync.Mutex
}

// New creates a session on an already open device handle
func New(dev io.ReadWriter, opts Options, logger *zap.Logger) *Printer {
	if opts.Margin <= 0 {
		opts.Margin = DefaultMargin
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Printer{
		dev:     dev,
		opts:    opts,
		builder: protocol.NewBuilder(),
		logger:  logger,
	}
}

// PrintLabel prints a transformed label matrix and returns the status the
// printer reports afterwards
func (p *Printer) PrintLabel(matrix tape.Matrix, bias int) (*protocol.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.builder
	b.Reset()

	if err := p.buildLabel(matrix, bias); err != nil {
		b.Reset()
		return nil, fmt.Errorf("failed to build label: %w", err)
	}

	pending := len(b.Pending())
	status, err := b.Send(p.dev)
	if err != nil {
		p.logger.Error("label transmission failed", zap.Error(err))
		return nil, err
	}

	p.logger.Info("label printed",
		zap.Int("lines", len(matrix)),
		zap.Int("bias", bias),
		zap.Int("bytes", pending),
		zap.Stringer("status", status))

	return status, nil
}

func (p *Printer) buildLabel(matrix tape.Matrix, bias int) error {
	b := p.builder

	if p.opts.SendInit {
		b.AppendInit()
	}
	if err := b.SetTapeColor(TapeColor); err != nil {
		return err
	}
	if err := b.SetBias(bias); err != nil {
		return err
	}
	for i, line := range matrix {
		if err := b.AppendLine(line); err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
	}
	// past the cutter, then trailing margin
	for i := 0; i < 2; i++ {
		if err := b.AppendSkipLines(p.opts.Margin); err != nil {
			return err
		}
	}
	b.RequestStatus()

	return nil
}

// PrintImage transforms a rendered label image and prints it
func (p *Printer) PrintImage(img image.Image) (*protocol.Status, error) {
	matrix, bias, err := tape.Transform(tape.FromImage(img))
	if err != nil {
		return nil, fmt.Errorf("failed to transform image: %w", err)
	}

	return p.PrintLabel(matrix, bias)
}

// Status queries the printer status without printing anything
func (p *Printer) Status() (*protocol.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.builder
	b.Reset()
	b.RequestStatus()

	status, err := b.Send(p.dev)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("printer status", zap.Stringer("status", status))
	return status, nil
}

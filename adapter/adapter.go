package adapter

import "errors"

var (
	// ErrNotOpen is returned by Read and Write before Open.
	ErrNotOpen = errors.New("device not open")

	// ErrAlreadyOpen is returned by Open on an open adapter.
	ErrAlreadyOpen = errors.New("device already open")

	// ErrReadTimeout is returned when the printer does not answer in time.
	ErrReadTimeout = errors.New("read timed out")
)

// Adapter defines the interface for printer communication adapters
type Adapter interface {
	// Open opens the connection to the printer
	Open() error

	// Write sends data to the printer
	Write(data []byte) (int, error)

	// Read reads data from the printer
	Read(buf []byte) (int, error)

	// Close closes the connection to the printer
	Close() error

	// IsOpen returns whether the connection is open
	IsOpen() bool
}

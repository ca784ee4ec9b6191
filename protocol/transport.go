package protocol

import (
	"fmt"
	"io"
)

// Send writes the pending buffer to the device in a single write and clears
// it. When a status was requested, exactly StatusSize bytes are read back and
// returned; otherwise the returned status is nil. An empty buffer performs no
// I/O at all.
//
// Failures are wrapped in ErrIO and never retried: the protocol has no way to
// resynchronise after a partial transmission.
func (b *Builder) Send(rw io.ReadWriter) (*Status, error) {
	if len(b.buf) == 0 {
		return nil, nil
	}

	expectResponse := b.expectResponse
	data := b.buf
	b.buf = nil
	b.expectResponse = false

	n, err := rw.Write(data)
	if err != nil {
		return nil, fmt.Errorf("%w: write: %w", ErrIO, err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: write: %w (%d of %d bytes)", ErrIO, io.ErrShortWrite, n, len(data))
	}

	if !expectResponse {
		return nil, nil
	}

	var status Status
	if _, err := io.ReadFull(rw, status[:]); err != nil {
		return nil, fmt.Errorf("%w: read status: %w", ErrIO, err)
	}
	return &status, nil
}

package adapter

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nixxel-company-limited/labelprinter/discovery"
)

// FileAdapter talks to the printer through its kernel device node, such as
// /dev/hidraw0 or /dev/usb/lp0.
type FileAdapter struct {
	resolver    discovery.Resolver
	readTimeout time.Duration
	file        *os.File
	path        string
	mu          sync.Mutex
}

// NewFileAdapter creates an adapter that opens whatever path the resolver
// yields. A zero readTimeout waits for the device indefinitely.
func NewFileAdapter(resolver discovery.Resolver, readTimeout time.Duration) *FileAdapter {
	return &FileAdapter{
		resolver:    resolver,
		readTimeout: readTimeout,
	}
}

// Open resolves the device path and opens it for reading and writing
func (a *FileAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		return ErrAlreadyOpen
	}

	path, err := a.resolver.ResolveDevicePath()
	if err != nil {
		return fmt.Errorf("failed to resolve device: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	a.file = file
	a.path = path
	return nil
}

// Write sends data to the printer
func (a *FileAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return 0, ErrNotOpen
	}

	n, err := a.file.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}

	return n, nil
}

// Read waits up to the read timeout for the device to become readable and
// reads from it
func (a *FileAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return 0, ErrNotOpen
	}

	if a.readTimeout > 0 {
		if err := waitReadable(int(a.file.Fd()), a.readTimeout); err != nil {
			return 0, err
		}
	}

	n, err := a.file.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}

	return n, nil
}

// waitReadable polls fd until it has data or the timeout expires
func waitReadable(fd int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrReadTimeout
		}

		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, int(remaining.Milliseconds())+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll failed: %w", err)
		}
		if n == 0 {
			return ErrReadTimeout
		}
		if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && pfd[0].Revents&unix.POLLIN == 0 {
			return fmt.Errorf("poll failed: revents %#x", pfd[0].Revents)
		}
		return nil
	}
}

// Close closes the device node
func (a *FileAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return nil
	}

	err := a.file.Close()
	a.file = nil
	return err
}

// IsOpen returns whether the device is open
func (a *FileAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file != nil
}

// Path returns the device path opened last
func (a *FileAdapter) Path() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.path
}

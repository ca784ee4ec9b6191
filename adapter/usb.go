package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassHID     = 0x03
	IfaceClassPrinter = 0x07
)

// USBAdapter talks to the printer directly over libusb, bypassing the
// kernel driver
type USBAdapter struct {
	vid, pid    gousb.ID
	classes     []gousb.Class
	readTimeout time.Duration
	logger      *zap.Logger

	ctx         *gousb.Context
	device      *gousb.Device
	iface       *gousb.Interface
	done        func()
	outEndpoint *gousb.OutEndpoint
	inEndpoint  *gousb.InEndpoint
	inPackets   packetReader
	isOpen      bool
	mu          sync.Mutex
}

// NewUSBAdapter creates a USB adapter for the device with the given vendor
// and product id. The interface claimed on Open is the first one of the
// given class, or of the printer or HID class when class is zero.
func NewUSBAdapter(vid, pid uint16, class uint16, readTimeout time.Duration, logger *zap.Logger) *USBAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}

	classes := []gousb.Class{IfaceClassPrinter, IfaceClassHID}
	if class != 0 {
		classes = []gousb.Class{gousb.Class(class)}
	}

	return &USBAdapter{
		vid:         gousb.ID(vid),
		pid:         gousb.ID(pid),
		classes:     classes,
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// FindInterface returns the number of the first interface whose alternate
// setting 0 has one of the wanted classes
func FindInterface(desc gousb.ConfigDesc, classes ...gousb.Class) (int, bool) {
	for _, iface := range desc.Interfaces {
		if len(iface.AltSettings) == 0 {
			continue
		}
		for _, class := range classes {
			if iface.AltSettings[0].Class == class {
				return iface.Number, true
			}
		}
	}
	return -1, false
}

// Open opens the USB device and claims the interface
func (a *USBAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return ErrAlreadyOpen
	}

	ctx := gousb.NewContext()
	device, err := ctx.OpenDeviceWithVIDPID(a.vid, a.pid)
	if err != nil || device == nil {
		ctx.Close()
		if err == nil {
			err = errors.New("no such device")
		}
		return fmt.Errorf("cannot find printer %s:%s: %w", a.vid, a.pid, err)
	}

	// Set auto-detach kernel driver on Linux
	if runtime.GOOS == "linux" {
		if err := device.SetAutoDetach(true); err != nil {
			a.logger.Warn("failed to enable kernel driver auto-detach", zap.Error(err))
		}
	}

	if err := a.claim(device); err != nil {
		device.Close()
		ctx.Close()
		return err
	}

	a.ctx = ctx
	a.device = device
	a.isOpen = true
	a.logger.Info("usb printer opened",
		zap.Stringer("vid", a.vid),
		zap.Stringer("pid", a.pid),
		zap.Int("interface", a.iface.Setting.Number))

	return nil
}

// claim selects the printer interface and its endpoints
func (a *USBAdapter) claim(device *gousb.Device) error {
	cfgNum, err := device.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("failed to get active config: %w", err)
	}

	cfg, err := device.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	ifaceNum, ok := FindInterface(cfg.Desc, a.classes...)
	if !ok {
		cfg.Close()
		return errors.New("no printer interface found")
	}

	iface, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	var out *gousb.OutEndpoint
	var in *gousb.InEndpoint
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut && out == nil {
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				out = ep
			}
		}
		if epDesc.Direction == gousb.EndpointDirectionIn && in == nil {
			if ep, err := iface.InEndpoint(epDesc.Number); err == nil {
				in = ep
			}
		}
	}

	if out == nil {
		iface.Close()
		cfg.Close()
		return errors.New("cannot find output endpoint from printer")
	}

	a.iface = iface
	a.outEndpoint = out
	a.inEndpoint = in
	a.inPackets = packetReader{}
	if in != nil {
		a.inPackets.size = in.Desc.MaxPacketSize
	}
	a.done = func() {
		iface.Close()
		cfg.Close()
	}
	return nil
}

// Write sends data to the printer
func (a *USBAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, ErrNotOpen
	}

	n, err := a.outEndpoint.Write(data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}

	return n, nil
}

// Read reads data from the printer, giving up after the read timeout
func (a *USBAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, ErrNotOpen
	}

	if a.inEndpoint == nil {
		return 0, errors.New("input endpoint not available")
	}

	ctx := context.Background()
	if a.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.readTimeout)
		defer cancel()
	}

	n, err := a.inPackets.read(buf, func(packet []byte) (int, error) {
		return a.inEndpoint.ReadContext(ctx, packet)
	})
	if err != nil {
		if ctx.Err() != nil {
			return n, ErrReadTimeout
		}
		return n, fmt.Errorf("read failed: %w", err)
	}

	return n, nil
}

// Close releases the interface and closes the USB device
func (a *USBAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return nil
	}

	var errs []error

	if a.done != nil {
		a.done()
		a.done = nil
	}

	if err := a.device.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := a.ctx.Close(); err != nil {
		errs = append(errs, err)
	}

	a.iface = nil
	a.outEndpoint = nil
	a.inEndpoint = nil
	a.inPackets = packetReader{}
	a.device = nil
	a.ctx = nil
	a.isOpen = false

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}

	return nil
}

// IsOpen returns whether the device is open
func (a *USBAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

// packetReader gives a packet oriented endpoint stream semantics. Every
// transfer asks for a whole packet so the device never overflows the
// buffer; bytes the caller had no room for are returned by later reads.
type packetReader struct {
	size    int
	pending []byte
}

func (p *packetReader) read(buf []byte, transfer func([]byte) (int, error)) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	if len(p.pending) == 0 {
		size := p.size
		if size < len(buf) {
			size = len(buf)
		}
		packet := make([]byte, size)
		n, err := transfer(packet)
		p.pending = packet[:n]
		if err != nil {
			return 0, err
		}
	}

	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

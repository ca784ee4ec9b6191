// Package discovery resolves the device node of a printer from its USB ids.
package discovery

import (
	"bufio"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ErrNotFound is returned when no device matches.
var ErrNotFound = errors.New("device not found")

// Resolver finds the path of the device node to open.
type Resolver interface {
	ResolveDevicePath() (string, error)
}

// StaticResolver always resolves to an explicitly configured path.
type StaticResolver string

func (r StaticResolver) ResolveDevicePath() (string, error) {
	if r == "" {
		return "", fmt.Errorf("%w: empty device path", ErrNotFound)
	}
	return string(r), nil
}

// SysfsResolver scans a sysfs device class directory (for example
// /sys/class/hidraw) for an entry whose bus id matches
// <class>:<vendor>:<product>, and maps it to the node of the same name under
// DevRoot.
type SysfsResolver struct {
	Fs        afero.Fs
	ClassRoot string
	DevRoot   string
	ClassID   uint16
	VendorID  uint16
	ProductID uint16
}

// NewSysfsResolver creates a resolver over the host filesystem.
func NewSysfsResolver(classRoot, devRoot string, classID, vendorID, productID uint16) *SysfsResolver {
	return &SysfsResolver{
		Fs:        afero.NewOsFs(),
		ClassRoot: classRoot,
		DevRoot:   devRoot,
		ClassID:   classID,
		VendorID:  vendorID,
		ProductID: productID,
	}
}

// DeviceID returns the bus id the kernel uses in sysfs link targets,
// e.g. "0003:0922:1001".
func (r *SysfsResolver) DeviceID() string {
	return fmt.Sprintf("%04X:%04X:%04X", r.ClassID, r.VendorID, r.ProductID)
}

// ResolveDevicePath returns the first matching device node in name order.
func (r *SysfsResolver) ResolveDevicePath() (string, error) {
	entries, err := afero.ReadDir(r.Fs, r.ClassRoot)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrNotFound, r.ClassRoot, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if r.matches(entry.Name()) {
			return path.Join(r.DevRoot, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("%w: no %s entry for %s", ErrNotFound, r.ClassRoot, r.DeviceID())
}

// matches checks the entry's symlink target and, failing that, the HID_ID
// line of its uevent file.
func (r *SysfsResolver) matches(name string) bool {
	entry := path.Join(r.ClassRoot, name)

	if lr, ok := r.Fs.(afero.LinkReader); ok {
		if target, err := lr.ReadlinkIfPossible(entry); err == nil {
			if strings.Contains(strings.ToUpper(target), r.DeviceID()) {
				return true
			}
		}
	}

	f, err := r.Fs.Open(path.Join(entry, "device", "uevent"))
	if err != nil {
		return false
	}
	defer f.Close()

	want := fmt.Sprintf("HID_ID=%04X:%08X:%08X", r.ClassID, r.VendorID, r.ProductID)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.EqualFold(strings.TrimSpace(scanner.Text()), want) {
			return true
		}
	}
	return false
}

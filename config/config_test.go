package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Device.Backend)
	assert.Equal(t, uint16(0x0003), cfg.Device.ClassID)
	assert.Equal(t, uint16(0x0922), cfg.Device.VendorID)
	assert.Equal(t, uint16(0x1001), cfg.Device.ProductID)
	assert.Equal(t, "/sys/class/hidraw", cfg.Device.SysfsRoot)
	assert.Equal(t, 5*time.Second, cfg.Device.ReadTimeout)
	assert.False(t, cfg.Label.SendInit)
	assert.Equal(t, 56, cfg.Label.Margin)
	assert.Equal(t, "localhost:9100", cfg.Server.Address)
	assert.Equal(t, "stderr", cfg.Logging.Output)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "labelprinter.yaml")
	content := `
device:
  backend: usb
  path: /dev/hidraw3
  read_timeout: 250ms
label:
  send_init: true
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	cfg, err := Load(New(), file)
	require.NoError(t, err)

	assert.Equal(t, "usb", cfg.Device.Backend)
	assert.Equal(t, "/dev/hidraw3", cfg.Device.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Device.ReadTimeout)
	assert.True(t, cfg.Label.SendInit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 56, cfg.Label.Margin)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("LABELPRINTER_DEVICE_PATH", "/dev/usb/lp1")
	t.Setenv("LABELPRINTER_SERVER_ADDRESS", "0.0.0.0:9200")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "/dev/usb/lp1", cfg.Device.Path)
	assert.Equal(t, "0.0.0.0:9200", cfg.Server.Address)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value any
		msg   string
	}{
		{"Backend", "device.backend", "bluetooth", "unknown device backend"},
		{"ReadTimeout", "device.read_timeout", "0s", "read timeout"},
		{"Margin", "label.margin", 0, "margin"},
		{"FontSize", "font.size", -1.0, "font size"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := New()
			v.Set(tc.key, tc.value)

			_, err := Load(v, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

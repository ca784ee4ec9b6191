package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Font    FontConfig    `mapstructure:"font"`
	Label   LabelConfig   `mapstructure:"label"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig identifies the printer and how to talk to it
type DeviceConfig struct {
	// Backend is "file" for the kernel device node or "usb" for libusb.
	Backend string `mapstructure:"backend"`
	// Path overrides sysfs discovery when set.
	Path        string        `mapstructure:"path"`
	ClassID     uint16        `mapstructure:"class_id"`
	VendorID    uint16        `mapstructure:"vendor_id"`
	ProductID   uint16        `mapstructure:"product_id"`
	SysfsRoot   string        `mapstructure:"sysfs_root"`
	DevRoot     string        `mapstructure:"dev_root"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// FontConfig selects the TrueType font used for text labels
type FontConfig struct {
	Path string `mapstructure:"path"`
	// Size in pixels; zero fits the text to the print head.
	Size float64 `mapstructure:"size"`
}

// LabelConfig controls the print job sequence
type LabelConfig struct {
	// SendInit emits the eight byte init preamble before each label.
	SendInit bool `mapstructure:"send_init"`
	// Margin is the number of blank lines fed before the cutter, twice.
	Margin int `mapstructure:"margin"`
}

// ServerConfig represents the label server configuration
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// EnvPrefix is the prefix of environment variables overriding config keys
const EnvPrefix = "LABELPRINTER"

// New returns a viper instance with defaults and environment binding set up.
// Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// DYMO LabelManager PnP, exposed as a HID raw device
	v.SetDefault("device.backend", "file")
	v.SetDefault("device.path", "")
	v.SetDefault("device.class_id", 0x0003)
	v.SetDefault("device.vendor_id", 0x0922)
	v.SetDefault("device.product_id", 0x1001)
	v.SetDefault("device.sysfs_root", "/sys/class/hidraw")
	v.SetDefault("device.dev_root", "/dev")
	v.SetDefault("device.read_timeout", "5s")

	v.SetDefault("font.path", "/usr/share/fonts/truetype/ubuntu-font-family/Ubuntu-R.ttf")
	v.SetDefault("font.size", 0)

	v.SetDefault("label.send_init", false)
	v.SetDefault("label.margin", 56)

	v.SetDefault("server.address", "localhost:9100")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)
}

// Load reads the optional config file into v and decodes the result. An
// empty file name skips the file and uses defaults, environment and flags.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Device.Backend {
	case "file", "usb":
	default:
		return fmt.Errorf("unknown device backend %q", cfg.Device.Backend)
	}

	if cfg.Device.ReadTimeout <= 0 {
		return errors.New("device read timeout must be positive")
	}

	if cfg.Label.Margin <= 0 {
		return errors.New("label margin must be positive")
	}

	if cfg.Font.Size < 0 {
		return errors.New("font size must not be negative")
	}

	return nil
}

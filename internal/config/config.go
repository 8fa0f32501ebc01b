// Package config loads flasher-stub's runtime configuration: which
// transport to serve on, at what baud rate, which hal.Target backend to
// use, and (for the simulated backend) the on-disk flash image to load.
// Settings come from flags, environment variables, and a flasher-stub.yaml
// file, in that priority order, via viper. Load can watch the config file
// and report the flash_image setting when the file changes; `serve` does
// not turn that watch on.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backend selects which hal.Target implementation cmd/flasher-stub wires up.
type Backend string

const (
	BackendSim Backend = "sim"
	BackendSPI Backend = "spi"
)

// Config is the resolved set of options a `serve` or `bench` run needs.
type Config struct {
	// Transport
	Port    string
	Baud    int
	PipeDev bool // serve over stdin/stdout instead of a real port, for bench/CI

	// HAL backend
	Backend       Backend
	FlashImage    string // sim: path to a file backing hal.Sim's flash contents
	SPIDevice     string // spi: periph.io SPI device path (e.g. /dev/spidev0.0)
	SPIChipSelect string // spi: GPIO pin name for chip-select

	// Register window (spi backend only)
	RegisterBase uint32
	RegisterSize uint32

	// Logging
	LogLevel string
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "/dev/ttyUSB0")
	v.SetDefault("baud", 115200)
	v.SetDefault("pipe_dev", false)
	v.SetDefault("backend", string(BackendSim))
	v.SetDefault("flash_image", "")
	v.SetDefault("spi_device", "/dev/spidev0.0")
	v.SetDefault("spi_chip_select", "GPIO8")
	v.SetDefault("register_base", 0x60000000)
	v.SetDefault("register_size", 0x1000)
	v.SetDefault("log_level", "info")
}

// Load resolves Config from (in ascending priority) flasher-stub.yaml
// (searched in ".", "$HOME/.flasher-stub", "/etc/flasher-stub"), environment
// variables prefixed FLASHER_STUB_, and flags already registered on fs.
// onFlashImageChange, if non-nil, is invoked with the current flash_image
// setting whenever the config file changes on disk.
func Load(fs *pflag.FlagSet, onFlashImageChange func(path string)) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetConfigName("flasher-stub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.flasher-stub")
	v.AddConfigPath("/etc/flasher-stub")

	v.SetEnvPrefix("FLASHER_STUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		// Flags are named with hyphens (--pipe-dev); config keys use
		// underscores (pipe_dev), so bind each flag under its key name.
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("config: bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read flasher-stub.yaml: %w", err)
		}
	}

	if onFlashImageChange != nil {
		v.OnConfigChange(func(e fsnotify.Event) {
			onFlashImageChange(v.GetString("flash_image"))
		})
		v.WatchConfig()
	}

	cfg := &Config{
		Port:          v.GetString("port"),
		Baud:          v.GetInt("baud"),
		PipeDev:       v.GetBool("pipe_dev"),
		Backend:       Backend(v.GetString("backend")),
		FlashImage:    v.GetString("flash_image"),
		SPIDevice:     v.GetString("spi_device"),
		SPIChipSelect: v.GetString("spi_chip_select"),
		RegisterBase:  uint32(v.GetUint32("register_base")),
		RegisterSize:  uint32(v.GetUint32("register_size")),
		LogLevel:      v.GetString("log_level"),
	}

	if cfg.Backend != BackendSim && cfg.Backend != BackendSPI {
		return nil, fmt.Errorf("config: unknown backend %q (want %q or %q)", cfg.Backend, BackendSim, BackendSPI)
	}
	return cfg, nil
}

// BindFlags registers the flags Load's flag-binding step expects.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("port", "/dev/ttyUSB0", "serial port to serve the protocol on")
	fs.Int("baud", 115200, "initial baud rate")
	fs.Bool("pipe-dev", false, "serve over stdin/stdout instead of a serial port")
	fs.String("backend", string(BackendSim), "hal.Target backend: sim or spi")
	fs.String("flash-image", "", "path to a file backing the simulated flash contents")
	fs.String("spi-device", "/dev/spidev0.0", "periph.io SPI device path (spi backend)")
	fs.String("spi-chip-select", "GPIO8", "GPIO pin name for flash chip-select (spi backend)")
	fs.Uint32("register-base", 0x60000000, "base address of the mmap'd register window (spi backend)")
	fs.Uint32("register-size", 0x1000, "size of the mmap'd register window (spi backend)")
	fs.String("log-level", "info", "logrus level: debug, info, warn, error")
}

// Package config collects the daemon options from defaults, an optional TOML
// file and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/OpenTraceLab/xvcd/pkg/jtag"
	"github.com/OpenTraceLab/xvcd/pkg/xvc"
)

// Config holds every daemon option.
type Config struct {
	Listen         string   `toml:"listen"`
	Port           int      `toml:"port"`
	Driver         string   `toml:"driver"`
	Vendor         uint16   `toml:"vendor"`
	Product        uint16   `toml:"product"`
	Serial         string   `toml:"serial"`
	Index          int      `toml:"index"`
	Interface      int      `toml:"interface"`
	Frequency      int      `toml:"frequency"`
	Latency        int      `toml:"latency"`
	MaxVector      int      `toml:"max_vector"`
	MaxConnections int      `toml:"max_connections"`
	MetricsAddr    string   `toml:"metrics_addr"`
	SimIDCodes     []string `toml:"sim_idcodes"`
	Verbose        int      `toml:"verbose"`
}

// Default returns the built-in configuration: an FT2232 on interface A served
// on the XVC port of every address.
func Default() Config {
	return Config{
		Port:      xvc.DefaultPort,
		Driver:    string(jtag.InterfaceKindFTDI),
		Vendor:    jtag.VendorIDFTDI,
		Product:   jtag.ProductIDFT2232,
		Latency:   jtag.DefaultLatency,
		MaxVector: xvc.DefaultMaxVector,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Keys the file sets but Config does not know are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate reports every invalid option.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	if _, err := jtag.ParseInterfaceKind(c.Driver); err != nil {
		errs = append(errs, err)
	}
	if c.Interface < 0 || c.Interface > 3 {
		errs = append(errs, fmt.Errorf("interface %d out of range 0-3", c.Interface))
	}
	if c.Index < 0 {
		errs = append(errs, fmt.Errorf("index %d must not be negative", c.Index))
	}
	if c.Frequency < 0 {
		errs = append(errs, fmt.Errorf("frequency %d must not be negative", c.Frequency))
	}
	if c.Latency < 1 || c.Latency > 255 {
		errs = append(errs, fmt.Errorf("latency %d out of range 1-255", c.Latency))
	}
	if c.MaxVector < 2 || c.MaxVector%2 != 0 {
		errs = append(errs, fmt.Errorf("max vector %d must be an even number of at least 2", c.MaxVector))
	} else if kind, err := jtag.ParseInterfaceKind(c.Driver); err == nil && kind == jtag.InterfaceKindFTDI &&
		c.MaxVector/2*8 > jtag.FTDIMaxScanBits {
		errs = append(errs, fmt.Errorf("max vector %d exceeds the FTDI limit of %d bytes", c.MaxVector, jtag.FTDIMaxScanBits/4))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max connections %d must not be negative", c.MaxConnections))
	}
	if _, err := c.SimDevices(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ListenAddr joins Listen and Port.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.Port))
}

// SimDevices parses SimIDCodes.
func (c Config) SimDevices() ([]jtag.SimulatedDevice, error) {
	var out []jtag.SimulatedDevice
	for _, s := range c.SimIDCodes {
		dev, err := jtag.ParseSimulatedDevice(s)
		if err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, nil
}

// OpenOptions translates the cable selection for jtag.Open.
func (c Config) OpenOptions() (jtag.OpenOptions, error) {
	kind, err := jtag.ParseInterfaceKind(c.Driver)
	if err != nil {
		return jtag.OpenOptions{}, err
	}
	devices, err := c.SimDevices()
	if err != nil {
		return jtag.OpenOptions{}, err
	}
	return jtag.OpenOptions{
		Driver:     kind,
		VendorID:   c.Vendor,
		ProductID:  c.Product,
		Serial:     c.Serial,
		Index:      c.Index,
		Interface:  c.Interface,
		Latency:    c.Latency,
		Frequency:  c.Frequency,
		SimDevices: devices,
	}, nil
}

// ServerConfig returns the protocol options.
func (c Config) ServerConfig() xvc.Config {
	return xvc.Config{
		Addr:           c.ListenAddr(),
		MaxVector:      c.MaxVector,
		Frequency:      c.Frequency,
		MaxConnections: c.MaxConnections,
		DumpVectors:    c.Verbose >= 4,
	}
}

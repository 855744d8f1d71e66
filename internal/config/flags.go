package config

import (
	"github.com/spf13/pflag"
)

// Flags binds the daemon options to a flag set. Only flags the user set
// override values loaded from a file.
type Flags struct {
	fs     *pflag.FlagSet
	values Config
	// Path is the --config value.
	Path string
}

type setter func(dst, src *Config)

var setters = map[string]setter{
	"listen":          func(d, s *Config) { d.Listen = s.Listen },
	"port":            func(d, s *Config) { d.Port = s.Port },
	"driver":          func(d, s *Config) { d.Driver = s.Driver },
	"vendor":          func(d, s *Config) { d.Vendor = s.Vendor },
	"product":         func(d, s *Config) { d.Product = s.Product },
	"serial":          func(d, s *Config) { d.Serial = s.Serial },
	"index":           func(d, s *Config) { d.Index = s.Index },
	"interface":       func(d, s *Config) { d.Interface = s.Interface },
	"frequency":       func(d, s *Config) { d.Frequency = s.Frequency },
	"latency":         func(d, s *Config) { d.Latency = s.Latency },
	"max-vector":      func(d, s *Config) { d.MaxVector = s.MaxVector },
	"max-connections": func(d, s *Config) { d.MaxConnections = s.MaxConnections },
	"metrics-addr":    func(d, s *Config) { d.MetricsAddr = s.MetricsAddr },
	"sim-idcode":      func(d, s *Config) { d.SimIDCodes = s.SimIDCodes },
	"verbose":         func(d, s *Config) { d.Verbose = s.Verbose },
}

// RegisterFlags adds the daemon flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, values: Default()}
	v := &f.values

	fs.StringVarP(&f.Path, "config", "c", "", "TOML configuration file")
	fs.StringVar(&v.Listen, "listen", v.Listen, "address to bind (default all interfaces)")
	fs.IntVarP(&v.Port, "port", "p", v.Port, "TCP port for XVC connections")
	fs.StringVarP(&v.Driver, "driver", "d", v.Driver, "cable driver: ftdi, cmsisdap or sim")
	fs.Uint16VarP(&v.Vendor, "vendor", "V", v.Vendor, "USB vendor ID")
	fs.Uint16VarP(&v.Product, "product", "P", v.Product, "USB product ID")
	fs.StringVarP(&v.Serial, "serial", "S", v.Serial, "USB serial number (overrides --index)")
	fs.IntVarP(&v.Index, "index", "I", v.Index, "index among matching USB devices")
	fs.IntVarP(&v.Interface, "interface", "i", v.Interface, "FTDI interface 0-3 (A-D)")
	fs.IntVarP(&v.Frequency, "frequency", "f", v.Frequency, "fixed TCK frequency in Hz; 0 obeys settck")
	fs.IntVar(&v.Latency, "latency", v.Latency, "FTDI latency timer in ms")
	fs.IntVar(&v.MaxVector, "max-vector", v.MaxVector, "advertised TMS+TDI vector size in bytes")
	fs.IntVar(&v.MaxConnections, "max-connections", v.MaxConnections, "concurrent connection limit (0 = unlimited)")
	fs.StringVar(&v.MetricsAddr, "metrics-addr", v.MetricsAddr, "serve Prometheus metrics on this address")
	fs.StringArrayVar(&v.SimIDCodes, "sim-idcode", v.SimIDCodes, "simulated device as idcode[:irlen[:opcode]] (repeatable)")
	fs.CountVarP(&v.Verbose, "verbose", "v", "increase verbosity (repeatable)")

	return f
}

// Resolve loads the file named by --config and applies every flag the user
// set on top of it.
func (f *Flags) Resolve() (Config, error) {
	cfg, err := Load(f.Path)
	if err != nil {
		return Config{}, err
	}
	f.Apply(&cfg)
	return cfg, nil
}

// Apply copies the values of changed flags into dst.
func (f *Flags) Apply(dst *Config) {
	f.fs.Visit(func(fl *pflag.Flag) {
		if set, ok := setters[fl.Name]; ok {
			set(dst, &f.values)
		}
	})
}

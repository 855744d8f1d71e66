package jtag

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// OpenOptions selects and configures the cable behind the server.
type OpenOptions struct {
	Driver    InterfaceKind
	VendorID  uint16
	ProductID uint16
	Serial    string
	Index     int
	Interface int
	Latency   int
	// Frequency, when positive, is tried right after opening. A cable that
	// rejects it is still returned; the server applies it again on settck.
	Frequency int
	// SimDevices populates the simulated chain; empty means a single
	// default device.
	SimDevices []SimulatedDevice
}

// ParseInterfaceKind maps a driver name to its kind.
func ParseInterfaceKind(name string) (InterfaceKind, error) {
	switch k := InterfaceKind(strings.ToLower(strings.TrimSpace(name))); k {
	case InterfaceKindFTDI, InterfaceKindCMSISDAP, InterfaceKindSim:
		return k, nil
	case "cmsis-dap":
		return InterfaceKindCMSISDAP, nil
	case "":
		return InterfaceKindFTDI, nil
	default:
		return "", fmt.Errorf("jtag: unknown driver %q (want ftdi, cmsisdap or sim)", name)
	}
}

// Open returns a ready adapter for opts.Driver.
func Open(opts OpenOptions) (Adapter, error) {
	var (
		a   Adapter
		err error
	)
	switch opts.Driver {
	case InterfaceKindFTDI, "":
		a, err = NewFTDIAdapter(FTDIConfig{
			VendorID:  opts.VendorID,
			ProductID: opts.ProductID,
			Serial:    opts.Serial,
			Index:     opts.Index,
			Interface: opts.Interface,
			Latency:   opts.Latency,
		})
	case InterfaceKindCMSISDAP:
		vid, pid := opts.VendorID, opts.ProductID
		if vid == 0 || vid == VendorIDFTDI {
			vid, pid = VendorIDRaspberryPi, ProductIDCMSISDAP
		}
		a, err = NewCMSISDAPAdapter(CMSISDAPConfig{
			VendorID:  vid,
			ProductID: pid,
			Serial:    opts.Serial,
			Index:     opts.Index,
		})
	case InterfaceKindSim:
		devices := opts.SimDevices
		if len(devices) == 0 {
			devices = []SimulatedDevice{{
				IDCode:       DefaultSimIDCode,
				IRLength:     DefaultSimIRLength,
				IDCodeOpcode: DefaultSimIDCodeOpcode,
			}}
		}
		a = NewChainSimulator(devices, AdapterInfo{
			Name:         "Chain Simulator",
			MaxFrequency: 1_000_000_000,
			Notes:        fmt.Sprintf("%d device(s)", len(devices)),
		}).Adapter()
	default:
		return nil, fmt.Errorf("jtag: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.Frequency > 0 {
		actual, err := a.SetPeriod(HzToPeriod(opts.Frequency))
		if err != nil {
			log.Warn().Err(err).Int("requested_hz", opts.Frequency).Msg("TCK frequency not applied")
		} else {
			log.Info().Int("requested_hz", opts.Frequency).Int("period_ns", actual).Msg("TCK frequency set")
		}
	}
	return a, nil
}

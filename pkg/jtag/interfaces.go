package jtag

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// InterfaceKind categorizes adapter families.
type InterfaceKind string

const (
	InterfaceKindFTDI     InterfaceKind = "ftdi"
	InterfaceKindCMSISDAP InterfaceKind = "cmsisdap"
	InterfaceKindSim      InterfaceKind = "sim"
)

// CMSIS-DAP identifiers of the Raspberry Pi debug probe.
const (
	VendorIDRaspberryPi = 0x2E8A
	ProductIDCMSISDAP   = 0x000C
)

// InterfaceInfo describes a detected adapter interface/transport.
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	VendorID    uint16
	ProductID   uint16
	Bus         int
	Address     int
}

// Label returns a user-friendly description for the interface.
func (i InterfaceInfo) Label() string {
	if i.Description != "" {
		return i.Description
	}
	return fmt.Sprintf("%s (%04X:%04X)", string(i.Kind), i.VendorID, i.ProductID)
}

// DiscoverInterfaces enumerates connected JTAG-capable USB devices that match
// known VID/PID pairs. It always returns the simulator entry last so there is
// something to serve without hardware connected.
func DiscoverInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	var results []InterfaceInfo
	usb := gousb.NewContext()
	defer usb.Close()

	// The filter only inspects descriptors; returning false keeps every
	// device closed.
	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		if info, ok := classifyUSBDevice(uint16(desc.Vendor), uint16(desc.Product)); ok {
			info.Bus = desc.Bus
			info.Address = desc.Address
			results = append(results, info)
		}
		return false
	})
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	results = append(results, InterfaceInfo{
		Kind:        InterfaceKindSim,
		Description: "Simulator (no hardware)",
	})

	return results, nil
}

func classifyUSBDevice(vid, pid uint16) (InterfaceInfo, bool) {
	for _, known := range knownDevices {
		if vid == known.VendorID && pid == known.ProductID {
			return InterfaceInfo{
				Kind:        known.Kind,
				Description: known.Description,
				VendorID:    known.VendorID,
				ProductID:   known.ProductID,
			}, true
		}
	}
	return InterfaceInfo{}, false
}

type knownUSBDevice struct {
	Kind        InterfaceKind
	VendorID    uint16
	ProductID   uint16
	Description string
}

var knownDevices = []knownUSBDevice{
	{InterfaceKindFTDI, VendorIDFTDI, ProductIDFT2232, "FTDI FT2232 (Digilent HS2/HS3 and clones)"},
	{InterfaceKindFTDI, VendorIDFTDI, ProductIDFT4232H, "FTDI FT4232H"},
	{InterfaceKindFTDI, VendorIDFTDI, ProductIDFT232H, "FTDI FT232H"},
	{InterfaceKindCMSISDAP, VendorIDRaspberryPi, ProductIDCMSISDAP, "Raspberry Pi CMSIS-DAP"},
	{InterfaceKindCMSISDAP, 0x0d28, 0x0204, "DAPLink CMSIS-DAP"},
	{InterfaceKindCMSISDAP, 0x1366, 0x0101, "SEGGER J-Link CMSIS-DAP"},
}

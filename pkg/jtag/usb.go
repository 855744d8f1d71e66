package jtag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

const (
	// Default packet size for full-speed bulk endpoints.
	DefaultPacketSize = 64
	DefaultTimeout    = 5 * time.Second
)

// USBSelector picks one device among those matching VendorID and ProductID.
type USBSelector struct {
	VendorID  uint16
	ProductID uint16
	// Serial selects the device with this serial number. When set, Index is
	// ignored.
	Serial string
	// Index selects the n-th matching device in enumeration order.
	Index int
	// Interface is the USB interface number to claim. A negative value picks
	// the first vendor-specific interface.
	Interface int
}

func (s USBSelector) String() string {
	if s.Serial != "" {
		return fmt.Sprintf("%04x:%04x serial=%q", s.VendorID, s.ProductID, s.Serial)
	}
	return fmt.Sprintf("%04x:%04x index=%d", s.VendorID, s.ProductID, s.Index)
}

// usbIO is the subset of a claimed USB interface the drivers need. It keeps
// the protocol code testable without hardware.
type usbIO interface {
	Control(rType, request uint8, value, index uint16, data []byte) (int, error)
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	PacketSize() int
	Close() error
}

// USBTransport owns a claimed USB interface and its bulk endpoints.
type USBTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration
	sel        USBSelector
}

// OpenUSBTransport opens the selected device, claims the interface and finds
// its bulk endpoints.
func OpenUSBTransport(sel USBSelector) (*USBTransport, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == sel.VendorID && uint16(desc.Product) == sel.ProductID
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("USB error: %w", err)
	}

	dev, err := pickDevice(devs, sel)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	// Lets us take the interface away from ftdi_sio and friends on Linux.
	_ = dev.SetAutoDetach(true)

	t := &USBTransport{
		ctx:        ctx,
		dev:        dev,
		packetSize: DefaultPacketSize,
		timeout:    DefaultTimeout,
		sel:        sel,
	}
	if err := t.claimInterface(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// pickDevice keeps the selected device open and closes the others.
func pickDevice(devs []*gousb.Device, sel USBSelector) (*gousb.Device, error) {
	var chosen *gousb.Device
	for i, dev := range devs {
		if chosen == nil {
			if sel.Serial != "" {
				if serial, err := dev.SerialNumber(); err == nil && serial == sel.Serial {
					chosen = dev
					continue
				}
			} else if i == sel.Index {
				chosen = dev
				continue
			}
		}
		dev.Close()
	}
	if chosen == nil {
		return nil, fmt.Errorf("device not found (%s, %d candidates)", sel, len(devs))
	}
	return chosen, nil
}

// claimInterface claims the configured interface, or the first vendor-specific
// one when none is configured.
func (t *USBTransport) claimInterface() error {
	cfgNum, err := t.dev.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}
	cfg, err := t.dev.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("failed to get config %d: %w", cfgNum, err)
	}
	t.cfg = cfg

	num := t.sel.Interface
	if num < 0 {
		num = 0
		for _, intf := range cfg.Desc.Interfaces {
			if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
				num = intf.Number
				break
			}
		}
	}

	intf, err := cfg.Interface(num, 0)
	if err != nil {
		return fmt.Errorf("failed to claim interface %d: %w", num, err)
	}
	t.intf = intf
	return t.findEndpoints()
}

// findEndpoints discovers the bulk IN and OUT endpoints
func (t *USBTransport) findEndpoints() error {
	outAddr, inAddr := -1, -1
	for _, ep := range t.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && outAddr < 0:
			outAddr = ep.Number
		case ep.Direction == gousb.EndpointDirectionIn && inAddr < 0:
			inAddr = ep.Number
			t.packetSize = ep.MaxPacketSize
		}
	}
	if outAddr < 0 {
		return errors.New("bulk OUT endpoint not found")
	}
	if inAddr < 0 {
		return errors.New("bulk IN endpoint not found")
	}

	epOut, err := t.intf.OutEndpoint(outAddr)
	if err != nil {
		return fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	t.epOut = epOut

	epIn, err := t.intf.InEndpoint(inAddr)
	if err != nil {
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	t.epIn = epIn
	return nil
}

// Control issues a control transfer on the default endpoint.
func (t *USBTransport) Control(rType, request uint8, value, index uint16, data []byte) (int, error) {
	n, err := t.dev.Control(rType, request, value, index, data)
	if err != nil {
		return n, fmt.Errorf("USB control 0x%02x failed: %w", request, err)
	}
	return n, nil
}

// Write sends data on the bulk OUT endpoint.
func (t *USBTransport) Write(data []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	n, err := t.epOut.WriteContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("USB write failed: %w", err)
	}
	return n, nil
}

// Read receives data from the bulk IN endpoint.
func (t *USBTransport) Read(data []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	n, err := t.epIn.ReadContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("USB read failed: %w", err)
	}
	return n, nil
}

// PacketSize returns the max packet size of the IN endpoint.
func (t *USBTransport) PacketSize() int {
	return t.packetSize
}

// DeviceRelease returns the bcdDevice field of the device descriptor.
func (t *USBTransport) DeviceRelease() uint16 {
	if t.dev == nil || t.dev.Desc == nil {
		return 0
	}
	return uint16(t.dev.Desc.Device)
}

// Strings returns manufacturer, product and serial descriptors, empty on error.
func (t *USBTransport) Strings() (manufacturer, product, serial string) {
	if t.dev == nil {
		return "", "", ""
	}
	manufacturer, _ = t.dev.Manufacturer()
	product, _ = t.dev.Product()
	serial, _ = t.dev.SerialNumber()
	return manufacturer, product, serial
}

// SetTimeout sets the read/write timeout
func (t *USBTransport) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

// Close releases USB resources
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

package jtag

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
	"github.com/rs/zerolog/log"
)

// FTDI USB identifiers. 0403:6010 is the FT2232H/FT2232C, the most common
// chip on Xilinx-compatible JTAG cables.
const (
	VendorIDFTDI     = 0x0403
	ProductIDFT2232  = 0x6010
	ProductIDFT4232H = 0x6011
	ProductIDFT232H  = 0x6014
)

// Bit-bang pin assignment on ADBUS.
const (
	ftdiPinTCK  = 0x01
	ftdiPinTDI  = 0x02
	ftdiPinTDO  = 0x04
	ftdiPinTMS  = 0x08
	ftdiPinMisc = 0x90

	ftdiOutputMask = ftdiPinMisc | ftdiPinTCK | ftdiPinTDI | ftdiPinTMS

	// Idle level of the outputs. Found to work best for some FTDI cables.
	ftdiDefaultOut = 0xE0
)

const (
	// DefaultLatency is the FTDI latency timer in milliseconds. Short
	// latency roughly triples XVC throughput.
	DefaultLatency = 4

	ftdiInitialBaud = 750_000
	ftdiMaxWrite    = 256
	// ftdiPeriodClock relates the requested TCK period to the bit-bang baud
	// rate: baud = ftdiPeriodClock / period.
	ftdiPeriodClock = 25_000_000
	// Every IN packet starts with two modem status bytes.
	ftdiStatusBytes = 2
)

// FTDIMaxScanBits bounds a single Scan to the read-back buffer.
const FTDIMaxScanBits = 16384

// FTDI vendor requests.
const (
	ftdiReqReset      = 0x00
	ftdiReqSetBaud    = 0x03
	ftdiReqSetLatency = 0x09
	ftdiReqSetBitmode = 0x0B

	ftdiResetSIO     = 0
	ftdiResetPurgeRX = 1
	ftdiResetPurgeTX = 2

	ftdiBitmodeReset  = 0x00
	ftdiBitmodeSyncBB = 0x04
	ftdiBitmodeCBUS   = 0x20

	ftdiReqTypeOut = gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice
)

// FTDIConfig selects and configures an FTDI bit-bang cable.
type FTDIConfig struct {
	VendorID  uint16
	ProductID uint16
	Serial    string
	Index     int
	// Interface selects the channel of multi-port chips: 0..3 for A..D.
	Interface int
	// Latency is the latency timer in milliseconds; zero means DefaultLatency.
	Latency int
}

// FTDIAdapter drives a JTAG chain through an FTDI chip in synchronous
// bit-bang mode. Each TCK cycle costs two bytes on the wire: one with TCK low
// and one with TCK high; TDO is sampled from the read-back of the second.
type FTDIAdapter struct {
	usb   usbIO
	chip  ftdiChip
	index uint16 // interface number as used in control requests, 1-based
	info  AdapterInfo

	mu     sync.Mutex
	closed bool
	buf    []byte
}

// NewFTDIAdapter opens and initialises an FTDI cable.
func NewFTDIAdapter(cfg FTDIConfig) (*FTDIAdapter, error) {
	if cfg.VendorID == 0 {
		cfg.VendorID = VendorIDFTDI
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = ProductIDFT2232
	}
	if cfg.Interface < 0 || cfg.Interface > 3 {
		return nil, fmt.Errorf("jtag: ftdi interface %d out of range [0, 3]", cfg.Interface)
	}
	if cfg.Serial != "" {
		cfg.Index = 0
	}

	transport, err := OpenUSBTransport(USBSelector{
		VendorID:  cfg.VendorID,
		ProductID: cfg.ProductID,
		Serial:    cfg.Serial,
		Index:     cfg.Index,
		Interface: cfg.Interface,
	})
	if err != nil {
		return nil, fmt.Errorf("ftdi_usb_open(0x%04x, 0x%04x): %w", cfg.VendorID, cfg.ProductID, err)
	}

	a := newFTDIAdapter(transport, chipFromRelease(transport.DeviceRelease()), cfg)
	manufacturer, product, serial := transport.Strings()
	a.info.Vendor = manufacturer
	a.info.Model = product
	a.info.SerialNumber = serial

	if err := a.init(cfg.Latency); err != nil {
		transport.Close()
		return nil, err
	}
	return a, nil
}

func newFTDIAdapter(usb usbIO, chip ftdiChip, cfg FTDIConfig) *FTDIAdapter {
	return &FTDIAdapter{
		usb:   usb,
		chip:  chip,
		index: uint16(cfg.Interface + 1),
		info: AdapterInfo{
			Name:         "FTDI " + chip.String() + " (sync bit-bang)",
			MinFrequency: 100,
			MaxFrequency: 3_000_000,
			Notes:        fmt.Sprintf("interface %c", 'A'+cfg.Interface),
		},
		buf: make([]byte, 2*FTDIMaxScanBits),
	}
}

// init mirrors the libftdi bring-up sequence: latency, CBUS reset, sync
// bit-bang, idle outputs, purge, initial baud rate.
func (a *FTDIAdapter) init(latency int) error {
	if latency <= 0 {
		latency = DefaultLatency
	}
	if err := a.control(ftdiReqReset, ftdiResetSIO); err != nil {
		return fmt.Errorf("ftdi reset: %w", err)
	}
	if err := a.control(ftdiReqSetLatency, uint16(latency)); err != nil {
		return fmt.Errorf("unable to set latency timer: %w", err)
	}
	// Not every chip has CBUS bit-bang; failure here is expected on most.
	_ = a.control(ftdiReqSetBitmode, uint16(ftdiBitmodeCBUS)<<8|0xFF)
	if err := a.control(ftdiReqSetBitmode, uint16(ftdiBitmodeSyncBB)<<8|ftdiOutputMask); err != nil {
		return fmt.Errorf("ftdi_set_bitmode: %w", err)
	}
	if _, err := a.usb.Write([]byte{ftdiDefaultOut}); err != nil {
		log.Warn().Err(err).Msgf("ftdi: write failed for 0x%02x", ftdiDefaultOut)
	}
	if err := a.purge(); err != nil {
		return fmt.Errorf("ftdi_usb_purge_buffers: %w", err)
	}
	if _, err := a.setBaud(ftdiInitialBaud); err != nil {
		return fmt.Errorf("ftdi_set_baudrate: %w", err)
	}
	return nil
}

func (a *FTDIAdapter) control(request uint8, value uint16) error {
	_, err := a.usb.Control(ftdiReqTypeOut, request, value, a.index, nil)
	return err
}

func (a *FTDIAdapter) purge() error {
	if err := a.control(ftdiReqReset, ftdiResetPurgeRX); err != nil {
		return err
	}
	return a.control(ftdiReqReset, ftdiResetPurgeTX)
}

// setBaud programs the bit-bang clock and returns the baud rate achieved.
func (a *FTDIAdapter) setBaud(baud int) (int, error) {
	// libftdi quadruples the rate in bit-bang mode.
	value, index, actual, err := ftdiBaudDivisor(a.chip, baud*4, a.index)
	if err != nil {
		return 0, err
	}
	if _, err := a.usb.Control(ftdiReqTypeOut, ftdiReqSetBaud, value, index, nil); err != nil {
		return 0, err
	}
	return actual / 4, nil
}

// Info returns adapter capabilities
func (a *FTDIAdapter) Info() (AdapterInfo, error) {
	return a.info, nil
}

// SetPeriod converts the requested TCK period into a bit-bang baud rate.
func (a *FTDIAdapter) SetPeriod(ns int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, ErrClosed
	}
	if ns <= 0 {
		return 0, fmt.Errorf("jtag: invalid period %dns", ns)
	}
	baud := ftdiPeriodClock / ns
	if baud <= 0 {
		return 0, fmt.Errorf("jtag: period %dns too long", ns)
	}
	if _, err := a.setBaud(baud); err != nil {
		return 0, fmt.Errorf("ftdi_set_baudrate: %w", err)
	}
	return ftdiPeriodClock / baud, nil
}

// Scan clocks the TMS/TDI streams through the cable.
func (a *FTDIAdapter) Scan(tms, tdi []byte, bits int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	nbytes, err := ValidateShiftBuffers(tms, tdi, bits)
	if err != nil {
		return nil, err
	}
	if bits > FTDIMaxScanBits {
		return nil, fmt.Errorf("jtag: out of buffer space for %d bits", bits)
	}

	buf := a.buf[:2*bits]
	encodeBitBang(buf, tms, tdi, bits)

	for r := 0; r < len(buf); {
		t := len(buf) - r
		if t > ftdiMaxWrite {
			t = ftdiMaxWrite
		}
		log.Trace().Int("bytes", t).Msg("ftdi: writing")
		n, err := a.usb.Write(buf[r : r+t])
		if err != nil {
			return nil, fmt.Errorf("ftdi_write_data: %w", err)
		}
		if n != t {
			return nil, fmt.Errorf("ftdi_write_data: short write %d of %d", n, t)
		}
		if err := a.readFull(buf[r : r+t]); err != nil {
			return nil, fmt.Errorf("ftdi_read_data: %w", err)
		}
		r += t
	}

	tdo := make([]byte, nbytes)
	decodeBitBang(tdo, buf, bits)
	return tdo, nil
}

// readFull fills dst with payload bytes, dropping the status header of every
// packet.
func (a *FTDIAdapter) readFull(dst []byte) error {
	packet := a.usb.PacketSize()
	if packet <= ftdiStatusBytes {
		packet = DefaultPacketSize
	}
	raw := make([]byte, packet*((len(dst)+packet-ftdiStatusBytes-1)/(packet-ftdiStatusBytes)))

	got := 0
	for idle := 0; got < len(dst); {
		n, err := a.usb.Read(raw)
		if err != nil {
			return err
		}
		before := got
		for off := 0; off < n && got < len(dst); off += packet {
			end := off + packet
			if end > n {
				end = n
			}
			if end-off > ftdiStatusBytes {
				got += copy(dst[got:], raw[off+ftdiStatusBytes:end])
			}
		}
		if got == before {
			// Status-only packets arrive every latency period until the
			// chip has clocked our bytes out.
			idle++
			if idle > 1000 {
				return errors.New("no data from device")
			}
			continue
		}
		idle = 0
	}
	return nil
}

// Close resets the bit mode and releases the device.
func (a *FTDIAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	_ = a.control(ftdiReqSetBitmode, uint16(ftdiBitmodeReset)<<8)
	return a.usb.Close()
}

// encodeBitBang expands each bit into a TCK-low and TCK-high output byte.
func encodeBitBang(buf, tms, tdi []byte, bits int) {
	for i := 0; i < bits; i++ {
		v := byte(ftdiDefaultOut)
		if tms[i/8]&(1<<(uint(i)%8)) != 0 {
			v |= ftdiPinTMS
		}
		if tdi[i/8]&(1<<(uint(i)%8)) != 0 {
			v |= ftdiPinTDI
		}
		buf[2*i] = v
		buf[2*i+1] = v | ftdiPinTCK
	}
}

// decodeBitBang collects TDO from the rising-edge samples.
func decodeBitBang(tdo, buf []byte, bits int) {
	for i := range tdo {
		tdo[i] = 0
	}
	for i := 0; i < bits; i++ {
		if buf[2*i+1]&ftdiPinTDO != 0 {
			tdo[i/8] |= 1 << (uint(i) % 8)
		}
	}
}

package jtag

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// CMSIS-DAP command IDs
const (
	cmdInfo         = 0x00
	cmdConnect      = 0x02
	cmdDisconnect   = 0x03
	cmdSWJClock     = 0x11
	cmdJTAGSequence = 0x14
)

// DAP_Info IDs
const (
	infoVendorID    = 0x01
	infoProductID   = 0x02
	infoSerialNum   = 0x03
	infoFirmwareVer = 0x04
)

const (
	dapPortJTAG  = 2
	dapStatusOK  = 0x00
	dapSeqTMS    = 0x40
	dapSeqTDO    = 0x80
	dapSeqMax    = 64
	dapMinHz     = 1_000
	dapMaxHz     = 10_000_000
	dapDefaultHz = 1_000_000
)

// CMSISDAPConfig selects a CMSIS-DAP v2 (bulk) probe.
type CMSISDAPConfig struct {
	VendorID  uint16
	ProductID uint16
	Serial    string
	Index     int
}

// jtagSequence is one DAP_JTAG_Sequence entry: up to 64 clocks at a fixed
// TMS level.
type jtagSequence struct {
	bits int
	tms  bool
	tdi  []byte
}

func (s jtagSequence) info() byte {
	info := byte(s.bits & 0x3F) // 0 encodes 64
	if s.tms {
		info |= dapSeqTMS
	}
	return info | dapSeqTDO
}

// CMSISDAPAdapter implements the Adapter interface for CMSIS-DAP probes
type CMSISDAPAdapter struct {
	usb  usbIO
	info AdapterInfo

	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewCMSISDAPAdapter opens a probe, queries its identity and connects the
// JTAG port.
func NewCMSISDAPAdapter(cfg CMSISDAPConfig) (*CMSISDAPAdapter, error) {
	transport, err := OpenUSBTransport(USBSelector{
		VendorID:  cfg.VendorID,
		ProductID: cfg.ProductID,
		Serial:    cfg.Serial,
		Index:     cfg.Index,
		Interface: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}

	a, err := newCMSISDAPAdapter(transport)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return a, nil
}

func newCMSISDAPAdapter(usb usbIO) (*CMSISDAPAdapter, error) {
	a := &CMSISDAPAdapter{
		usb: usb,
		info: AdapterInfo{
			Name:         "CMSIS-DAP Probe",
			MinFrequency: dapMinHz,
			MaxFrequency: dapMaxHz,
		},
	}
	a.info.Vendor = a.queryInfo(infoVendorID)
	a.info.Model = a.queryInfo(infoProductID)
	a.info.SerialNumber = a.queryInfo(infoSerialNum)
	a.info.Firmware = a.queryInfo(infoFirmwareVer)

	resp, err := a.transact([]byte{cmdConnect, dapPortJTAG})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to JTAG: %w", err)
	}
	if resp[1] != dapPortJTAG {
		return nil, fmt.Errorf("failed to connect to JTAG (got port %d)", resp[1])
	}
	a.connected = true

	if err := a.setClock(dapDefaultHz); err != nil {
		return nil, fmt.Errorf("failed to set default speed: %w", err)
	}
	return a, nil
}

// transact sends one command and checks the echoed command ID.
func (a *CMSISDAPAdapter) transact(cmd []byte) ([]byte, error) {
	if _, err := a.usb.Write(cmd); err != nil {
		return nil, err
	}
	resp := make([]byte, a.packetSize())
	n, err := a.usb.Read(resp)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, errors.New("response too short")
	}
	if resp[0] != cmd[0] {
		return nil, fmt.Errorf("invalid command ID: 0x%02X", resp[0])
	}
	return resp[:n], nil
}

func (a *CMSISDAPAdapter) packetSize() int {
	if n := a.usb.PacketSize(); n > 0 {
		return n
	}
	return DefaultPacketSize
}

func (a *CMSISDAPAdapter) queryInfo(id byte) string {
	resp, err := a.transact([]byte{cmdInfo, id})
	if err != nil {
		log.Debug().Err(err).Msgf("cmsis-dap: DAP_Info 0x%02X", id)
		return ""
	}
	length := int(resp[1])
	if len(resp) < 2+length {
		return ""
	}
	s := resp[2 : 2+length]
	if length > 0 && s[length-1] == 0 {
		s = s[:length-1]
	}
	return string(s)
}

func (a *CMSISDAPAdapter) setClock(hz int) error {
	cmd := make([]byte, 5)
	cmd[0] = cmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], uint32(hz))
	resp, err := a.transact(cmd)
	if err != nil {
		return err
	}
	if resp[1] != dapStatusOK {
		return errors.New("set clock failed")
	}
	return nil
}

// Info returns adapter capabilities
func (a *CMSISDAPAdapter) Info() (AdapterInfo, error) {
	return a.info, nil
}

// SetPeriod sets TCK through DAP_SWJ_Clock. Probes do not report the
// frequency they settle on, so the requested period is returned.
func (a *CMSISDAPAdapter) SetPeriod(ns int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, ErrClosed
	}
	hz := PeriodToHz(ns)
	if hz < a.info.MinFrequency || hz > a.info.MaxFrequency {
		return 0, fmt.Errorf("frequency %d Hz out of range [%d, %d]",
			hz, a.info.MinFrequency, a.info.MaxFrequency)
	}
	if err := a.setClock(hz); err != nil {
		return 0, fmt.Errorf("set speed failed: %w", err)
	}
	return ns, nil
}

// Scan splits the request into DAP_JTAG_Sequence commands that each fit a
// single packet.
func (a *CMSISDAPAdapter) Scan(tms, tdi []byte, bits int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	nbytes, err := ValidateShiftBuffers(tms, tdi, bits)
	if err != nil {
		return nil, err
	}

	tdo := make([]byte, nbytes)
	pos := 0
	seqs := buildSequences(tms, tdi, bits)
	for len(seqs) > 0 {
		n := a.batch(seqs)
		got, err := a.runSequences(seqs[:n])
		if err != nil {
			return nil, fmt.Errorf("shift failed: %w", err)
		}
		for _, s := range seqs[:n] {
			for i := 0; i < s.bits; i++ {
				if got[i/8]&(1<<(uint(i)%8)) != 0 {
					tdo[pos/8] |= 1 << (uint(pos) % 8)
				}
				pos++
			}
			got = got[(s.bits+7)/8:]
		}
		seqs = seqs[n:]
	}
	return tdo, nil
}

// batch returns how many leading sequences fit one command and its response.
func (a *CMSISDAPAdapter) batch(seqs []jtagSequence) int {
	limit := a.packetSize()
	req, resp := 2, 2
	for i, s := range seqs {
		data := (s.bits + 7) / 8
		if i == 255 || req+1+data > limit || resp+data > limit {
			return i
		}
		req += 1 + data
		resp += data
	}
	return len(seqs)
}

func (a *CMSISDAPAdapter) runSequences(seqs []jtagSequence) ([]byte, error) {
	cmd := []byte{cmdJTAGSequence, byte(len(seqs))}
	want := 0
	for _, s := range seqs {
		cmd = append(cmd, s.info())
		cmd = append(cmd, s.tdi...)
		want += len(s.tdi)
	}
	resp, err := a.transact(cmd)
	if err != nil {
		return nil, err
	}
	if resp[1] != dapStatusOK {
		return nil, errors.New("sequence failed")
	}
	if len(resp) < 2+want {
		return nil, errors.New("incomplete TDO data")
	}
	return resp[2 : 2+want], nil
}

// buildSequences splits a scan wherever TMS changes, since a CMSIS-DAP
// sequence drives a single TMS level for up to 64 clocks.
func buildSequences(tms, tdi []byte, bits int) []jtagSequence {
	var seqs []jtagSequence
	for pos := 0; pos < bits; {
		level := tms[pos/8]&(1<<(uint(pos)%8)) != 0

		n := 0
		for pos+n < bits && n < dapSeqMax {
			i := pos + n
			if (tms[i/8]&(1<<(uint(i)%8)) != 0) != level {
				break
			}
			n++
		}

		seq := jtagSequence{bits: n, tms: level, tdi: make([]byte, (n+7)/8)}
		for i := 0; i < n; i++ {
			j := pos + i
			if tdi[j/8]&(1<<(uint(j)%8)) != 0 {
				seq.tdi[i/8] |= 1 << (uint(i) % 8)
			}
		}
		seqs = append(seqs, seq)
		pos += n
	}
	return seqs
}

// Close disconnects and releases resources
func (a *CMSISDAPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if a.connected {
		if _, err := a.transact([]byte{cmdDisconnect}); err != nil {
			log.Debug().Err(err).Msg("cmsis-dap: disconnect")
		}
		a.connected = false
	}
	return a.usb.Close()
}

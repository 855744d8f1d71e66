package jtag

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/OpenTraceLab/xvcd/pkg/tap"
)

// Defaults for a simulated device: an Artix-7 XC7A35T.
const (
	DefaultSimIDCode       = 0x0362D093
	DefaultSimIRLength     = 6
	DefaultSimIDCodeOpcode = 0x09
)

// SimulatedDevice describes a single TAP in a simulated JTAG chain. A zero
// IDCode models a device without an IDCODE register, which selects BYPASS
// after reset.
type SimulatedDevice struct {
	IDCode       uint32
	IRLength     int
	IDCodeOpcode uint32
}

// ParseSimulatedDevice parses "idcode[:irlen[:opcode]]", all fields accepting
// Go integer literal syntax.
func ParseSimulatedDevice(s string) (SimulatedDevice, error) {
	dev := SimulatedDevice{IRLength: DefaultSimIRLength, IDCodeOpcode: DefaultSimIDCodeOpcode}
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 3 || parts[0] == "" {
		return dev, fmt.Errorf("jtag: invalid simulated device %q", s)
	}

	id, err := strconv.ParseUint(parts[0], 0, 32)
	if err != nil {
		return dev, fmt.Errorf("jtag: invalid idcode %q: %w", parts[0], err)
	}
	dev.IDCode = uint32(id)

	if len(parts) > 1 {
		n, err := strconv.ParseUint(parts[1], 0, 8)
		if err != nil || n < 2 || n > 32 {
			return dev, fmt.Errorf("jtag: invalid IR length %q", parts[1])
		}
		dev.IRLength = int(n)
	}
	if len(parts) > 2 {
		op, err := strconv.ParseUint(parts[2], 0, 32)
		if err != nil {
			return dev, fmt.Errorf("jtag: invalid IDCODE opcode %q: %w", parts[2], err)
		}
		dev.IDCodeOpcode = uint32(op)
	}
	if dev.IDCodeOpcode >= 1<<uint(dev.IRLength) {
		return dev, fmt.Errorf("jtag: opcode 0x%X does not fit a %d-bit IR", dev.IDCodeOpcode, dev.IRLength)
	}
	return dev, nil
}

func (d SimulatedDevice) String() string {
	return fmt.Sprintf("0x%08X:%d:0x%X", d.IDCode, d.IRLength, d.IDCodeOpcode)
}

type simTAP struct {
	SimulatedDevice
	ir    uint32
	shift uint64
	width int
}

func (d *simTAP) reset() {
	d.ir = d.IDCodeOpcode
}

func (d *simTAP) captureIR() {
	// IEEE 1149.1 requires the two LSBs of the captured IR to read 01.
	d.shift = 0x01
	d.width = d.IRLength
}

func (d *simTAP) captureDR() {
	if d.IDCode != 0 && d.ir == d.IDCodeOpcode {
		d.shift = uint64(d.IDCode)
		d.width = 32
		return
	}
	d.shift = 0
	d.width = 1
}

// shiftBit moves in into the MSB end and returns the bit leaving the LSB end.
func (d *simTAP) shiftBit(in bool) bool {
	out := d.shift&1 != 0
	d.shift >>= 1
	if in {
		d.shift |= 1 << uint(d.width-1)
	}
	return out
}

// ChainSimulator models a chain of TAP controllers at bit level. Device 0 is
// the one nearest TDO. Only IDCODE and BYPASS data registers are modelled.
type ChainSimulator struct {
	mu      sync.Mutex
	devices []simTAP
	state   tap.State
	adapter *SimAdapter
}

// NewChainSimulator creates a simulator with the specified devices, all in
// Test-Logic-Reset.
func NewChainSimulator(devices []SimulatedDevice, info AdapterInfo) *ChainSimulator {
	cs := &ChainSimulator{state: tap.StateTestLogicReset}
	for _, d := range devices {
		t := simTAP{SimulatedDevice: d}
		t.reset()
		cs.devices = append(cs.devices, t)
	}
	if info.Name == "" {
		info.Name = "Chain Simulator"
	}
	cs.adapter = NewSimAdapter(info)
	cs.adapter.OnScan = cs.scan
	return cs
}

// Adapter returns the underlying SimAdapter for use with JTAG operations.
func (cs *ChainSimulator) Adapter() *SimAdapter {
	return cs.adapter
}

// State returns the TAP state all simulated devices share.
func (cs *ChainSimulator) State() tap.State {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// Instruction returns the active instruction of device i.
func (cs *ChainSimulator) Instruction(i int) (uint32, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if i < 0 || i >= len(cs.devices) {
		return 0, fmt.Errorf("device index %d out of range", i)
	}
	return cs.devices[i].ir, nil
}

func (cs *ChainSimulator) scan(tms, tdi []byte, bits int) ([]byte, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	tdo := make([]byte, tap.ByteLen(bits))
	for i := 0; i < bits; i++ {
		out := cs.clock(tap.Bit(tms, i), tap.Bit(tdi, i))
		tap.SetBit(tdo, i, out)
	}
	return tdo, nil
}

// clock performs one TCK cycle and returns the TDO level sampled on it.
func (cs *ChainSimulator) clock(tms, tdi bool) bool {
	var out bool
	switch cs.state {
	case tap.StateShiftIR, tap.StateShiftDR:
		carry := tdi
		for i := len(cs.devices) - 1; i >= 0; i-- {
			carry = cs.devices[i].shiftBit(carry)
		}
		out = carry
	}

	cs.state = tap.NextState(cs.state, tms)
	for i := range cs.devices {
		d := &cs.devices[i]
		switch cs.state {
		case tap.StateTestLogicReset:
			d.reset()
		case tap.StateCaptureIR:
			d.captureIR()
		case tap.StateCaptureDR:
			d.captureDR()
		case tap.StateUpdateIR:
			d.ir = uint32(d.shift) & (1<<uint(d.IRLength) - 1)
		}
	}
	return out
}

package xvc

import (
	"fmt"

	"github.com/OpenTraceLab/xvcd/pkg/idcode"
	"github.com/OpenTraceLab/xvcd/pkg/tap"
)

// DefaultMaxDevices bounds the chain length ReadIDCodes looks for.
const DefaultMaxDevices = 16

// transport tracks the TAP state on the client side so that shifts can be
// built from target states instead of raw TMS patterns.
type transport struct {
	client *Client
	tap    *tap.StateMachine
}

func newTransport(c *Client) *transport {
	return &transport{client: c, tap: tap.NewStateMachine()}
}

func (t *transport) apply(tms, tdi []bool) ([]bool, error) {
	if len(tms) == 0 {
		return nil, nil
	}
	if tdi == nil {
		tdi = make([]bool, len(tms))
	}
	packed := tap.PackBits(tms)
	tdo, err := t.client.Shift(packed, tap.PackBits(tdi), len(tms))
	if err != nil {
		return nil, err
	}
	t.tap.ClockBits(packed, len(tms))
	return tap.UnpackBits(tdo, len(tms)), nil
}

// reset clocks five TMS=1 cycles. It is a shift of its own so that the next
// shift starts in Test-Logic-Reset, which the server treats as a hand-off
// point once Run-Test/Idle is reached.
func (t *transport) reset() error {
	m := *t.tap
	_, err := t.apply(m.Reset().TMS, nil)
	return err
}

func (t *transport) gotoState(target tap.State) error {
	m := *t.tap
	seq, err := m.GoTo(target)
	if err != nil {
		return err
	}
	_, err = t.apply(seq.TMS, nil)
	return err
}

// ReadIDCodes resets the chain, reads the IDCODE (or BYPASS) register of every
// device and returns them nearest-TDO first. The chain is reset again and left
// in Run-Test/Idle, so the server may hand the cable to other clients.
func ReadIDCodes(c *Client, maxDevices int) ([]idcode.IDCode, error) {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	t := newTransport(c)

	if err := t.reset(); err != nil {
		return nil, fmt.Errorf("xvc: reset: %w", err)
	}
	if err := t.gotoState(tap.StateShiftDR); err != nil {
		return nil, err
	}

	bits := 32 * (maxDevices + 1)
	tms := make([]bool, bits)
	tms[bits-1] = true // exit Shift-DR after final bit
	tdi := make([]bool, bits)
	for i := range tdi {
		tdi[i] = true
	}
	tdo, err := t.apply(tms, tdi)
	if err != nil {
		return nil, fmt.Errorf("xvc: read IDCODEs: %w", err)
	}

	if err := t.reset(); err != nil {
		return nil, err
	}
	if err := t.gotoState(tap.StateRunTestIdle); err != nil {
		return nil, err
	}

	return idcode.SplitChain(tdo)
}

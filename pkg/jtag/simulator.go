package jtag

import (
	"fmt"
	"sync"
)

// ScanHook allows the simulator to emulate device-specific TDO behavior.
type ScanHook func(tms, tdi []byte, bits int) ([]byte, error)

// PeriodHook lets tests decide which period the simulated cable accepts.
type PeriodHook func(ns int) (int, error)

// ScanOp captures one scan invocation for inspection within tests.
type ScanOp struct {
	TMS  []byte
	TDI  []byte
	Bits int
}

// SimAdapter is an in-memory adapter useful for unit tests and for serving
// XVC without hardware. It records every scan and by default echoes TDI to
// TDO.
type SimAdapter struct {
	InfoData AdapterInfo

	OnScan      ScanHook
	OnSetPeriod PeriodHook

	mu     sync.Mutex
	period int
	scans  []ScanOp
	closed bool
}

// NewSimAdapter constructs a simulator configured with the provided AdapterInfo.
func NewSimAdapter(info AdapterInfo) *SimAdapter {
	return &SimAdapter{InfoData: info}
}

// LastScan returns a copy of the most recent scan request.
func (s *SimAdapter) LastScan() ScanOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.scans) == 0 {
		return ScanOp{}
	}
	return copyScan(s.scans[len(s.scans)-1])
}

// Scans returns a copy of the scan history in call order.
func (s *SimAdapter) Scans() []ScanOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScanOp, len(s.scans))
	for i, op := range s.scans {
		out[i] = copyScan(op)
	}
	return out
}

// Period reports the last period accepted by SetPeriod.
func (s *SimAdapter) Period() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

func (s *SimAdapter) Info() (AdapterInfo, error) {
	return s.InfoData, nil
}

func (s *SimAdapter) SetPeriod(ns int) (int, error) {
	s.mu.Lock()
	hook := s.OnSetPeriod
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return 0, ErrClosed
	}
	actual := ns
	if hook != nil {
		var err error
		if actual, err = hook(ns); err != nil {
			return 0, err
		}
	} else if ns <= 0 {
		return 0, fmt.Errorf("jtag: invalid period %dns", ns)
	}

	s.mu.Lock()
	s.period = actual
	s.mu.Unlock()
	return actual, nil
}

func (s *SimAdapter) Scan(tms, tdi []byte, bits int) ([]byte, error) {
	required, err := ValidateShiftBuffers(tms, tdi, bits)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.scans = append(s.scans, copyScan(ScanOp{TMS: tms[:required], TDI: tdi[:required], Bits: bits}))
	hook := s.OnScan
	s.mu.Unlock()

	if hook != nil {
		return hook(tms, tdi, bits)
	}

	// Default: echo TDI to TDO to keep tests predictable.
	tdo := make([]byte, required)
	copy(tdo, tdi)
	return tdo, nil
}

func (s *SimAdapter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyScan(op ScanOp) ScanOp {
	return ScanOp{
		TMS:  append([]byte(nil), op.TMS...),
		TDI:  append([]byte(nil), op.TDI...),
		Bits: op.Bits,
	}
}

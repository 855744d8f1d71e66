package jtag

import (
	"errors"
	"fmt"
)

// AdapterInfo describes capabilities reported by a JTAG adapter implementation.
type AdapterInfo struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	MinFrequency int // Hertz
	MaxFrequency int // Hertz
	Notes        string
}

// Adapter abstracts a physical or virtual JTAG cable that clocks raw
// (TMS, TDI) bit pairs and samples TDO. Bit streams are packed LSB-first.
//
// Adapters are not safe for concurrent use; chain.Controller serialises
// access.
type Adapter interface {
	Info() (AdapterInfo, error)
	// SetPeriod programs the TCK period in nanoseconds and returns the period
	// actually in effect.
	SetPeriod(ns int) (actual int, err error)
	// Scan clocks bits TCK cycles and returns ceil(bits/8) bytes of TDO.
	Scan(tms, tdi []byte, bits int) (tdo []byte, err error)
	Close() error
}

var (
	// ErrNotImplemented lets backends signal that a requested capability is not yet
	// available without relying on fmt.Errorf each time.
	ErrNotImplemented = errors.New("jtag: not implemented")

	// ErrClosed is returned by adapters used after Close.
	ErrClosed = errors.New("jtag: adapter closed")
)

// ValidateShiftBuffers ensures TMS and TDI hold at least bits bits and returns
// the number of bytes required to accommodate the bit length.
func ValidateShiftBuffers(tms, tdi []byte, bits int) (int, error) {
	if bits < 0 {
		return 0, fmt.Errorf("jtag: bits must not be negative, got %d", bits)
	}
	required := (bits + 7) / 8
	if len(tms) < required {
		return 0, fmt.Errorf("jtag: tms buffer too short, need %d bytes", required)
	}
	if len(tdi) < required {
		return 0, fmt.Errorf("jtag: tdi buffer too short, need %d bytes", required)
	}
	return required, nil
}

// PeriodToHz converts a TCK period in nanoseconds into a frequency.
func PeriodToHz(ns int) int {
	if ns <= 0 {
		return 0
	}
	return 1_000_000_000 / ns
}

// HzToPeriod converts a TCK frequency into a period in nanoseconds.
func HzToPeriod(hz int) int {
	if hz <= 0 {
		return 0
	}
	return 1_000_000_000 / hz
}

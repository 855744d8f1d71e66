package jtag

import "fmt"

// ftdiChip identifies the FTDI silicon family from bcdDevice.
type ftdiChip uint8

const (
	ftdiChipBM ftdiChip = iota
	ftdiChip2232C
	ftdiChipR
	ftdiChip2232H
	ftdiChip4232H
	ftdiChip232H
	ftdiChip230X
)

var ftdiChipNames = map[ftdiChip]string{
	ftdiChipBM:    "BM",
	ftdiChip2232C: "FT2232C",
	ftdiChipR:     "R",
	ftdiChip2232H: "FT2232H",
	ftdiChip4232H: "FT4232H",
	ftdiChip232H:  "FT232H",
	ftdiChip230X:  "FT230X",
}

func (c ftdiChip) String() string {
	if name, ok := ftdiChipNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ftdiChip(%d)", c)
}

func (c ftdiChip) highSpeed() bool {
	return c == ftdiChip2232H || c == ftdiChip4232H || c == ftdiChip232H
}

func chipFromRelease(bcd uint16) ftdiChip {
	switch bcd {
	case 0x0500:
		return ftdiChip2232C
	case 0x0600:
		return ftdiChipR
	case 0x0700:
		return ftdiChip2232H
	case 0x0800:
		return ftdiChip4232H
	case 0x0900:
		return ftdiChip232H
	case 0x1000:
		return ftdiChip230X
	default:
		return ftdiChipBM
	}
}

const (
	ftdiClockH = 120_000_000
	ftdiClockC = 48_000_000
)

// ftdiFracCode maps the three fractional divisor bits to the chip encoding.
var ftdiFracCode = [8]uint32{0, 3, 2, 4, 1, 5, 6, 7}

// ftdiClockBits finds the closest divisor for baud given a base clock and
// pre-divider. It returns the achieved rate and the encoded divisor.
func ftdiClockBits(baud, clk, clkDiv int) (int, uint32) {
	switch {
	case baud >= clk/clkDiv:
		return clk / clkDiv, 0
	case baud >= clk/(clkDiv+clkDiv/2):
		return clk / (clkDiv + clkDiv/2), 1
	case baud >= clk/(2*clkDiv):
		return clk / (2 * clkDiv), 2
	}

	// Divisor in eighths, rounded to nearest.
	divisor := clk * 16 / clkDiv / baud
	best := divisor / 2
	if divisor&1 != 0 {
		best++
	}
	if best > 0x20000 {
		best = 0x1FFFF
	}
	actual := clk * 16 / clkDiv / best
	if actual&1 != 0 {
		actual = actual/2 + 1
	} else {
		actual /= 2
	}
	encoded := uint32(best>>3) | ftdiFracCode[best&7]<<14
	return actual, encoded
}

// ftdiBaudDivisor computes the SET_BAUD_RATE request value and index.
// Rates more than 5% off the request are rejected.
func ftdiBaudDivisor(chip ftdiChip, baud int, iface uint16) (value, index uint16, actual int, err error) {
	if baud <= 0 {
		return 0, 0, 0, fmt.Errorf("jtag: invalid baud rate %d", baud)
	}

	var encoded uint32
	if chip.highSpeed() && baud*10 > ftdiClockH/0x3FFF {
		actual, encoded = ftdiClockBits(baud, ftdiClockH, 10)
		encoded |= 0x20000
	} else {
		actual, encoded = ftdiClockBits(baud, ftdiClockC, 16)
	}

	if actual <= 0 {
		return 0, 0, 0, fmt.Errorf("jtag: baud rate %d not achievable", baud)
	}
	off := actual*2 < baud
	if actual < baud {
		off = off || actual*21 < baud*20
	} else {
		off = off || baud*21 < actual*20
	}
	if off {
		return 0, 0, 0, fmt.Errorf("jtag: unsupported baud rate %d (closest %d)", baud, actual)
	}

	value = uint16(encoded & 0xFFFF)
	if chip.highSpeed() || chip == ftdiChip2232C {
		index = uint16(encoded>>8) & 0xFF00
		index |= iface
	} else {
		index = uint16(encoded >> 16)
	}
	return value, index, actual, nil
}

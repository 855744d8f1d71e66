package idcode

import (
	"errors"
	"fmt"
)

// ErrChainTooLong is returned by SplitChain when no end-of-chain marker is
// found in the captured bits.
var ErrChainTooLong = errors.New("idcode: chain end not found")

// ParseIDCode parses a raw 32-bit IDCODE into its component fields
func ParseIDCode(raw uint32) IDCode {
	return IDCode{
		Raw:              raw,
		Version:          uint8((raw >> 28) & 0xF),
		PartNumber:       uint16((raw >> 12) & 0xFFFF),
		ManufacturerCode: uint16((raw >> 1) & 0x7FF),
		HasIDCode:        (raw & 0x1) == 0x1,
	}
}

// SplitChain decodes the data registers captured right after Test-Logic-Reset
// while ones were shifted in. Devices appear nearest-TDO first. A device in
// BYPASS contributes a single 0 bit and is reported as IDCODE 0; a 1 bit
// starts a 32-bit IDCODE. An all-ones word marks the end of the chain.
func SplitChain(bits []bool) ([]IDCode, error) {
	var out []IDCode
	for pos := 0; pos < len(bits); {
		if !bits[pos] {
			out = append(out, ParseIDCode(0))
			pos++
			continue
		}
		if pos+32 > len(bits) {
			break
		}
		var raw uint32
		for i := 0; i < 32; i++ {
			if bits[pos+i] {
				raw |= 1 << uint(i)
			}
		}
		if raw == 0xFFFFFFFF {
			return out, nil
		}
		out = append(out, ParseIDCode(raw))
		pos += 32
	}
	return out, fmt.Errorf("%w after %d devices", ErrChainTooLong, len(out))
}

package idcode

import (
	"errors"
	"testing"
)

func TestParseIDCode(t *testing.T) {
	id := ParseIDCode(0x0362D093)
	if id.Version != 0 || id.PartNumber != 0x362D || id.ManufacturerCode != 0x049 || !id.HasIDCode {
		t.Fatalf("ParseIDCode = %+v", id)
	}
	m, ok := LookupManufacturer(id.ManufacturerCode)
	if !ok || m.Abbreviation != "Xilinx" {
		t.Fatalf("manufacturer = %+v, %v", m, ok)
	}
}

func TestLookupManufacturerKnownCodes(t *testing.T) {
	tests := []struct {
		raw  uint32
		want string
	}{
		{raw: 0x4BA00477, want: "ARM"},
		{raw: 0x020F10DD, want: "Altera"},
		{raw: 0x41111043, want: "Lattice"},
		{raw: 0x06413041, want: "STM"},
		{raw: 0x13631093, want: "Xilinx"},
	}
	for _, tt := range tests {
		id := ParseIDCode(tt.raw)
		m, ok := LookupManufacturer(id.ManufacturerCode)
		if !ok || m.Abbreviation != tt.want {
			t.Errorf("0x%08X: manufacturer = %q (%v), want %q", tt.raw, m.Abbreviation, ok, tt.want)
		}
	}

	if m, ok := LookupManufacturer(0x7FF); ok || m.Abbreviation != "Unknown" {
		t.Fatalf("unexpected entry for 0x7FF: %+v", m)
	}
}

func TestIDCodeString(t *testing.T) {
	if got := ParseIDCode(0).String(); got != "BYPASS" {
		t.Fatalf("String() = %q, want BYPASS", got)
	}
	want := "0x0362D093 (Mfg: Xilinx, Part: 0x362D, Ver: 0)"
	if got := ParseIDCode(0x0362D093).String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func bitsFor(words ...uint32) []bool {
	var out []bool
	for _, w := range words {
		for i := 0; i < 32; i++ {
			out = append(out, w&(1<<uint(i)) != 0)
		}
	}
	return out
}

func TestSplitChain(t *testing.T) {
	// Xilinx, a device in BYPASS, ARM DAP, then the shifted-in ones.
	bits := bitsFor(0x0362D093)
	bits = append(bits, false)
	bits = append(bits, bitsFor(0x4BA00477, 0xFFFFFFFF)...)

	ids, err := SplitChain(bits)
	if err != nil {
		t.Fatalf("SplitChain returned error: %v", err)
	}
	want := []uint32{0x0362D093, 0, 0x4BA00477}
	if len(ids) != len(want) {
		t.Fatalf("got %d devices, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i].Raw != want[i] {
			t.Errorf("device %d = 0x%08X, want 0x%08X", i, ids[i].Raw, want[i])
		}
	}
}

func TestSplitChainWithoutEnd(t *testing.T) {
	_, err := SplitChain(bitsFor(0x0362D093, 0x0362D093))
	if !errors.Is(err, ErrChainTooLong) {
		t.Fatalf("SplitChain = %v, want ErrChainTooLong", err)
	}
}

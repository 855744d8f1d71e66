package jtag

import (
	"bytes"
	"errors"
	"testing"
)

type controlCall struct {
	request uint8
	value   uint16
	index   uint16
}

// fakeFTDI emulates a sync bit-bang FTDI with TDI looped back to TDO.
type fakeFTDI struct {
	packet   int
	controls []controlCall
	rx       []byte
	writes   int
	failBaud bool
	closed   bool
}

func (f *fakeFTDI) Control(_, request uint8, value, index uint16, _ []byte) (int, error) {
	if request == ftdiReqSetBaud && f.failBaud {
		return 0, errors.New("stall")
	}
	f.controls = append(f.controls, controlCall{request, value, index})
	if request == ftdiReqReset && value == ftdiResetPurgeRX {
		f.rx = nil
	}
	return 0, nil
}

func (f *fakeFTDI) Write(p []byte) (int, error) {
	f.writes++
	for _, b := range p {
		out := b &^ ftdiPinTDO
		if b&ftdiPinTDI != 0 {
			out |= ftdiPinTDO
		}
		f.rx = append(f.rx, out)
	}
	return len(p), nil
}

func (f *fakeFTDI) Read(p []byte) (int, error) {
	n := 0
	// Every other write is answered by a status-only packet first.
	if len(p) >= ftdiStatusBytes && len(f.rx) > 0 && f.writes%2 == 1 {
		f.writes++
		copy(p, []byte{0x31, 0x60})
		return ftdiStatusBytes, nil
	}
	for n+ftdiStatusBytes <= len(p) && len(f.rx) > 0 {
		p[n], p[n+1] = 0x31, 0x60
		n += ftdiStatusBytes
		chunk := f.packet - ftdiStatusBytes
		if chunk > len(f.rx) {
			chunk = len(f.rx)
		}
		if chunk > len(p)-n {
			chunk = len(p) - n
		}
		copy(p[n:], f.rx[:chunk])
		f.rx = f.rx[chunk:]
		n += chunk
	}
	return n, nil
}

func (f *fakeFTDI) PacketSize() int { return f.packet }

func (f *fakeFTDI) Close() error {
	f.closed = true
	return nil
}

func newTestFTDI(t *testing.T) (*FTDIAdapter, *fakeFTDI) {
	t.Helper()
	fake := &fakeFTDI{packet: 64}
	a := newFTDIAdapter(fake, ftdiChip2232H, FTDIConfig{Interface: 1})
	if err := a.init(0); err != nil {
		t.Fatalf("init: %v", err)
	}
	return a, fake
}

func TestFTDIInitSequence(t *testing.T) {
	_, fake := newTestFTDI(t)

	want := []controlCall{
		{ftdiReqReset, ftdiResetSIO, 2},
		{ftdiReqSetLatency, DefaultLatency, 2},
		{ftdiReqSetBitmode, 0x20FF, 2},
		{ftdiReqSetBitmode, 0x049B, 2},
		{ftdiReqReset, ftdiResetPurgeRX, 2},
		{ftdiReqReset, ftdiResetPurgeTX, 2},
		{ftdiReqSetBaud, 0x0004, 0x0202},
	}
	if len(fake.controls) != len(want) {
		t.Fatalf("control calls = %+v, want %+v", fake.controls, want)
	}
	for i := range want {
		if fake.controls[i] != want[i] {
			t.Errorf("control %d = %+v, want %+v", i, fake.controls[i], want[i])
		}
	}
	if len(fake.rx) != 0 {
		t.Errorf("idle byte should have been purged, rx = %X", fake.rx)
	}
}

func TestFTDIScanLoopback(t *testing.T) {
	a, fake := newTestFTDI(t)

	bits := 300 // 600 wire bytes, three write chunks
	tms := make([]byte, (bits+7)/8)
	tdi := make([]byte, (bits+7)/8)
	for i := range tdi {
		tdi[i] = byte(i*37 + 5)
		tms[i] = byte(i)
	}
	tdi[len(tdi)-1] &= 0x0F

	tdo, err := a.Scan(tms, tdi, bits)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if !bytes.Equal(tdo, tdi) {
		t.Fatalf("tdo = %X, want %X", tdo, tdi)
	}
	if len(fake.rx) != 0 {
		t.Fatalf("unread bytes left behind: %d", len(fake.rx))
	}
}

func TestFTDIScanEmptyAndOversized(t *testing.T) {
	a, _ := newTestFTDI(t)

	tdo, err := a.Scan(nil, nil, 0)
	if err != nil || len(tdo) != 0 {
		t.Fatalf("Scan(0) = %X, %v", tdo, err)
	}

	big := make([]byte, (FTDIMaxScanBits+8)/8)
	if _, err := a.Scan(big, big, FTDIMaxScanBits+1); err == nil {
		t.Fatalf("expected error for oversized scan")
	}
	if _, err := a.Scan([]byte{0}, nil, 4); err == nil {
		t.Fatalf("expected error for missing TDI")
	}
}

func TestFTDISetPeriod(t *testing.T) {
	a, fake := newTestFTDI(t)

	// 25MHz / 250ns = 100 kBaud, quadrupled to 400k on the wire.
	got, err := a.SetPeriod(250)
	if err != nil {
		t.Fatalf("SetPeriod returned error: %v", err)
	}
	if got != 250 {
		t.Fatalf("SetPeriod = %d, want 250", got)
	}
	last := fake.controls[len(fake.controls)-1]
	if last.request != ftdiReqSetBaud {
		t.Fatalf("last control = %+v, want baud request", last)
	}

	if _, err := a.SetPeriod(0); err == nil {
		t.Fatalf("expected error for zero period")
	}
	if _, err := a.SetPeriod(50_000_000); err == nil {
		t.Fatalf("expected error for period longer than the base clock")
	}

	fake.failBaud = true
	if _, err := a.SetPeriod(100); err == nil {
		t.Fatalf("expected error when the chip rejects the divisor")
	}
}

func TestFTDICloseResetsBitmode(t *testing.T) {
	a, fake := newTestFTDI(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fake.closed {
		t.Fatalf("usb not closed")
	}
	last := fake.controls[len(fake.controls)-1]
	if last.request != ftdiReqSetBitmode || last.value != 0 {
		t.Fatalf("last control = %+v, want bitmode reset", last)
	}
	if _, err := a.Scan([]byte{0}, []byte{0}, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Scan after close = %v, want ErrClosed", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestFTDIBaudDivisor(t *testing.T) {
	tests := []struct {
		name      string
		chip      ftdiChip
		baud      int
		iface     uint16
		wantValue uint16
		wantIndex uint16
		wantRate  int
		wantErr   bool
	}{
		{name: "2232H 3MBaud", chip: ftdiChip2232H, baud: 3_000_000, iface: 1, wantValue: 0x0004, wantIndex: 0x0201, wantRate: 3_000_000},
		{name: "BM full rate", chip: ftdiChipBM, baud: 3_000_000, wantValue: 0, wantIndex: 0, wantRate: 3_000_000},
		{name: "BM too slow", chip: ftdiChipBM, baud: 100, wantErr: true},
		{name: "zero", chip: ftdiChip2232H, baud: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, index, rate, err := ftdiBaudDivisor(tt.chip, tt.baud, tt.iface)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got value=%#x index=%#x rate=%d", value, index, rate)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if value != tt.wantValue || index != tt.wantIndex || rate != tt.wantRate {
				t.Fatalf("got value=%#x index=%#x rate=%d, want %#x %#x %d",
					value, index, rate, tt.wantValue, tt.wantIndex, tt.wantRate)
			}
		})
	}
}

func TestChipFromRelease(t *testing.T) {
	if got := chipFromRelease(0x0700); got != ftdiChip2232H {
		t.Fatalf("0x0700 = %s, want FT2232H", got)
	}
	if got := chipFromRelease(0x0123); got != ftdiChipBM {
		t.Fatalf("unknown release = %s, want BM", got)
	}
	if !ftdiChip232H.highSpeed() || ftdiChipR.highSpeed() {
		t.Fatalf("highSpeed classification wrong")
	}
}

package xvc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func shiftFrame(bits int32, payload []byte) []byte {
	b := []byte("shift:")
	b = binary.LittleEndian.AppendUint32(b, uint32(bits))
	return append(b, payload...)
}

func TestReadCommand(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		max  int
		want Command
		err  error
	}{
		{
			name: "getinfo",
			in:   []byte("getinfo:"),
			want: Command{Kind: KindGetInfo},
		},
		{
			name: "settck",
			in:   []byte("settck:\x64\x00\x00\x00"),
			want: Command{Kind: KindSetTCK, Period: 100},
		},
		{
			name: "settck negative period",
			in:   []byte("settck:\xff\xff\xff\xff"),
			want: Command{Kind: KindSetTCK, Period: -1},
		},
		{
			name: "shift 12 bits",
			in:   shiftFrame(12, []byte{0x01, 0x02, 0xAB, 0x0C}),
			want: Command{Kind: KindShift, Bits: 12, TMS: []byte{0x01, 0x02}, TDI: []byte{0xAB, 0x0C}},
		},
		{
			name: "shift zero bits",
			in:   shiftFrame(0, nil),
			want: Command{Kind: KindShift, TMS: []byte{}, TDI: []byte{}},
		},
		{
			name: "shift at limit",
			in:   shiftFrame(64, make([]byte, 16)),
			max:  16,
			want: Command{Kind: KindShift, Bits: 64, TMS: make([]byte, 8), TDI: make([]byte, 8)},
		},
		{
			name: "shift over limit",
			in:   shiftFrame(65, make([]byte, 18)),
			max:  16,
			err:  ErrVectorTooLarge,
		},
		{
			name: "negative bit count",
			in:   shiftFrame(-8, nil),
			err:  ErrVectorTooLarge,
		},
		{
			name: "unknown tag",
			in:   []byte("xxxxxxxx"),
			err:  ErrUnknownCommand,
		},
		{
			name: "empty stream",
			in:   nil,
			err:  io.EOF,
		},
		{
			name: "truncated tag",
			in:   []byte("g"),
			err:  io.ErrUnexpectedEOF,
		},
		{
			name: "truncated getinfo",
			in:   []byte("getin"),
			err:  io.ErrUnexpectedEOF,
		},
		{
			name: "truncated payload",
			in:   shiftFrame(16, []byte{0x00, 0x00, 0x01}),
			err:  io.ErrUnexpectedEOF,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := ReadCommand(bytes.NewReader(tc.in), tc.max)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("ReadCommand error = %v, want %v", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadCommand returned error: %v", err)
			}
			if cmd.Kind != tc.want.Kind || cmd.Period != tc.want.Period || cmd.Bits != tc.want.Bits {
				t.Fatalf("ReadCommand = %+v, want %+v", cmd, tc.want)
			}
			if !bytes.Equal(cmd.TMS, tc.want.TMS) || !bytes.Equal(cmd.TDI, tc.want.TDI) {
				t.Fatalf("payload = %x/%x, want %x/%x", cmd.TMS, cmd.TDI, tc.want.TMS, tc.want.TDI)
			}
		})
	}
}

func TestDecoderReadsConsecutiveCommands(t *testing.T) {
	var stream []byte
	stream = append(stream, EncodeGetInfo()...)
	stream = append(stream, EncodeSetTCK(1000)...)
	stream = append(stream, EncodeShift([]byte{0x1F}, []byte{0xA5}, 6)...)

	dec := NewDecoder(bytes.NewReader(stream), 0)
	want := []Kind{KindGetInfo, KindSetTCK, KindShift}
	for i, kind := range want {
		cmd, err := dec.Next()
		if err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
		if cmd.Kind != kind {
			t.Fatalf("command %d kind = %s, want %s", i, cmd.Kind, kind)
		}
	}
	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("after last command err = %v, want EOF", err)
	}
}

func TestEncodeShiftMatchesWireLayout(t *testing.T) {
	got := EncodeShift([]byte{0x17, 0xFF}, []byte{0x00, 0xFF}, 5)
	want := []byte{'s', 'h', 'i', 'f', 't', ':', 0x05, 0x00, 0x00, 0x00, 0x17, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeShift = % x, want % x", got, want)
	}
}

func TestResponseWriters(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteInfo(&buf, 2048); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "xvcServer_v1.0:2048\n" {
		t.Fatalf("WriteInfo = %q", got)
	}

	buf.Reset()
	if err := WritePeriod(&buf, 100); err != nil {
		t.Fatal(err)
	}
	if got := buf.Bytes(); !bytes.Equal(got, []byte{0x64, 0, 0, 0}) {
		t.Fatalf("WritePeriod = % x", got)
	}
}

func TestParseInfo(t *testing.T) {
	cases := []struct {
		in      string
		version string
		max     int
		ok      bool
	}{
		{"xvcServer_v1.0:2048\n", "xvcServer_v1.0", 2048, true},
		{"xvcServer_v1.1:32768", "xvcServer_v1.1", 32768, true},
		{"xvcServer_v1.0:\n", "", 0, false},
		{"xvcServer_v1.0:-4\n", "", 0, false},
		{"xvcServer_v1.0:1\n", "", 0, false},
		{"xvcServer_v1.0:0\n", "", 0, false},
		{"xvcServer_v1.0:2\n", "xvcServer_v1.0", 2, true},
		{"hello:2048\n", "", 0, false},
		{"xvcServer_v1.0", "", 0, false},
	}

	for _, tc := range cases {
		version, max, err := ParseInfo(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseInfo(%q) error = %v, want ok=%v", tc.in, err, tc.ok)
		}
		if version != tc.version || max != tc.max {
			t.Fatalf("ParseInfo(%q) = %q, %d", tc.in, version, max)
		}
	}
}

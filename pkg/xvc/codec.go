// Package xvc implements the Xilinx Virtual Cable protocol: the frame codec,
// the per-connection session, the multiplexing server and a small client.
package xvc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// DefaultMaxVector is the advertised size, in bytes, of the combined TMS
	// and TDI payload of one shift.
	DefaultMaxVector = 2048
	// DefaultPort is the registered XVC port.
	DefaultPort = 2542

	// Version is the protocol banner returned by getinfo.
	Version = "xvcServer_v1.0"
)

var (
	ErrUnknownCommand = errors.New("xvc: unknown command")
	ErrVectorTooLarge = errors.New("xvc: vector exceeds buffer size")
)

// Kind identifies an XVC request.
type Kind uint8

const (
	KindGetInfo Kind = iota + 1
	KindSetTCK
	KindShift
)

func (k Kind) String() string {
	switch k {
	case KindGetInfo:
		return "getinfo"
	case KindSetTCK:
		return "settck"
	case KindShift:
		return "shift"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Command is one decoded request. Period is set for settck; Bits, TMS and TDI
// for shift.
type Command struct {
	Kind   Kind
	Period int
	Bits   int
	TMS    []byte
	TDI    []byte
}

// Decoder reads commands from a stream. The TMS and TDI slices of a returned
// Command alias an internal buffer and stay valid until the next call to
// Next.
type Decoder struct {
	r         io.Reader
	maxVector int
	hdr       [10]byte
	buf       []byte
}

// NewDecoder reads from r and enforces maxVector, defaulting to
// DefaultMaxVector when maxVector is not positive.
func NewDecoder(r io.Reader, maxVector int) *Decoder {
	if maxVector <= 0 {
		maxVector = DefaultMaxVector
	}
	return &Decoder{r: r, maxVector: maxVector, buf: make([]byte, maxVector)}
}

// Next reads one command. A stream that ends before a command starts
// returns io.EOF; one that ends inside a command returns
// io.ErrUnexpectedEOF. ErrUnknownCommand and ErrVectorTooLarge are protocol
// errors after which the stream position is undefined.
func (d *Decoder) Next() (Command, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:2]); err != nil {
		return Command{}, err
	}

	switch string(d.hdr[:2]) {
	case "ge":
		// "tinfo:"
		if err := d.readFull(d.hdr[2:8]); err != nil {
			return Command{}, err
		}
		return Command{Kind: KindGetInfo}, nil

	case "se":
		// "ttck:" + period
		if err := d.readFull(d.hdr[:9]); err != nil {
			return Command{}, err
		}
		period := int32(binary.LittleEndian.Uint32(d.hdr[5:9]))
		return Command{Kind: KindSetTCK, Period: int(period)}, nil

	case "sh":
		// "ift:" + bit count
		if err := d.readFull(d.hdr[:8]); err != nil {
			return Command{}, err
		}
		bits := int64(int32(binary.LittleEndian.Uint32(d.hdr[4:8])))
		nbytes := (bits + 7) / 8
		if bits < 0 || 2*nbytes > int64(d.maxVector) {
			return Command{}, fmt.Errorf("%w: %d bits, limit %d bytes", ErrVectorTooLarge, bits, d.maxVector)
		}
		payload := d.buf[:2*nbytes]
		if err := d.readFull(payload); err != nil {
			return Command{}, err
		}
		return Command{
			Kind: KindShift,
			Bits: int(bits),
			TMS:  payload[:nbytes:nbytes],
			TDI:  payload[nbytes:],
		}, nil
	}

	return Command{}, fmt.Errorf("%w %q", ErrUnknownCommand, d.hdr[:2])
}

func (d *Decoder) readFull(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// ReadCommand decodes a single command from r. The returned slices are owned
// by the caller.
func ReadCommand(r io.Reader, maxVector int) (Command, error) {
	cmd, err := NewDecoder(r, maxVector).Next()
	if err != nil {
		return cmd, err
	}
	cmd.TMS = bytes.Clone(cmd.TMS)
	cmd.TDI = bytes.Clone(cmd.TDI)
	return cmd, nil
}

// InfoString is the getinfo reply advertising maxVector.
func InfoString(maxVector int) string {
	return Version + ":" + strconv.Itoa(maxVector) + "\n"
}

// WriteInfo writes the getinfo reply.
func WriteInfo(w io.Writer, maxVector int) error {
	_, err := io.WriteString(w, InfoString(maxVector))
	return err
}

// WritePeriod writes the settck reply.
func WritePeriod(w io.Writer, ns int) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(ns)))
	_, err := w.Write(b[:])
	return err
}

// WriteTDO writes the shift reply.
func WriteTDO(w io.Writer, tdo []byte) error {
	_, err := w.Write(tdo)
	return err
}

// EncodeGetInfo returns a getinfo request.
func EncodeGetInfo() []byte {
	return []byte("getinfo:")
}

// EncodeSetTCK returns a settck request for period ns.
func EncodeSetTCK(ns int) []byte {
	b := make([]byte, 0, 11)
	b = append(b, "settck:"...)
	return binary.LittleEndian.AppendUint32(b, uint32(int32(ns)))
}

// EncodeShift returns a shift request. tms and tdi must hold ceil(bits/8)
// bytes each.
func EncodeShift(tms, tdi []byte, bits int) []byte {
	n := (bits + 7) / 8
	b := make([]byte, 0, 10+2*n)
	b = append(b, "shift:"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(bits)))
	b = append(b, tms[:n]...)
	return append(b, tdi[:n]...)
}

// ParseInfo splits a getinfo reply into the version banner and the vector
// size.
func ParseInfo(s string) (version string, maxVector int, err error) {
	s = strings.TrimSuffix(s, "\n")
	version, size, ok := strings.Cut(s, ":")
	if !ok || !strings.HasPrefix(version, "xvcServer_v") {
		return "", 0, fmt.Errorf("xvc: malformed info %q", s)
	}
	maxVector, err = strconv.Atoi(size)
	if err != nil {
		return "", 0, fmt.Errorf("xvc: malformed vector size in %q", s)
	}
	// A shift needs at least one TMS and one TDI byte.
	if maxVector < 2 {
		return "", 0, fmt.Errorf("xvc: vector size %d in %q is below 2 bytes", maxVector, s)
	}
	return version, maxVector, nil
}

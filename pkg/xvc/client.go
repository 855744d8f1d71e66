package xvc

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Info is the decoded getinfo reply.
type Info struct {
	Version   string
	MaxVector int
}

// Client speaks XVC to a server. It is not safe for concurrent use.
type Client struct {
	conn      net.Conn
	r         *bufio.Reader
	maxVector int
	timeout   time.Duration
}

// Dial connects to addr, honouring ctx for the connection attempt.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("xvc: dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection. Until GetInfo is called the
// server is assumed to accept DefaultMaxVector.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:      conn,
		r:         bufio.NewReader(conn),
		maxVector: DefaultMaxVector,
	}
}

// SetTimeout bounds every request/response exchange. Zero disables it.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Client) exchange(req []byte, resp []byte) error {
	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write(req); err != nil {
		return fmt.Errorf("xvc: write: %w", err)
	}
	if _, err := io.ReadFull(c.r, resp); err != nil {
		return fmt.Errorf("xvc: read: %w", err)
	}
	return nil
}

// GetInfo queries the server banner and adopts its vector size.
func (c *Client) GetInfo() (Info, error) {
	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return Info{}, err
		}
	}
	if _, err := c.conn.Write(EncodeGetInfo()); err != nil {
		return Info{}, fmt.Errorf("xvc: write: %w", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return Info{}, fmt.Errorf("xvc: read: %w", err)
	}
	version, maxVector, err := ParseInfo(line)
	if err != nil {
		return Info{}, err
	}
	c.maxVector = maxVector
	return Info{Version: version, MaxVector: maxVector}, nil
}

// SetTCK requests a TCK period in nanoseconds and returns the period the
// server reports.
func (c *Client) SetTCK(ns int) (int, error) {
	var resp [4]byte
	if err := c.exchange(EncodeSetTCK(ns), resp[:]); err != nil {
		return 0, err
	}
	return int(int32(binary.LittleEndian.Uint32(resp[:]))), nil
}

// Shift clocks bits TMS/TDI pairs and returns TDO. Vectors larger than the
// server accepts are split on byte boundaries.
func (c *Client) Shift(tms, tdi []byte, bits int) ([]byte, error) {
	n := (bits + 7) / 8
	if bits < 0 || len(tms) < n || len(tdi) < n {
		return nil, fmt.Errorf("xvc: shift of %d bits needs %d bytes of TMS and TDI", bits, n)
	}

	chunk := c.maxVector / 2 * 8
	tdo := make([]byte, n)
	for off := 0; ; off += chunk {
		m := bits - off
		if m > chunk {
			m = chunk
		}
		lo, hi := off/8, off/8+(m+7)/8
		if err := c.exchange(EncodeShift(tms[lo:hi], tdi[lo:hi], m), tdo[lo:hi]); err != nil {
			return nil, err
		}
		if off+m >= bits {
			break
		}
	}
	return tdo, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

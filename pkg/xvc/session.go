package xvc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OpenTraceLab/xvcd/pkg/chain"
	"github.com/OpenTraceLab/xvcd/pkg/tap"
)

// Config holds the protocol options shared by all sessions of a server.
type Config struct {
	// Addr is the listen address used by ListenAndServe.
	Addr string
	// MaxVector is the advertised and enforced TMS+TDI payload size.
	MaxVector int
	// Frequency, when positive, replaces every settck period with
	// 1e9/Frequency.
	Frequency int
	// MaxConnections limits concurrent sessions; zero means unlimited.
	MaxConnections int
	// DumpVectors logs TMS, TDI and TDO of every shift at trace level.
	DumpVectors bool
}

func (c Config) maxVector() int {
	if c.MaxVector <= 0 {
		return DefaultMaxVector
	}
	return c.MaxVector
}

// Observer receives session and server events. Implementations must be safe
// for concurrent use.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	ConnectionRejected()
	Command(kind Kind)
	ProtocolError()
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()   {}
func (nopObserver) ConnectionClosed()   {}
func (nopObserver) ConnectionRejected() {}
func (nopObserver) Command(Kind)        {}
func (nopObserver) ProtocolError()      {}

// Session serves one XVC connection. Commands are read without holding the
// cable; the lease is taken before a command is executed and kept until the
// client reaches a safe hand-off point.
type Session struct {
	conn  net.Conn
	ctrl  *chain.Controller
	cfg   Config
	dec   *Decoder
	obs   Observer
	log   zerolog.Logger
	lease *chain.Lease
}

// NewSession binds conn to ctrl.
func NewSession(conn net.Conn, ctrl *chain.Controller, cfg Config) *Session {
	return newSession(conn, ctrl, cfg, nopObserver{}, log.Logger)
}

func newSession(conn net.Conn, ctrl *chain.Controller, cfg Config, obs Observer, logger zerolog.Logger) *Session {
	max := cfg.maxVector()
	return &Session{
		conn: conn,
		ctrl: ctrl,
		cfg:  cfg,
		dec:  NewDecoder(bufio.NewReaderSize(conn, max+16), max),
		obs:  obs,
		log:  logger,
	}
}

// Serve runs the command loop until the client disconnects, a protocol or
// socket error occurs, or ctx ends. A clean disconnect returns nil. An error
// wrapping chain.ErrScanFailed means the cable is unusable.
func (s *Session) Serve(ctx context.Context) error {
	defer s.release()

	for {
		cmd, err := s.dec.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.log.Info().Msg("connection closed")
				return nil
			case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrVectorTooLarge):
				s.obs.ProtocolError()
				s.log.Warn().Err(err).Msg("protocol error, closing connection")
			case errors.Is(err, io.ErrUnexpectedEOF):
				s.log.Info().Msg("connection closed mid-command")
			}
			return err
		}
		s.obs.Command(cmd.Kind)

		if err := s.handle(ctx, cmd); err != nil {
			return err
		}
	}
}

func (s *Session) handle(ctx context.Context, cmd Command) error {
	if s.lease == nil {
		lease, err := s.ctrl.Acquire(ctx)
		if err != nil {
			return err
		}
		s.lease = lease
	}

	switch cmd.Kind {
	case KindGetInfo:
		defer s.release()
		s.log.Info().Msg("received command: 'getinfo'")
		if err := WriteInfo(s.conn, s.cfg.maxVector()); err != nil {
			return err
		}
		s.log.Info().Str("reply", InfoString(s.cfg.maxVector())).Msg("replied to 'getinfo'")
		return nil

	case KindSetTCK:
		defer s.release()
		period := cmd.Period
		if s.cfg.Frequency > 0 {
			period = 1_000_000_000 / s.cfg.Frequency
		}
		actual, err := s.lease.SetPeriod(period)
		if err != nil {
			if !errors.Is(err, chain.ErrPeriod) {
				return err
			}
			// Echo the request so the client does not retry.
			s.log.Error().Err(err).Msg("error while setting the JTAG TCK period")
			actual = period
		}
		s.log.Info().Int("requested", cmd.Period).Int("reply", actual).Msg("received command: 'settck'")
		return WritePeriod(s.conn, actual)

	case KindShift:
		before := s.lease.State()
		tdo, yield, err := s.lease.Shift(cmd.TMS, cmd.TDI, cmd.Bits)
		if err != nil {
			return err
		}
		if err := WriteTDO(s.conn, tdo); err != nil {
			return err
		}
		s.logShift(cmd, before, tdo)
		if yield {
			s.release()
		}
		return nil
	}
	return ErrUnknownCommand
}

func (s *Session) logShift(cmd Command, before tap.State, tdo []byte) {
	if e := s.log.Debug(); e.Enabled() {
		e.Stringer("from", before).Stringer("to", s.ctrl.State()).Int("bits", cmd.Bits).Msg("received command: 'shift'")
	}
	if s.cfg.DumpVectors {
		s.log.Trace().
			Hex("tms", cmd.TMS).
			Hex("tdi", cmd.TDI).
			Hex("tdo", tdo).
			Msg("shift vectors")
	}
}

func (s *Session) release() {
	if s.lease != nil {
		s.lease.Release()
		s.lease = nil
	}
}

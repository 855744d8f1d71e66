package xvc

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/OpenTraceLab/xvcd/pkg/chain"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithObserver routes connection and command events to o.
func WithObserver(o Observer) ServerOption {
	return func(s *Server) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithLogger replaces the global logger.
func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// Server accepts XVC connections and runs one Session per connection. All
// sessions share the controller, which grants the cable to one of them at a
// time.
type Server struct {
	ctrl *chain.Controller
	cfg  Config
	obs  Observer
	log  zerolog.Logger

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	closing bool
	nextID  uint64
}

var errConnLimit = errors.New("xvc: connection limit reached")

// NewServer creates a server for ctrl.
func NewServer(ctrl *chain.Controller, cfg Config, opts ...ServerOption) *Server {
	s := &Server{
		ctrl:  ctrl,
		cfg:   cfg,
		obs:   nopObserver{},
		log:   log.Logger,
		conns: make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on cfg.Addr, or on the XVC port of all interfaces
// when Addr is empty, and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":" + strconv.Itoa(DefaultPort)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, Close is called, or a
// session reports a scan failure. The listener and every open connection are
// closed before Serve returns. The result is nil on shutdown and the scan
// failure otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mu.Lock()
	s.ln = ln
	s.closing = false
	s.mu.Unlock()
	s.log.Info().Stringer("addr", ln.Addr()).Msg("listening for XVC connections")

	var (
		wg        sync.WaitGroup
		fatalOnce sync.Once
		fatal     error
	)
	fail := func(err error) {
		fatalOnce.Do(func() { fatal = err })
		cancel(err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		ln.Close()
		s.closeConns()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.log.Error().Err(err).Msg("accept failed")
				fail(err)
			}
			break
		}

		if err := s.track(conn); err != nil {
			if !errors.Is(err, errConnLimit) {
				conn.Close()
				break
			}
			s.obs.ConnectionRejected()
			s.log.Warn().Stringer("remote", conn.RemoteAddr()).Int("limit", s.cfg.MaxConnections).
				Msg("connection limit reached, closing connection")
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.serveConn(ctx, conn); errors.Is(err, chain.ErrScanFailed) {
				fail(err)
			}
		}()
	}

	cancel(nil)
	<-stopped
	wg.Wait()

	s.mu.Lock()
	s.ln = nil
	s.mu.Unlock()
	return fatal
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) error {
	defer s.untrack(conn)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	logger := s.log.With().Uint64("conn", id).Stringer("remote", conn.RemoteAddr()).Logger()
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			logger.Warn().Err(err).Msg("setting TCP_NODELAY failed")
		}
	}

	s.obs.ConnectionOpened()
	defer s.obs.ConnectionClosed()
	logger.Info().Int("active", s.ActiveConnections()).Msg("connection accepted")

	err := newSession(conn, s.ctrl, s.cfg, s.obs, logger).Serve(ctx)
	switch {
	case err == nil:
	case errors.Is(err, chain.ErrScanFailed):
		logger.Error().Err(err).Msg("cable failure, shutting down")
	case ctx.Err() != nil:
		logger.Debug().Err(err).Msg("session stopped")
	default:
		logger.Info().Err(err).Msg("connection closed")
	}
	return err
}

func (s *Server) track(conn net.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return net.ErrClosed
	}
	if s.cfg.MaxConnections > 0 && len(s.conns) >= s.cfg.MaxConnections {
		return errConnLimit
	}
	s.conns[conn] = struct{}{}
	return nil
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for conn := range s.conns {
		conn.Close()
	}
}

// Addr returns the listener address, or nil when the server is not serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the listener. Serve then closes all connections and returns.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// ActiveConnections returns the number of open sessions.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

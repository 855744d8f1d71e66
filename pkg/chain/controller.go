package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/OpenTraceLab/xvcd/pkg/jtag"
	"github.com/OpenTraceLab/xvcd/pkg/tap"
)

var (
	// ErrScanFailed is latched by the first failed adapter scan. The cable is
	// in an unknown state afterwards, so no further turns are granted.
	ErrScanFailed = errors.New("chain: scan failed")

	// ErrPeriod wraps adapter failures to program TCK. It is not fatal.
	ErrPeriod = errors.New("chain: set period failed")

	ErrClosed   = errors.New("chain: controller closed")
	ErrReleased = errors.New("chain: lease already released")
)

// Observer receives controller events. Implementations must be safe for
// concurrent use.
type Observer interface {
	TurnAcquired(wait time.Duration)
	TurnReleased(held time.Duration)
	Scanned(bits int, elapsed time.Duration, err error)
	Suppressed(state tap.State, bits int)
	PeriodSet(requested, actual int, err error)
}

type nopObserver struct{}

func (nopObserver) TurnAcquired(time.Duration)        {}
func (nopObserver) TurnReleased(time.Duration)        {}
func (nopObserver) Scanned(int, time.Duration, error) {}
func (nopObserver) Suppressed(tap.State, int)         {}
func (nopObserver) PeriodSet(int, int, error)         {}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver routes controller events to o.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithInitialState overrides the assumed TAP state at start-up.
func WithInitialState(s tap.State) Option {
	return func(c *Controller) {
		c.state = s
	}
}

// Stats is a snapshot of controller counters.
type Stats struct {
	Turns      uint64
	Scans      uint64
	ScanBits   uint64
	Suppressed uint64
	Periods    uint64
}

// Controller arbitrates a single adapter between many XVC sessions. Exactly
// one Lease exists at a time; its holder owns the cable until it releases.
// The controller tracks the shared TAP state so the hand-off rule can be
// evaluated after every shift.
type Controller struct {
	adapter  jtag.Adapter
	observer Observer

	token     chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	state   tap.State
	failure error
	stats   Stats
}

// NewController wraps adapter. The chain is assumed to be in
// Test-Logic-Reset until a shift says otherwise.
func NewController(adapter jtag.Adapter, opts ...Option) *Controller {
	c := &Controller{
		adapter:  adapter,
		observer: nopObserver{},
		token:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		state:    tap.StateTestLogicReset,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.token <- struct{}{}
	return c
}

// Acquire blocks until the caller holds the cable, ctx is done, or the
// controller is closed. It fails immediately once a scan has failed.
func (c *Controller) Acquire(ctx context.Context) (*Lease, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	select {
	case <-c.token:
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.done:
		return nil, ErrClosed
	}

	if err := c.Err(); err != nil {
		c.token <- struct{}{}
		return nil, err
	}
	select {
	case <-c.done:
		c.token <- struct{}{}
		return nil, ErrClosed
	default:
	}

	wait := time.Since(start)
	c.mu.Lock()
	c.stats.Turns++
	c.mu.Unlock()
	c.observer.TurnAcquired(wait)
	log.Debug().Dur("wait", wait).Msg("chain: turn acquired")

	return &Lease{c: c, acquired: time.Now()}, nil
}

// Err returns the latched scan failure, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// State returns the tracked TAP state.
func (c *Controller) State() tap.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Info forwards to the adapter.
func (c *Controller) Info() (jtag.AdapterInfo, error) {
	return c.adapter.Info()
}

// Close wakes all waiters and closes the adapter.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.adapter.Close()
	})
	return err
}

// Lease is the right to drive the cable. It is not safe for concurrent use;
// each session owns its lease.
type Lease struct {
	c        *Controller
	acquired time.Time
	released bool

	// seenTLR records that the TAP passed through Test-Logic-Reset during
	// this turn with no Capture state since.
	seenTLR bool
}

// SetPeriod programs TCK and returns the period in effect. On failure the
// error wraps ErrPeriod and the lease remains usable.
func (l *Lease) SetPeriod(ns int) (int, error) {
	if l.released {
		return 0, ErrReleased
	}
	c := l.c
	actual, err := c.adapter.SetPeriod(ns)
	c.observer.PeriodSet(ns, actual, err)
	if err != nil {
		log.Warn().Err(err).Int("period_ns", ns).Msg("chain: set period failed")
		return 0, fmt.Errorf("%w: %w", ErrPeriod, err)
	}

	c.mu.Lock()
	c.stats.Periods++
	c.mu.Unlock()
	return actual, nil
}

// Shift clocks bits TMS/TDI pairs through the cable and returns the TDO bytes.
// yield reports that the session should hand the cable over: the TAP went
// through Test-Logic-Reset during this turn and has now settled in
// Run-Test/Idle.
//
// Two fixed TMS patterns that some clients emit from Exit1-IR and Exit1-DR are
// answered with zeros without touching the cable or the tracked state.
func (l *Lease) Shift(tms, tdi []byte, bits int) (tdo []byte, yield bool, err error) {
	if l.released {
		return nil, false, ErrReleased
	}
	nbytes, err := jtag.ValidateShiftBuffers(tms, tdi, bits)
	if err != nil {
		return nil, false, err
	}

	c := l.c
	c.mu.Lock()
	if c.failure != nil {
		c.mu.Unlock()
		return nil, false, c.failure
	}
	state := c.state
	c.mu.Unlock()

	l.seenTLR = (l.seenTLR || state == tap.StateTestLogicReset) &&
		state != tap.StateCaptureDR && state != tap.StateCaptureIR

	if suppressed(state, tms, bits) {
		c.mu.Lock()
		c.stats.Suppressed++
		c.mu.Unlock()
		c.observer.Suppressed(state, bits)
		log.Trace().Stringer("state", state).Int("bits", bits).Msg("chain: shift suppressed")
		return make([]byte, nbytes), false, nil
	}

	next := tap.Advance(state, tms, bits)

	start := time.Now()
	tdo, err = c.adapter.Scan(tms, tdi, bits)
	elapsed := time.Since(start)
	if err == nil && len(tdo) != nbytes {
		err = fmt.Errorf("adapter returned %d TDO bytes for %d bits, want %d", len(tdo), bits, nbytes)
	}
	c.observer.Scanned(bits, elapsed, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.failure == nil {
			c.failure = fmt.Errorf("%w: %w", ErrScanFailed, err)
		}
		log.Error().Err(err).Int("bits", bits).Msg("chain: scan failed")
		return nil, false, c.failure
	}
	c.state = next
	c.stats.Scans++
	c.stats.ScanBits += uint64(bits)

	return tdo, l.seenTLR && next == tap.StateRunTestIdle, nil
}

// State returns the tracked TAP state.
func (l *Lease) State() tap.State {
	return l.c.State()
}

// Release hands the cable to the next waiter. Releasing twice is a no-op.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	held := time.Since(l.acquired)
	l.c.observer.TurnReleased(held)
	log.Debug().Dur("held", held).Msg("chain: turn released")
	l.c.token <- struct{}{}
}

func suppressed(state tap.State, tms []byte, bits int) bool {
	switch {
	case state == tap.StateExit1IR && bits == 5 && tms[0] == 0x17:
		return true
	case state == tap.StateExit1DR && bits == 4 && tms[0] == 0x0B:
		return true
	}
	return false
}

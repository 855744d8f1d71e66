// Package metrics exports controller and server events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/OpenTraceLab/xvcd/pkg/chain"
	"github.com/OpenTraceLab/xvcd/pkg/tap"
	"github.com/OpenTraceLab/xvcd/pkg/xvc"
)

const namespace = "xvcd"

// Collector implements chain.Observer and xvc.Observer.
type Collector struct {
	registry *prometheus.Registry

	connections    prometheus.Counter
	rejected       prometheus.Counter
	active         prometheus.Gauge
	commands       *prometheus.CounterVec
	protocolErrors prometheus.Counter

	turns      prometheus.Counter
	turnWait   prometheus.Histogram
	turnHeld   prometheus.Histogram
	scans      *prometheus.CounterVec
	scanBits   prometheus.Counter
	scanTime   prometheus.Histogram
	suppressed *prometheus.CounterVec
	period     prometheus.Gauge
	periodErrs prometheus.Counter
}

var (
	_ chain.Observer = (*Collector)(nil)
	_ xvc.Observer   = (*Collector)(nil)
)

// New creates a collector with its own registry, which also carries the Go
// runtime and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted XVC connections.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections closed because of the connection limit.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open XVC sessions.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Decoded XVC commands.",
		}, []string{"kind"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections closed for unknown commands or oversized vectors.",
		}),
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cable",
			Name:      "turns_total",
			Help:      "Times a session was granted the cable.",
		}),
		turnWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cable",
			Name:      "turn_wait_seconds",
			Help:      "Time a session waited for the cable.",
			Buckets:   prometheus.DefBuckets,
		}),
		turnHeld: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cable",
			Name:      "turn_held_seconds",
			Help:      "Time a session held the cable.",
			Buckets:   prometheus.DefBuckets,
		}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cable",
			Name:      "scans_total",
			Help:      "Adapter scans by result.",
		}, []string{"result"}),
		scanBits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cable",
			Name:      "shifted_bits_total",
			Help:      "TCK cycles clocked by successful scans.",
		}),
		scanTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cable",
			Name:      "scan_duration_seconds",
			Help:      "Adapter scan latency.",
			Buckets:   prometheus.ExponentialBuckets(50e-6, 4, 8),
		}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cable",
			Name:      "suppressed_shifts_total",
			Help:      "Shifts answered with zeros without touching the cable.",
		}, []string{"state"}),
		period: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cable",
			Name:      "tck_period_nanoseconds",
			Help:      "TCK period in effect.",
		}),
		periodErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cable",
			Name:      "tck_errors_total",
			Help:      "Rejected TCK period requests.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.connections, c.rejected, c.active, c.commands, c.protocolErrors,
		c.turns, c.turnWait, c.turnHeld, c.scans, c.scanBits, c.scanTime,
		c.suppressed, c.period, c.periodErrs,
	)
	return c
}

// Registry returns the registry holding all metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ConnectionOpened() {
	c.connections.Inc()
	c.active.Inc()
}

func (c *Collector) ConnectionClosed()   { c.active.Dec() }
func (c *Collector) ConnectionRejected() { c.rejected.Inc() }
func (c *Collector) ProtocolError()      { c.protocolErrors.Inc() }

func (c *Collector) Command(kind xvc.Kind) {
	c.commands.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) TurnAcquired(wait time.Duration) {
	c.turns.Inc()
	c.turnWait.Observe(wait.Seconds())
}

func (c *Collector) TurnReleased(held time.Duration) {
	c.turnHeld.Observe(held.Seconds())
}

func (c *Collector) Scanned(bits int, elapsed time.Duration, err error) {
	if err != nil {
		c.scans.WithLabelValues("error").Inc()
		return
	}
	c.scans.WithLabelValues("ok").Inc()
	c.scanBits.Add(float64(bits))
	c.scanTime.Observe(elapsed.Seconds())
}

func (c *Collector) Suppressed(state tap.State, bits int) {
	c.suppressed.WithLabelValues(state.String()).Inc()
}

func (c *Collector) PeriodSet(requested, actual int, err error) {
	if err != nil {
		c.periodErrs.Inc()
		return
	}
	c.period.Set(float64(actual))
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

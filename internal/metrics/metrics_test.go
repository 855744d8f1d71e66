package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OpenTraceLab/xvcd/pkg/chain"
	"github.com/OpenTraceLab/xvcd/pkg/jtag"
	"github.com/OpenTraceLab/xvcd/pkg/tap"
	"github.com/OpenTraceLab/xvcd/pkg/xvc"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func expectLines(t *testing.T, body string, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if !strings.Contains(body, line+"\n") {
			t.Errorf("metrics missing %q", line)
		}
	}
}

func TestCollectorRecordsEvents(t *testing.T) {
	c := New()
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.ConnectionRejected()
	c.Command(xvc.KindShift)
	c.ProtocolError()
	c.TurnAcquired(time.Millisecond)
	c.TurnReleased(time.Second)
	c.Scanned(32, time.Millisecond, nil)
	c.Scanned(8, time.Millisecond, errors.New("usb"))
	c.Suppressed(tap.StateExit1IR, 5)
	c.PeriodSet(100, 120, nil)
	c.PeriodSet(1, 0, errors.New("too fast"))

	expectLines(t, scrape(t, c),
		"xvcd_connections_total 2",
		"xvcd_sessions_active 1",
		"xvcd_connections_rejected_total 1",
		`xvcd_commands_total{kind="shift"} 1`,
		"xvcd_protocol_errors_total 1",
		"xvcd_cable_turns_total 1",
		`xvcd_cable_scans_total{result="ok"} 1`,
		`xvcd_cable_scans_total{result="error"} 1`,
		"xvcd_cable_shifted_bits_total 32",
		`xvcd_cable_suppressed_shifts_total{state="Exit1IR"} 1`,
		"xvcd_cable_tck_period_nanoseconds 120",
		"xvcd_cable_tck_errors_total 1",
	)
}

func TestCollectorObservesServer(t *testing.T) {
	c := New()
	ctrl := chain.NewController(jtag.NewSimAdapter(jtag.AdapterInfo{Name: "sim"}), chain.WithObserver(c))
	t.Cleanup(func() { ctrl.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- xvc.NewServer(ctrl, xvc.Config{}, xvc.WithObserver(c)).Serve(ctx, ln) }()

	client, err := xvc.Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.SetTimeout(time.Second)
	if _, err := client.GetInfo(); err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if _, err := client.SetTCK(200); err != nil {
		t.Fatalf("SetTCK: %v", err)
	}
	if _, err := client.Shift([]byte{0x1F, 0x00}, []byte{0x00, 0x00}, 10); err != nil {
		t.Fatalf("Shift: %v", err)
	}
	client.Close()
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	expectLines(t, scrape(t, c),
		"xvcd_connections_total 1",
		"xvcd_sessions_active 0",
		`xvcd_commands_total{kind="getinfo"} 1`,
		`xvcd_commands_total{kind="settck"} 1`,
		`xvcd_commands_total{kind="shift"} 1`,
		"xvcd_cable_shifted_bits_total 10",
		"xvcd_cable_tck_period_nanoseconds 200",
		"xvcd_cable_turns_total 3",
	)
}

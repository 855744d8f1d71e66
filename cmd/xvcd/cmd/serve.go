package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/xvcd/internal/config"
	"github.com/OpenTraceLab/xvcd/internal/logging"
	"github.com/OpenTraceLab/xvcd/internal/metrics"
	"github.com/OpenTraceLab/xvcd/pkg/chain"
	"github.com/OpenTraceLab/xvcd/pkg/jtag"
	"github.com/OpenTraceLab/xvcd/pkg/xvc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JTAG cable over XVC (default)",
	Long: `Open the selected cable and accept XVC connections until interrupted.

A failed scan leaves the chain in an unknown state, so the server stops and
exits with status 1.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := flags.Resolve()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Init("xvcd", cfg.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, nil)
}

// serve runs the daemon until ctx ends. ready, if set, is called with the XVC
// listen address once connections are accepted.
func serve(ctx context.Context, cfg config.Config, ready func(net.Addr)) error {
	opts, err := cfg.OpenOptions()
	if err != nil {
		return err
	}
	adapter, err := jtag.Open(opts)
	if err != nil {
		return fmt.Errorf("open %s cable: %w", opts.Driver, err)
	}
	if info, err := adapter.Info(); err == nil {
		log.Info().Str("adapter", info.Name).Str("model", info.Model).Str("serial", info.SerialNumber).Msg("cable opened")
	}

	var (
		ctrlOpts []chain.Option
		m        *metrics.Collector
	)
	srvOpts := []xvc.ServerOption{
		xvc.WithLogger(log.Logger.With().Str("component", "xvc").Logger()),
	}
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		ctrlOpts = append(ctrlOpts, chain.WithObserver(m))
		srvOpts = append(srvOpts, xvc.WithObserver(m))
	}

	ctrl := chain.NewController(adapter, ctrlOpts...)
	defer ctrl.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if ready != nil {
		ready(ln.Addr())
	}

	srv := xvc.NewServer(ctrl, cfg.ServerConfig(), srvOpts...)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})
	if m != nil {
		g.Go(func() error {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

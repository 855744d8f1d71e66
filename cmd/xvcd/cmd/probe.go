package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xvcd/internal/logging"
	"github.com/OpenTraceLab/xvcd/pkg/idcode/deviceinfo"
	"github.com/OpenTraceLab/xvcd/pkg/jtag"
	"github.com/OpenTraceLab/xvcd/pkg/xvc"
)

var (
	probeAddr       string
	probeMaxDevices int
	probeTimeout    time.Duration
	probeFrequency  int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Connect to an XVC server and list the devices on its chain",
	Long: `Act as an XVC client: query the server banner, optionally set TCK, reset the
JTAG chain and decode the IDCODE of every device.

Examples:
  xvcd probe --addr localhost:2542
  xvcd probe --addr 192.168.1.20:2542 --tck 1000000`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&probeAddr, "addr", "a", "localhost:2542",
		"XVC server address")
	probeCmd.Flags().IntVar(&probeMaxDevices, "max-devices", xvc.DefaultMaxDevices,
		"longest chain to look for")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second,
		"timeout for each request")
	probeCmd.Flags().IntVar(&probeFrequency, "tck", 0,
		"request this TCK frequency in Hz before scanning (0 keeps the current one)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := flags.Resolve()
	if err != nil {
		return err
	}
	logging.Init("xvcd", cfg.Verbose)

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()
	client, err := xvc.Dial(ctx, probeAddr)
	if err != nil {
		return err
	}
	defer client.Close()
	client.SetTimeout(probeTimeout)

	return probe(cmd.OutOrStdout(), client)
}

func probe(out io.Writer, client *xvc.Client) error {
	info, err := client.GetInfo()
	if err != nil {
		return fmt.Errorf("getinfo: %w", err)
	}
	fmt.Fprintf(out, "Server: %s (max vector %d bytes)\n", info.Version, info.MaxVector)

	if probeFrequency > 0 {
		period, err := client.SetTCK(jtag.HzToPeriod(probeFrequency))
		if err != nil {
			return fmt.Errorf("settck: %w", err)
		}
		fmt.Fprintf(out, "TCK: %d ns (%d Hz)\n", period, jtag.PeriodToHz(period))
	}

	ids, err := xvc.ReadIDCodes(client, probeMaxDevices)
	if err != nil {
		return fmt.Errorf("read IDCODEs: %w", err)
	}

	fmt.Fprintf(out, "Found %d device(s)\n", len(ids))
	for i, id := range ids {
		if !id.HasIDCode {
			fmt.Fprintf(out, "  %d: BYPASS (no IDCODE register)\n", i)
			continue
		}
		dev := deviceinfo.Lookup(id.Raw)
		fmt.Fprintf(out, "  %d: 0x%08X  %s", i, id.Raw, dev.Manufacturer.Name)
		if dev.Known() {
			fmt.Fprintf(out, " %s (%s), IR %d bits", dev.Name, dev.Family, dev.IRLength)
		} else {
			fmt.Fprintf(out, " part 0x%04X", id.PartNumber)
		}
		fmt.Fprintf(out, ", version %d\n", id.Version)
	}
	return nil
}

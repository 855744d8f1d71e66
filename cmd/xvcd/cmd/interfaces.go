package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xvcd/pkg/jtag"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List available JTAG interfaces",
	Long: `Scan the USB bus for adapters xvcd can drive (FTDI MPSSE parts and CMSIS-DAP
probes) and print the driver, VID:PID and bus position of each, so the right
--driver, --vendor and --product values can be picked.`,
	Args: cobra.NoArgs,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	infos, err := jtag.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Detected JTAG interfaces:")
	for _, iface := range infos {
		if iface.Kind == jtag.InterfaceKindSim {
			fmt.Fprintf(out, "  - %s [--driver %s]\n", iface.Label(), iface.Kind)
			continue
		}
		fmt.Fprintf(out, "  - %s [--driver %s] (VID:PID %04X:%04X, bus %d address %d)\n",
			iface.Label(), iface.Kind, iface.VendorID, iface.ProductID, iface.Bus, iface.Address)
	}

	return nil
}

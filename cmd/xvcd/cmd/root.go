package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xvcd/internal/config"
)

// Global flags
var flags *config.Flags

var rootCmd = &cobra.Command{
	Use:   "xvcd",
	Short: "Xilinx Virtual Cable server for USB JTAG adapters",
	Long: `xvcd exposes a JTAG chain behind an FTDI or CMSIS-DAP adapter over TCP using
the Xilinx Virtual Cable protocol, so that Vivado, openFPGALoader or OpenOCD can
drive it remotely. Several clients may connect at once; the cable is handed
from one to the next whenever the chain is back in Run-Test/Idle after a reset.

Without a sub-command xvcd runs the server.

Examples:
  xvcd                                   # FT2232 interface A on port 2542
  xvcd -i 1 -f 10000000                  # interface B, TCK fixed at 10 MHz
  xvcd -d cmsisdap -p 2543               # Raspberry Pi debug probe
  xvcd -d sim --sim-idcode 0x0362D093    # no hardware
  xvcd probe --addr localhost:2542       # list the devices behind a server`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runServe,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "xvcd:", err)
		os.Exit(1)
	}
}

func init() {
	flags = config.RegisterFlags(rootCmd.PersistentFlags())
}

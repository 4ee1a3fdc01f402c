package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Tests build a fresh tree per run so
// flag state never leaks between executions.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blescan",
		Short: "Bluetooth Low Energy scanner",
		Long: `Bluetooth Low Energy (BLE) scanner that provides:

- Enumerate the Bluetooth adapters of this machine
- Scan for advertising peripherals, deduplicated by address
- Watch found and updated peripherals live
- Export scan metrics in Prometheus format

Backends: goble (CoreBluetooth / HCI), tinygo (BlueZ / CoreBluetooth / WinRT)
and sim (simulated beacons, no radio needed).`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newAdaptersCmd())
	rootCmd.AddCommand(newScanCmd())

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("backend", "goble", "Bluetooth backend (goble, tinygo, sim)")
	flags.String("registry-mode", "strict", "Handle registry policy on conflicts (strict, permissive)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

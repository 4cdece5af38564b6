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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blemote",
	Short: "BLE motor intensity controller",
	Long: `Command-line controller for BLE motor accessories:

- Discover nearby accessories over GATT
- Drive a connected accessory at a chosen intensity
- Drive broadcast-only accessories via spoofed advertising
- Run a control loop fed by OSC parameters or a remote speed stream
- Pair two machines so one drives the other's accessory

Supports both the connection-oriented protocol (write characteristic)
and the connectionless one (proprietary manufacturer-data frames).`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(broadcastCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(relayCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

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
	Use:   "vspty",
	Short: "Virtual serial port bridge",
	Long: `Virtual serial port bridge that provides:

- A pseudo-terminal published at a fixed path that behaves like a serial device
- Relaying of everything written to it, with its baud rate and framing
- Optional mirroring onto a real serial device
- Monitoring of the terminal-control event FIFO fed by the ioctl preload library

Preload libvspty-preload.so into serial clients that insist on modem control
lines or custom baud rates: those requests succeed and show up as events.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(baudCmd)
	rootCmd.AddCommand(configCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file (defaults apply when unset)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	rootCmd.SetVersionTemplate(fmt.Sprintf("vspty {{.Version}} (commit %s, built %s)\n", commit, date))
}

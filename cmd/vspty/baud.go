package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/srg/vspty/bridge"
)

// baudCmd represents the baud command
var baudCmd = &cobra.Command{
	Use:   "baud [speed-code]",
	Short: "Convert a termios speed code to a baud rate",
	Long: fmt.Sprintf(`Converts a termios speed code (c_cflag & CBAUD) into bits per second, the
same way the bridge reports it. Codes may be decimal, 0x-prefixed hex or
0-prefixed octal. Codes outside the standard table map to %d.

Example:
  vspty baud 0x1002
  vspty baud 15
  vspty baud --list`, bridge.SentinelBaudrate),
	Args: cobra.MaximumNArgs(1),
	RunE: runBaud,
}

var baudList bool

func init() {
	baudCmd.Flags().BoolVar(&baudList, "list", false, "List every standard speed code")
}

func runBaud(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if baudList {
		cmd.SilenceUsage = true
		fmt.Fprintf(out, "%-10s %-10s %s\n", "CODE", "OCTAL", "BAUD")
		for _, s := range bridge.Speeds() {
			fmt.Fprintf(out, "%-10s %-10s %d\n", fmt.Sprintf("%#x", s.Code), fmt.Sprintf("%#o", s.Code), s.Baudrate)
		}
		return nil
	}

	if len(args) == 0 {
		return ErrMissingSpeedCode
	}
	code, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSpeedCode, args[0], err)
	}

	cmd.SilenceUsage = true
	rate := bridge.Baudrate(uint32(code))
	if standard, ok := bridge.SpeedCode(rate); !ok || uint64(standard) != code {
		fmt.Fprintf(out, "%d (custom)\n", rate)
		return nil
	}
	fmt.Fprintf(out, "%d\n", rate)
	return nil
}

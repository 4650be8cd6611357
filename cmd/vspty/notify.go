package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/vspty/internal/events"
)

// notifyCmd represents the notify command
var notifyCmd = &cobra.Command{
	Use:   "notify <event-type>",
	Short: "Send one event to the event FIFO",
	Long: fmt.Sprintf(`Writes a single event envelope to the event FIFO, exactly as the ioctl
preload library would. Useful to check that a consumer is attached.

The event is dropped (and the command fails) when nobody has the FIFO open
for reading.

Event types: %s, %s

Example:
  vspty notify %s`, events.EventRtsDts, events.EventCustomBaud, events.EventRtsDts),
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{events.EventRtsDts, events.EventCustomBaud},
	RunE:      runNotify,
}

var notifyFIFO string

func init() {
	notifyCmd.Flags().StringVar(&notifyFIFO, "fifo", "", "Event FIFO path (overrides config)")
}

func runNotify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("fifo") {
		cfg.EventFIFOPath = notifyFIFO
	}

	logger, err := configureLogger(cmd, "", cfg.LogLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	// Emission is forced on: asking for an event is explicit.
	n := events.NewNotifier(&events.NotifierOptions{
		Path:    cfg.EventFIFOPath,
		Enabled: true,
		Logger:  logger,
	})
	if err := n.Notify(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", args[0], n.Path())
	return nil
}

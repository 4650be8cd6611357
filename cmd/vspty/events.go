package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/vspty/internal/events"
)

// eventsCmd represents the events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Watch the terminal-control event FIFO",
	Long: `Creates the event FIFO if needed and prints every event the ioctl preload
library reports, one line per event, until interrupted.

Events:
  rtsDts      a client tried to raise modem control lines (TIOCMBIS)
  customBaud  a client tried to read or set a nonstandard baud rate

While this command runs the FIFO has a reader, so the preload library's
notifications are no longer dropped.

Example:
  vspty events
  vspty events --fifo /tmp/eventPipe`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

var (
	eventsFIFO       string
	eventsTimestamps bool
)

func init() {
	eventsCmd.Flags().StringVar(&eventsFIFO, "fifo", "", "Event FIFO path (overrides config)")
	eventsCmd.Flags().BoolVar(&eventsTimestamps, "timestamps", false, "Prefix every event with its arrival time")
}

var eventDescriptions = map[string]string{
	events.EventRtsDts:     "modem control lines requested",
	events.EventCustomBaud: "custom baud rate requested",
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("fifo") {
		cfg.EventFIFOPath = eventsFIFO
	}

	logger, err := configureLogger(cmd, "", cfg.LogLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	printer := newEventPrinter(cmd.OutOrStdout(), eventsTimestamps)
	err = events.Listen(ctx, &events.ListenOptions{
		Path:   cfg.EventFIFOPath,
		Logger: logger,
	}, printer.print)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type eventPrinter struct {
	mu         sync.Mutex
	out        io.Writer
	timestamps bool
	known      *color.Color
	unknown    *color.Color
}

func newEventPrinter(out io.Writer, timestamps bool) *eventPrinter {
	return &eventPrinter{
		out:        out,
		timestamps: timestamps,
		known:      color.New(color.FgYellow, color.Bold),
		unknown:    color.New(color.FgRed),
	}
}

func (p *eventPrinter) print(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timestamps {
		fmt.Fprintf(p.out, "%s ", time.Now().Format(time.RFC3339))
	}
	desc, ok := eventDescriptions[ev.EventType]
	if !ok {
		p.unknown.Fprintf(p.out, "%s", ev.EventType)
		fmt.Fprintln(p.out, " (unknown event)")
		return
	}
	p.known.Fprintf(p.out, "%s", ev.EventType)
	fmt.Fprintf(p.out, " %s\n", desc)
}

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/vspty/bridge"
	"github.com/srg/vspty/internal/serialport"
	"github.com/srg/vspty/pkg/config"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Publish a virtual serial port",
	Long: `Allocates a pseudo-terminal, publishes its slave at the symlink path and
relays everything serial clients write to it.

Every chunk is reported together with the terminal settings the client
applied: baud rate, data bits, parity and stop bits. Nonstandard rates are
reported as 250000.

Without --device the chunks are dumped to stdout. With --device they are
written to a real serial port, which is reconfigured whenever the client
changes speed or framing; bytes received from the port are written back to
the client.

Example:
  vspty bridge --symlink /tmp/ttyVirtual
  vspty bridge --symlink /tmp/ttyVirtual --device /dev/ttyUSB0
  vspty --config vspty.yaml bridge --delivery queued`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

var (
	bridgeSymlink  string
	bridgeDevice   string
	bridgeDelivery string
	bridgeBaudrate int
	bridgeVerbose  bool
	bridgeRawMode  bool
	bridgePacket   bool
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Path the PTY slave is published at (overrides config)")
	bridgeCmd.Flags().StringVar(&bridgeDevice, "device", "", "Serial device to mirror the PTY onto (e.g., /dev/ttyUSB0)")
	bridgeCmd.Flags().StringVar(&bridgeDelivery, "delivery", "", "Listener delivery mode: sync or queued (overrides config)")
	bridgeCmd.Flags().IntVar(&bridgeBaudrate, "baud", 0, "Initial slave baud rate (overrides config)")
	bridgeCmd.Flags().BoolVar(&bridgeRawMode, "raw", true, "Put the slave in raw mode (overrides config)")
	bridgeCmd.Flags().BoolVar(&bridgePacket, "packet", true, "Enable packet mode on the master (overrides config)")
	bridgeCmd.Flags().BoolVar(&bridgeVerbose, "verbose", false, "Log every relayed chunk")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyBridgeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose", cfg.LogLevel)
	if err != nil {
		return err
	}

	delivery, err := bridge.ParseDeliveryMode(cfg.Delivery)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle interrupts gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	b := bridge.New(&bridge.Options{
		SymlinkPath: cfg.SymlinkPath,
		PacketMode:  cfg.PacketMode,
		Raw:         cfg.RawMode,
		Baudrate:    cfg.InitialBaudrate,
		ReadSize:    cfg.ReadSize,
		Delivery:    delivery,
		QueueSize:   cfg.QueueSize,
		StopTimeout: cfg.StopTimeout,
		Logger:      logger,
	})

	out := cmd.OutOrStdout()

	// The bridge only holds a weak reference: listener stays reachable
	// until the bridge has stopped.
	var listener any
	var forwarder *serialport.Forwarder
	if bridgeDevice != "" {
		forwarder, err = serialport.NewForwarder(ctx, &serialport.ForwarderOptions{
			Open:     serialport.OpenPath(bridgeDevice),
			Upstream: b,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer forwarder.Close()
		bridge.SetListener(b, forwarder)
		listener = forwarder
	} else {
		dump := newChunkDumper(out)
		bridge.SetListener(b, dump)
		listener = dump
	}

	if err := b.Start(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "PTY: %s\n", b.SlavePath())
	fmt.Fprintf(out, "Symlink: %s\n", b.SymlinkPath())
	if bridgeDevice != "" {
		fmt.Fprintf(out, "Device: %s\n", bridgeDevice)
	}

	<-ctx.Done()

	stopErr := b.Stop()
	runtime.KeepAlive(listener)

	printBridgeStats(out, b.Stats())
	if forwarder != nil {
		printForwarderStats(out, forwarder.Stats())
	}
	if stopErr != nil {
		logger.WithError(stopErr).Warn("Bridge stopped with errors")
	}
	return stopErr
}

// applyBridgeFlags lets explicitly set flags win over the configuration.
func applyBridgeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("symlink") {
		cfg.SymlinkPath = bridgeSymlink
	}
	if flags.Changed("delivery") {
		cfg.Delivery = bridgeDelivery
	}
	if flags.Changed("baud") {
		cfg.InitialBaudrate = bridgeBaudrate
	}
	if flags.Changed("raw") {
		cfg.RawMode = bridgeRawMode
	}
	if flags.Changed("packet") {
		cfg.PacketMode = bridgePacket
	}
}

// chunkDumper is the listener used without --device: a header line per
// chunk followed by a hex dump of its payload.
type chunkDumper struct {
	mu     sync.Mutex
	out    io.Writer
	header *color.Color
}

func newChunkDumper(out io.Writer) *chunkDumper {
	return &chunkDumper{
		out:    out,
		header: color.New(color.FgCyan, color.Bold),
	}
}

// OnDataReceived implements bridge.Listener.
func (d *chunkDumper) OnDataReceived(data *bridge.SerialData) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.header.Fprintf(d.out, "[%s] %d baud %s, %d bytes\n",
		data.Control, data.Baudrate, data.Line, len(data.Data)); err != nil {
		return err
	}
	if !data.HasPayload() {
		return nil
	}
	_, err := io.WriteString(d.out, hex.Dump(data.Data))
	return err
}

func printBridgeStats(out io.Writer, s bridge.Stats) {
	fmt.Fprintln(out, "Bridge statistics:")
	fmt.Fprintf(out, "  reads:             %d\n", s.Reads)
	fmt.Fprintf(out, "  bytes read:        %d\n", s.BytesRead)
	fmt.Fprintf(out, "  bytes written:     %d\n", s.BytesWritten)
	fmt.Fprintf(out, "  deliveries:        %d\n", s.Deliveries)
	fmt.Fprintf(out, "  undelivered:       %d\n", s.Undelivered)
	fmt.Fprintf(out, "  listener failures: %d\n", s.ListenerFailures)
	fmt.Fprintf(out, "  read errors:       %d\n", s.ReadErrors)
	fmt.Fprintf(out, "  queue overwrites:  %d\n", s.QueueOverwrites)
}

func printForwarderStats(out io.Writer, s serialport.ForwarderStats) {
	fmt.Fprintln(out, "Device statistics:")
	fmt.Fprintf(out, "  bytes to device:   %d\n", s.BytesToDevice)
	fmt.Fprintf(out, "  bytes from device: %d\n", s.BytesFromDevice)
	fmt.Fprintf(out, "  dropped bytes:     %d\n", s.DroppedBytes)
	fmt.Fprintf(out, "  reconfigures:      %d\n", s.Reconfigures)
	fmt.Fprintf(out, "  device failures:   %d\n", s.DeviceFailures)
}

var _ bridge.Listener = (*chunkDumper)(nil)

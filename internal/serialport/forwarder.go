package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/vspty/bridge"
	"github.com/srg/vspty/internal/groutine"
)

// DefaultQueueSize is the write queue capacity in bytes.
const DefaultQueueSize = 16 * 1024

// ErrClosed is returned by OnDataReceived after Close.
var ErrClosed = errors.New("forwarder closed")

// Device is the downstream end of the forwarder.
type Device interface {
	io.ReadWriteCloser
	Configure(baudrate int, line bridge.LineSettings) error
}

// Opener opens the downstream device. It is called lazily on the first
// relayed chunk and again after the device failed.
type Opener func() (Device, error)

// OpenPath returns an Opener for a tty device path.
func OpenPath(path string) Opener {
	return func() (Device, error) {
		return Open(path)
	}
}

// Upstream receives bytes read from the device; *bridge.Bridge implements it.
type Upstream interface {
	Write(data []byte) error
}

// ForwarderOptions configures a Forwarder.
type ForwarderOptions struct {
	Open      Opener         // Required
	Upstream  Upstream       // Required
	QueueSize int            // Write queue capacity in bytes (0 = DefaultQueueSize)
	Logger    *logrus.Logger // Optional logger (nil = no-op logger)
}

// ForwarderStats is a snapshot of the forwarder counters.
type ForwarderStats struct {
	BytesToDevice   uint64
	BytesFromDevice uint64
	DroppedBytes    uint64
	Reconfigures    uint64
	DeviceFailures  uint64
}

// Forwarder is a bridge.Listener that mirrors the PTY onto a real serial
// device: the device is (re)configured whenever the relayed speed or framing
// changes or the PTY client reopens the line, payloads are queued for the
// device, and device output is written back upstream.
type Forwarder struct {
	open     Opener
	upstream Upstream
	logger   *logrus.Logger

	mu         sync.Mutex
	dev        Device
	configured bool
	baudrate   int
	line       bridge.LineSettings
	closed     bool

	queue *ringbuffer.RingBuffer
	wake  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	toDevice     atomic.Uint64
	fromDevice   atomic.Uint64
	dropped      atomic.Uint64
	reconfigures atomic.Uint64
	failures     atomic.Uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// NewForwarder creates a forwarder and starts its writer goroutine.
func NewForwarder(ctx context.Context, opts *ForwarderOptions) (*Forwarder, error) {
	if opts == nil || opts.Open == nil {
		return nil, fmt.Errorf("forwarder: device opener is required")
	}
	if opts.Upstream == nil {
		return nil, fmt.Errorf("forwarder: upstream is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	f := &Forwarder{
		open:     opts.Open,
		upstream: opts.Upstream,
		logger:   opts.Logger,
		queue:    ringbuffer.New(size),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if f.logger == nil {
		f.logger = noopLogger
	}

	f.wg.Add(1)
	groutine.Go(ctx, "serial-writer", f.writeLoop)
	return f, nil
}

// OnDataReceived implements bridge.Listener.
func (f *Forwarder) OnDataReceived(data *bridge.SerialData) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	if f.dev == nil {
		dev, err := f.open()
		if err != nil {
			f.failures.Add(1)
			return fmt.Errorf("open serial device: %w", err)
		}
		f.dev = dev
		f.configured = false
		f.wg.Add(1)
		groutine.Go(context.Background(), "serial-reader", func(ctx context.Context) {
			f.readLoop(dev)
		})
	}

	if !f.configured || data.IsStart() || data.Baudrate != f.baudrate || data.Line != f.line {
		if err := f.dev.Configure(data.Baudrate, data.Line); err != nil {
			f.failures.Add(1)
			return fmt.Errorf("configure serial device: %w", err)
		}
		f.configured = true
		f.baudrate = data.Baudrate
		f.line = data.Line
		f.reconfigures.Add(1)
		f.logger.WithFields(logrus.Fields{
			"baudrate": data.Baudrate,
			"line":     data.Line.String(),
			"packet":   data.Control.String(),
		}).Info("Serial device configured")
	}

	if !data.HasPayload() {
		return nil
	}
	f.enqueue(data.Data)
	return nil
}

// enqueue never blocks: bytes that do not fit are dropped and counted.
func (f *Forwarder) enqueue(payload []byte) {
	written, err := f.queue.Write(payload)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		f.logger.WithError(err).Warn("Serial write queue error")
	}
	if written < len(payload) {
		dropped := len(payload) - written
		f.dropped.Add(uint64(dropped))
		f.logger.WithFields(logrus.Fields{
			"dropped": dropped,
			"queued":  written,
		}).Warn("Serial write queue overflow")
	}
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Forwarder) writeLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.WithField("panic", r).Error("Serial writer panicked")
		}
		f.wg.Done()
	}()

	buf := make([]byte, 4096)
	for {
		select {
		case <-f.done:
			return
		case <-f.wake:
		}

		for !f.queue.IsEmpty() {
			n, err := f.queue.TryRead(buf)
			if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
				f.logger.WithError(err).Warn("Serial write queue read error")
				break
			}
			if n == 0 {
				break
			}
			f.writeDevice(buf[:n])
		}
	}
}

func (f *Forwarder) writeDevice(chunk []byte) {
	f.mu.Lock()
	dev := f.dev
	f.mu.Unlock()
	if dev == nil {
		f.dropped.Add(uint64(len(chunk)))
		return
	}

	for len(chunk) > 0 {
		n, err := dev.Write(chunk)
		f.toDevice.Add(uint64(n))
		chunk = chunk[n:]
		if err != nil {
			f.dropped.Add(uint64(len(chunk)))
			f.deviceFailed(dev, fmt.Errorf("write: %w", err))
			return
		}
	}
}

func (f *Forwarder) readLoop(dev Device) {
	defer f.wg.Done()

	buf := make([]byte, 512)
	for {
		n, err := dev.Read(buf)
		if n > 0 {
			f.fromDevice.Add(uint64(n))
			if werr := f.upstream.Write(buf[:n]); werr != nil {
				f.logger.WithError(werr).Warn("Failed to relay device output upstream")
			}
		}
		if err != nil {
			if !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.EOF) {
				f.deviceFailed(dev, fmt.Errorf("read: %w", err))
			}
			return
		}
	}
}

// deviceFailed closes dev and forgets it, so the next chunk reopens the device.
func (f *Forwarder) deviceFailed(dev Device, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dev != dev {
		return
	}
	f.failures.Add(1)
	f.logger.WithError(err).Warn("Serial device failed, closing it")
	_ = dev.Close()
	f.dev = nil
	f.configured = false
}

// Stats returns a snapshot of the counters.
func (f *Forwarder) Stats() ForwarderStats {
	return ForwarderStats{
		BytesToDevice:   f.toDevice.Load(),
		BytesFromDevice: f.fromDevice.Load(),
		DroppedBytes:    f.dropped.Load(),
		Reconfigures:    f.reconfigures.Load(),
		DeviceFailures:  f.failures.Load(),
	}
}

// Close stops the writer, closes the device and waits for both loops.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.done)
	var err error
	if f.dev != nil {
		err = f.dev.Close()
		f.dev = nil
	}
	f.mu.Unlock()

	f.wg.Wait()
	return err
}

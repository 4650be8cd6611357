// Package bridge runs the PTY relay: it allocates a pseudo-terminal pair,
// publishes the slave under a stable symlink, delivers every chunk read from
// the master to a registered Listener together with the slave's current
// terminal attributes, and writes the listener's replies back into the
// master.
//
// # Basic Usage
//
//	b := bridge.New(&bridge.Options{
//	    SymlinkPath: "/tmp/vspty",
//	    PacketMode:  true,
//	    Logger:      logger,
//	})
//	bridge.SetListener(b, listener)
//
//	if err := b.Start(ctx); err != nil {
//	    return err // wraps ptyio.ErrAllocation or ptyio.ErrPublish
//	}
//	defer b.Stop()
//
//	_ = b.Write([]byte("ok\n")) // readable from the slave
//
// Delivery is synchronous by default: a slow listener stalls further reads.
// DeliveryQueued decouples the two with a bounded ring that drops the oldest
// chunk when full.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/srg/vspty/internal/groutine"
	"github.com/srg/vspty/internal/ptyio"
	"golang.org/x/sys/unix"
)

const (
	// DefaultSymlinkPath is where the host application looks for the slave.
	DefaultSymlinkPath = "/data/data/com.octo4a/files/serialpipe"

	// DefaultReadSize bounds a single master read.
	DefaultReadSize = 511

	// DefaultQueueSize is the ring capacity used by DeliveryQueued.
	DefaultQueueSize = 64

	// DefaultStopTimeout bounds how long Stop waits for the relay to exit.
	DefaultStopTimeout = 5 * time.Second
)

// DeliveryMode selects how chunks reach the listener.
type DeliveryMode string

const (
	// DeliverySync calls the listener on the relay thread.
	DeliverySync DeliveryMode = "sync"

	// DeliveryQueued hands chunks to a dispatch thread through a bounded ring.
	DeliveryQueued DeliveryMode = "queued"
)

// ParseDeliveryMode accepts "sync", "queued" and "" (sync).
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch DeliveryMode(s) {
	case "", DeliverySync:
		return DeliverySync, nil
	case DeliveryQueued:
		return DeliveryQueued, nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q (valid: sync, queued)", s)
	}
}

// State of a Bridge. Transitions only move forward.
type State uint32

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Options configures a Bridge.
type Options struct {
	SymlinkPath string       // Where to publish the slave ("" = DefaultSymlinkPath)
	PacketMode  bool         // Enable TIOCPKT so each chunk carries a control byte
	Raw         bool         // Put the slave in raw mode at allocation
	Baudrate    int          // Initial slave speed (0 = kernel default)
	Winsize     *pty.Winsize // Initial slave window size (nil = kernel default)
	ReadSize    int          // Max bytes per master read (0 = DefaultReadSize)

	Delivery  DeliveryMode // "" = DeliverySync
	QueueSize uint32       // Ring capacity for DeliveryQueued (0 = DefaultQueueSize)

	StopTimeout time.Duration  // 0 = DefaultStopTimeout
	Runtime     Runtime        // Host runtime the listener lives in (nil = plain Go)
	Logger      *logrus.Logger // Optional logger (nil = no-op logger)
}

// Stats is a snapshot of the relay counters.
type Stats struct {
	Reads            uint64
	BytesRead        uint64
	BytesWritten     uint64
	Deliveries       uint64
	Undelivered      uint64 // chunks read while no live listener was registered
	ListenerFailures uint64
	ReadErrors       uint64
	QueueOverwrites  uint64
}

// Bridge owns one PTY pair for its whole lifetime. Construct it once and pass
// it to every entry point; all methods are safe for concurrent use.
type Bridge struct {
	opts    Options
	logger  *logrus.Logger
	runtime Runtime
	binding atomic.Pointer[binding]
	state   atomic.Uint32

	lifecycleMu sync.Mutex
	writeMu     sync.Mutex

	pair      *ptyio.Pair
	slavePath atomic.Value // string
	masterFd  int
	wakeR     int
	wakeW     int
	done      chan struct{}
	wg        sync.WaitGroup
	queue     *dispatchQueue

	releaseOnce sync.Once
	releaseErr  error
	released    chan struct{} // closed once every descriptor is closed

	reads            atomic.Uint64
	bytesRead        atomic.Uint64
	bytesWritten     atomic.Uint64
	deliveries       atomic.Uint64
	undelivered      atomic.Uint64
	listenerFailures atomic.Uint64
	readErrors       atomic.Uint64
	queueOverwrites  atomic.Uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// New creates a stopped-at-birth bridge; nothing is allocated until Start.
// A nil opts enables packet mode and uses the defaults for everything else.
func New(opts *Options) *Bridge {
	if opts == nil {
		opts = &Options{PacketMode: true}
	}
	o := *opts
	if o.SymlinkPath == "" {
		o.SymlinkPath = DefaultSymlinkPath
	}
	if o.ReadSize <= 0 {
		o.ReadSize = DefaultReadSize
	}
	if o.Delivery == "" {
		o.Delivery = DeliverySync
	}
	if o.QueueSize == 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}

	b := &Bridge{
		opts:    o,
		logger:  o.Logger,
		runtime: o.Runtime,
		wakeR:   -1,
		wakeW:   -1,
	}
	if b.logger == nil {
		b.logger = noopLogger
	}
	if b.runtime == nil {
		b.runtime = goRuntime{}
	}
	return b
}

// Start allocates the pair, publishes the slave symlink and launches the
// relay. It is a no-op while running and fails with ErrStopped after Stop.
// Allocation and publication failures are returned here and leave the bridge
// uninitialized.
//
// Cancelling ctx stops the bridge.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	switch State(b.state.Load()) {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrStopped
	}

	pair, err := ptyio.Allocate(&ptyio.AllocateOptions{
		Raw:     b.opts.Raw,
		Winsize: b.opts.Winsize,
		Logger:  b.logger,
	})
	if err != nil {
		return err
	}
	b.applyInitialBaudrate(pair)

	if b.opts.PacketMode {
		if err := pair.EnablePacketMode(); err != nil {
			_ = pair.Close()
			return fmt.Errorf("%w: %w", ptyio.ErrAllocation, err)
		}
	}

	// Fd() switches the descriptor to blocking mode; the relay and Write
	// expect non-blocking I/O gated by poll.
	masterFd := int(pair.Master.Fd())
	if err := unix.SetNonblock(masterFd, true); err != nil {
		_ = pair.Close()
		return fmt.Errorf("%w: set non-blocking master: %w", ptyio.ErrAllocation, err)
	}

	var wake [2]int
	if err := unix.Pipe2(wake[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		_ = pair.Close()
		return fmt.Errorf("create wake pipe: %w", err)
	}

	if err := pair.Publish(b.opts.SymlinkPath); err != nil {
		_ = pair.Close()
		_ = unix.Close(wake[0])
		_ = unix.Close(wake[1])
		return err
	}

	b.pair = pair
	b.slavePath.Store(pair.SlavePath)
	b.masterFd = masterFd
	b.wakeR, b.wakeW = wake[0], wake[1]
	b.done = make(chan struct{})
	b.released = make(chan struct{})
	b.state.Store(uint32(StateRunning))

	runCtx := context.WithoutCancel(ctx)
	if b.opts.Delivery == DeliveryQueued {
		b.queue = newDispatchQueue(b.opts.QueueSize)
		b.wg.Add(1)
		groutine.GoLocked(runCtx, "vspty-dispatch", b.dispatchLoop)
	}
	b.wg.Add(1)
	groutine.GoLocked(runCtx, "vspty-relay", b.relay)

	done := b.done
	groutine.Go(ctx, "vspty-stop-on-cancel", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			if err := b.Stop(); err != nil {
				b.logger.WithError(err).Warn("Failed to stop bridge after cancellation")
			}
		case <-done:
		}
	})

	b.logger.WithFields(logrus.Fields{
		"tty":        pair.SlavePath,
		"ttySymlink": b.opts.SymlinkPath,
		"packetMode": b.opts.PacketMode,
		"delivery":   b.opts.Delivery,
	}).Info("PTY bridge running")
	return nil
}

func (b *Bridge) applyInitialBaudrate(pair *ptyio.Pair) {
	if b.opts.Baudrate == 0 {
		return
	}
	logger := b.logger.WithFields(logrus.Fields{"tty": pair.SlavePath, "baudrate": b.opts.Baudrate})

	code, ok := SpeedCode(b.opts.Baudrate)
	if !ok {
		logger.Warn("Initial baudrate is not a standard rate, keeping kernel default")
		return
	}
	fd := int(pair.Slave.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err == nil {
		t.Cflag = t.Cflag&^unix.CBAUD | code
		err = unix.IoctlSetTermios(fd, unix.TCSETS, t)
	}
	if err != nil {
		logger.WithError(err).Warn("Ignoring failure while setting initial baudrate")
	}
}

// Stop wakes the relay, removes the symlink, waits for the relay (bounded by
// StopTimeout) and closes every descriptor. Safe to call more than once; a
// bridge stopped before it was started can never start.
//
// When the relay is still stuck in a listener after StopTimeout, Stop returns
// anyway and the descriptors are closed as soon as the relay exits.
//
// Must not be called from a listener callback: the relay would be waiting on
// itself until StopTimeout.
func (b *Bridge) Stop() error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	prev := State(b.state.Swap(uint32(StateStopped)))
	if prev != StateRunning {
		return nil
	}

	close(b.done)
	if _, err := unix.Write(b.wakeW, []byte{0}); err != nil && !errors.Is(err, unix.EAGAIN) {
		b.logger.WithError(err).Warn("Failed to wake PTY relay")
	}
	if b.queue != nil {
		b.queue.close()
	}

	exited := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(exited)
	}()

	var errs []error
	if err := b.pair.Unpublish(); err != nil {
		errs = append(errs, err)
	}

	select {
	case <-exited:
		if err := b.release(); err != nil {
			errs = append(errs, err)
		}
		b.logger.WithField("tty", b.pair.SlavePath).Info("PTY bridge stopped")
	case <-time.After(b.opts.StopTimeout):
		// The relay may still poll and read the master and the wake pipe:
		// their descriptor numbers must not be recycled under it.
		b.logger.WithField("timeout", b.opts.StopTimeout).Warn("PTY relay did not exit in time (listener blocked?), descriptors stay open until it does")
		groutine.Go(context.Background(), "vspty-release", func(context.Context) {
			<-exited
			if err := b.release(); err != nil {
				b.logger.WithError(err).Warn("Failed to close PTY descriptors after late relay exit")
			}
			b.logger.WithField("tty", b.pair.SlavePath).Info("PTY bridge stopped")
		})
	}
	return errors.Join(errs...)
}

// release closes the pair and the wake pipe once the relay and dispatch
// goroutines are gone. Writers are excluded through writeMu.
func (b *Bridge) release() error {
	b.releaseOnce.Do(func() {
		b.writeMu.Lock()
		defer b.writeMu.Unlock()

		b.releaseErr = b.pair.Close()
		_ = unix.Close(b.wakeR)
		_ = unix.Close(b.wakeW)
		close(b.released)
	})
	return b.releaseErr
}

// Write sends data to the slave side through the master. Calls are
// serialised, so the bytes of one call never interleave with another's.
func (b *Bridge) Write(data []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if State(b.state.Load()) != StateRunning {
		return ErrNotRunning
	}

	for len(data) > 0 {
		n, err := unix.Write(b.masterFd, data)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				if err := b.waitWritable(); err != nil {
					return err
				}
				continue
			default:
				return fmt.Errorf("%w: %w", ErrWrite, err)
			}
		}
		data = data[n:]
		b.bytesWritten.Add(uint64(n))
	}
	return nil
}

// waitWritable blocks until the master accepts more bytes or Stop is called.
func (b *Bridge) waitWritable() error {
	fds := []unix.PollFd{
		{Fd: int32(b.masterFd), Events: unix.POLLOUT},
		{Fd: int32(b.wakeR), Events: unix.POLLIN},
	}
	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("%w: poll: %w", ErrWrite, err)
		}
		if fds[1].Revents != 0 {
			return fmt.Errorf("%w: %w", ErrWrite, ErrNotRunning)
		}
		return nil
	}
}

// State returns the lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// SlavePath returns the /dev/pts path, empty before Start.
func (b *Bridge) SlavePath() string {
	s, _ := b.slavePath.Load().(string)
	return s
}

// SymlinkPath returns the configured symlink location.
func (b *Bridge) SymlinkPath() string {
	return b.opts.SymlinkPath
}

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Reads:            b.reads.Load(),
		BytesRead:        b.bytesRead.Load(),
		BytesWritten:     b.bytesWritten.Load(),
		Deliveries:       b.deliveries.Load(),
		Undelivered:      b.undelivered.Load(),
		ListenerFailures: b.listenerFailures.Load(),
		ReadErrors:       b.readErrors.Load(),
		QueueOverwrites:  b.queueOverwrites.Load(),
	}
}

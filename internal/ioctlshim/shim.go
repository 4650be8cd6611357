// Package ioctlshim decides, per ioctl request, whether to forward a call to
// the real implementation or to fake success.
//
// A virtual serial line cannot honour hardware-only requests (modem control
// lines, arbitrary baud divisors) the way a UART would. Serial libraries probe
// those unconditionally and abort on failure, so the shim answers them with
// success and reports the attempt on the event FIFO instead. Everything else
// reaches the real ioctl untouched.
//
// When loaded through cmd/vspty-preload the shim sees every ioctl made by the
// hosting process, not only the ones on its own descriptors.
package ioctlshim

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Request codes handled by the default table.
const (
	RequestModemBitsSet  uint = 0x5416     // TIOCMBIS
	RequestCustomBaudGet uint = 0x802c542a // TCGETS2, struct termios2 carries the custom speed
	RequestCustomBaudSet uint = 0x402c542b // TCSETS2
)

// ErrResolve is returned (wrapped) when the real ioctl cannot be located.
var ErrResolve = errors.New("cannot resolve real ioctl")

// Policy describes what to do with an intercepted request.
type Policy struct {
	Tag  string // event type reported on interception
	Emit bool   // report the interception through the Notifier
}

// Table maps request codes to interception policies. Lookups are lock-free,
// so it can be consulted from any thread of the host process.
type Table struct {
	m *hashmap.Map[uint, Policy]
}

// NewTable returns an empty table: every request passes through.
func NewTable() *Table {
	return &Table{m: hashmap.New[uint, Policy]()}
}

// DefaultTable intercepts modem line control and custom baud requests.
func DefaultTable() *Table {
	t := NewTable()
	t.Set(RequestModemBitsSet, Policy{Tag: "rtsDts", Emit: true})
	t.Set(RequestCustomBaudGet, Policy{Tag: "customBaud", Emit: true})
	t.Set(RequestCustomBaudSet, Policy{Tag: "customBaud", Emit: true})
	return t
}

// Set installs or replaces the policy for request.
func (t *Table) Set(request uint, p Policy) {
	t.m.Set(request, p)
}

// Lookup returns the policy for request and whether the request is intercepted.
func (t *Table) Lookup(request uint) (Policy, bool) {
	return t.m.Get(request)
}

// Len returns the number of intercepted requests.
func (t *Table) Len() int {
	return t.m.Len()
}

// RequestCode normalises a request number to the 32 bits the kernel
// decodes. Callers that pass the request through a signed int (Bionic
// declares ioctl that way) sign-extend codes with the direction bit set,
// 0x802c542a becoming 0xffffffff802c542a.
func RequestCode(request uint) uint {
	return uint(uint32(request))
}

// RealIoctl performs an actual ioctl. A negative result comes with a non-nil error.
type RealIoctl func(fd int, request uint, arg uintptr) (int, error)

// Resolver locates the real ioctl. It is invoked at most once per Shim.
type Resolver func() (RealIoctl, error)

// Notifier receives the tag of every emitting interception.
type Notifier interface {
	Notify(eventType string) error
}

// Options configures a Shim.
type Options struct {
	Table    *Table         // nil = DefaultTable()
	Resolve  Resolver       // nil = SyscallResolver
	Notifier Notifier       // nil = interceptions are silent
	Emit     bool           // master switch for notifications
	Logger   *logrus.Logger // Optional logger (nil = no-op logger)
}

// Stats counts shim decisions.
type Stats struct {
	Intercepted uint64
	Forwarded   uint64
	Notified    uint64
	NotifyDrops uint64
}

// Shim is safe for concurrent use.
type Shim struct {
	table    *Table
	next     func() (RealIoctl, error)
	notifier Notifier
	emit     bool
	logger   *logrus.Logger

	intercepted atomic.Uint64
	forwarded   atomic.Uint64
	notified    atomic.Uint64
	notifyDrops atomic.Uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// New creates a Shim. The real ioctl is not resolved until the first
// pass-through request.
func New(opts *Options) *Shim {
	if opts == nil {
		opts = &Options{}
	}
	s := &Shim{
		table:    opts.Table,
		notifier: opts.Notifier,
		emit:     opts.Emit,
		logger:   opts.Logger,
	}
	if s.table == nil {
		s.table = DefaultTable()
	}
	if s.logger == nil {
		s.logger = noopLogger
	}
	resolve := opts.Resolve
	if resolve == nil {
		resolve = SyscallResolver
	}
	s.next = sync.OnceValues(func() (RealIoctl, error) {
		next, err := resolve()
		if err == nil && next == nil {
			err = errors.New("resolver returned nil")
		}
		if err != nil {
			s.logger.WithError(err).Error("Failed to resolve real ioctl")
			return nil, err
		}
		return next, nil
	})
	return s
}

// Ioctl handles one request.
//
// Intercepted requests return (0, nil) without touching fd. Everything else
// is forwarded unchanged and returns exactly what the real implementation
// returned. Table lookups use RequestCode(request).
func (s *Shim) Ioctl(fd int, request uint, arg uintptr) (int, error) {
	if p, ok := s.table.Lookup(RequestCode(request)); ok {
		s.intercepted.Add(1)
		s.logger.WithFields(logrus.Fields{
			"fd":      fd,
			"request": fmt.Sprintf("%#x", request),
			"tag":     p.Tag,
		}).Debug("Intercepted ioctl")

		if s.emit && p.Emit && s.notifier != nil {
			if err := s.notifier.Notify(p.Tag); err != nil {
				s.notifyDrops.Add(1)
				s.logger.WithError(err).WithField("tag", p.Tag).Debug("Dropped ioctl event")
			} else {
				s.notified.Add(1)
			}
		}
		return 0, nil
	}

	next, err := s.next()
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrResolve, err)
	}
	s.forwarded.Add(1)
	return next(fd, request, arg)
}

// Stats returns a snapshot of the counters.
func (s *Shim) Stats() Stats {
	return Stats{
		Intercepted: s.intercepted.Load(),
		Forwarded:   s.forwarded.Load(),
		Notified:    s.notified.Load(),
		NotifyDrops: s.notifyDrops.Load(),
	}
}

// SyscallResolver returns an ioctl that enters the kernel directly.
// It is the right choice for Go callers; the preload library resolves the
// next libc binding instead.
func SyscallResolver() (RealIoctl, error) {
	return func(fd int, request uint, arg uintptr) (int, error) {
		r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), arg)
		if errno != 0 {
			return -1, errno
		}
		return int(r), nil
	}, nil
}

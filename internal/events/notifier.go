// Package events carries advisory terminal-control events between the ioctl
// shim and an independently polling consumer over a named pipe.
//
// The wire format is one JSON object per line:
//
//	{"eventType": "rtsDts"}
//
// The channel is best effort. A notification written while no reader is
// attached is dropped, never queued.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// DefaultFIFOPath is where external tooling expects the event pipe.
	DefaultFIFOPath = "/data/data/com.octo4a/files/home/eventPipe"

	// EventRtsDts reports an attempt to raise modem control lines (TIOCMBIS).
	EventRtsDts = "rtsDts"

	// EventCustomBaud reports an attempt to set a nonstandard baud rate.
	EventCustomBaud = "customBaud"
)

var (
	// ErrNotify is returned (wrapped) for every failed notification.
	ErrNotify = errors.New("event notification failed")

	// ErrNoReader means the FIFO exists but nobody has it open for reading.
	ErrNoReader = errors.New("no reader attached to event fifo")
)

// Event is a decoded FIFO envelope.
type Event struct {
	EventType string `json:"eventType"`
}

// Encode renders the envelope for eventType, newline included.
// The spacing matches what existing consumers were written against.
func Encode(eventType string) ([]byte, error) {
	tag, err := json.Marshal(eventType)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "{\"eventType\": %s}\n", tag), nil
}

// NotifierOptions configures a Notifier.
type NotifierOptions struct {
	Path    string         // FIFO path ("" = DefaultFIFOPath)
	Enabled bool           // false turns Notify into a no-op
	Logger  *logrus.Logger // Optional logger (nil = no-op logger)
}

// Notifier writes one envelope per call to the event FIFO.
// It keeps no descriptor open between calls and is safe for concurrent use.
type Notifier struct {
	path    string
	enabled bool
	logger  *logrus.Logger
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// NewNotifier creates a Notifier. A nil opts yields a disabled notifier.
func NewNotifier(opts *NotifierOptions) *Notifier {
	if opts == nil {
		opts = &NotifierOptions{}
	}
	n := &Notifier{
		path:    opts.Path,
		enabled: opts.Enabled,
		logger:  opts.Logger,
	}
	if n.path == "" {
		n.path = DefaultFIFOPath
	}
	if n.logger == nil {
		n.logger = noopLogger
	}
	return n
}

// Path returns the FIFO path.
func (n *Notifier) Path() string {
	return n.path
}

// Enabled reports whether Notify writes anything.
func (n *Notifier) Enabled() bool {
	return n.enabled
}

// Notify pushes eventType to the FIFO.
//
// The pipe is opened non-blocking: with no reader attached the open fails
// with ENXIO and the event is dropped (ErrNoReader). A full pipe yields
// EAGAIN and is dropped as well.
func (n *Notifier) Notify(eventType string) error {
	if !n.enabled {
		return nil
	}

	payload, err := Encode(eventType)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %w", ErrNotify, eventType, err)
	}

	fd, err := unix.Open(n.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return fmt.Errorf("%w: %s: %w", ErrNotify, n.path, ErrNoReader)
		}
		return fmt.Errorf("%w: open %s: %w", ErrNotify, n.path, err)
	}
	defer unix.Close(fd)

	// Payloads are far below PIPE_BUF, so the write is atomic or fails whole.
	written, err := unix.Write(fd, payload)
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrNotify, n.path, err)
	}
	if written != len(payload) {
		return fmt.Errorf("%w: short write to %s (%d of %d bytes)", ErrNotify, n.path, written, len(payload))
	}

	n.logger.WithFields(logrus.Fields{
		"eventType": eventType,
		"fifo":      n.path,
	}).Debug("Event notified")
	return nil
}

package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/vspty/internal/groutine"
	"golang.org/x/sys/unix"
)

// ListenOptions configures Listen.
type ListenOptions struct {
	Path   string         // FIFO path ("" = DefaultFIFOPath)
	Mode   uint32         // Permissions used when the FIFO has to be created (0 = 0660)
	Logger *logrus.Logger // Optional logger (nil = no-op logger)
}

// Handler receives every decoded event, in arrival order.
type Handler func(Event)

// EnsureFIFO creates the named pipe at path unless one already exists.
func EnsureFIFO(path string, mode uint32) error {
	if mode == 0 {
		mode = 0o660
	}
	err := unix.Mkfifo(path, mode)
	if err == nil || !errors.Is(err, unix.EEXIST) {
		return err
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return statErr
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("%s exists and is not a named pipe", path)
	}
	return nil
}

// Listen consumes the event FIFO until ctx is canceled.
//
// The pipe is held open read-write, so writers coming and going never produce
// EOF and Notify always finds a reader while Listen runs. Lines that do not
// decode are logged and skipped.
func Listen(ctx context.Context, opts *ListenOptions, handler Handler) error {
	if opts == nil {
		opts = &ListenOptions{}
	}
	if handler == nil {
		return fmt.Errorf("event handler is required")
	}
	path := opts.Path
	if path == "" {
		path = DefaultFIFOPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	if err := EnsureFIFO(path, opts.Mode); err != nil {
		return fmt.Errorf("prepare event fifo %s: %w", path, err)
	}

	fifo, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open event fifo %s: %w", path, err)
	}

	done := make(chan struct{})
	defer close(done)
	groutine.Go(ctx, "event-fifo-closer", func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = fifo.Close()
	})

	logger.WithField("fifo", path).Info("Listening for events")

	scanner := bufio.NewScanner(fifo)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logger.WithError(err).WithField("line", line).Warn("Skipping malformed event")
			continue
		}
		logger.WithField("eventType", ev.EventType).Debug("Got event")
		handler(ev)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("read event fifo %s: %w", path, err)
	}
	return nil
}

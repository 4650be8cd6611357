package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srg/vspty/internal/groutine"
)

// threadLogger tags entries with the goroutine started by groutine.Go.
func (b *Bridge) threadLogger(ctx context.Context) *logrus.Entry {
	return b.logger.WithFields(logrus.Fields{
		"tty":       b.pair.SlavePath,
		"goroutine": groutine.GetName(ctx),
		"gid":       groutine.GetGID(),
	})
}

// relay is the read side of the bridge. It owns every master read.
func (b *Bridge) relay(ctx context.Context) {
	defer b.wg.Done()

	logger := b.threadLogger(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("PTY relay panicked")
		}
	}()

	logger.Debug("PTY relay started")
	buf := make([]byte, b.opts.ReadSize)
	fds := []unix.PollFd{
		{Fd: int32(b.masterFd), Events: unix.POLLIN | unix.POLLPRI},
		{Fd: int32(b.wakeR), Events: unix.POLLIN},
	}

	for {
		fds[0].Revents, fds[1].Revents = 0, 0
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			logger.WithError(err).Error("Polling PTY master failed, relay exiting")
			return
		}
		if fds[1].Revents != 0 {
			logger.Debug("PTY relay stopping")
			return
		}

		rev := fds[0].Revents
		if rev&unix.POLLNVAL != 0 {
			logger.Error("PTY master descriptor is no longer valid, relay exiting")
			return
		}
		if rev&unix.POLLPRI != 0 {
			logger.Debug("Exceptional condition on PTY master")
		}
		if rev&(unix.POLLIN|unix.POLLPRI|unix.POLLERR|unix.POLLHUP) == 0 {
			continue
		}

		n, err := unix.Read(b.masterFd, buf)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
			case errors.Is(err, unix.EBADF):
				logger.Error("PTY master closed underneath the relay, exiting")
				return
			default:
				b.readErrors.Add(1)
				logger.WithError(fmt.Errorf("%w: %w", ErrRead, err)).Warn("Read from PTY master failed")
			}
			continue
		}
		if n == 0 {
			continue
		}
		b.handleChunk(logger, buf[:n])
	}
}

// handleChunk splits off the packet byte, snapshots the terminal attributes
// and hands the result to the listener.
func (b *Bridge) handleChunk(logger *logrus.Entry, chunk []byte) {
	b.reads.Add(1)

	control := PacketData
	payload := chunk
	if b.opts.PacketMode {
		control = PacketControl(chunk[0])
		payload = chunk[1:]
	}
	b.bytesRead.Add(uint64(len(payload)))

	attrs, err := ReadAttributes(b.masterFd)
	if err != nil {
		logger.WithError(err).Warn("Failed to read terminal attributes, reporting zero flags")
	}
	build := newSerialData
	if bind := b.binding.Load(); bind != nil {
		build = bind.newData
	}
	data := build(control, payload, attrs)

	if b.logger.IsLevelEnabled(logrus.DebugLevel) {
		logger.WithFields(logrus.Fields{
			"packet":   control.String(),
			"bytes":    len(data.Data),
			"baudrate": data.Baudrate,
			"line":     data.Line.String(),
		}).Debug("Relayed chunk from PTY master")
	}

	if b.queue != nil {
		overwrites, err := b.queue.push(data)
		if err != nil {
			logger.WithError(err).Error("Failed to queue chunk for delivery")
			return
		}
		if overwrites > 0 {
			b.queueOverwrites.Add(uint64(overwrites))
			logger.WithField("overwritten", overwrites).Warn("Delivery queue full, dropped oldest chunks")
		}
		return
	}
	b.deliver(logger, data)
}

// deliver invokes the listener, attaching the current thread to the host
// runtime when needed. Failures are logged and counted, never returned.
func (b *Bridge) deliver(logger *logrus.Entry, data *SerialData) {
	bind := b.binding.Load()
	if bind == nil {
		b.undelivered.Add(1)
		logger.Debug("No listener registered, chunk not delivered")
		return
	}

	if !b.runtime.Attached() {
		if err := b.runtime.Attach(); err != nil {
			b.listenerFailures.Add(1)
			logger.WithError(err).Error("Failed to attach relay thread to listener runtime")
			return
		}
		defer func() {
			if err := b.runtime.Detach(); err != nil {
				logger.WithError(err).Warn("Failed to detach relay thread from listener runtime")
			}
		}()
	}

	alive, err := invoke(bind, data)
	switch {
	case err != nil:
		b.listenerFailures.Add(1)
		logger.WithError(err).WithField("listener", bind.name).Error("Listener failed, relay continues")
	case !alive:
		b.undelivered.Add(1)
		logger.WithField("listener", bind.name).Debug("Listener was garbage collected, chunk not delivered")
	default:
		b.deliveries.Add(1)
	}
}

func invoke(bind *binding, data *SerialData) (alive bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			alive = true
			err = fmt.Errorf("%w: panic: %v", ErrListener, r)
		}
	}()
	alive, err = bind.call(data)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrListener, err)
	}
	return alive, err
}

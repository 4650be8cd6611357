// Package ptyio allocates pseudo-terminal pairs and publishes the slave side
// under a stable filesystem path so that external processes can find it
// without any IPC.
//
// # Basic Usage
//
//	pair, err := ptyio.Allocate(&ptyio.AllocateOptions{Logger: logger})
//	if err != nil {
//	    return err // wraps ptyio.ErrAllocation
//	}
//	defer pair.Close()
//
//	// pair.SlavePath -> "/dev/pts/X"
//	if err := pair.Publish("/data/data/com.octo4a/files/serialpipe"); err != nil {
//	    return err
//	}
//	defer pair.Unpublish()
//
// Terminal attributes, window size and raw mode requested through
// AllocateOptions are applied to the slave right after it is opened. Failures
// applying them do not fail the allocation; they are logged and collected in
// Pair.SetupErrors.
package ptyio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var (
	// ErrAllocation is returned (wrapped) when the pseudo-terminal pair cannot be created.
	ErrAllocation = errors.New("pty allocation failed")

	// ErrPublish is returned (wrapped) when the slave symlink cannot be created.
	ErrPublish = errors.New("pty slave publication failed")
)

// AllocateOptions configures the slave side of a new pair.
// Zero values leave the kernel defaults untouched.
type AllocateOptions struct {
	Termios *unix.Termios  // Applied with TCSETSF (flush, then set)
	Winsize *pty.Winsize   // Applied with TIOCSWINSZ
	Raw     bool           // Put the slave in raw mode before Termios is applied
	Logger  *logrus.Logger // Optional logger (nil = no-op logger)
}

// Pair is an open master/slave pseudo-terminal pair.
// Both descriptors stay open until Close.
type Pair struct {
	Master    *os.File
	Slave     *os.File
	SlavePath string

	// SetupErrors holds the non-fatal failures that happened while applying
	// AllocateOptions to the slave. Empty when every requested setting stuck.
	SetupErrors []error

	logger    *logrus.Logger
	mu        sync.Mutex
	symlink   string
	closeOnce sync.Once
	closeErr  error
}

// noopLogger is a shared logger instance that discards all output.
var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Allocate opens the multiplexer device, grants and unlocks the slave,
// resolves its path and opens it.
//
// pty.Open closes the master itself when the slave cannot be opened, so a
// failed Allocate never leaks a descriptor.
func Allocate(opts *AllocateOptions) (*Pair, error) {
	if opts == nil {
		opts = &AllocateOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w (check permissions and available PTY devices): %w", ErrAllocation, err)
	}

	p := &Pair{
		Master:    master,
		Slave:     slave,
		SlavePath: slave.Name(),
		logger:    logger,
	}

	p.SetupErrors = applySlaveSettings(slave, opts)
	for _, setupErr := range p.SetupErrors {
		logger.WithError(setupErr).WithField("tty", p.SlavePath).Warn("Ignoring failure while configuring PTY slave")
	}

	logger.WithField("tty", p.SlavePath).Debug("Allocated PTY pair")
	return p, nil
}

func applySlaveSettings(slave *os.File, opts *AllocateOptions) []error {
	var errs []error
	fd := int(slave.Fd())

	if opts.Raw {
		if _, err := term.MakeRaw(fd); err != nil {
			errs = append(errs, fmt.Errorf("set raw mode: %w", err))
		}
	}
	if opts.Termios != nil {
		if err := unix.IoctlSetTermios(fd, unix.TCSETSF, opts.Termios); err != nil {
			errs = append(errs, fmt.Errorf("set terminal attributes: %w", err))
		}
	}
	if opts.Winsize != nil {
		if err := pty.Setsize(slave, opts.Winsize); err != nil {
			errs = append(errs, fmt.Errorf("set window size: %w", err))
		}
	}
	return errs
}

// EnablePacketMode turns on TIOCPKT on the master. Every subsequent read from
// the master starts with a status byte.
func (p *Pair) EnablePacketMode() error {
	if err := unix.IoctlSetPointerInt(int(p.Master.Fd()), unix.TIOCPKT, 1); err != nil {
		return fmt.Errorf("enable packet mode on %s: %w", p.SlavePath, err)
	}
	return nil
}

// Publish points symlinkPath at the slave device, replacing whatever entry
// was there before.
func (p *Pair) Publish(symlinkPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(symlinkPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove stale %s: %w", ErrPublish, symlinkPath, err)
	}
	if err := os.Symlink(p.SlavePath, symlinkPath); err != nil {
		return fmt.Errorf("%w: symlink %s -> %s: %w", ErrPublish, symlinkPath, p.SlavePath, err)
	}
	p.symlink = symlinkPath

	p.logger.WithFields(logrus.Fields{
		"ttySymlink": symlinkPath,
		"target":     p.SlavePath,
	}).Info("Created PTY symlink")
	return nil
}

// Symlink returns the published path, empty if the pair is not published.
func (p *Pair) Symlink() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.symlink
}

// Unpublish removes the symlink created by Publish. The link is left alone
// when it has since been repointed at another device.
func (p *Pair) Unpublish() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.symlink == "" {
		return nil
	}
	path := p.symlink
	p.symlink = ""

	target, err := os.Readlink(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read symlink %s: %w", path, err)
	}
	if target != p.SlavePath {
		p.logger.WithFields(logrus.Fields{
			"ttySymlink": path,
			"target":     target,
		}).Debug("Symlink repointed elsewhere, leaving it")
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove symlink %s: %w", path, err)
	}
	p.logger.WithField("ttySymlink", path).Debug("Removed tty symlink")
	return nil
}

// Close closes both descriptors. Safe to call more than once.
func (p *Pair) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.Master.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PTY(ptmx): %w", err))
		}
		if err := p.Slave.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PTY(tty): %w", err))
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

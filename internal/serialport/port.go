// Package serialport drives the downstream serial device that the bridged
// PTY stands in for.
//
// A Forwarder registered as the bridge listener opens the device, keeps its
// line settings in step with whatever the PTY client configured, queues
// relayed payloads for the device and pipes device output back into the
// bridge.
package serialport

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/srg/vspty/bridge"
	"github.com/srg/vspty/internal/ioctlshim"
	"golang.org/x/sys/unix"
)

// ErrUnsupportedBaud is returned (wrapped) by Configure for rates <= 0.
var ErrUnsupportedBaud = errors.New("unsupported baud rate")

// Port is an open tty device in raw mode.
type Port struct {
	f    *os.File
	fd   int
	path string

	mu       sync.Mutex
	baudrate int
	line     bridge.LineSettings
}

// Open opens path without making it the controlling terminal. The
// descriptor stays non-blocking so reads are served by the runtime poller
// and Close unblocks them.
func Open(path string) (*Port, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open serial device %s: %w", path, err)
	}
	return &Port{
		f:    os.NewFile(uintptr(fd), path),
		fd:   fd,
		path: path,
	}, nil
}

// Configure switches the port to raw mode with the given speed and framing.
// Standard rates go through TCSETS; anything else is set as a custom divisor
// (BOTHER) through TCSETS2.
func (p *Port) Configure(baudrate int, line bridge.LineSettings) error {
	if baudrate <= 0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaud, baudrate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get attributes of %s: %w", p.path, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CBAUD
	t.Cflag |= unix.CLOCAL | unix.CREAD | line.Cflag()
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	request := uint(unix.TCSETS)
	if code, ok := bridge.SpeedCode(baudrate); ok {
		t.Cflag |= code
	} else {
		t.Cflag |= unix.BOTHER
		request = ioctlshim.RequestCustomBaudSet
	}
	t.Ispeed = uint32(baudrate)
	t.Ospeed = uint32(baudrate)

	if err := unix.IoctlSetTermios(p.fd, request, t); err != nil {
		return fmt.Errorf("set %d %s on %s: %w", baudrate, line, p.path, err)
	}
	p.baudrate = baudrate
	p.line = line
	return nil
}

// Settings returns the last applied speed and framing.
func (p *Port) Settings() (int, bridge.LineSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baudrate, p.line
}

// Path returns the device path.
func (p *Port) Path() string {
	return p.path
}

func (p *Port) Read(b []byte) (int, error) {
	return p.f.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

// Close releases the device.
func (p *Port) Close() error {
	return p.f.Close()
}

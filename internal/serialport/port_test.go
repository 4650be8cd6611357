package serialport

import (
	"testing"

	"github.com/srg/vspty/bridge"
	"github.com/srg/vspty/internal/ptyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// openPTYPort stands a PTY slave in for a USB serial adapter.
func openPTYPort(t *testing.T) (*Port, *ptyio.Pair) {
	t.Helper()
	pair, err := ptyio.Allocate(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pair.Close() })

	port, err := Open(pair.SlavePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = port.Close() })
	return port, pair
}

func TestPort_ConfigureStandardRate(t *testing.T) {
	port, pair := openPTYPort(t)

	line := bridge.LineSettings{DataBits: 8, StopBits: 2, Parity: bridge.ParityNone}
	require.NoError(t, port.Configure(115200, line))

	got, err := unix.IoctlGetTermios(int(pair.Slave.Fd()), unix.TCGETS)
	require.NoError(t, err)
	assert.Equal(t, uint32(unix.B115200), got.Cflag&unix.CBAUD)
	// A PTY stands in for the adapter and forces CS8 without parity, so only
	// the stop bits are checked here.
	assert.Equal(t, 2, bridge.DecodeLine(got.Cflag).StopBits)
	assert.Zero(t, got.Lflag&unix.ICANON, "port MUST be raw")
	assert.Zero(t, got.Oflag&unix.OPOST)

	baud, applied := port.Settings()
	assert.Equal(t, 115200, baud)
	assert.Equal(t, line, applied)
}

func TestPort_ConfigureCustomRate(t *testing.T) {
	port, pair := openPTYPort(t)

	require.NoError(t, port.Configure(bridge.SentinelBaudrate, bridge.DefaultLineSettings))

	got, err := unix.IoctlGetTermios(int(pair.Slave.Fd()), unix.TCGETS)
	require.NoError(t, err)
	assert.Equal(t, uint32(unix.BOTHER), got.Cflag&unix.CBAUD, "nonstandard rates MUST use a custom divisor")
}

func TestPort_ConfigureRejectsNonPositiveRate(t *testing.T) {
	port, _ := openPTYPort(t)

	assert.ErrorIs(t, port.Configure(0, bridge.DefaultLineSettings), ErrUnsupportedBaud)
	assert.ErrorIs(t, port.Configure(-9600, bridge.DefaultLineSettings), ErrUnsupportedBaud)
}

func TestPort_WriteReachesOtherEnd(t *testing.T) {
	port, pair := openPTYPort(t)
	require.NoError(t, port.Configure(9600, bridge.DefaultLineSettings))

	_, err := port.Write([]byte("G28\n"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := pair.Master.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "G28\n", string(buf[:n]))
	assert.Equal(t, pair.SlavePath, port.Path())
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open("/dev/does-not-exist-vspty")
	assert.Error(t, err)
}

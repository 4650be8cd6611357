package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBaudrate_StandardTable(t *testing.T) {
	tests := []struct {
		code uint32
		rate int
	}{
		{unix.B0, 0},
		{unix.B50, 50},
		{unix.B300, 300},
		{unix.B9600, 9600},
		{unix.B19200, 19200},
		{unix.B38400, 38400},
		{unix.B57600, 57600},
		{unix.B115200, 115200},
		{unix.B230400, 230400},
		{unix.B460800, 460800},
		{unix.B921600, 921600},
		{unix.B1000000, 1000000},
		{unix.B4000000, 4000000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.rate, Baudrate(tt.code), "code %#o", tt.code)
	}
}

func TestBaudrate_UnknownCodesYieldSentinel(t *testing.T) {
	for _, code := range []uint32{unix.BOTHER, 0x1010, 0xffff, 12345} {
		assert.Equal(t, SentinelBaudrate, Baudrate(code), "code %#x", code)
	}
	assert.Equal(t, 250000, SentinelBaudrate)
}

func TestSpeeds_AscendingAndRoundTrip(t *testing.T) {
	speeds := Speeds()
	require.Len(t, speeds, 31)

	for i, sp := range speeds {
		if i > 0 {
			assert.Greater(t, sp.Baudrate, speeds[i-1].Baudrate)
		}
		assert.Equal(t, sp.Baudrate, Baudrate(sp.Code))

		code, ok := SpeedCode(sp.Baudrate)
		require.True(t, ok)
		assert.Equal(t, sp.Code, code)
	}

	_, ok := SpeedCode(SentinelBaudrate)
	assert.False(t, ok, "the sentinel is not a standard rate")
}

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name  string
		cflag uint32
		want  LineSettings
		str   string
	}{
		{name: "8N1", cflag: unix.CS8 | unix.CREAD, want: LineSettings{8, 1, ParityNone}, str: "8N1"},
		{name: "7E1", cflag: unix.CS7 | unix.PARENB, want: LineSettings{7, 1, ParityEven}, str: "7E1"},
		{name: "7O2", cflag: unix.CS7 | unix.PARENB | unix.PARODD | unix.CSTOPB, want: LineSettings{7, 2, ParityOdd}, str: "7O2"},
		{name: "7E2", cflag: unix.CS7 | unix.PARENB | unix.CSTOPB, want: LineSettings{7, 2, ParityEven}, str: "7E2"},
		{name: "5N1", cflag: unix.CS5, want: LineSettings{5, 1, ParityNone}, str: "5N1"},
		{name: "6N2", cflag: unix.CS6 | unix.CSTOPB, want: LineSettings{6, 2, ParityNone}, str: "6N2"},
		{name: "PARODD without PARENB", cflag: unix.CS8 | unix.PARODD, want: LineSettings{8, 1, ParityNone}, str: "8N1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeLine(tt.cflag | unix.B9600)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, got.String())
			assert.Equal(t, got, DecodeLine(got.Cflag()))
		})
	}
}

func TestParity_String(t *testing.T) {
	assert.Equal(t, "none", ParityNone.String())
	assert.Equal(t, "odd", ParityOdd.String())
	assert.Equal(t, "even", ParityEven.String())
}

func TestAttributes_Derived(t *testing.T) {
	a := Attributes{ControlFlags: unix.CS7 | unix.PARENB | unix.B115200, Speed: unix.B115200}
	assert.Equal(t, 115200, a.Baudrate())
	assert.Equal(t, "7E1", a.Line().String())

	assert.Equal(t, SentinelBaudrate, Attributes{Speed: unix.BOTHER}.Baudrate())
}

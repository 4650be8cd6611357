package bridge

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sys/unix"
)

// SentinelBaudrate is reported for every speed code outside the standard
// table, BOTHER (custom divisor) included. Hosts treat it as "custom baud".
const SentinelBaudrate = 250000

// speedTable maps termios speed codes (c_cflag & CBAUD) to rates, ascending.
var speedTable = func() *orderedmap.OrderedMap[uint32, int] {
	m := orderedmap.New[uint32, int]()
	for _, s := range []Speed{
		{unix.B0, 0},
		{unix.B50, 50},
		{unix.B75, 75},
		{unix.B110, 110},
		{unix.B134, 134},
		{unix.B150, 150},
		{unix.B200, 200},
		{unix.B300, 300},
		{unix.B600, 600},
		{unix.B1200, 1200},
		{unix.B1800, 1800},
		{unix.B2400, 2400},
		{unix.B4800, 4800},
		{unix.B9600, 9600},
		{unix.B19200, 19200},
		{unix.B38400, 38400},
		{unix.B57600, 57600},
		{unix.B115200, 115200},
		{unix.B230400, 230400},
		{unix.B460800, 460800},
		{unix.B500000, 500000},
		{unix.B576000, 576000},
		{unix.B921600, 921600},
		{unix.B1000000, 1000000},
		{unix.B1152000, 1152000},
		{unix.B1500000, 1500000},
		{unix.B2000000, 2000000},
		{unix.B2500000, 2500000},
		{unix.B3000000, 3000000},
		{unix.B3500000, 3500000},
		{unix.B4000000, 4000000},
	} {
		m.Set(s.Code, s.Baudrate)
	}
	return m
}()

// Speed pairs a termios speed code with its rate in bits per second.
type Speed struct {
	Code     uint32
	Baudrate int
}

// Baudrate converts a raw speed code into bits per second.
// Unknown codes yield SentinelBaudrate, never zero and never an error.
func Baudrate(code uint32) int {
	if rate, ok := speedTable.Get(code); ok {
		return rate
	}
	return SentinelBaudrate
}

// SpeedCode is the inverse of Baudrate for standard rates.
func SpeedCode(baudrate int) (uint32, bool) {
	for pair := speedTable.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == baudrate {
			return pair.Key, true
		}
	}
	return 0, false
}

// Speeds lists the standard table in ascending order.
func Speeds() []Speed {
	speeds := make([]Speed, 0, speedTable.Len())
	for pair := speedTable.Oldest(); pair != nil; pair = pair.Next() {
		speeds = append(speeds, Speed{Code: pair.Key, Baudrate: pair.Value})
	}
	return speeds
}

// Parity of a serial line.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return "none"
	}
}

func (p Parity) letter() byte {
	switch p {
	case ParityOdd:
		return 'O'
	case ParityEven:
		return 'E'
	default:
		return 'N'
	}
}

// LineSettings is the framing part of c_cflag.
type LineSettings struct {
	DataBits int
	StopBits int
	Parity   Parity
}

// DefaultLineSettings is 8N1.
var DefaultLineSettings = LineSettings{DataBits: 8, StopBits: 1, Parity: ParityNone}

// DecodeLine extracts data bits, stop bits and parity from c_cflag.
func DecodeLine(cflag uint32) LineSettings {
	l := DefaultLineSettings
	switch cflag & unix.CSIZE {
	case unix.CS5:
		l.DataBits = 5
	case unix.CS6:
		l.DataBits = 6
	case unix.CS7:
		l.DataBits = 7
	}
	if cflag&unix.CSTOPB != 0 {
		l.StopBits = 2
	}
	if cflag&unix.PARENB != 0 {
		l.Parity = ParityEven
		if cflag&unix.PARODD != 0 {
			l.Parity = ParityOdd
		}
	}
	return l
}

// Cflag encodes l back into c_cflag framing bits (CSIZE, CSTOPB, PARENB, PARODD).
func (l LineSettings) Cflag() uint32 {
	var cflag uint32
	switch l.DataBits {
	case 5:
		cflag |= unix.CS5
	case 6:
		cflag |= unix.CS6
	case 7:
		cflag |= unix.CS7
	default:
		cflag |= unix.CS8
	}
	if l.StopBits == 2 {
		cflag |= unix.CSTOPB
	}
	switch l.Parity {
	case ParityOdd:
		cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		cflag |= unix.PARENB
	}
	return cflag
}

// String renders the usual shorthand, e.g. "8N1".
func (l LineSettings) String() string {
	return fmt.Sprintf("%d%c%d", l.DataBits, l.Parity.letter(), l.StopBits)
}

// Attributes is a termios snapshot taken from the master after a read.
type Attributes struct {
	InputFlags   uint32
	OutputFlags  uint32
	ControlFlags uint32
	LocalFlags   uint32
	Speed        uint32 // c_cflag & CBAUD
}

// ReadAttributes queries the terminal attributes of fd. On a PTY master the
// kernel answers with the slave's settings.
func ReadAttributes(fd int) (Attributes, error) {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return Attributes{}, fmt.Errorf("tcgetattr: %w", err)
	}
	return Attributes{
		InputFlags:   t.Iflag,
		OutputFlags:  t.Oflag,
		ControlFlags: t.Cflag,
		LocalFlags:   t.Lflag,
		Speed:        t.Cflag & unix.CBAUD,
	}, nil
}

// Baudrate is the rate derived from Speed.
func (a Attributes) Baudrate() int {
	return Baudrate(a.Speed)
}

// Line decodes the framing from ControlFlags.
func (a Attributes) Line() LineSettings {
	return DecodeLine(a.ControlFlags)
}

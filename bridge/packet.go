package bridge

import (
	"fmt"
	"strings"
)

// PacketControl is the status byte that prefixes every master read while
// packet mode (TIOCPKT) is enabled. Values match <linux/tty.h>.
type PacketControl uint8

const (
	PacketData       PacketControl = 0
	PacketFlushRead  PacketControl = 1
	PacketFlushWrite PacketControl = 2
	PacketStop       PacketControl = 4
	PacketStart      PacketControl = 8
	PacketNoStop     PacketControl = 16
	PacketDoStop     PacketControl = 32
	PacketIoctl      PacketControl = 64
)

var packetNames = []struct {
	bit  PacketControl
	name string
}{
	{PacketFlushRead, "FLUSHREAD"},
	{PacketFlushWrite, "FLUSHWRITE"},
	{PacketStop, "STOP"},
	{PacketStart, "START"},
	{PacketNoStop, "NOSTOP"},
	{PacketDoStop, "DOSTOP"},
	{PacketIoctl, "IOCTL"},
}

// IsData reports whether the chunk carries plain data.
func (c PacketControl) IsData() bool {
	return c == PacketData
}

// Has reports whether every bit of flag is set.
func (c PacketControl) Has(flag PacketControl) bool {
	return flag != PacketData && c&flag == flag
}

// Flags lists the names of the set bits, "DATA" for a data packet.
func (c PacketControl) Flags() []string {
	if c.IsData() {
		return []string{"DATA"}
	}
	var names []string
	for _, p := range packetNames {
		if c&p.bit != 0 {
			names = append(names, p.name)
		}
	}
	if len(names) == 0 {
		return []string{fmt.Sprintf("0x%02x", uint8(c))}
	}
	return names
}

func (c PacketControl) String() string {
	return strings.Join(c.Flags(), "|")
}

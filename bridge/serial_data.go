package bridge

// SerialData is what the listener receives for every master read.
type SerialData struct {
	Control PacketControl // zero when packet mode is off
	Data    []byte        // payload without the packet byte, owned by the listener

	Baudrate     int    // derived from Speed, SentinelBaudrate for custom rates
	Speed        uint32 // raw c_cflag & CBAUD
	InputFlags   uint32
	OutputFlags  uint32
	ControlFlags uint32
	LocalFlags   uint32
	Line         LineSettings
}

// newSerialData copies payload so the relay can reuse its read buffer.
func newSerialData(control PacketControl, payload []byte, attrs Attributes) *SerialData {
	data := make([]byte, len(payload))
	copy(data, payload)
	return &SerialData{
		Control:      control,
		Data:         data,
		Baudrate:     attrs.Baudrate(),
		Speed:        attrs.Speed,
		InputFlags:   attrs.InputFlags,
		OutputFlags:  attrs.OutputFlags,
		ControlFlags: attrs.ControlFlags,
		LocalFlags:   attrs.LocalFlags,
		Line:         attrs.Line(),
	}
}

// IsStart reports whether the slave side (re)opened the line: serial clients
// flush pending input on open, which reaches the master as FLUSHREAD, and a
// resumed output shows up as START.
func (d *SerialData) IsStart() bool {
	return d.Control.Has(PacketFlushRead) || d.Control.Has(PacketStart)
}

// HasPayload reports whether the chunk carries bytes beyond the packet byte.
func (d *SerialData) HasPayload() bool {
	return len(d.Data) > 0
}

package peal

// Raw MIDI status bytes. For channel messages the low nibble carries the
// channel, so only the high nibble is compared; the system real-time statuses
// occupy the full byte.
const (
	MIDINoteOff           byte = 0x80
	MIDINoteOn            byte = 0x90
	MIDIPolyAftertouch    byte = 0xA0
	MIDIControlChange     byte = 0xB0
	MIDIProgramChange     byte = 0xC0
	MIDIChannelAftertouch byte = 0xD0
	MIDIPitchBend         byte = 0xE0

	MIDIClock    byte = 0xF8
	MIDIStart    byte = 0xFA
	MIDIContinue byte = 0xFB
	MIDIStop     byte = 0xFC
)

// EventHandler receives classified MIDI events together with the timestamp
// they were routed with. Handle implements EventHandler; custom handlers are
// mainly useful in tests and adapters.
type EventHandler interface {
	// Sync receives the system real-time messages (clock, start, continue,
	// stop). They carry no channel and no data bytes.
	Sync(time float64, status byte)
	// Data1 receives the channel messages with one data byte (program
	// change, channel aftertouch).
	Data1(time float64, status, channel, data byte)
	// Data2 receives the channel messages with two data bytes: note on/off,
	// control change, pitch bend and friends. This is the path that gates
	// voices.
	Data2(time float64, status, channel, data1, data2 byte)
}

// Route classifies a raw 3-byte MIDI message and forwards it to h. The status
// nibble is never right-shifted: message type and channel are masked out of
// the same byte independently, so handlers see status bytes with the channel
// bits zeroed (0x90, 0xB0, ...), the way DSP-side MIDI tables expect them.
//
// The timestamp is in samples relative to the start of the next compute
// block; NoPendingEvents means the event has no intra-block position and is
// applied at the block start.
func Route(h EventHandler, time float64, bytes [3]byte) {
	switch bytes[0] {
	case MIDIClock, MIDIStart, MIDIContinue, MIDIStop:
		h.Sync(time, bytes[0])
		return
	}
	status := bytes[0] & 0xF0
	channel := bytes[0] & 0x0F
	switch status {
	case MIDIProgramChange, MIDIChannelAftertouch:
		h.Data1(time, status, channel, bytes[1])
	default:
		h.Data2(time, status, channel, bytes[1], bytes[2])
	}
}

// RouteSync forwards a bare transport/clock status to h. Equivalent to
// Route with a one-byte message.
func RouteSync(h EventHandler, time float64, status byte) {
	h.Sync(time, status)
}

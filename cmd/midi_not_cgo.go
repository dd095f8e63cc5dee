//go:build !cgo

package cmd

func NewMidiContext() MidiContext {
	// with no cgo, we cannot use MIDI, so return a null context
	return NullMidiContext{}
}

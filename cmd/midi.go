package cmd

import "github.com/pealaudio/peal"

// MidiContext abstracts the MIDI input backend so commands build with or
// without cgo.
type MidiContext interface {
	TryToOpenBy(namePrefix string, takeFirst bool)
	Drain(h peal.EventHandler)
	Close()
}

type NullMidiContext struct{}

func (NullMidiContext) TryToOpenBy(string, bool) {}
func (NullMidiContext) Drain(peal.EventHandler) {}
func (NullMidiContext) Close() {}

//go:build cgo

package cmd

import (
	"github.com/pealaudio/peal/gomidi"
)

func NewMidiContext() MidiContext {
	return gomidi.NewContext()
}

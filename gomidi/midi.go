package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pealaudio/peal"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

type (
	// Context owns the rtmidi driver and at most one open input port.
	// Incoming messages are buffered on a channel and handed to the runtime
	// in Drain, so the rtmidi callback never touches an instance directly.
	Context struct {
		driver    *rtmididrv.Driver
		currentIn drivers.In
		events    chan midi.Message
	}

	Device struct {
		context *Context
		in      drivers.In
	}
)

// NewContext opens the rtmidi driver. A nil driver just means no MIDI on
// this system; the context stays usable and Drain is a no-op.
func NewContext() *Context {
	c := &Context{events: make(chan midi.Message, 1024)}
	c.driver, _ = rtmididrv.New()
	return c
}

func (c *Context) InputDevices(yield func(Device) bool) {
	if c.driver == nil {
		return
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return
	}
	for _, in := range ins {
		if !yield(Device{context: c, in: in}) {
			break
		}
	}
}

// TryToOpenBy opens the first input whose name starts with namePrefix, or
// just the first input when takeFirst is set. Failure to find or open one is
// not an error worth stopping for; the runtime works fine without MIDI.
func (c *Context) TryToOpenBy(namePrefix string, takeFirst bool) {
	if namePrefix == "" && !takeFirst {
		return
	}
	for device := range c.InputDevices {
		if takeFirst || strings.HasPrefix(device.String(), namePrefix) {
			device.Open()
			return
		}
	}
}

// Open the input device, closing the currently open one if necessary.
func (d Device) Open() error {
	if d.context.currentIn == d.in {
		return nil
	}
	if d.context.driver == nil {
		return errors.New("no driver available")
	}
	if d.context.HasDeviceOpen() {
		d.context.currentIn.Close()
	}
	d.context.currentIn = d.in
	if err := d.in.Open(); err != nil {
		d.context.currentIn = nil
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	_, err := midi.ListenTo(d.in, d.context.handleMessage)
	if err != nil {
		d.in.Close()
		d.context.currentIn = nil
	}
	return err
}

func (d Device) String() string {
	return d.in.String()
}

func (c *Context) HasDeviceOpen() bool {
	return c.currentIn != nil && c.currentIn.IsOpen()
}

func (c *Context) handleMessage(msg midi.Message, timestampms int32) {
	select {
	case c.events <- msg: // if the channel is full, just drop the message
	default:
	}
}

// Drain routes every buffered message to h, stamped for block-start
// application. Call it right before computing a block, serialized against
// the compute context.
func (c *Context) Drain(h peal.EventHandler) {
	for {
		select {
		case msg := <-c.events:
			var bytes [3]byte
			copy(bytes[:], msg)
			peal.Route(h, peal.NoPendingEvents, bytes)
		default:
			return
		}
	}
}

func (c *Context) Close() {
	if c.driver == nil {
		return
	}
	if c.currentIn != nil && c.currentIn.IsOpen() {
		c.currentIn.Close()
	}
	c.driver.Close()
}

package peal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

type (
	// Registry tracks the Handles attached to live Instances. It is the one
	// place in the package that takes a lock: attachment, detachment and the
	// polling entry points run under it, while the per-instance compute path
	// stays lock-free.
	Registry struct {
		mu          sync.Mutex
		handles     map[*Handle]struct{}
		lastPlaying bool
	}

	// Handle is one attachment of an external surface (UI, MIDI source, or
	// both) to an Instance. It translates classified MIDI events into the
	// instance's timed event stream and remembers which zones are bound to
	// which controller numbers. A Handle must be closed before its Instance.
	Handle struct {
		reg    *Registry
		inst   *Instance
		sink   ZoneSink
		tree   []Widget
		leaves []leafState

		ctrl  map[byte][]binding
		bend  []binding
		clock []*toggleState
		start []*Zone
		stop  []*Zone
	}

	leafState struct {
		zone   *Zone
		last   float32
		pushed bool
	}

	// binding maps an external 7- or 14-bit value onto a zone's declared
	// range.
	binding struct {
		zone *Zone
		min  float32
		max  float32
	}

	toggleState struct {
		zone *Zone
		on   bool
	}
)

func NewRegistry() *Registry {
	return &Registry{handles: make(map[*Handle]struct{})}
}

// Attach runs the declaration pass of inst once, forwarding every widget and
// metadata declaration to the caller's sinks, and returns a Handle wired up
// with the MIDI bindings the pass declared. Either sink may be nil; a
// Registry with only nil-sink attachments, or none at all, is valid and all
// polling entry points stay safe no-ops. If decl also implements ZoneSink,
// RefreshAll will push zone changes through it.
//
// Recognized "midi" metadata values are "ctrl N", "pitchwheel", "clock",
// "start" and "stop". Anything else is ignored, matching the advisory nature
// of metadata.
func (r *Registry) Attach(inst *Instance, decl DeclSink, meta MetaSink) (*Handle, error) {
	h := &Handle{reg: r, inst: inst, ctrl: make(map[byte][]binding)}
	if zs, ok := decl.(ZoneSink); ok {
		h.sink = zs
	}
	tee := &declTee{decl: decl, meta: meta}
	inst.BuildControls(tee, tee)
	tree, err := tee.builder.Build()
	if err != nil {
		return nil, fmt.Errorf("declaration pass: %w", err)
	}
	h.tree = tree
	collectLeaves(tree, &h.leaves)
	h.bind(tee.midi)
	r.mu.Lock()
	r.handles[h] = struct{}{}
	r.mu.Unlock()
	return h, nil
}

// RefreshAll polls every attached handle's leaf zones and pushes the values
// that changed since the previous call to the handle's ZoneSink. This is the
// passive-widget path (meters, bargraphs): the compute context writes zones,
// the UI context polls them here at its own cadence.
func (r *Registry) RefreshAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h := range r.handles {
		h.refresh()
	}
}

// SyncTransport derives MIDI transport messages from host timeline state and
// routes them to every attached handle: a start or stop edge when playing
// flips, and while playing, one clock pulse per 24th of a quarter note,
// timestamped at its sample offset within the upcoming block of the given
// length. posSamples is the timeline position of the block start.
func (r *Registry) SyncTransport(playing bool, tempo float64, posSamples int64, frames int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	started := playing && !r.lastPlaying
	stopped := !playing && r.lastPlaying
	r.lastPlaying = playing
	for h := range r.handles {
		if started {
			h.Sync(0, MIDIStart)
		}
		if stopped {
			h.Sync(0, MIDIStop)
		}
		if !playing || tempo <= 0 {
			continue
		}
		period := float64(h.inst.sampleRate) * 60 / (tempo * 24)
		for n := math.Ceil(float64(posSamples) / period); ; n++ {
			offset := n*period - float64(posSamples)
			if offset >= float64(frames) {
				break
			}
			h.Sync(offset, MIDIClock)
		}
	}
}

// Close detaches the handle: bindings are dropped and the handle stops
// receiving refreshes and transport sync. The underlying Instance is left
// running. Closing twice is harmless.
func (h *Handle) Close() {
	h.reg.mu.Lock()
	delete(h.reg.handles, h)
	h.reg.mu.Unlock()
	h.ctrl, h.bend, h.clock, h.start, h.stop = nil, nil, nil, nil, nil
	h.leaves = nil
}

// Widgets returns the control-surface tree built during Attach, for zone
// snapshotting and custom UI layouts.
func (h *Handle) Widgets() []Widget { return h.tree }

// Sync implements EventHandler for the system real-time messages. Clock
// pulses flip clock-bound zones between 0 and 1, start sets start-bound
// zones to 1, stop sets stop-bound zones to 0.
func (h *Handle) Sync(time float64, status byte) {
	frame := frameOf(time)
	switch status {
	case MIDIClock:
		for _, t := range h.clock {
			t.on = !t.on
			h.inst.SetZoneAt(frame, t.zone, boolToFloat(t.on))
		}
	case MIDIStart, MIDIContinue:
		for _, z := range h.start {
			h.inst.SetZoneAt(frame, z, 1)
		}
	case MIDIStop:
		for _, z := range h.stop {
			h.inst.SetZoneAt(frame, z, 0)
		}
	}
}

// Data1 implements EventHandler. Program change and channel aftertouch have
// no binding targets here, so they are dropped.
func (h *Handle) Data1(time float64, status, channel, data byte) {}

// Data2 implements EventHandler: the note gating and controller automation
// path.
func (h *Handle) Data2(time float64, status, channel, data1, data2 byte) {
	frame := frameOf(time)
	switch status {
	case MIDINoteOn:
		if data2 == 0 {
			h.inst.NoteOffAt(frame, data1)
			return
		}
		h.inst.NoteOnAt(frame, data1, data2)
	case MIDINoteOff:
		h.inst.NoteOffAt(frame, data1)
	case MIDIControlChange:
		for _, b := range h.ctrl[data1] {
			h.inst.SetZoneAt(frame, b.zone, b.scale7(data2))
		}
	case MIDIPitchBend:
		for _, b := range h.bend {
			h.inst.SetZoneAt(frame, b.zone, b.scale14(uint16(data2)<<7|uint16(data1)))
		}
	}
}

func (h *Handle) refresh() {
	if h.sink == nil {
		return
	}
	for i := range h.leaves {
		l := &h.leaves[i]
		if v := l.zone.Value(); !l.pushed || v != l.last {
			l.last, l.pushed = v, true
			h.sink.ZoneChanged(l.zone, v)
		}
	}
}

// bind resolves the "midi" metadata triples recorded during the declaration
// pass against the leaf ranges of the built tree.
func (h *Handle) bind(midi []zoneMeta) {
	ranges := make(map[*Zone][2]float32, len(h.leaves))
	collectRanges(h.tree, ranges)
	for _, m := range midi {
		if m.zone == nil {
			continue
		}
		rng := ranges[m.zone]
		b := binding{zone: m.zone, min: rng[0], max: rng[1]}
		switch {
		case strings.HasPrefix(m.value, "ctrl "):
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(m.value, "ctrl "))); err == nil && n >= 0 && n < 128 {
				h.ctrl[byte(n)] = append(h.ctrl[byte(n)], b)
			}
		case m.value == "pitchwheel":
			h.bend = append(h.bend, b)
		case m.value == "clock":
			h.clock = append(h.clock, &toggleState{zone: m.zone})
		case m.value == "start":
			h.start = append(h.start, m.zone)
		case m.value == "stop":
			h.stop = append(h.stop, m.zone)
		}
	}
}

func (b binding) scale7(v byte) float32 {
	return b.min + (b.max-b.min)*float32(v)/127
}

func (b binding) scale14(v uint16) float32 {
	return b.min + (b.max-b.min)*float32(v)/16383
}

func frameOf(time float64) int {
	if time < 0 {
		return 0
	}
	return int(time)
}

func boolToFloat(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

func collectLeaves(widgets []Widget, out *[]leafState) {
	for _, w := range widgets {
		if w.Kind.IsGroup() {
			collectLeaves(w.Children, out)
		} else if w.Zone != nil {
			*out = append(*out, leafState{zone: w.Zone})
		}
	}
}

func collectRanges(widgets []Widget, out map[*Zone][2]float32) {
	for _, w := range widgets {
		if w.Kind.IsGroup() {
			collectRanges(w.Children, out)
		} else if w.Zone != nil {
			min, max := w.Min, w.Max
			if w.Kind == Button || w.Kind == CheckButton {
				min, max = 0, 1
			}
			out[w.Zone] = [2]float32{min, max}
		}
	}
}

type (
	// declTee forwards one declaration pass both to the caller's sinks and
	// to the internal recorders Attach needs.
	declTee struct {
		decl    DeclSink
		meta    MetaSink
		builder TreeBuilder
		midi    []zoneMeta
	}

	zoneMeta struct {
		zone  *Zone
		value string
	}
)

func (t *declTee) Declare(label string, decl WidgetDecl) {
	t.builder.Declare(label, decl)
	if t.decl != nil {
		t.decl.Declare(label, decl)
	}
}

func (t *declTee) DeclareMeta(zone *Zone, key, value string) {
	if key == "midi" {
		t.midi = append(t.midi, zoneMeta{zone: zone, value: value})
	}
	if t.meta != nil {
		t.meta.DeclareMeta(zone, key, value)
	}
}

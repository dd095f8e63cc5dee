package peal

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/viterin/vek/vek32"
)

type (
	// Instance is the runtime object stamped out of a Program: it owns a
	// fixed-size pool of voices, mixes their output and advances them in
	// sample-accurate lockstep with the events routed to it. The voice count
	// and gating mode are resolved once, before construction, and are
	// immutable for the whole lifetime of the Instance; only voice activity
	// (held vs. released) changes, per MIDI note.
	//
	// Compute must be called from exactly one real-time execution context.
	// Event delivery (NoteOnAt, NoteOffAt, SetZoneAt, usually via a Handle)
	// may happen from another context; the event list is written without
	// locks, so the caller must not deliver events concurrently with Compute
	// on the same Instance. Structural operations (Clone, Close, attach and
	// detach) must be serialized against the compute context by the caller.
	Instance struct {
		prog       Program
		sampleRate int
		grouped    bool
		gated      bool
		cores      []Core
		voices     []voice
		events     []timedEvent

		// preallocated compute scratch, so Compute never allocates
		inSave  [][]float32
		scratch [][]float32
		views   [][]float32
	}

	voice struct {
		note    byte
		sustain bool
		age     int // samples since last trigger or release
		tail    int // gated mode: release tail samples still worth computing
	}

	timedEvent struct {
		frame    int
		kind     eventKind
		note     byte
		velocity byte
		zone     *Zone
		value    float32
	}

	eventKind int
)

const (
	eventNoteOn eventKind = iota
	eventNoteOff
	eventZoneSet
)

// NoPendingEvents is the sentinel timestamp meaning "no intra-block position
// for this event, treat it as already resolved": the event is applied at the
// start of the next compute block.
const NoPendingEvents float64 = -1

// maxBlockFrames bounds the span of a single mixing pass; larger Compute
// calls are processed in chunks of this size against the preallocated
// scratch buffers.
const maxBlockFrames = 8192

// releaseTailSeconds is how long a gated voice keeps computing after its note
// is released, so that envelope releases ring out before the voice goes
// silent.
const releaseTailSeconds = 1

// NewInstance creates an Instance of prog running at the given sample rate.
//
// requestedVoices selects the voice policy:
//
//	-1  resolve from program metadata: a throwaway single-voice probe is
//	    instantiated, its declared "options" metadata is searched for an
//	    [nvoices:N] hint and the probe is discarded. Without a hint this
//	    falls through to the 0 case.
//	0   the program is an effect: exactly one voice, always active,
//	    not gated by MIDI notes.
//	N>0 the program is an instrument with N voices, each independently
//	    triggered and released by MIDI note events.
//
// Note that an effect program given an explicit N>0 gets its processing
// chain replicated N times behind note gating, and therefore emits silence
// whenever no MIDI note is held. That is a documented quirk of the voice
// model, kept as is; use 0 or -1 for effects.
//
// groupVoices selects the mixing topology, orthogonal to gating: grouped
// voices all sum onto one output bus (Info reports the program's channel
// count); ungrouped voices each keep their own block of output channels.
func NewInstance(prog Program, sampleRate, requestedVoices int, groupVoices bool) (*Instance, error) {
	if requestedVoices < -1 {
		return nil, fmt.Errorf("requested voice count %v out of range", requestedVoices)
	}
	numVoices, gated := resolveVoiceCount(prog, sampleRate, requestedVoices)
	return newInstance(prog, sampleRate, numVoices, gated, groupVoices), nil
}

func resolveVoiceCount(prog Program, sampleRate, requested int) (numVoices int, gated bool) {
	if requested == -1 {
		probe := prog.NewCore(sampleRate)
		var mc metaCollector
		probe.BuildControls(discardDecls{}, &mc)
		requested = mc.voiceHint()
	}
	if requested == 0 {
		return 1, false
	}
	return requested, true
}

func newInstance(prog Program, sampleRate, numVoices int, gated, grouped bool) *Instance {
	inst := &Instance{
		prog:       prog,
		sampleRate: sampleRate,
		grouped:    grouped,
		gated:      gated,
		cores:      make([]Core, numVoices),
		voices:     make([]voice, numVoices),
	}
	inst.cores[0] = prog.NewCore(sampleRate)
	for i := 1; i < numVoices; i++ {
		inst.cores[i] = inst.cores[0].Fork()
	}
	numChans := max(prog.NumInputs(), prog.NumOutputs())
	inst.inSave = makeChannels(prog.NumInputs())
	inst.scratch = makeChannels(numChans)
	inst.views = make([][]float32, numChans)
	return inst
}

func makeChannels(n int) [][]float32 {
	chans := make([][]float32, n)
	for i := range chans {
		chans[i] = make([]float32, maxBlockFrames)
	}
	return chans
}

// Info returns the static description of the instance. With ungrouped
// voices each voice keeps its own block of output channels, so NumOutputs is
// the per-voice channel count times the voice count.
func (inst *Instance) Info() Info {
	numOutputs := inst.prog.NumOutputs()
	if !inst.grouped {
		numOutputs *= len(inst.voices)
	}
	return Info{
		SampleRate: inst.sampleRate,
		NumInputs:  inst.prog.NumInputs(),
		NumOutputs: numOutputs,
	}
}

// NumVoices returns the resolved, immutable voice count.
func (inst *Instance) NumVoices() int { return len(inst.voices) }

// AlwaysActive reports whether the instance runs in effect mode: a single
// voice that computes continuously, regardless of note events.
func (inst *Instance) AlwaysActive() bool { return !inst.gated }

// Clone produces an independent Instance with identical configuration
// (program, sample rate, resolved voice count, gating, mixing topology) and
// fresh runtime state. Used to spin up more instances without recompiling
// the program.
func (inst *Instance) Clone() *Instance {
	return newInstance(inst.prog, inst.sampleRate, len(inst.voices), inst.gated, inst.grouped)
}

// Close clears the pending event state and releases the voice pool. It must
// run after any Handle attached to the instance has been detached, and
// before the owning Program is closed; that ordering is the caller's
// contract.
func (inst *Instance) Close() error {
	inst.events = nil
	for i, c := range inst.cores {
		c.Reset()
		inst.cores[i] = nil
	}
	inst.cores = nil
	inst.voices = nil
	return nil
}

// BuildControls runs the single declaration pass over the instance's control
// surface, in the order the program declares its controls: group open,
// children, group close. All voices share the declared zones, so the pass is
// run once regardless of the voice count.
func (inst *Instance) BuildControls(d DeclSink, m MetaSink) {
	inst.cores[0].BuildControls(d, m)
}

// NoteOnAt schedules a note-on at the given sample offset within the next
// compute block. In effect mode (always-active voice) note events are
// ignored. A negative frame is block-start.
func (inst *Instance) NoteOnAt(frame int, note, velocity byte) {
	inst.events = append(inst.events, timedEvent{frame: max(frame, 0), kind: eventNoteOn, note: note, velocity: velocity})
}

// NoteOffAt schedules the release of the voice holding note.
func (inst *Instance) NoteOffAt(frame int, note byte) {
	inst.events = append(inst.events, timedEvent{frame: max(frame, 0), kind: eventNoteOff, note: note})
}

// SetZoneAt schedules a control write to be applied at the given sample
// offset of the next compute block, instead of immediately; this is what
// keeps externally driven automation sample-accurate.
func (inst *Instance) SetZoneAt(frame int, zone *Zone, value float32) {
	inst.events = append(inst.events, timedEvent{frame: max(frame, 0), kind: eventZoneSet, zone: zone, value: value})
}

// Compute advances every voice by frames samples, in place: buf holds the
// input channels on entry and the mixed output on return, and callers must
// not assume the input is preserved. Pending events are applied at their
// exact intra-block sample offsets; events stamped at or before the end of
// the previous block are applied immediately at offset 0. Compute never
// allocates, locks or performs I/O. Buffer arity matching Info is a caller
// precondition, not checked here.
func (inst *Instance) Compute(frames int, buf [][]float32) {
	slices.SortStableFunc(inst.events, func(a, b timedEvent) int { return a.frame - b.frame })
	idx, offset := 0, 0
	for offset < frames {
		for idx < len(inst.events) && inst.events[idx].frame <= offset {
			inst.apply(inst.events[idx])
			idx++
		}
		segEnd := frames
		if idx < len(inst.events) && inst.events[idx].frame < segEnd {
			segEnd = inst.events[idx].frame
		}
		if segEnd > offset+maxBlockFrames {
			segEnd = offset + maxBlockFrames
		}
		inst.computeSegment(offset, segEnd-offset, buf)
		offset = segEnd
	}
	// events beyond this block carry over, rebased to the next block
	n := copy(inst.events, inst.events[idx:])
	inst.events = inst.events[:n]
	for i := range inst.events {
		inst.events[i].frame -= frames
		if inst.events[i].frame < 0 {
			inst.events[i].frame = 0
		}
	}
}

func (inst *Instance) apply(ev timedEvent) {
	switch ev.kind {
	case eventNoteOn:
		inst.trigger(ev.note, ev.velocity)
	case eventNoteOff:
		inst.release(ev.note)
	case eventZoneSet:
		if ev.zone != nil {
			ev.zone.Set(ev.value)
		}
	}
}

// trigger picks the voice to (re)allocate: a released voice is preferred
// over one still playing, and among equals the one longest since its last
// event wins.
func (inst *Instance) trigger(note, velocity byte) {
	if !inst.gated {
		return
	}
	oldest, oldestReleased, age := 0, false, -1
	for i, v := range inst.voices {
		if (!v.sustain && !oldestReleased) ||
			(!v.sustain == oldestReleased && v.age >= age) {
			oldest = i
			oldestReleased = !v.sustain
			age = v.age
		}
	}
	inst.voices[oldest] = voice{note: note, sustain: true, tail: releaseTailSeconds * inst.sampleRate}
	inst.cores[oldest].NoteOn(note, velocity)
}

func (inst *Instance) release(note byte) {
	if !inst.gated {
		return
	}
	for i := range inst.voices {
		if inst.voices[i].sustain && inst.voices[i].note == note {
			inst.voices[i].sustain = false
			inst.voices[i].age = 0
			inst.cores[i].NoteOff()
			return
		}
	}
}

func (inst *Instance) active(i int) bool {
	if !inst.gated {
		return true
	}
	return inst.voices[i].sustain || inst.voices[i].tail > 0
}

func (inst *Instance) computeSegment(offset, n int, buf [][]float32) {
	if n <= 0 {
		return
	}
	numIn, numOut := inst.prog.NumInputs(), inst.prog.NumOutputs()
	for ch := 0; ch < numIn; ch++ {
		copy(inst.inSave[ch][:n], buf[ch][offset:offset+n])
	}
	if inst.grouped {
		for ch := 0; ch < numOut; ch++ {
			clear(buf[ch][offset : offset+n])
		}
	}
	for i, core := range inst.cores {
		if !inst.active(i) {
			if !inst.grouped {
				for ch := 0; ch < numOut; ch++ {
					clear(buf[i*numOut+ch][offset : offset+n])
				}
			}
			inst.advance(i, n)
			continue
		}
		for ch := range inst.views {
			inst.views[ch] = inst.scratch[ch][:n]
			if ch < numIn {
				copy(inst.views[ch], inst.inSave[ch][:n])
			} else {
				clear(inst.views[ch])
			}
		}
		core.Compute(n, inst.views)
		if inst.grouped {
			for ch := 0; ch < numOut; ch++ {
				vek32.Add_Inplace(buf[ch][offset:offset+n], inst.views[ch])
			}
		} else {
			for ch := 0; ch < numOut; ch++ {
				copy(buf[i*numOut+ch][offset:offset+n], inst.views[ch])
			}
		}
		inst.advance(i, n)
	}
}

func (inst *Instance) advance(i, n int) {
	inst.voices[i].age += n
	if inst.gated && !inst.voices[i].sustain && inst.voices[i].tail > 0 {
		inst.voices[i].tail -= n
	}
}

type discardDecls struct{}

func (discardDecls) Declare(string, WidgetDecl) {}

// metaCollector gathers program-level metadata during the voice-count probe.
type metaCollector struct {
	options []string
}

func (m *metaCollector) DeclareMeta(zone *Zone, key, value string) {
	if zone == nil && key == "options" {
		m.options = append(m.options, value)
	}
}

// voiceHint parses an [nvoices:N] declaration out of the collected options
// metadata; 0 when absent or malformed.
func (m *metaCollector) voiceHint() int {
	for _, opt := range m.options {
		i := strings.Index(opt, "[nvoices:")
		if i < 0 {
			continue
		}
		rest := opt[i+len("[nvoices:"):]
		j := strings.IndexByte(rest, ']')
		if j < 0 {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(rest[:j])); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

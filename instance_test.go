package peal_test

import (
	"testing"

	"github.com/pealaudio/peal"
	"github.com/pealaudio/peal/vm"
)

const sampleRate = 44100

const effectPatch = `
name: drone
units:
  - {type: oscillator, label: osc, params: {amp: 1, shape: 2, freq: 110}}
  - {type: gain, label: vol, params: {level: 1}}
  - {type: out, label: main}
controls:
  - {kind: hslider, label: level, target: vol.level, init: 1, min: 0, max: 1, step: 0.01}
`

const instrumentPatch = `
name: pluck
units:
  - {type: oscillator, label: osc, params: {amp: 1, shape: 2, track: 1}}
  - {type: envelope, label: env, params: {attack: 0, decay: 0.1, sustain: 1, release: 0}}
  - {type: out, label: main}
`

const hintedPatch = `
name: poly
voices: 4
units:
  - {type: oscillator, label: osc, params: {amp: 1, shape: 2, track: 1}}
  - {type: envelope, label: env, params: {attack: 0, decay: 0.1, sustain: 1, release: 0}}
  - {type: out, label: main}
`

const throughPatch = `
name: halver
units:
  - {type: in, label: input}
  - {type: gain, label: vol, params: {level: 0.5}}
  - {type: out, label: main}
`

func compileProgram(t *testing.T, source string) peal.Program {
	t.Helper()
	patch, err := vm.ParsePatch([]byte(source))
	if err != nil {
		t.Fatalf("parsing patch failed: %v", err)
	}
	prog, err := vm.NewProgram(patch)
	if err != nil {
		t.Fatalf("building program failed: %v", err)
	}
	return prog
}

func computeBlock(inst *peal.Instance, frames int) [][]float32 {
	buf := make([][]float32, inst.Info().NumOutputs)
	for ch := range buf {
		buf[ch] = make([]float32, frames)
	}
	inst.Compute(frames, buf)
	return buf
}

func allZero(samples []float32) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}

type discardMeta struct{}

func (discardMeta) DeclareMeta(*peal.Zone, string, string) {}

func TestEffectModeAlwaysActive(t *testing.T) {
	prog := compileProgram(t, effectPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, 0, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	if inst.NumVoices() != 1 || !inst.AlwaysActive() {
		t.Fatalf("expected 1 always-active voice, got %v voices, always active %v", inst.NumVoices(), inst.AlwaysActive())
	}
	if buf := computeBlock(inst, 256); allZero(buf[0]) {
		t.Errorf("effect produced silence without any note held")
	}
}

func TestGatedVoicesSilentUntilNoteOn(t *testing.T) {
	prog := compileProgram(t, instrumentPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, 2, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	if buf := computeBlock(inst, 256); !allZero(buf[0]) {
		t.Fatalf("instrument produced sound before any note on")
	}
	inst.NoteOnAt(0, 69, 127)
	if buf := computeBlock(inst, 256); allZero(buf[0]) {
		t.Fatalf("instrument silent while a note is held")
	}
	inst.NoteOffAt(0, 69)
	computeBlock(inst, 2*sampleRate) // past the release tail
	if buf := computeBlock(inst, 256); !allZero(buf[0]) {
		t.Errorf("instrument still sounding after release")
	}
}

// A program with no gated units still goes behind note gating when an
// explicit positive voice count is requested, so it emits silence with no
// note held. That asymmetry with the 0 case is deliberate.
func TestEffectWithExplicitVoicesIsGated(t *testing.T) {
	prog := compileProgram(t, effectPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, 3, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	if inst.AlwaysActive() {
		t.Fatalf("explicit voice count should gate the voices")
	}
	if buf := computeBlock(inst, 256); !allZero(buf[0]) {
		t.Fatalf("gated effect produced sound before any note on")
	}
	inst.NoteOnAt(0, 60, 127)
	if buf := computeBlock(inst, 256); allZero(buf[0]) {
		t.Errorf("gated effect silent while a note is held")
	}
}

func TestVoiceCountFromMetadata(t *testing.T) {
	prog := compileProgram(t, hintedPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, -1, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	if inst.NumVoices() != 4 || inst.AlwaysActive() {
		t.Errorf("expected 4 gated voices from metadata, got %v voices, always active %v", inst.NumVoices(), inst.AlwaysActive())
	}
}

func TestVoiceCountWithoutHintFallsBackToEffect(t *testing.T) {
	prog := compileProgram(t, instrumentPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, -1, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	if inst.NumVoices() != 1 || !inst.AlwaysActive() {
		t.Errorf("expected the effect fallback, got %v voices, always active %v", inst.NumVoices(), inst.AlwaysActive())
	}
}

func TestUngroupedVoicesKeepSeparateChannels(t *testing.T) {
	prog := compileProgram(t, instrumentPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, 2, false)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	if got := inst.Info().NumOutputs; got != 2 {
		t.Fatalf("expected 2 output channels for 2 ungrouped voices, got %v", got)
	}
	inst.NoteOnAt(0, 60, 127)
	inst.NoteOnAt(0, 64, 127)
	buf := computeBlock(inst, 256)
	if allZero(buf[0]) || allZero(buf[1]) {
		t.Errorf("both voices should sound on their own channels")
	}
}

func TestSampleAccurateNoteOn(t *testing.T) {
	prog := compileProgram(t, instrumentPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, 1, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	inst.NoteOnAt(64, 69, 127)
	buf := computeBlock(inst, 128)
	if !allZero(buf[0][:64]) {
		t.Errorf("output before the note-on offset should be silent")
	}
	if buf[0][64] != 1 {
		t.Errorf("expected full-scale square at the note-on offset, got %v", buf[0][64])
	}
}

func TestSampleAccurateZoneSet(t *testing.T) {
	prog := compileProgram(t, effectPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, 0, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	var b peal.TreeBuilder
	inst.BuildControls(&b, discardMeta{})
	tree, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	level := tree[0].Children[0].Zone
	if level == nil {
		t.Fatalf("level control has no zone")
	}
	level.Set(0)
	inst.SetZoneAt(32, level, 1)
	buf := computeBlock(inst, 64)
	if !allZero(buf[0][:32]) {
		t.Errorf("output before the zone write should be silent")
	}
	if allZero(buf[0][32:]) {
		t.Errorf("output after the zone write should be audible")
	}
}

func TestEventsCarryOverBlocks(t *testing.T) {
	prog := compileProgram(t, instrumentPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, 1, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	inst.NoteOnAt(100, 69, 127)
	if buf := computeBlock(inst, 64); !allZero(buf[0]) {
		t.Fatalf("note-on beyond the block should not sound yet")
	}
	buf := computeBlock(inst, 64)
	if !allZero(buf[0][:36]) || buf[0][36] != 1 {
		t.Errorf("note-on should fire at the carried-over offset")
	}
}

// Programs are compiled for in-place computation: the buffers given to
// Compute serve as both input and output, and the result must match a
// caller-managed copy-out/copy-in round trip.
func TestInPlaceComputeMatchesCopy(t *testing.T) {
	prog := compileProgram(t, throughPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, 0, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	if info := inst.Info(); info.NumInputs != 1 || info.NumOutputs != 1 {
		t.Fatalf("expected a 1-in 1-out instance, got %v in %v out", info.NumInputs, info.NumOutputs)
	}
	input := make([]float32, 128)
	for i := range input {
		input[i] = float32(i) / 128
	}
	inPlace := make([]float32, len(input))
	copy(inPlace, input)
	inst.Compute(128, [][]float32{inPlace})

	clone := inst.Clone()
	defer clone.Close()
	scratch := make([]float32, len(input))
	copy(scratch, input)
	clone.Compute(128, [][]float32{scratch})
	copied := make([]float32, len(input))
	copy(copied, scratch)

	for i := range input {
		if inPlace[i] != copied[i] {
			t.Fatalf("in-place and copied results differ at %v: %v vs %v", i, inPlace[i], copied[i])
		}
		if inPlace[i] != input[i]*0.5 {
			t.Fatalf("expected the input halved at %v: got %v for input %v", i, inPlace[i], input[i])
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	prog := compileProgram(t, instrumentPatch)
	defer prog.Close()
	inst, err := peal.NewInstance(prog, sampleRate, 2, true)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer inst.Close()
	clone := inst.Clone()
	defer clone.Close()
	if clone.NumVoices() != 2 || clone.AlwaysActive() {
		t.Fatalf("clone configuration differs from the original")
	}
	inst.NoteOnAt(0, 60, 127)
	computeBlock(inst, 64)
	if buf := computeBlock(clone, 64); !allZero(buf[0]) {
		t.Errorf("a note on the original should not sound on the clone")
	}
}

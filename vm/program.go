package vm

import (
	"fmt"
	"math"

	"github.com/pealaudio/peal"
)

type (
	// Program is a validated patch ready to stamp out cores. It implements
	// peal.Program; the interpretation itself lives in core.
	Program struct {
		patch  Patch
		numIn  int
		numOut int
	}

	// core interprets the unit chain one voice at a time. All cores forked
	// from the same first core share one zone table, so control writes reach
	// every voice; everything else is per-voice state.
	core struct {
		prog       *Program
		sampleRate int
		zones      []paramZones
		units      []unitState

		note     byte
		noteFreq float32
		velocity float32
	}

	paramZones map[string]*peal.Zone

	unitState struct {
		phase    float64
		env      float32
		envStage int
		filt     float32
		rand     uint32
	}
)

const (
	envIdle = iota
	envAttack
	envDecay
	envSustain
	envRelease
)

// NewProgram validates the patch: every unit type must be known, there must
// be an out unit, and every control target must resolve to a unit. The
// returned Program is immutable.
func NewProgram(patch Patch) (*Program, error) {
	hasOut, hasPan, hasIn := false, false, false
	for _, u := range patch.Units {
		switch u.Type {
		case UnitIn:
			hasIn = true
		case UnitOut:
			hasOut = true
		case UnitPan:
			hasPan = true
		case UnitOsc, UnitNoise, UnitEnvelope, UnitFilter, UnitGain, UnitLevel, UnitSampler:
		default:
			return nil, fmt.Errorf("unknown unit type %v", u.Type)
		}
	}
	if !hasOut {
		return nil, fmt.Errorf("patch %v has no out unit", patch.Name)
	}
	if err := checkControls(patch, patch.Controls); err != nil {
		return nil, err
	}
	p := &Program{patch: patch, numOut: 1}
	if hasIn {
		p.numIn = 1
	}
	if hasPan {
		p.numOut = 2
	}
	return p, nil
}

func checkControls(patch Patch, controls []Control) error {
	for _, c := range controls {
		if c.Group != "" {
			if err := checkControls(patch, c.Children); err != nil {
				return err
			}
			continue
		}
		if _, ok := controlKinds[c.Kind]; !ok {
			return fmt.Errorf("control %v: unknown kind %v", c.Label, c.Kind)
		}
		if _, _, err := patch.findParam(c.Target); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) NumInputs() int  { return p.numIn }
func (p *Program) NumOutputs() int { return p.numOut }
func (p *Program) Close() error    { return nil }

func (p *Program) NewCore(sampleRate int) peal.Core {
	c := &core{
		prog:       p,
		sampleRate: sampleRate,
		zones:      make([]paramZones, len(p.patch.Units)),
		units:      make([]unitState, len(p.patch.Units)),
		velocity:   1,
	}
	for i, u := range p.patch.Units {
		c.zones[i] = make(paramZones, len(u.Params))
		for name, value := range u.Params {
			z := &peal.Zone{}
			z.Set(value)
			c.zones[i][name] = z
		}
		if u.Type == UnitLevel {
			c.ensureZone(i, "value", 0)
		}
	}
	c.initControlZones(p.patch.Controls)
	c.resetUnits()
	return c
}

func (c *core) ensureZone(unit int, param string, init float32) *peal.Zone {
	if z, ok := c.zones[unit][param]; ok {
		return z
	}
	z := &peal.Zone{}
	z.Set(init)
	c.zones[unit][param] = z
	return z
}

// initControlZones applies the declared control inits, creating zones for
// targets the unit did not list as a parameter. Runs once per zone table, at
// first-core creation, never at declaration time; re-attaching a UI must not
// wipe live control state.
func (c *core) initControlZones(controls []Control) {
	for _, ctl := range controls {
		if ctl.Group != "" {
			c.initControlZones(ctl.Children)
			continue
		}
		u, param, err := c.prog.patch.findParam(ctl.Target)
		if err != nil {
			continue
		}
		c.ensureZone(u, param, ctl.Init).Set(ctl.Init)
	}
}

func (c *core) Fork() peal.Core {
	f := &core{
		prog:       c.prog,
		sampleRate: c.sampleRate,
		zones:      c.zones,
		units:      make([]unitState, len(c.units)),
		velocity:   1,
	}
	f.resetUnits()
	return f
}

func (c *core) Reset() {
	c.note, c.noteFreq, c.velocity = 0, 0, 1
	c.resetUnits()
}

func (c *core) resetUnits() {
	for i := range c.units {
		c.units[i] = unitState{rand: uint32(i)*2654435769 + 1}
	}
}

func (c *core) NoteOn(note, velocity byte) {
	c.note = note
	c.noteFreq = float32(440 * math.Pow(2, (float64(note)-69)/12))
	c.velocity = float32(velocity) / 127
	for i, u := range c.prog.patch.Units {
		if u.Type == UnitEnvelope {
			c.units[i].envStage = envAttack
		}
	}
}

func (c *core) NoteOff() {
	for i, u := range c.prog.patch.Units {
		if u.Type == UnitEnvelope && c.units[i].envStage != envIdle {
			c.units[i].envStage = envRelease
		}
	}
}

func (c *core) Compute(frames int, buf [][]float32) {
	dt := float32(1) / float32(c.sampleRate)
	for i := 0; i < frames; i++ {
		var sig, left, right float32
		for u := range c.prog.patch.Units {
			unit := &c.prog.patch.Units[u]
			state := &c.units[u]
			z := c.zones[u]
			switch unit.Type {
			case UnitIn:
				if c.prog.numIn > 0 {
					sig += buf[0][i]
				}
			case UnitOsc:
				freq := z.value("freq", 440)
				if z.value("track", 0) > 0.5 {
					freq = c.noteFreq
				}
				sig += z.value("amp", 1) * oscSample(state.phase, z.value("shape", 0))
				state.phase += float64(freq) * float64(dt)
				state.phase -= math.Floor(state.phase)
			case UnitNoise:
				state.rand = state.rand*1664525 + 1013904223
				sig += z.value("amp", 1) * (float32(state.rand)/float32(math.MaxUint32)*2 - 1)
			case UnitEnvelope:
				c.stepEnvelope(state, z, dt)
				sig *= state.env * c.velocity
			case UnitFilter:
				cutoff := z.value("cutoff", 1000)
				g := 1 - float32(math.Exp(-2*math.Pi*float64(cutoff)*float64(dt)))
				state.filt += g * (sig - state.filt)
				sig = state.filt
			case UnitGain:
				sig *= z.value("level", 1)
			case UnitPan:
				pos := z.value("pos", 0.5)
				left, right = sig*(1-pos), sig*pos
			case UnitLevel:
				if z["value"] != nil {
					z["value"].Set(float32(math.Abs(float64(sig))))
				}
			case UnitOut:
				if c.prog.numOut == 2 {
					buf[0][i], buf[1][i] = left, right
				} else {
					buf[0][i] = sig
				}
			}
		}
	}
}

func (c *core) stepEnvelope(state *unitState, z paramZones, dt float32) {
	switch state.envStage {
	case envIdle:
		state.env = 0
	case envAttack:
		state.env += dt / max(z.value("attack", 0.01), dt)
		if state.env >= 1 {
			state.env = 1
			state.envStage = envDecay
		}
	case envDecay:
		sustain := z.value("sustain", 1)
		state.env -= dt * (1 - sustain) / max(z.value("decay", 0.1), dt)
		if state.env <= sustain {
			state.env = sustain
			state.envStage = envSustain
		}
	case envSustain:
		state.env = z.value("sustain", 1)
	case envRelease:
		state.env -= dt / max(z.value("release", 0.1), dt)
		if state.env <= 0 {
			state.env = 0
			state.envStage = envIdle
		}
	}
}

func oscSample(phase float64, shape float32) float32 {
	switch {
	case shape < 0.5: // sine
		return float32(math.Sin(2 * math.Pi * phase))
	case shape < 1.5: // saw
		return float32(2*phase - 1)
	default: // square
		if phase < 0.5 {
			return 1
		}
		return -1
	}
}

func (z paramZones) value(name string, def float32) float32 {
	if zone, ok := z[name]; ok {
		return zone.Value()
	}
	return def
}

var controlKinds = map[string]peal.WidgetKind{
	"button":   peal.Button,
	"checkbox": peal.CheckButton,
	"hslider":  peal.HorizontalSlider,
	"vslider":  peal.VerticalSlider,
	"nentry":   peal.NumEntry,
	"hmeter":   peal.HorizontalMeter,
	"vmeter":   peal.VerticalMeter,
}

var groupKinds = map[string]peal.WidgetKind{
	"t": peal.TabGroupOpen,
	"h": peal.HorizontalGroupOpen,
	"v": peal.VerticalGroupOpen,
}

// BuildControls walks the declared control tree depth first: group open,
// children, group close. The whole surface is wrapped in one vertical group
// named after the patch. Program-level metadata goes first so sinks see the
// polyphony hint before any widget.
func (c *core) BuildControls(d peal.DeclSink, m peal.MetaSink) {
	if c.prog.patch.Voices > 0 {
		m.DeclareMeta(nil, "options", fmt.Sprintf("[nvoices:%d]", c.prog.patch.Voices))
	}
	for _, u := range c.prog.patch.Units {
		if u.Type == UnitSampler {
			m.DeclareMeta(nil, peal.MetaKeyUnsupported, "sampler "+u.Label)
		}
	}
	name := c.prog.patch.Name
	if name == "" {
		name = "patch"
	}
	d.Declare(name, peal.WidgetDecl{Kind: peal.VerticalGroupOpen})
	c.declareControls(d, m, c.prog.patch.Controls)
	d.Declare("", peal.WidgetDecl{Kind: peal.GroupClose})
}

func (c *core) declareControls(d peal.DeclSink, m peal.MetaSink, controls []Control) {
	for _, ctl := range controls {
		if ctl.Group != "" {
			kind, ok := groupKinds[ctl.Group]
			if !ok {
				kind = peal.VerticalGroupOpen
			}
			d.Declare(ctl.Label, peal.WidgetDecl{Kind: kind})
			c.declareControls(d, m, ctl.Children)
			d.Declare("", peal.WidgetDecl{Kind: peal.GroupClose})
			continue
		}
		u, param, err := c.prog.patch.findParam(ctl.Target)
		if err != nil {
			continue
		}
		zone := c.zones[u][param]
		for key, value := range ctl.Meta {
			m.DeclareMeta(zone, key, value)
		}
		d.Declare(ctl.Label, peal.WidgetDecl{
			Kind: controlKinds[ctl.Kind],
			Zone: zone,
			Init: ctl.Init,
			Min:  ctl.Min,
			Max:  ctl.Max,
			Step: ctl.Step,
		})
	}
}

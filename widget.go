package peal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// WidgetKind enumerates everything a declaration pass can emit: the three
	// group openers, the group closer, the active controls and the passive
	// meters.
	WidgetKind int

	// WidgetDecl is one step of a declaration pass. Group open/close steps
	// carry no zone; leaf controls carry the Zone the external UI may poll or
	// write at its own cadence. WidgetDecls are emitted transiently: this
	// package does not retain them after the pass, ownership is with the
	// receiving sink.
	WidgetDecl struct {
		Kind WidgetKind
		Zone *Zone
		Init float32
		Min  float32
		Max  float32
		Step float32
	}

	// DeclSink accepts one widget declaration, synchronously, no return
	// value. It is a capability, not a concrete type: any UI backend
	// implements it.
	DeclSink interface {
		Declare(label string, decl WidgetDecl)
	}

	// MetaSink receives the (zone, key, value) metadata triples declared by
	// the program: units, styling hints, MIDI bindings. Advisory; a minimal
	// UI may ignore all of them. A nil zone means the metadata concerns the
	// program as a whole rather than one control.
	MetaSink interface {
		DeclareMeta(zone *Zone, key, value string)
	}

	// ZoneSink is an optional extension of DeclSink. When the sink given to
	// Registry.Attach implements it, Registry.RefreshAll pushes changed zone
	// values through it.
	ZoneSink interface {
		ZoneChanged(zone *Zone, value float32)
	}
)

const (
	TabGroupOpen WidgetKind = iota
	HorizontalGroupOpen
	VerticalGroupOpen
	GroupClose
	Button
	CheckButton
	HorizontalSlider
	VerticalSlider
	NumEntry
	HorizontalMeter
	VerticalMeter
)

var widgetKindNames = [...]string{"tgroup", "hgroup", "vgroup", "close", "button", "checkbox", "hslider", "vslider", "nentry", "hmeter", "vmeter"}

func (k WidgetKind) String() string {
	if k < 0 || int(k) >= len(widgetKindNames) {
		return "???"
	}
	return widgetKindNames[k]
}

// IsGroup tells whether the kind opens a widget group.
func (k WidgetKind) IsGroup() bool {
	return k == TabGroupOpen || k == HorizontalGroupOpen || k == VerticalGroupOpen
}

// HasZone tells whether declarations of this kind carry a zone reference.
func (k WidgetKind) HasZone() bool {
	return k >= Button && k <= VerticalMeter
}

// MetaKeyUnsupported is the metadata key under which features the runtime
// recognizes but does not implement (soundfile-backed controls) are reported,
// once, at declaration time. The value names the control.
const MetaKeyUnsupported = "unsupported"

type (
	// Widget is one node of a built control-surface tree. Group nodes have
	// children and a nil zone; leaves have a zone and no children.
	Widget struct {
		Kind     WidgetKind
		Label    string
		Zone     *Zone
		Init     float32
		Min      float32
		Max      float32
		Step     float32
		Children []Widget
	}

	// TreeBuilder is a DeclSink that records a declaration pass so it can be
	// rebuilt into a Widget tree. The pass is a stable depth-first walk:
	// open, children, close.
	TreeBuilder struct {
		decls []labeledDecl
	}

	labeledDecl struct {
		label string
		decl  WidgetDecl
	}
)

func (b *TreeBuilder) Declare(label string, decl WidgetDecl) {
	b.decls = append(b.decls, labeledDecl{label: label, decl: decl})
}

// Build consumes the recorded declarations and returns the widget tree.
// Returns an error if group open/close declarations were not balanced.
func (b *TreeBuilder) Build() ([]Widget, error) {
	var tree []Widget
	_, closed, err := buildLevel(b.decls, &tree)
	if err != nil {
		return nil, err
	}
	if closed {
		return nil, errors.New("group closed that was never opened")
	}
	b.decls = b.decls[:0]
	return tree, nil
}

// buildLevel consumes declarations into level until the stream runs dry
// (closed = false) or a close declaration ends the level (closed = true).
// Only the outermost level may legally run dry.
func buildLevel(decls []labeledDecl, level *[]Widget) (rest []labeledDecl, closed bool, err error) {
	for len(decls) > 0 {
		d := decls[0]
		decls = decls[1:]
		if d.decl.Kind == GroupClose {
			return decls, true, nil
		}
		w := Widget{
			Kind:  d.decl.Kind,
			Label: d.label,
			Zone:  d.decl.Zone,
			Init:  d.decl.Init,
			Min:   d.decl.Min,
			Max:   d.decl.Max,
			Step:  d.decl.Step,
		}
		if d.decl.Kind.IsGroup() {
			var sub bool
			decls, sub, err = buildLevel(decls, &w.Children)
			if err != nil {
				return nil, false, err
			}
			if !sub {
				return nil, false, errors.New("group was never closed")
			}
		}
		*level = append(*level, w)
	}
	return nil, false, nil
}

// WriteZones serializes the current zone values of the tree into a
// path => value map. Paths are the slash-joined labels from the root, the
// same scheme used by LoadZones.
func WriteZones(widgets []Widget) map[string]string {
	m := make(map[string]string)
	writeZonesRec(nil, widgets, m)
	return m
}

func writeZonesRec(path []string, widgets []Widget, m map[string]string) {
	for _, w := range widgets {
		path = append(path, w.Label)
		if w.Kind.IsGroup() {
			writeZonesRec(path, w.Children, m)
		} else if w.Zone != nil {
			m[strings.Join(path, "/")] = strconv.FormatFloat(float64(w.Zone.Value()), 'g', -1, 32)
		}
		path = path[:len(path)-1]
	}
}

// LoadZones overrides the zone values of the tree from a path => value map.
// All leaves are visited even when some fail; the returned error lists the
// paths that were missing from the map and the values that did not parse.
func LoadZones(widgets []Widget, m map[string]string) error {
	var missing, unparsable []string
	loadZonesRec(nil, widgets, m, &missing, &unparsable)
	if len(missing) == 0 && len(unparsable) == 0 {
		return nil
	}
	return fmt.Errorf("stored zone state is invalid: missing paths %v, unparsable values at %v", missing, unparsable)
}

func loadZonesRec(path []string, widgets []Widget, m map[string]string, missing, unparsable *[]string) {
	for _, w := range widgets {
		path = append(path, w.Label)
		if w.Kind.IsGroup() {
			loadZonesRec(path, w.Children, m, missing, unparsable)
		} else if w.Zone != nil {
			p := strings.Join(path, "/")
			if s, ok := m[p]; !ok {
				*missing = append(*missing, p)
			} else if v, err := strconv.ParseFloat(s, 32); err != nil {
				*unparsable = append(*unparsable, p)
			} else {
				w.Zone.Set(float32(v))
			}
		}
		path = path[:len(path)-1]
	}
}

// MarshalZones and UnmarshalZones are the yaml spellings of WriteZones and
// LoadZones, for snapshotting a control surface to disk.
func MarshalZones(widgets []Widget) ([]byte, error) {
	return yaml.Marshal(WriteZones(widgets))
}

func UnmarshalZones(widgets []Widget, data []byte) error {
	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("unmarshaling zone state: %w", err)
	}
	return LoadZones(widgets, m)
}

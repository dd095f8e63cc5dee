package vm

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type (
	// Patch is the source form of a program: a chain of units processed in
	// order over a signal bus, plus the declared control surface. Patches are
	// stored as yaml.
	Patch struct {
		Name string `yaml:"name,omitempty"`
		// Voices is the polyphony hint the patch author baked in; it shows
		// up in the program metadata as an [nvoices:N] option. Zero means
		// no hint.
		Voices   int       `yaml:"voices,omitempty"`
		Imports  []string  `yaml:"imports,omitempty"`
		Units    []Unit    `yaml:"units,omitempty"`
		Controls []Control `yaml:"controls,omitempty"`
	}

	// Unit is one processing stage. Every numeric parameter becomes an
	// addressable control cell, reachable from Controls as "label.param".
	Unit struct {
		Type   string             `yaml:"type"`
		Label  string             `yaml:"label,omitempty"`
		Params map[string]float32 `yaml:"params,omitempty"`
	}

	// Control is one node of the declared control surface: either a group
	// (Group set, Children nested) or a leaf targeting a unit parameter.
	Control struct {
		Group    string            `yaml:"group,omitempty"`
		Kind     string            `yaml:"kind,omitempty"`
		Label    string            `yaml:"label"`
		Target   string            `yaml:"target,omitempty"`
		Init     float32           `yaml:"init,omitempty"`
		Min      float32           `yaml:"min,omitempty"`
		Max      float32           `yaml:"max,omitempty"`
		Step     float32           `yaml:"step,omitempty"`
		Meta     map[string]string `yaml:"meta,omitempty"`
		Children []Control         `yaml:"children,omitempty"`
	}
)

// Unit types understood by the interpreter. A patch may also name "sampler",
// which is parsed but not interpreted; instances report it through the
// unsupported-feature metadata channel instead of failing.
const (
	UnitIn       = "in"
	UnitOut      = "out"
	UnitOsc      = "oscillator"
	UnitNoise    = "noise"
	UnitEnvelope = "envelope"
	UnitFilter   = "filter"
	UnitGain     = "gain"
	UnitPan      = "pan"
	UnitLevel    = "level"
	UnitSampler  = "sampler"
)

func ParsePatch(data []byte) (Patch, error) {
	var p Patch
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Patch{}, fmt.Errorf("parsing patch: %w", err)
	}
	return p, nil
}

// resolveImports loads every imported patch, searching the import
// directories in order, and prepends the imported units to p's own. Imports
// resolve recursively; a cycle is reported as an error rather than looping.
func (p Patch) resolveImports(importDirs []string, seen map[string]bool) (Patch, error) {
	if seen == nil {
		seen = make(map[string]bool)
	}
	var units []Unit
	for _, imp := range p.Imports {
		path, err := findImport(imp, importDirs)
		if err != nil {
			return Patch{}, err
		}
		if seen[path] {
			return Patch{}, fmt.Errorf("import cycle through %v", path)
		}
		seen[path] = true
		data, err := os.ReadFile(path)
		if err != nil {
			return Patch{}, fmt.Errorf("reading import %v: %w", imp, err)
		}
		sub, err := ParsePatch(data)
		if err != nil {
			return Patch{}, fmt.Errorf("import %v: %w", imp, err)
		}
		sub, err = sub.resolveImports(importDirs, seen)
		if err != nil {
			return Patch{}, err
		}
		units = append(units, sub.Units...)
	}
	p.Units = append(units, p.Units...)
	p.Imports = nil
	return p, nil
}

func findImport(name string, importDirs []string) (string, error) {
	for _, dir := range importDirs {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("import %v not found in %v", name, importDirs)
}

// target addressing for controls: "unitlabel.param"
func (p Patch) findParam(target string) (unitIndex int, param string, err error) {
	for i := len(target) - 1; i >= 0; i-- {
		if target[i] == '.' {
			label, param := target[:i], target[i+1:]
			for u, unit := range p.Units {
				if unit.Label == label {
					return u, param, nil
				}
			}
			return 0, "", fmt.Errorf("control target %v: no unit labeled %v", target, label)
		}
	}
	return 0, "", fmt.Errorf("control target %v is not of the form unit.param", target)
}

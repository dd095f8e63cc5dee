package vm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pealaudio/peal"
	"gopkg.in/yaml.v3"
)

// Compiler turns yaml patch files into Programs. It implements
// peal.Compiler, honoring the canonical argument conventions: -I adds an
// import search directory, --in-place is accepted and trivially true since
// the interpreter always computes in place. Unknown arguments are an error,
// so that conventions added later fail loudly instead of silently changing
// meaning.
type Compiler struct{}

const programFile = "program.yml"

func (Compiler) Compile(path string, args []string) (peal.Program, error) {
	var importDirs []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--in-place":
		case "-I":
			i++
			if i == len(args) {
				return nil, fmt.Errorf("-I is missing its directory")
			}
			importDirs = append(importDirs, args[i])
		default:
			return nil, fmt.Errorf("unknown compiler argument %v", args[i])
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patch: %w", err)
	}
	patch, err := ParsePatch(data)
	if err != nil {
		return nil, err
	}
	patch, err = patch.resolveImports(importDirs, nil)
	if err != nil {
		return nil, err
	}
	return NewProgram(patch)
}

// Save writes the compiled (import-resolved) form of p into dir. Together
// with Load this is what makes programs cacheable on disk.
func (Compiler) Save(p peal.Program, dir string) error {
	prog, ok := p.(*Program)
	if !ok {
		return fmt.Errorf("program was not produced by this compiler")
	}
	data, err := yaml.Marshal(prog.patch)
	if err != nil {
		return fmt.Errorf("marshaling patch: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, programFile), data, 0o644); err != nil {
		return fmt.Errorf("writing saved program: %w", err)
	}
	return nil
}

func (Compiler) Load(dir string) (peal.Program, error) {
	data, err := os.ReadFile(filepath.Join(dir, programFile))
	if err != nil {
		return nil, fmt.Errorf("reading saved program: %w", err)
	}
	patch, err := ParsePatch(data)
	if err != nil {
		return nil, err
	}
	return NewProgram(patch)
}

package peal_test

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pealaudio/peal"
)

type spyCompiler struct {
	paths []string
	args  [][]string
	fail  error
	prog  peal.Program
}

func (c *spyCompiler) Compile(path string, args []string) (peal.Program, error) {
	c.paths = append(c.paths, path)
	c.args = append(c.args, args)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.prog, nil
}

func (c *spyCompiler) Save(p peal.Program, dir string) error { return nil }

func (c *spyCompiler) Load(dir string) (peal.Program, error) { return c.prog, nil }

func TestCompileArgs(t *testing.T) {
	args := peal.CompileArgs(filepath.Join("sounds", "organ.yml"), []string{"lib", "morelib"})
	expected := []string{"--in-place", "-I", "sounds", "-I", "lib", "-I", "morelib"}
	if !reflect.DeepEqual(args, expected) {
		t.Errorf("got %v, expected %v", args, expected)
	}
}

func TestLoadProgramPassesArgs(t *testing.T) {
	spy := &spyCompiler{prog: compileProgram(t, effectPatch)}
	defer spy.prog.Close()
	if _, err := peal.LoadProgram(spy, "dir/organ.yml", []string{"lib"}); err != nil {
		t.Fatalf("LoadProgram failed: %v", err)
	}
	if len(spy.paths) != 1 || spy.paths[0] != "dir/organ.yml" {
		t.Errorf("unexpected paths: %v", spy.paths)
	}
	if !reflect.DeepEqual(spy.args[0], peal.CompileArgs("dir/organ.yml", []string{"lib"})) {
		t.Errorf("unexpected args: %v", spy.args[0])
	}
}

func TestCompileErrorTruncation(t *testing.T) {
	spy := &spyCompiler{fail: errors.New(strings.Repeat("x", 5000))}
	_, err := peal.LoadProgram(spy, "broken.yml", nil)
	if err == nil {
		t.Fatalf("expected an error")
	}
	var ce *peal.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a CompileError, got %T", err)
	}
	if ce.Path != "broken.yml" {
		t.Errorf("unexpected path %v", ce.Path)
	}
	if len(ce.Message) != 4096 {
		t.Errorf("expected the message truncated to 4096 bytes, got %v", len(ce.Message))
	}
}

package peal

import (
	"fmt"
	"path/filepath"
)

// maxErrorLen bounds the compiler diagnostics kept in a CompileError. The
// buffer the diagnostics cross is fixed-size, so anything past this is cut.
const maxErrorLen = 4096

// CompileError is the failure of turning one source file into a Program. Its
// Message is the compiler's own diagnostics, truncated to maxErrorLen bytes.
type CompileError struct {
	Path    string
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling %v: %v", e.Path, e.Message)
}

func newCompileError(path string, err error) *CompileError {
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return &CompileError{Path: path, Message: msg}
}

// LoadProgram compiles the source file at path into a Program, with the
// argument conventions every compiler behind the Compiler interface is
// expected to honor: computation is requested in place (input and output may
// alias the same buffers), and the directory of the source file is always on
// the import path, ahead of the caller's extra import paths.
//
// A compilation failure is returned as a *CompileError.
func LoadProgram(c Compiler, path string, importPaths []string) (Program, error) {
	args := CompileArgs(path, importPaths)
	prog, err := c.Compile(path, args)
	if err != nil {
		return nil, newCompileError(path, err)
	}
	return prog, nil
}

// CompileArgs builds the canonical compiler argument list for a source file:
// --in-place, then one -I per import path, the source file's own directory
// first.
func CompileArgs(path string, importPaths []string) []string {
	args := make([]string, 0, 3+2*len(importPaths))
	args = append(args, "--in-place", "-I", filepath.Dir(path))
	for _, p := range importPaths {
		args = append(args, "-I", p)
	}
	return args
}

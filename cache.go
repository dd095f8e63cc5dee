package peal

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Cache memoizes compiled Programs on disk, keyed by the sha1 of the source
// file contents. The key deliberately covers only the source text, not the
// import paths: a program whose meaning depends on which -I directories were
// given will get stale cache hits, and callers who change import paths
// should use a different cache root.
type Cache struct {
	Root     string
	Compiler Compiler
}

// Load returns the Program for the source file at path, compiling it only on
// a cache miss. Freshly compiled programs are saved into a temporary
// directory first and renamed into place, so that concurrent processes
// racing on the same cache root can never observe a half-written entry; the
// loser of the rename race discards its copy and keeps its in-memory
// Program.
func (c *Cache) Load(path string, importPaths []string) (Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading program source: %w", err)
	}
	sum := sha1.Sum(src)
	key := hex.EncodeToString(sum[:])
	dir := filepath.Join(c.Root, key)
	if _, err := os.Stat(dir); err == nil {
		if prog, err := c.Compiler.Load(dir); err == nil {
			return prog, nil
		}
		// unreadable entry; drop it so the recompiled one can be renamed in
		os.RemoveAll(dir)
	}
	prog, err := LoadProgram(c.Compiler, path, importPaths)
	if err != nil {
		return nil, err
	}
	if err := c.store(prog, dir, key); err != nil {
		prog.Close()
		return nil, err
	}
	return prog, nil
}

func (c *Cache) store(prog Program, dir, key string) error {
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return fmt.Errorf("creating cache root: %w", err)
	}
	tmp, err := os.MkdirTemp(c.Root, "tmp-"+key+"-")
	if err != nil {
		return fmt.Errorf("creating cache staging dir: %w", err)
	}
	if err := c.Compiler.Save(prog, tmp); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("saving compiled program: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		// lost the race to another process; their entry is as good as ours
		os.RemoveAll(tmp)
	}
	return nil
}

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pealaudio/peal"
	"github.com/pealaudio/peal/version"
	"github.com/pealaudio/peal/vm"
)

type pathList []string

func (p *pathList) String() string     { return strings.Join(*p, ",") }
func (p *pathList) Set(s string) error { *p = append(*p, s); return nil }

func main() {
	outPath := flag.String("o", "", "Directory where to write the compiled program. By default, a directory named after the patch, next to it.")
	check := flag.Bool("n", false, "Do not write files; just check that the patches compile.")
	help := flag.Bool("h", false, "Show help.")
	versionFlag := flag.Bool("v", false, "Print version.")
	var importPaths pathList
	flag.Var(&importPaths, "I", "Add a directory to the import search path. May be repeated.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	var compiler vm.Compiler
	retval := 0
	for _, path := range flag.Args() {
		if err := process(compiler, path, importPaths, *outPath, *check); err != nil {
			fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", path, err)
			retval = 1
		}
	}
	os.Exit(retval)
}

func process(compiler vm.Compiler, path string, importPaths []string, outPath string, check bool) error {
	prog, err := peal.LoadProgram(compiler, path, importPaths)
	if err != nil {
		return err
	}
	defer prog.Close()
	if check {
		return nil
	}
	dir := outPath
	if dir == "" {
		dir = strings.TrimSuffix(path, filepath.Ext(path))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create output directory %v: %v", dir, err)
	}
	return compiler.Save(prog, dir)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Compile patch files into loadable program directories.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}

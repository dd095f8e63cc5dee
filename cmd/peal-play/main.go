package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pealaudio/peal"
	"github.com/pealaudio/peal/cmd"
	"github.com/pealaudio/peal/oto"
	"github.com/pealaudio/peal/version"
	"github.com/pealaudio/peal/vm"
)

type pathList []string

func (p *pathList) String() string     { return strings.Join(*p, ",") }
func (p *pathList) Set(s string) error { *p = append(*p, s); return nil }

func main() {
	sampleRate := flag.Int("sr", 44100, "Sample rate of the audio output.")
	voices := flag.Int("voices", -1, "Number of voices. -1 resolves from program metadata, 0 runs the program as an always-active effect.")
	ungroup := flag.Bool("ungroup", false, "Give every voice its own output channels instead of mixing them to one bus. The audio output then carries one channel block per voice.")
	cacheDir := flag.String("cache", "", "Cache compiled programs in this directory.")
	midiPrefix := flag.String("midi", "", "Open the first MIDI input whose name starts with this prefix.")
	firstMidi := flag.Bool("first-midi", false, "Open the first available MIDI input.")
	stateFile := flag.String("state", "", "Load control state from this file on start and save it back on exit.")
	wavOut := flag.String("wav", "", "Do not play; render the program offline into this .wav file instead.")
	seconds := flag.Float64("seconds", 10, "Length of the offline render.")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when rendering.")
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
	if flag.NArg() != 1 || *help {
		flag.Usage()
		os.Exit(0)
	}
	opts := options{
		sampleRate:  *sampleRate,
		voices:      *voices,
		group:       !*ungroup,
		cacheDir:    *cacheDir,
		midiPrefix:  *midiPrefix,
		firstMidi:   *firstMidi,
		stateFile:   *stateFile,
		wavOut:      *wavOut,
		seconds:     *seconds,
		pcm:         *pcm,
		importPaths: importPaths,
	}
	if err := run(flag.Arg(0), opts); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type options struct {
	sampleRate  int
	voices      int
	group       bool
	cacheDir    string
	midiPrefix  string
	firstMidi   bool
	stateFile   string
	wavOut      string
	seconds     float64
	pcm         bool
	importPaths []string
}

func run(path string, opts options) error {
	var compiler vm.Compiler
	var prog peal.Program
	var err error
	if opts.cacheDir != "" {
		cache := &peal.Cache{Root: opts.cacheDir, Compiler: compiler}
		prog, err = cache.Load(path, opts.importPaths)
	} else {
		prog, err = peal.LoadProgram(compiler, path, opts.importPaths)
	}
	if err != nil {
		return err
	}
	defer prog.Close()
	inst, err := peal.NewInstance(prog, opts.sampleRate, opts.voices, opts.group)
	if err != nil {
		return err
	}
	defer inst.Close()

	registry := peal.NewRegistry()
	handle, err := registry.Attach(inst, nil, nil)
	if err != nil {
		return err
	}
	defer handle.Close()
	if opts.stateFile != "" {
		if data, err := os.ReadFile(opts.stateFile); err == nil {
			if err := peal.UnmarshalZones(handle.Widgets(), data); err != nil {
				fmt.Fprintf(os.Stderr, "could not restore control state: %v\n", err)
			}
		}
		defer saveState(opts.stateFile, handle.Widgets())
	}

	if opts.wavOut != "" {
		return render(inst, opts)
	}

	audioContext, err := oto.NewContext(opts.sampleRate, inst.Info().NumOutputs)
	if err != nil {
		return err
	}
	player, err := audioContext.Play(inst)
	if err != nil {
		return err
	}
	defer player.Close()

	midiContext := cmd.NewMidiContext()
	defer midiContext.Close()
	midiContext.TryToOpenBy(opts.midiPrefix, opts.firstMidi)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			player.Do(func() {
				midiContext.Drain(handle)
			})
			registry.RefreshAll()
		case <-interrupt:
			return nil
		}
	}
}

func render(inst *peal.Instance, opts options) error {
	frames := int(opts.seconds * float64(opts.sampleRate))
	buffer, err := peal.Render(inst, frames)
	if err != nil {
		return err
	}
	wav, err := peal.Wav(buffer, opts.sampleRate, inst.Info().NumOutputs, opts.pcm)
	if err != nil {
		return err
	}
	return os.WriteFile(opts.wavOut, wav, 0o644)
}

func saveState(path string, widgets []peal.Widget) {
	data, err := peal.MarshalZones(widgets)
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not save control state: %v\n", err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Play a patch file, optionally driven by MIDI input.\nUsage: %s [flags] patch.yml\n", os.Args[0])
	flag.PrintDefaults()
}

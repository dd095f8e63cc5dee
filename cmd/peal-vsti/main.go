//go:build plugin

package main

import (
	"os"
	"strconv"

	"github.com/pealaudio/peal"
	"github.com/pealaudio/peal/vm"
	"pipelined.dev/audio/vst2"
)

const sampleRate = 44100

// The hosted program is chosen through the environment, as VST2 hosts give
// plugins no command line: PEAL_PROGRAM is the patch file, PEAL_VOICES the
// requested voice count (default -1, resolve from metadata), PEAL_CACHE an
// optional compiled-program cache directory.
func loadInstance() (*peal.Instance, peal.Program, error) {
	path := os.Getenv("PEAL_PROGRAM")
	voices := -1
	if s := os.Getenv("PEAL_VOICES"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			voices = n
		}
	}
	var compiler vm.Compiler
	var prog peal.Program
	var err error
	if cacheDir := os.Getenv("PEAL_CACHE"); cacheDir != "" {
		cache := &peal.Cache{Root: cacheDir, Compiler: compiler}
		prog, err = cache.Load(path, nil)
	} else {
		prog, err = peal.LoadProgram(compiler, path, nil)
	}
	if err != nil {
		return nil, nil, err
	}
	inst, err := peal.NewInstance(prog, sampleRate, voices, true)
	if err != nil {
		prog.Close()
		return nil, nil, err
	}
	return inst, prog, nil
}

func init() {
	version := int32(100)
	vst2.PluginAllocator = func(h vst2.Host) (vst2.Plugin, vst2.Dispatcher) {
		inst, prog, err := loadInstance()
		var (
			registry = peal.NewRegistry()
			handle   *peal.Handle
			events   []vst2.MIDIEvent
			views    [][]float32
		)
		if err == nil {
			handle, err = registry.Attach(inst, nil, nil)
		}
		return vst2.Plugin{
				UniqueID:       [4]byte{'P', 'e', 'a', 'L'},
				Version:        version,
				InputChannels:  0,
				OutputChannels: 2,
				Name:           "Peal",
				Vendor:         "pealaudio",
				Category:       vst2.PluginCategorySynth,
				Flags:          vst2.PluginIsSynth,
				ProcessFloatFunc: func(in, out vst2.FloatBuffer) {
					views = views[:0]
					for ch := 0; ch < 2; ch++ {
						clear(out.Channel(ch))
						views = append(views, out.Channel(ch))
					}
					if handle == nil {
						return
					}
					for _, ev := range events {
						var bytes [3]byte
						copy(bytes[:], ev.Data[:])
						peal.Route(handle, float64(ev.DeltaFrames), bytes)
					}
					events = events[:0]
					if timeInfo := h.GetTimeInfo(vst2.TempoValid); timeInfo != nil {
						playing := timeInfo.Flags&vst2.TransportPlaying != 0
						registry.SyncTransport(playing, timeInfo.Tempo, int64(timeInfo.SamplePos), out.Frames)
					}
					if inst.Info().NumOutputs == 1 {
						inst.Compute(out.Frames, views[:1])
						copy(views[1], views[0])
						return
					}
					inst.Compute(out.Frames, views)
				},
			}, vst2.Dispatcher{
				CanDoFunc: func(pcds vst2.PluginCanDoString) vst2.CanDoResponse {
					switch pcds {
					case vst2.PluginCanReceiveEvents, vst2.PluginCanReceiveMIDIEvent, vst2.PluginCanReceiveTimeInfo:
						return vst2.YesCanDo
					}
					return vst2.NoCanDo
				},
				ProcessEventsFunc: func(ev *vst2.EventsPtr) {
					for i := 0; i < ev.NumEvents(); i++ {
						switch v := ev.Event(i).(type) {
						case *vst2.MIDIEvent:
							events = append(events, *v)
						}
					}
				},
				CloseFunc: func() {
					if handle != nil {
						handle.Close()
					}
					if inst != nil {
						inst.Close()
						prog.Close()
					}
				},
				GetChunkFunc: func(isPreset bool) []byte {
					if handle == nil {
						return nil
					}
					data, err := peal.MarshalZones(handle.Widgets())
					if err != nil {
						return nil
					}
					return data
				},
				SetChunkFunc: func(data []byte, isPreset bool) {
					if handle == nil {
						return
					}
					peal.UnmarshalZones(handle.Widgets(), data)
				},
			}
	}
}

func main() {}

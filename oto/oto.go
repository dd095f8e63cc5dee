package oto

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/pealaudio/peal"
)

type (
	// Context wraps one system audio context at a fixed sample rate and
	// channel count. There can be only one per process; create it once and
	// start players from it.
	Context struct {
		ctx        *oto.Context
		sampleRate int
		channels   int
	}

	// Player streams one Instance to the audio device. The device pulls
	// audio from its own goroutine, so anything else touching the instance
	// (event delivery, structural changes) must go through Do.
	Player struct {
		player *oto.Player
		reader *streamReader
	}

	streamReader struct {
		mu    sync.Mutex
		inst  *peal.Instance
		buf   [][]float32
		views [][]float32
	}
)

const streamChunkFrames = 2048

func NewContext(sampleRate, channels int) (*Context, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create audio context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate, channels: channels}, nil
}

// Play starts streaming inst to the device. The instance must produce
// exactly the context's channel count and run at its sample rate; with no
// inputs, since the device only pulls.
func (c *Context) Play(inst *peal.Instance) (*Player, error) {
	info := inst.Info()
	if info.NumOutputs != c.channels {
		return nil, fmt.Errorf("instance has %v output channels, audio context %v", info.NumOutputs, c.channels)
	}
	if info.NumInputs != 0 {
		return nil, fmt.Errorf("cannot stream an instance with %v input channels", info.NumInputs)
	}
	if info.SampleRate != c.sampleRate {
		return nil, fmt.Errorf("instance runs at %v Hz, audio context at %v Hz", info.SampleRate, c.sampleRate)
	}
	r := &streamReader{inst: inst}
	r.buf = make([][]float32, c.channels)
	r.views = make([][]float32, c.channels)
	for ch := range r.buf {
		r.buf[ch] = make([]float32, streamChunkFrames)
	}
	p := &Player{player: c.ctx.NewPlayer(r), reader: r}
	p.player.Play()
	return p, nil
}

// Do runs f serialized against the audio pull, for delivering events to the
// played instance. Keep f short; the device is starved while it runs.
func (p *Player) Do(f func()) {
	p.reader.mu.Lock()
	defer p.reader.mu.Unlock()
	f()
}

func (p *Player) Close() error {
	if err := p.player.Close(); err != nil {
		return fmt.Errorf("cannot close audio player: %w", err)
	}
	return nil
}

// Read computes the next chunk of audio and interleaves it for the device.
// Short reads are fine, the device just pulls again.
func (r *streamReader) Read(p []byte) (int, error) {
	channels := len(r.buf)
	frames := len(p) / (4 * channels)
	if frames == 0 {
		return 0, nil
	}
	if frames > streamChunkFrames {
		frames = streamChunkFrames
	}
	for ch := range r.buf {
		r.views[ch] = r.buf[ch][:frames]
	}
	r.mu.Lock()
	r.inst.Compute(frames, r.views)
	r.mu.Unlock()
	return InterleaveFloat32LE(r.views, p), nil
}

var _ io.Reader = (*streamReader)(nil)

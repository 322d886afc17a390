// Package synth is a small polyphonic sound engine implementing the voice
// chain contract of the sequencing engine: one chain per track, each an
// oscillator into an ADSR envelope into a resonant low-pass filter into an
// equal-power panner, mixed to a shared stereo bus with a global reverb.
//
// All chain state is owned by the rendering goroutine. Chain methods post
// commands to a buffered channel that Render drains at the start of every
// block, so triggering and ramping never block on the audio path and the
// render never observes a half-applied update.
package synth

import (
	"errors"
	"sync"

	"github.com/karttu/metron"
	"github.com/viterin/vek/vek32"
)

const (
	// DefaultSampleRate is used by NewEngine.
	DefaultSampleRate = 44100

	// StreamBufferFrames is the block size of Stream, per channel.
	StreamBufferFrames = 1024

	maxVoicesPerChain = 6
	commandBacklog    = 1024
)

type (
	// Engine renders all registered chains into one stereo stream. It
	// implements metron.ChainBuilder; chains remain registered until
	// closed. Render (or Stream, which calls it) must only run on one
	// goroutine at a time.
	Engine struct {
		mu         sync.Mutex
		sampleRate int
		chains     []*Chain
		commands   chan command
		frame      int64
		scratch    []float32
		reverb     reverb
		onPeak     func(peak float32)
		master     float32
	}

	command struct {
		chain *Chain
		kind  cmdKind
		a     float64
		b     float64
		c     float64
		d     float64
	}

	cmdKind int
)

const (
	cmdTrigger cmdKind = iota
	cmdGain
	cmdFrequency
	cmdFilter
	cmdPan
	cmdEnvelope
	cmdClose
)

var errNilEngine = errors.New("synth: engine is nil")

// NewEngine creates an engine at DefaultSampleRate.
func NewEngine() *Engine {
	return NewEngineRate(DefaultSampleRate)
}

// NewEngineRate creates an engine at the given sample rate.
func NewEngineRate(sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Engine{
		sampleRate: sampleRate,
		commands:   make(chan command, commandBacklog),
		reverb:     makeReverb(sampleRate),
		master:     0.9,
	}
}

// SetPeakFunc registers a callback receiving the absolute peak of every
// rendered block, for level metering. Must be set before rendering starts.
func (e *Engine) SetPeakFunc(f func(peak float32)) {
	e.onPeak = f
}

// SampleRate returns the engine's sample rate.
func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// Now returns the engine's render clock position in seconds.
func (e *Engine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.frame) / float64(e.sampleRate)
}

// Build constructs a voice chain for the config and registers it with the
// engine. It implements metron.ChainBuilder.
func (e *Engine) Build(cfg metron.TrackConfig) (metron.VoiceChain, error) {
	if e == nil {
		return nil, errNilEngine
	}
	chain := newChain(e, cfg)
	e.mu.Lock()
	e.chains = append(e.chains, chain)
	e.mu.Unlock()
	return chain, nil
}

// Render fills buffer (stereo interleaved) with the mix of all chains,
// advancing the render clock by len(buffer)/2 frames. Pending commands are
// applied first, so anything posted before a block is audible in it.
func (e *Engine) Render(buffer []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainCommands()
	frames := len(buffer) / 2
	vek32.Zeros_Into(buffer, len(buffer))
	if cap(e.scratch) < len(buffer) {
		e.scratch = make([]float32, len(buffer))
	}
	scratch := e.scratch[:len(buffer)]
	for _, chain := range e.chains {
		if chain.silent() {
			continue
		}
		chain.render(scratch, e.frame)
		vek32.Add_Inplace(buffer, scratch)
	}
	e.reverb.process(buffer)
	vek32.MulNumber_Inplace(buffer, e.master)
	e.frame += int64(frames)
	if e.onPeak != nil {
		copy(scratch, buffer)
		vek32.Abs_Inplace(scratch)
		e.onPeak(vek32.Max(scratch))
	}
}

// Stream renders continuously into the sink until stop is closed or the
// sink errors.
func (e *Engine) Stream(sink metron.AudioSink, stop <-chan struct{}) error {
	buffer := make([]float32, StreamBufferFrames*2)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		e.Render(buffer)
		if err := sink.WriteAudio(buffer); err != nil {
			return err
		}
	}
}

// drainCommands applies every queued chain command. Caller holds e.mu.
func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			e.apply(cmd)
		default:
			return
		}
	}
}

func (e *Engine) apply(cmd command) {
	chain := cmd.chain
	if chain.closed {
		return
	}
	switch cmd.kind {
	case cmdTrigger:
		chain.scheduleTrigger(cmd.a, cmd.b, cmd.c, e.frame, e.sampleRate)
	case cmdGain:
		chain.gain.rampTo(float32(cmd.a), chain.rampFrames)
	case cmdFrequency:
		chain.freq.rampTo(float32(cmd.a), chain.rampFrames)
	case cmdFilter:
		chain.cutoff.rampTo(float32(cmd.a), chain.rampFrames)
		chain.resonance.rampTo(float32(cmd.b), chain.rampFrames)
	case cmdPan:
		chain.pan.rampTo(float32(cmd.a), chain.rampFrames)
	case cmdEnvelope:
		chain.setEnvelope(cmd.a, cmd.b, cmd.c, cmd.d)
	case cmdClose:
		chain.closed = true
		for i := range e.chains {
			if e.chains[i] == chain {
				e.chains = append(e.chains[:i], e.chains[i+1:]...)
				break
			}
		}
	}
}

// post queues a command without ever blocking; under a full backlog the
// command is dropped, which at worst loses a parameter tweak or a note.
func (e *Engine) post(cmd command) {
	select {
	case e.commands <- cmd:
	default:
	}
}

// Package oto adapts github.com/ebitengine/oto/v3 to the engine's
// AudioContext/AudioSink contract. Oto pulls samples through an io.Reader;
// the sink bridges the engine's push model over an in-process pipe, whose
// backpressure is what paces the render loop.
package oto

import (
	"fmt"
	"io"

	"github.com/ebitengine/oto/v3"

	"github.com/karttu/metron"
)

type (
	Context struct {
		ctx        *oto.Context
		sampleRate int
	}

	Output struct {
		player    *oto.Player
		w         *io.PipeWriter
		tmpBuffer []byte
	}
)

// NewContext opens the audio device and waits until it is ready.
func NewContext(sampleRate int) (*Context, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate}, nil
}

// Output starts a playing sink. Each call opens an independent player.
func (c *Context) Output() metron.AudioSink {
	r, w := io.Pipe()
	player := c.ctx.NewPlayer(r)
	player.Play()
	return &Output{player: player, w: w}
}

// Close suspends the audio device; oto contexts cannot be re-created in
// one process, so suspension is as closed as it gets.
func (c *Context) Close() error {
	if err := c.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

// WriteAudio converts the float buffer to 16-bit PCM and hands it to the
// player, blocking until the device has room. That blocking is deliberate:
// it is what keeps the producer realtime.
func (o *Output) WriteAudio(floatBuffer []float32) error {
	// reuse the previous conversion buffer's capacity
	o.tmpBuffer = FloatBufferTo16BitLE(floatBuffer, o.tmpBuffer[:0])
	if _, err := o.w.Write(o.tmpBuffer); err != nil {
		return fmt.Errorf("cannot write to player: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	o.w.Close()
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

// Package midi drives external hardware or soft synths instead of the
// built-in synth. Every chain claims its own MIDI channel; parameter ramps
// become control changes, so the external device decides how to smooth them.
package midi

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/karttu/metron"
)

const (
	ccVolume       = 7
	ccPan          = 10
	ccResonance    = 71
	ccCutoff       = 74
	ccAllNotesOff  = 123
	defaultNoteVel = 100
)

type (
	// Builder opens one output port and hands out chains on successive
	// channels. It implements the same chain-building contract as the
	// synth engine, so a conductor can use either interchangeably.
	Builder struct {
		send        func(gomidi.Message) error
		epoch       time.Time
		mu          sync.Mutex
		nextChannel uint8
	}

	chain struct {
		builder *Builder
		channel uint8
	}
)

// NewBuilder opens the first output port whose name contains portName.
// An empty portName takes the first port available.
func NewBuilder(portName string) (*Builder, error) {
	for _, port := range gomidi.GetOutPorts() {
		if portName != "" && !strings.Contains(port.String(), portName) {
			continue
		}
		send, err := gomidi.SendTo(port)
		if err != nil {
			return nil, fmt.Errorf("cannot open MIDI port %q: %w", port.String(), err)
		}
		return &Builder{send: send, epoch: time.Now()}, nil
	}
	return nil, fmt.Errorf("no MIDI output port matching %q", portName)
}

// Build claims the next free channel for the track. Channel 9 is skipped
// because General MIDI reserves it for drums.
func (b *Builder) Build(cfg metron.TrackConfig) (metron.VoiceChain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nextChannel > 15 {
		return nil, fmt.Errorf("out of MIDI channels")
	}
	c := &chain{builder: b, channel: b.nextChannel}
	b.nextChannel++
	if b.nextChannel == 9 {
		b.nextChannel++
	}
	return c, nil
}

// Close silences every channel and releases the driver. The builder must
// not be used afterwards.
func (b *Builder) Close() error {
	b.mu.Lock()
	for ch := uint8(0); ch < 16; ch++ {
		b.send(gomidi.ControlChange(ch, ccAllNotesOff, 0))
	}
	b.mu.Unlock()
	gomidi.CloseDriver()
	return nil
}

// at schedules f on the wall clock at the given position on the musical
// timeline. Past-due positions run immediately.
func (b *Builder) at(when float64, f func()) {
	delay := time.Duration(when*float64(time.Second)) - time.Since(b.epoch)
	if delay <= 0 {
		f()
		return
	}
	time.AfterFunc(delay, f)
}

func (c *chain) Trigger(frequency, duration, when float64) {
	note := noteForFrequency(frequency)
	c.builder.at(when, func() {
		c.send(gomidi.NoteOn(c.channel, note, defaultNoteVel))
		time.AfterFunc(time.Duration(duration*float64(time.Second)), func() {
			c.send(gomidi.NoteOff(c.channel, note))
		})
	})
}

func (c *chain) RampGain(gain float64) { c.control(ccVolume, gain) }

func (c *chain) RampPan(pan float64) { c.control(ccPan, (pan+1)/2) }

// RampFrequency is a no-op: pitch follows the next trigger's note number.
func (c *chain) RampFrequency(hz float64) {}

func (c *chain) RampFilter(cutoff, resonance float64) {
	c.control(ccCutoff, cutoff/18000)
	c.control(ccResonance, resonance/20)
}

// SetEnvelope is a no-op: envelope shape belongs to the receiving device.
func (c *chain) SetEnvelope(attack, decay, sustain, release float64) {}

func (c *chain) Close() error {
	return c.send(gomidi.ControlChange(c.channel, ccAllNotesOff, 0))
}

// control maps a normalized [0,1] value to a 7-bit control change.
func (c *chain) control(cc uint8, normalized float64) {
	v := int(normalized*127 + 0.5)
	if v < 0 {
		v = 0
	} else if v > 127 {
		v = 127
	}
	c.send(gomidi.ControlChange(c.channel, cc, uint8(v)))
}

func (c *chain) send(msg gomidi.Message) error {
	c.builder.mu.Lock()
	defer c.builder.mu.Unlock()
	return c.builder.send(msg)
}

func noteForFrequency(hz float64) uint8 {
	if hz <= 0 {
		return 0
	}
	n := int(math.Round(69 + 12*math.Log2(hz/440)))
	if n < 0 {
		n = 0
	} else if n > 127 {
		n = 127
	}
	return uint8(n)
}

package synth

import (
	"math"

	"github.com/karttu/metron"
)

type (
	// Chain is the voice chain of one track. Its internals are only ever
	// touched by the engine's render goroutine; the exported methods just
	// post commands.
	Chain struct {
		engine *Engine
		kind   metron.InstrumentKind

		gain      ramp
		freq      ramp
		cutoff    ramp
		resonance ramp
		pan       ramp

		attack  float64
		decay   float64
		sustain float64
		release float64

		rampFrames int
		voices     [maxVoicesPerChain]voice
		pending    []trigger
		closed     bool
	}

	// trigger is one scheduled note, in engine frames.
	trigger struct {
		frame   int64
		freq    float32
		gateOff int64
	}

	voice struct {
		active    bool
		sustained bool
		phase     float64
		env       envelope
		gateOff   int64
		age       int64
		rng       uint32
		low, band float32
	}

	envelope struct {
		stage   envStage
		level   float32
		attack  float32 // level increment per frame
		decay   float32
		sustain float32
		release float32
	}

	envStage int

	// ramp moves a parameter linearly to a target over a fixed number of
	// frames; reaching the target it holds.
	ramp struct {
		current   float32
		target    float32
		step      float32
		remaining int
	}
)

const (
	envAttack envStage = iota
	envDecay
	envSustain
	envRelease
	envIdle
)

func newChain(e *Engine, cfg metron.TrackConfig) *Chain {
	c := &Chain{
		engine:     e,
		kind:       cfg.Instrument,
		rampFrames: int(metron.RampTime.Seconds() * float64(e.sampleRate)),
	}
	c.gain.snap(float32(cfg.Gain))
	c.freq.snap(float32(cfg.Frequency))
	c.cutoff.snap(float32(cfg.FilterFrequency))
	c.resonance.snap(float32(cfg.FilterResonance))
	c.pan.snap(float32(cfg.Pan))
	c.setEnvelope(cfg.Attack, cfg.Decay, cfg.Sustain, cfg.Release)
	for i := range c.voices {
		c.voices[i].env.stage = envIdle
		c.voices[i].rng = uint32(i)*2654435761 + 1
	}
	return c
}

// Trigger schedules a note. A when already in the past plays immediately.
func (c *Chain) Trigger(frequency, duration, when float64) {
	c.engine.post(command{chain: c, kind: cmdTrigger, a: frequency, b: duration, c: when})
}

func (c *Chain) RampGain(gain float64) {
	c.engine.post(command{chain: c, kind: cmdGain, a: gain})
}

func (c *Chain) RampFrequency(hz float64) {
	c.engine.post(command{chain: c, kind: cmdFrequency, a: hz})
}

func (c *Chain) RampFilter(cutoff, resonance float64) {
	c.engine.post(command{chain: c, kind: cmdFilter, a: cutoff, b: resonance})
}

func (c *Chain) RampPan(pan float64) {
	c.engine.post(command{chain: c, kind: cmdPan, a: pan})
}

// SetEnvelope replaces the ADSR parameters; notes already sounding keep
// the envelope they were triggered with.
func (c *Chain) SetEnvelope(attack, decay, sustain, release float64) {
	c.engine.post(command{chain: c, kind: cmdEnvelope, a: attack, b: decay, c: sustain, d: release})
}

// Close removes the chain from the engine at the next block boundary;
// anything still sounding is cut.
func (c *Chain) Close() error {
	c.engine.post(command{chain: c, kind: cmdClose})
	return nil
}

func (c *Chain) setEnvelope(attack, decay, sustain, release float64) {
	c.attack, c.decay, c.sustain, c.release = attack, decay, sustain, release
}

func (c *Chain) scheduleTrigger(frequency, duration, when float64, now int64, sampleRate int) {
	frame := int64(when * float64(sampleRate))
	if frame < now {
		frame = now
	}
	durFrames := int64(duration * float64(sampleRate))
	if durFrames < 1 {
		durFrames = 1
	}
	t := trigger{frame: frame, freq: float32(frequency), gateOff: frame + durFrames}
	at := len(c.pending)
	for i, p := range c.pending {
		if p.frame > frame {
			at = i
			break
		}
	}
	c.pending = append(c.pending, trigger{})
	copy(c.pending[at+1:], c.pending[at:])
	c.pending[at] = t
}

// silent reports whether the chain has nothing to render: no active voice
// and no pending trigger.
func (c *Chain) silent() bool {
	if len(c.pending) > 0 {
		return false
	}
	for i := range c.voices {
		if c.voices[i].active {
			return false
		}
	}
	return true
}

// render overwrites dst (stereo interleaved) with this chain's output for
// the block starting at engine frame start.
func (c *Chain) render(dst []float32, start int64) {
	frames := len(dst) / 2
	rate := float64(c.engine.sampleRate)
	for f := 0; f < frames; f++ {
		abs := start + int64(f)
		for len(c.pending) > 0 && c.pending[0].frame <= abs {
			c.startVoice(c.pending[0], rate)
			c.pending = c.pending[1:]
		}
		c.gain.advance()
		c.freq.advance()
		c.cutoff.advance()
		c.resonance.advance()
		c.pan.advance()

		q := float32(1 / float64(c.resonance.current))
		fc := filterCoeff(float64(c.cutoff.current), float64(q), rate)
		var mono float32
		for i := range c.voices {
			v := &c.voices[i]
			if !v.active {
				continue
			}
			if v.sustained && abs >= v.gateOff {
				v.sustained = false
				v.env.stage = envRelease
			}
			level := v.env.advance()
			if v.env.stage == envIdle {
				v.active = false
				continue
			}
			sample := v.oscillate(c.kind, float64(c.freq.current), rate)
			// two-pole state variable low-pass, per voice
			v.low += fc * v.band
			high := sample - v.low - q*v.band
			v.band += fc * high
			v.age++
			mono += v.low * level
		}
		angle := (float64(c.pan.current) + 1) * math.Pi / 4
		left := mono * c.gain.current * float32(math.Cos(angle))
		right := mono * c.gain.current * float32(math.Sin(angle))
		dst[f*2] = left
		dst[f*2+1] = right
	}
}

// startVoice picks a voice for the trigger: an idle one if any, otherwise
// a releasing one over a sustained one, oldest first.
func (c *Chain) startVoice(t trigger, rate float64) {
	best := 0
	bestReleased := false
	var bestAge int64 = -1
	for i := range c.voices {
		v := &c.voices[i]
		if !v.active {
			best = i
			bestAge = math.MaxInt64
			break
		}
		released := !v.sustained
		if (released && !bestReleased) || (released == bestReleased && v.age > bestAge) {
			best = i
			bestReleased = released
			bestAge = v.age
		}
	}
	if t.freq != c.freq.target {
		// a note at a new base frequency moves the whole chain there;
		// ramping here would make every onset glide audibly
		c.freq.snap(t.freq)
	}
	v := &c.voices[best]
	rng := v.rng
	*v = voice{
		active:    true,
		sustained: true,
		gateOff:   t.gateOff,
		rng:       rng | 1,
	}
	v.env = makeEnvelope(c.attack, c.decay, c.sustain, c.release, rate)
}

func makeEnvelope(attack, decay, sustain, release float64, rate float64) envelope {
	env := envelope{stage: envAttack, sustain: float32(sustain)}
	env.attack = slope(1, attack, rate)
	env.decay = slope(1-sustain, decay, rate)
	env.release = slope(1, release, rate)
	return env
}

// slope returns the per-frame level change that covers distance in the
// given number of seconds; a zero duration yields an instant jump.
func slope(distance, seconds, rate float64) float32 {
	if seconds <= 0 || distance <= 0 {
		return 1
	}
	return float32(distance / (seconds * rate))
}

func (e *envelope) advance() float32 {
	switch e.stage {
	case envAttack:
		e.level += e.attack
		if e.level >= 1 {
			e.level = 1
			e.stage = envDecay
		}
	case envDecay:
		e.level -= e.decay
		if e.level <= e.sustain {
			e.level = e.sustain
			e.stage = envSustain
		}
	case envSustain:
		e.level = e.sustain
		if e.sustain <= 0 {
			e.stage = envIdle
		}
	case envRelease:
		e.level -= e.release
		if e.level <= 0 {
			e.level = 0
			e.stage = envIdle
		}
	}
	return e.level
}

func (v *voice) oscillate(kind metron.InstrumentKind, freq, rate float64) float32 {
	v.phase += freq / rate
	if v.phase >= 1 {
		v.phase -= math.Floor(v.phase)
	}
	switch kind {
	case metron.Triangle:
		if v.phase < 0.5 {
			return float32(4*v.phase - 1)
		}
		return float32(3 - 4*v.phase)
	case metron.Sawtooth:
		return float32(2*v.phase - 1)
	case metron.Square:
		if v.phase < 0.5 {
			return 1
		}
		return -1
	case metron.Noise:
		// xorshift32
		v.rng ^= v.rng << 13
		v.rng ^= v.rng >> 17
		v.rng ^= v.rng << 5
		return float32(v.rng)/float32(math.MaxUint32)*2 - 1
	default:
		return float32(math.Sin(2 * math.Pi * v.phase))
	}
}

// filterCoeff returns the state variable filter's frequency coefficient.
// The filter recursion is stable only while f*f+2*f*q < 4, so the
// coefficient is clamped just below that bound; heavily damped settings
// tolerate less cutoff than resonant ones.
func filterCoeff(cutoff, q, rate float64) float32 {
	f := 2 * math.Sin(math.Pi*cutoff/rate)
	limit := 0.95 * (math.Sqrt(q*q+4) - q)
	if f > limit {
		f = limit
	}
	return float32(f)
}

func (r *ramp) snap(v float32) {
	r.current = v
	r.target = v
	r.remaining = 0
}

func (r *ramp) rampTo(v float32, frames int) {
	if frames <= 0 || v == r.current {
		r.snap(v)
		return
	}
	r.target = v
	r.step = (v - r.current) / float32(frames)
	r.remaining = frames
}

func (r *ramp) advance() {
	if r.remaining > 0 {
		r.current += r.step
		r.remaining--
		if r.remaining == 0 {
			r.current = r.target
		}
	}
}

package metron

import "time"

type (
	// TrackConfig is the full configuration of one track. It is a value type
	// and treated as immutable once constructed: a parameter change produces
	// a new TrackConfig (see Conductor.Reconfigure), never an in-place edit
	// of one that is already playing.
	//
	// The yaml tags follow the default lowercasing, so kit files read e.g.
	// "steps: 8". All numeric fields are defensively clamped with Clamp at
	// the engine boundary; out-of-range values are never an error.
	TrackConfig struct {
		Name     string `yaml:",omitempty"`
		Steps    int    // pattern length, 1..32
		Pulses   int    // active onsets, 0..Steps
		Rotation int    `yaml:",omitempty"` // left-rotation of the pattern, 0..Steps-1

		Instrument InstrumentKind
		Frequency  float64 // oscillator base frequency, Hz
		Gain       float64 // 0..1
		Pan        float64 // -1 (left) .. 1 (right)
		NoteLength float64 // seconds a triggered note is held

		Attack  float64 // envelope attack, seconds
		Decay   float64 // envelope decay, seconds
		Sustain float64 // envelope sustain level, 0..1
		Release float64 // envelope release, seconds

		FilterFrequency float64 // low-pass cutoff, Hz
		FilterResonance float64 // filter Q

		Muted bool `yaml:",omitempty"`
		Solo  bool `yaml:",omitempty"`
	}

	// InstrumentKind selects the oscillator topology of a track's voice
	// chain. It is a closed set: changing it tears down and rebuilds the
	// chain, whereas all the float parameters above ramp in place.
	InstrumentKind int
)

const (
	Sine InstrumentKind = iota
	Triangle
	Sawtooth
	Square
	Noise
	NumInstrumentKinds
)

// RampTime is the fixed transition window for continuous parameter updates.
// Ramping instead of jumping avoids audible discontinuities when a parameter
// changes while a note is sounding.
const RampTime = 100 * time.Millisecond

var instrumentNames = [NumInstrumentKinds]string{"sine", "triangle", "sawtooth", "square", "noise"}

func (k InstrumentKind) String() string {
	if k < 0 || k >= NumInstrumentKinds {
		return "sine"
	}
	return instrumentNames[k]
}

// ParseInstrumentKind returns the kind with the given name, or Sine and false
// if the name matches no kind.
func ParseInstrumentKind(name string) (InstrumentKind, bool) {
	for i, n := range instrumentNames {
		if n == name {
			return InstrumentKind(i), true
		}
	}
	return Sine, false
}

func (k InstrumentKind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

func (k *InstrumentKind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, _ := ParseInstrumentKind(name)
	*k = parsed
	return nil
}

// DefaultTrackConfig returns a playable single-track starting point: an
// eight-step pattern with four evenly spaced onsets.
func DefaultTrackConfig() TrackConfig {
	return TrackConfig{
		Steps:           8,
		Pulses:          4,
		Instrument:      Sine,
		Frequency:       220,
		Gain:            0.8,
		NoteLength:      0.25,
		Attack:          0.005,
		Decay:           0.1,
		Sustain:         0.5,
		Release:         0.2,
		FilterFrequency: 8000,
		FilterResonance: 1,
	}
}

// Clamp returns a copy of the config with every numeric field forced into
// its valid range. Instrument values outside the closed set fall back to
// Sine. Clamp is idempotent; the engine applies it to every config that
// crosses its boundary.
func (c TrackConfig) Clamp() TrackConfig {
	c.Steps = clampInt(c.Steps, 1, MasterCycleLength)
	c.Pulses = clampInt(c.Pulses, 0, c.Steps)
	c.Rotation = clampInt(c.Rotation, 0, c.Steps-1)
	if c.Instrument < 0 || c.Instrument >= NumInstrumentKinds {
		c.Instrument = Sine
	}
	c.Frequency = clampFloat(c.Frequency, 20, 12000)
	c.Gain = clampFloat(c.Gain, 0, 1)
	c.Pan = clampFloat(c.Pan, -1, 1)
	c.NoteLength = clampFloat(c.NoteLength, 0.01, 4)
	c.Attack = clampFloat(c.Attack, 0, 4)
	c.Decay = clampFloat(c.Decay, 0, 4)
	c.Sustain = clampFloat(c.Sustain, 0, 1)
	c.Release = clampFloat(c.Release, 0, 8)
	c.FilterFrequency = clampFloat(c.FilterFrequency, 20, 18000)
	c.FilterResonance = clampFloat(c.FilterResonance, 0.1, 20)
	return c
}

// StructuralChange reports whether switching from c to next requires
// regenerating the pattern, rebuilding the voice chain, or both. Everything
// else is a continuous change that ramps on the live chain.
func (c TrackConfig) StructuralChange(next TrackConfig) (pattern, chain bool) {
	pattern = c.Steps != next.Steps || c.Pulses != next.Pulses || c.Rotation != next.Rotation
	chain = c.Instrument != next.Instrument
	return
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

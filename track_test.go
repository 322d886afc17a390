package metron_test

import (
	"testing"

	"github.com/karttu/metron"
)

func TestClampRanges(t *testing.T) {
	c := metron.TrackConfig{
		Steps:           100,
		Pulses:          50,
		Rotation:        99,
		Instrument:      metron.InstrumentKind(42),
		Frequency:       100000,
		Gain:            2,
		Pan:             -3,
		NoteLength:      0,
		Attack:          -1,
		Decay:           10,
		Sustain:         1.5,
		Release:         -0.1,
		FilterFrequency: 1,
		FilterResonance: 0,
	}.Clamp()
	if c.Steps != 32 {
		t.Errorf("Steps = %v, expected 32", c.Steps)
	}
	if c.Pulses != 32 {
		t.Errorf("Pulses = %v, expected 32", c.Pulses)
	}
	if c.Rotation != 31 {
		t.Errorf("Rotation = %v, expected 31", c.Rotation)
	}
	if c.Instrument != metron.Sine {
		t.Errorf("Instrument = %v, expected sine", c.Instrument)
	}
	if c.Frequency != 12000 {
		t.Errorf("Frequency = %v, expected 12000", c.Frequency)
	}
	if c.Gain != 1 {
		t.Errorf("Gain = %v, expected 1", c.Gain)
	}
	if c.Pan != -1 {
		t.Errorf("Pan = %v, expected -1", c.Pan)
	}
	if c.NoteLength != 0.01 {
		t.Errorf("NoteLength = %v, expected 0.01", c.NoteLength)
	}
	if c.Attack != 0 {
		t.Errorf("Attack = %v, expected 0", c.Attack)
	}
	if c.Decay != 4 {
		t.Errorf("Decay = %v, expected 4", c.Decay)
	}
	if c.Sustain != 1 {
		t.Errorf("Sustain = %v, expected 1", c.Sustain)
	}
	if c.Release != 0 {
		t.Errorf("Release = %v, expected 0", c.Release)
	}
	if c.FilterFrequency != 20 {
		t.Errorf("FilterFrequency = %v, expected 20", c.FilterFrequency)
	}
	if c.FilterResonance != 0.1 {
		t.Errorf("FilterResonance = %v, expected 0.1", c.FilterResonance)
	}
}

func TestClampPulsesFollowSteps(t *testing.T) {
	c := metron.TrackConfig{Steps: 0, Pulses: 10}.Clamp()
	if c.Steps != 1 {
		t.Errorf("Steps = %v, expected 1", c.Steps)
	}
	if c.Pulses != 1 {
		t.Errorf("Pulses = %v, expected 1", c.Pulses)
	}
	if c.Rotation != 0 {
		t.Errorf("Rotation = %v, expected 0", c.Rotation)
	}
}

func TestClampIdempotent(t *testing.T) {
	c := metron.TrackConfig{Steps: 77, Pulses: -2, Frequency: 5, Gain: 9}.Clamp()
	if c != c.Clamp() {
		t.Errorf("Clamp not idempotent: %v vs %v", c, c.Clamp())
	}
}

func TestClampKeepsValidConfig(t *testing.T) {
	c := metron.DefaultTrackConfig()
	if c != c.Clamp() {
		t.Errorf("Clamp changed a valid config: %v vs %v", c, c.Clamp())
	}
}

func TestStructuralChange(t *testing.T) {
	base := metron.DefaultTrackConfig()

	same := base
	pattern, chain := base.StructuralChange(same)
	if pattern || chain {
		t.Errorf("identical configs reported structural change: pattern %v chain %v", pattern, chain)
	}

	rotated := base
	rotated.Rotation = 3
	pattern, chain = base.StructuralChange(rotated)
	if !pattern || chain {
		t.Errorf("rotation change: pattern %v chain %v, expected pattern only", pattern, chain)
	}

	retimbred := base
	retimbred.Instrument = metron.Square
	pattern, chain = base.StructuralChange(retimbred)
	if pattern || !chain {
		t.Errorf("instrument change: pattern %v chain %v, expected chain only", pattern, chain)
	}

	retuned := base
	retuned.Frequency = 440
	retuned.Gain = 0.3
	pattern, chain = base.StructuralChange(retuned)
	if pattern || chain {
		t.Errorf("continuous change reported as structural: pattern %v chain %v", pattern, chain)
	}
}

func TestInstrumentKindNames(t *testing.T) {
	for k := metron.Sine; k < metron.NumInstrumentKinds; k++ {
		parsed, ok := metron.ParseInstrumentKind(k.String())
		if !ok || parsed != k {
			t.Errorf("ParseInstrumentKind(%q) = %v, %v", k.String(), parsed, ok)
		}
	}
	if _, ok := metron.ParseInstrumentKind("theremin"); ok {
		t.Error("ParseInstrumentKind accepted an unknown name")
	}
	if metron.InstrumentKind(-1).String() != "sine" {
		t.Error("out-of-range kind should print as sine")
	}
}

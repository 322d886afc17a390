package metron

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kit is a named set of track configurations plus the tempo to play them at.
// It is the unit of persistence: kits are saved and loaded as yaml. The
// engine itself never touches files; hosts parse a kit and register its
// tracks with the conductor.
type Kit struct {
	Name   string `yaml:",omitempty"`
	BPM    float64
	Tracks []TrackConfig
}

// ParseKit parses a yaml kit. Missing numeric fields fall to the valid
// minimums through Clamp rather than erroring; only a kit with no tracks at
// all is rejected.
func ParseKit(data []byte) (Kit, error) {
	var kit Kit
	if err := yaml.Unmarshal(data, &kit); err != nil {
		return Kit{}, fmt.Errorf("parsing kit yaml: %w", err)
	}
	if len(kit.Tracks) == 0 {
		return Kit{}, errors.New("kit contains no tracks")
	}
	if kit.BPM <= 0 {
		kit.BPM = 120
	}
	for i, t := range kit.Tracks {
		kit.Tracks[i] = t.Clamp()
	}
	return kit, nil
}

// Marshal serializes the kit as yaml.
func (k Kit) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("marshaling kit yaml: %w", err)
	}
	return data, nil
}

// Copy makes a deep copy of a Kit.
func (k Kit) Copy() Kit {
	tracks := make([]TrackConfig, len(k.Tracks))
	copy(tracks, k.Tracks)
	return Kit{Name: k.Name, BPM: k.BPM, Tracks: tracks}
}

// DefaultKit returns the kit hosts start from when no file is given: a
// four-track polymetric groove with mixed step counts.
func DefaultKit() Kit {
	kick := DefaultTrackConfig()
	kick.Name = "kick"
	kick.Steps, kick.Pulses = 8, 4
	kick.Frequency = 55
	kick.NoteLength = 0.15
	kick.Decay, kick.Sustain, kick.Release = 0.15, 0, 0.05
	kick.FilterFrequency = 300

	bass := DefaultTrackConfig()
	bass.Name = "bass"
	bass.Instrument = Sawtooth
	bass.Steps, bass.Pulses, bass.Rotation = 11, 5, 2
	bass.Frequency = 110
	bass.Gain = 0.5
	bass.FilterFrequency = 900
	bass.FilterResonance = 4

	chime := DefaultTrackConfig()
	chime.Name = "chime"
	chime.Instrument = Triangle
	chime.Steps, chime.Pulses = 5, 3
	chime.Frequency = 880
	chime.Gain = 0.35
	chime.Pan = 0.4
	chime.NoteLength = 0.1

	hat := DefaultTrackConfig()
	hat.Name = "hat"
	hat.Instrument = Noise
	hat.Steps, hat.Pulses, hat.Rotation = 16, 7, 1
	hat.Gain = 0.25
	hat.Pan = -0.3
	hat.NoteLength = 0.05
	hat.Decay, hat.Sustain, hat.Release = 0.04, 0, 0.03
	hat.FilterFrequency = 9000

	return Kit{
		Name:   "default",
		BPM:    120,
		Tracks: []TrackConfig{kick, bass, chime, hat},
	}
}

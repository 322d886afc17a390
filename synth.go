package metron

// VoiceChain is the constructed signal path of one track: oscillator,
// envelope, filter, panner and effect sends, already wired to the output.
// The sequencer owns exactly one chain per track and never shares it.
//
// Times are in seconds on the sound engine's own timeline (the same values a
// Transport passes to its tick callbacks). A when that is already in the
// past triggers immediately; a Trigger after Close is a no-op.
type VoiceChain interface {
	// Trigger schedules one note: frequency in Hz, duration and when in
	// seconds.
	Trigger(frequency, duration, when float64)

	// The Ramp methods move a continuous parameter to a new target over
	// RampTime instead of stepping it, so live tweaks do not click.
	RampGain(gain float64)
	RampFrequency(hz float64)
	RampFilter(cutoff, resonance float64)
	RampPan(pan float64)

	// SetEnvelope replaces the ADSR parameters for notes triggered from
	// now on; notes already sounding finish with the envelope they
	// started with.
	SetEnvelope(attack, decay, sustain, release float64)

	// Close tears the chain down and releases its resources. Notes already
	// dispatched against the chain are the engine's to finish or drop.
	Close() error
}

// ChainBuilder builds voice chains for track configs. Building may be
// expensive (allocations, device round-trips); the sequencer calls it
// outside the tick path and swaps the result in atomically.
type ChainBuilder interface {
	Build(cfg TrackConfig) (VoiceChain, error)
}

type (
	// TickFunc is invoked by a Transport once per scheduled subdivision,
	// with the tick's time in seconds on the audio timeline.
	TickFunc func(tickTime float64)

	// TransportHandle identifies one ScheduleRepeat registration so it can
	// be cancelled. Clearing an unknown or already-cleared handle is a
	// no-op.
	TransportHandle int

	// Subdivision is a note length as a fraction of a whole note.
	Subdivision float64

	// Transport is the shared musical clock. Start, Stop and Pause control
	// the tick source; registered callbacks fire only while the transport
	// runs. Stop rewinds the transport's timeline to zero, Pause holds it.
	Transport interface {
		ScheduleRepeat(callback TickFunc, subdivision Subdivision) TransportHandle
		Clear(handle TransportHandle)
		Start()
		Stop()
		Pause()
		SetTempo(bpm float64)
	}
)

const (
	Whole        Subdivision = 1
	Half         Subdivision = 1.0 / 2
	Quarter      Subdivision = 1.0 / 4
	Eighth       Subdivision = 1.0 / 8
	Sixteenth    Subdivision = 1.0 / 16
	ThirtySecond Subdivision = 1.0 / 32
)

// Interval returns the duration of the subdivision in seconds at the given
// tempo. A whole note is four beats.
func (s Subdivision) Interval(bpm float64) float64 {
	if bpm <= 0 {
		return 0
	}
	return 240 / bpm * float64(s)
}

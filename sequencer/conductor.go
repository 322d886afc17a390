package sequencer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/karttu/metron"
)

type (
	// Conductor is the scheduler of the engine. On every master tick it
	// maps the master step onto each track's local step, decides which
	// tracks fire, dispatches the notes to the tracks' voice chains and
	// advances the master step. It is the sole owner of the master step
	// counter and of every track's dedup memory.
	//
	// Ticks arrive on the transport's goroutine; configuration changes
	// arrive from the host's. The mutex makes every tick observe either
	// the old or the new snapshot of a track, never a torn mix, and the
	// expensive work of a change (pattern generation aside, mainly voice
	// chain construction) happens outside the tick path: chains are built
	// first and swapped in under the lock.
	Conductor struct {
		broker    *Broker
		transport metron.Transport
		builder   metron.ChainBuilder

		mu         sync.Mutex
		state      PlayState
		masterStep int
		tracks     []*trackState
		nextID     int
		handle     metron.TransportHandle
		closed     bool
	}

	// trackState is one track's live snapshot: its config, the pattern
	// generated from it, the voice chain built for it, and the dedup
	// memory. The conductor replaces fields wholesale under its lock; no
	// one else writes them.
	trackState struct {
		id        int
		config    metron.TrackConfig
		pattern   metron.Pattern
		lastFired optionalStep
		chain     metron.VoiceChain
	}

	// optionalStep is a local step index that may be absent. The zero
	// value is the absent state, which is what a track starts with and
	// returns to on Stop.
	optionalStep struct {
		value  int
		exists bool
	}

	PlayState int
)

const (
	Stopped PlayState = iota
	Playing
	Paused
)

func (s PlayState) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "stopped"
}

var ErrTrackNotFound = errors.New("track not found")
var ErrConductorClosed = errors.New("conductor is closed")

func (o optionalStep) Equals(v int) bool {
	return o.exists && o.value == v
}

// NewConductor creates a conductor and registers its tick callback on the
// transport at the master subdivision (one sixteenth; 32 ticks per two-bar
// master cycle). The transport is not started.
func NewConductor(broker *Broker, transport metron.Transport, builder metron.ChainBuilder) *Conductor {
	c := &Conductor{
		broker:    broker,
		transport: transport,
		builder:   builder,
	}
	c.handle = transport.ScheduleRepeat(c.tick, metron.Sixteenth)
	return c
}

// AddTrack registers a new track and returns its id. The pattern is
// generated and the voice chain built before the track becomes visible to
// the tick loop, so the first tick that sees the track can already fire it.
func (c *Conductor) AddTrack(cfg metron.TrackConfig) (int, error) {
	cfg = cfg.Clamp()
	chain, err := c.builder.Build(cfg)
	if err != nil {
		return 0, fmt.Errorf("building voice chain: %w", err)
	}
	t := &trackState{
		config:  cfg,
		pattern: metron.Generate(cfg.Steps, cfg.Pulses, cfg.Rotation),
		chain:   chain,
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		chain.Close()
		return 0, ErrConductorClosed
	}
	t.id = c.nextID
	c.nextID++
	c.tracks = append(c.tracks, t)
	c.mu.Unlock()
	c.notify(t.id, cfg, t.pattern)
	return t.id, nil
}

// RemoveTrack unregisters a track and tears down its voice chain. Any
// trigger callable still held by the host becomes a safe no-op.
func (c *Conductor) RemoveTrack(id int) error {
	c.mu.Lock()
	var chain metron.VoiceChain
	for i, t := range c.tracks {
		if t.id == id {
			chain = t.chain
			c.tracks = append(c.tracks[:i], c.tracks[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if chain == nil {
		return ErrTrackNotFound
	}
	chain.Close()
	TrySend(c.broker.ToHost, MsgToHost{Data: &TrackRemoved{ID: id}})
	return nil
}

// Reconfigure replaces a track's configuration with an atomic snapshot
// swap. Structural parameters (steps, pulses, rotation) regenerate the
// pattern; an instrument change rebuilds the voice chain, with the build
// happening before the swap so the tick path never waits on it; everything
// else ramps on the live chain over RampTime. The dedup memory is
// deliberately left alone: if the new pattern is active at the currently
// held local step, it only becomes eligible to fire again once the local
// step moves on, so rapid reconfiguration cannot double-fire an instant.
func (c *Conductor) Reconfigure(id int, cfg metron.TrackConfig) error {
	cfg = cfg.Clamp()
	var newChain metron.VoiceChain
	for {
		c.mu.Lock()
		t := c.find(id)
		if t == nil {
			c.mu.Unlock()
			if newChain != nil {
				newChain.Close()
			}
			return ErrTrackNotFound
		}
		patternChanged, chainChanged := t.config.StructuralChange(cfg)
		if chainChanged && newChain == nil {
			// chain construction may be expensive; do it unlocked and
			// re-validate, as the track can change or vanish meanwhile
			c.mu.Unlock()
			chain, err := c.builder.Build(cfg)
			if err != nil {
				c.alert("ChainBuild", fmt.Sprintf("building voice chain: %v", err))
				return fmt.Errorf("building voice chain: %w", err)
			}
			newChain = chain
			continue
		}
		t.config = cfg
		if patternChanged {
			t.pattern = metron.Generate(cfg.Steps, cfg.Pulses, cfg.Rotation)
		}
		var oldChain metron.VoiceChain
		if chainChanged {
			oldChain = t.chain
			t.chain = newChain
		} else if newChain != nil {
			// a concurrent reconfigure already switched the instrument
			oldChain = newChain
		}
		chain, pattern := t.chain, t.pattern
		c.mu.Unlock()
		if oldChain != nil {
			oldChain.Close()
		}
		chain.RampGain(cfg.Gain)
		chain.RampFrequency(cfg.Frequency)
		chain.RampFilter(cfg.FilterFrequency, cfg.FilterResonance)
		chain.RampPan(cfg.Pan)
		chain.SetEnvelope(cfg.Attack, cfg.Decay, cfg.Sustain, cfg.Release)
		c.notify(id, cfg, pattern)
		return nil
	}
}

// Start begins playback, or resumes it: when coming from Paused, neither
// the master step nor any track's dedup memory is reset.
func (c *Conductor) Start() {
	c.mu.Lock()
	if c.closed || c.state == Playing {
		c.mu.Unlock()
		return
	}
	c.state = Playing
	step := c.masterStep
	c.mu.Unlock()
	c.transport.Start()
	TrySend(c.broker.ToHost, MsgToHost{HasStep: true, Step: step, Playing: true})
}

// Pause suspends playback, retaining the master step and all dedup memory
// so that Start resumes exactly where the groove left off.
func (c *Conductor) Pause() {
	c.mu.Lock()
	if c.state != Playing {
		c.mu.Unlock()
		return
	}
	c.state = Paused
	step := c.masterStep
	c.mu.Unlock()
	c.transport.Pause()
	TrySend(c.broker.ToHost, MsgToHost{HasStep: true, Step: step, Playing: false})
}

// Stop halts playback from any state, rewinds the master step to zero and
// clears every track's dedup memory; the next Start fires from a clean
// slate.
func (c *Conductor) Stop() {
	c.mu.Lock()
	c.state = Stopped
	c.masterStep = 0
	for _, t := range c.tracks {
		t.lastFired = optionalStep{}
	}
	c.mu.Unlock()
	c.transport.Stop()
	TrySend(c.broker.ToHost, MsgToHost{HasStep: true, Step: 0, Playing: false})
}

// SetTempo forwards a tempo change to the transport; the master step
// mapping is tempo-independent so nothing else needs to move.
func (c *Conductor) SetTempo(bpm float64) {
	c.transport.SetTempo(bpm)
}

// TriggerNote fires one manual note on a track, outside the pattern.
// Triggering a track that has been removed is a no-op.
func (c *Conductor) TriggerNote(id int, when, duration float64) {
	c.mu.Lock()
	t := c.find(id)
	if t == nil || c.closed {
		c.mu.Unlock()
		return
	}
	chain, freq := t.chain, t.config.Frequency
	if duration <= 0 {
		duration = t.config.NoteLength
	}
	c.mu.Unlock()
	chain.Trigger(freq, duration, when)
}

// State returns the current playback state.
func (c *Conductor) State() PlayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MasterStep returns the next master step to be played, in [0,32).
func (c *Conductor) MasterStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.masterStep
}

// Close unregisters from the transport and tears down every chain. The
// conductor cannot be reused afterwards.
func (c *Conductor) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = Stopped
	chains := make([]metron.VoiceChain, 0, len(c.tracks))
	for _, t := range c.tracks {
		chains = append(chains, t.chain)
	}
	c.tracks = nil
	c.mu.Unlock()
	c.transport.Clear(c.handle)
	c.transport.Stop()
	for _, chain := range chains {
		chain.Close()
	}
	return nil
}

// tick runs once per master subdivision on the transport goroutine. A
// track fires when its pattern is active at the local step and the local
// step differs from the one it last fired on: the master resolution maps
// several consecutive ticks onto the same local step for short tracks, and
// firing on the transition rather than on the raw bit keeps a 2-step track
// from hammering sixteen triggers per cycle. An inactive bit leaves the
// dedup memory untouched, so re-entering the same active step on a later
// lap fires again.
func (c *Conductor) tick(tickTime float64) {
	c.mu.Lock()
	if c.state != Playing || c.closed {
		c.mu.Unlock()
		return
	}
	solo := false
	for _, t := range c.tracks {
		if t.config.Solo {
			solo = true
			break
		}
	}
	for _, t := range c.tracks {
		local := metron.LocalStep(c.masterStep, t.config.Steps)
		if !t.pattern.At(local) {
			continue
		}
		if t.lastFired.Equals(local) {
			continue
		}
		t.lastFired = optionalStep{value: local, exists: true}
		if t.config.Muted || (solo && !t.config.Solo) {
			continue
		}
		t.chain.Trigger(t.config.Frequency, t.config.NoteLength, tickTime)
		TrySend(c.broker.ToHost, MsgToHost{Data: &TriggerEvent{
			TrackID:  t.id,
			When:     tickTime,
			Duration: t.config.NoteLength,
		}})
	}
	c.masterStep = (c.masterStep + 1) % metron.MasterCycleLength
	step := c.masterStep
	c.mu.Unlock()
	TrySend(c.broker.ToHost, MsgToHost{HasStep: true, Step: step, Playing: true})
}

// find returns the track with the given id, or nil. Caller holds c.mu.
func (c *Conductor) find(id int) *trackState {
	for _, t := range c.tracks {
		if t.id == id {
			return t
		}
	}
	return nil
}

func (c *Conductor) notify(id int, cfg metron.TrackConfig, pattern metron.Pattern) {
	TrySend(c.broker.ToHost, MsgToHost{Data: &TrackSnapshot{
		ID:      id,
		Config:  cfg,
		Pattern: pattern.Copy(),
		Trigger: func(when, duration float64) {
			c.TriggerNote(id, when, duration)
		},
	}})
}

func (c *Conductor) alert(name, message string) {
	TrySend(c.broker.ToHost, MsgToHost{Data: &Alert{
		Name:     name,
		Message:  message,
		Priority: Error,
		Duration: defaultAlertDuration,
	}})
}

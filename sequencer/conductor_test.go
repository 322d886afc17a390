package sequencer_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/karttu/metron"
	"github.com/karttu/metron/sequencer"
)

type (
	fakeTransport struct {
		callback    metron.TickFunc
		subdivision metron.Subdivision
		cleared     bool
		running     bool
		bpm         float64
		now         float64
	}

	fakeBuilder struct {
		chains []*fakeChain
		fail   error
	}

	fakeChain struct {
		mu       sync.Mutex
		triggers []fakeTrigger
		gain     float64
		freq     float64
		cutoff   float64
		pan      float64
		attack   float64
		closed   bool
	}

	fakeTrigger struct {
		freq, duration, when float64
	}
)

func (f *fakeTransport) ScheduleRepeat(callback metron.TickFunc, subdivision metron.Subdivision) metron.TransportHandle {
	f.callback = callback
	f.subdivision = subdivision
	return 1
}

func (f *fakeTransport) Clear(handle metron.TransportHandle) { f.cleared = true }

func (f *fakeTransport) Start() { f.running = true }

func (f *fakeTransport) Stop() { f.running = false; f.now = 0 }

func (f *fakeTransport) Pause() { f.running = false }

func (f *fakeTransport) SetTempo(bpm float64) { f.bpm = bpm }

// tick drives the registered callback directly, one sixteenth at 120 BPM
// per call, the way the real clock goroutine would.
func (f *fakeTransport) tick(n int) {
	for i := 0; i < n; i++ {
		f.callback(f.now)
		f.now += 0.125
	}
}

func (b *fakeBuilder) Build(cfg metron.TrackConfig) (metron.VoiceChain, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	c := &fakeChain{gain: cfg.Gain, freq: cfg.Frequency, cutoff: cfg.FilterFrequency, pan: cfg.Pan, attack: cfg.Attack}
	b.chains = append(b.chains, c)
	return c, nil
}

func (c *fakeChain) Trigger(frequency, duration, when float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers = append(c.triggers, fakeTrigger{frequency, duration, when})
}

func (c *fakeChain) RampGain(gain float64) { c.mu.Lock(); c.gain = gain; c.mu.Unlock() }

func (c *fakeChain) RampFrequency(hz float64) { c.mu.Lock(); c.freq = hz; c.mu.Unlock() }

func (c *fakeChain) RampFilter(cutoff, resonance float64) { c.mu.Lock(); c.cutoff = cutoff; c.mu.Unlock() }

func (c *fakeChain) RampPan(pan float64) { c.mu.Lock(); c.pan = pan; c.mu.Unlock() }

func (c *fakeChain) SetEnvelope(attack, decay, sustain, release float64) {
	c.mu.Lock()
	c.attack = attack
	c.mu.Unlock()
}

func (c *fakeChain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChain) triggerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.triggers)
}

func newTestConductor() (*sequencer.Conductor, *fakeTransport, *fakeBuilder) {
	transport := &fakeTransport{}
	builder := &fakeBuilder{}
	conductor := sequencer.NewConductor(sequencer.NewBroker(), transport, builder)
	return conductor, transport, builder
}

func trackConfig(steps, pulses int) metron.TrackConfig {
	cfg := metron.DefaultTrackConfig()
	cfg.Steps = steps
	cfg.Pulses = pulses
	return cfg
}

func TestScheduleOnSixteenths(t *testing.T) {
	_, transport, _ := newTestConductor()
	if transport.callback == nil {
		t.Fatal("no tick callback registered")
	}
	if transport.subdivision != metron.Sixteenth {
		t.Errorf("subdivision = %v, expected sixteenth", transport.subdivision)
	}
}

func TestFiresOncePerOnsetPerCycle(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	if _, err := conductor.AddTrack(trackConfig(8, 3)); err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}
	conductor.Start()
	transport.tick(metron.MasterCycleLength)
	if got := builder.chains[0].triggerCount(); got != 3 {
		t.Errorf("one cycle fired %v triggers, expected 3", got)
	}
	transport.tick(metron.MasterCycleLength)
	if got := builder.chains[0].triggerCount(); got != 6 {
		t.Errorf("two cycles fired %v triggers, expected 6", got)
	}
}

func TestDedupShortTrack(t *testing.T) {
	// a saturated 2-step track maps 16 consecutive master ticks onto each
	// local step; it must fire on the transition, not on every tick
	conductor, transport, builder := newTestConductor()
	if _, err := conductor.AddTrack(trackConfig(2, 2)); err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}
	conductor.Start()
	transport.tick(metron.MasterCycleLength)
	if got := builder.chains[0].triggerCount(); got != 2 {
		t.Errorf("one cycle fired %v triggers, expected 2", got)
	}
}

func TestPolymetricTracksShareTheClock(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	conductor.AddTrack(trackConfig(5, 5))
	conductor.AddTrack(trackConfig(11, 11))
	conductor.Start()
	transport.tick(metron.MasterCycleLength)
	if got := builder.chains[0].triggerCount(); got != 5 {
		t.Errorf("5-step track fired %v triggers, expected 5", got)
	}
	if got := builder.chains[1].triggerCount(); got != 11 {
		t.Errorf("11-step track fired %v triggers, expected 11", got)
	}
}

func TestNoTicksWhileStopped(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	conductor.AddTrack(trackConfig(8, 8))
	transport.tick(8)
	if got := builder.chains[0].triggerCount(); got != 0 {
		t.Errorf("fired %v triggers while stopped", got)
	}
	if conductor.MasterStep() != 0 {
		t.Errorf("master step advanced to %v while stopped", conductor.MasterStep())
	}
}

func TestStopRewindsAndClearsDedup(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	conductor.AddTrack(trackConfig(8, 3))
	conductor.Start()
	transport.tick(10)
	conductor.Stop()
	if conductor.MasterStep() != 0 {
		t.Errorf("master step = %v after Stop, expected 0", conductor.MasterStep())
	}
	if conductor.State() != sequencer.Stopped {
		t.Errorf("state = %v after Stop", conductor.State())
	}
	before := builder.chains[0].triggerCount()
	conductor.Start()
	transport.tick(1)
	// cleared dedup memory means the onset at step zero fires again
	if got := builder.chains[0].triggerCount(); got != before+1 {
		t.Errorf("restart fired %v new triggers, expected 1", got-before)
	}
}

func TestPauseRetainsPositionAndDedup(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	conductor.AddTrack(trackConfig(8, 3))
	conductor.Start()
	transport.tick(10) // onsets at master 0 and 8 have fired
	conductor.Pause()
	if conductor.MasterStep() != 10 {
		t.Errorf("master step = %v after Pause, expected 10", conductor.MasterStep())
	}
	if conductor.State() != sequencer.Paused {
		t.Errorf("state = %v after Pause", conductor.State())
	}
	before := builder.chains[0].triggerCount()
	if before != 2 {
		t.Fatalf("fired %v triggers before pausing, expected 2", before)
	}
	conductor.Start()
	// resuming on the same local step must not re-fire it
	transport.tick(2)
	if got := builder.chains[0].triggerCount(); got != before {
		t.Errorf("resume re-fired the held step, %v triggers", got)
	}
	// the next onset is local step 5 at master 20
	transport.tick(9)
	if got := builder.chains[0].triggerCount(); got != before+1 {
		t.Errorf("fired %v triggers after resume, expected %v", got, before+1)
	}
}

func TestReconfigureRampsInPlace(t *testing.T) {
	conductor, _, builder := newTestConductor()
	id, _ := conductor.AddTrack(trackConfig(8, 3))
	cfg := trackConfig(8, 3)
	cfg.Gain = 0.25
	cfg.Frequency = 440
	cfg.FilterFrequency = 2000
	cfg.Pan = -0.5
	cfg.Attack = 0.3
	if err := conductor.Reconfigure(id, cfg); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	if len(builder.chains) != 1 {
		t.Fatalf("continuous change rebuilt the chain, %v chains", len(builder.chains))
	}
	chain := builder.chains[0]
	if chain.gain != 0.25 || chain.freq != 440 || chain.cutoff != 2000 || chain.pan != -0.5 || chain.attack != 0.3 {
		t.Errorf("parameters not ramped: %+v", chain)
	}
}

func TestReconfigureInstrumentRebuildsChain(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	id, _ := conductor.AddTrack(trackConfig(8, 3))
	cfg := trackConfig(8, 3)
	cfg.Instrument = metron.Square
	if err := conductor.Reconfigure(id, cfg); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	if len(builder.chains) != 2 {
		t.Fatalf("instrument change built %v chains, expected 2", len(builder.chains))
	}
	if !builder.chains[0].closed {
		t.Error("old chain not closed")
	}
	conductor.Start()
	transport.tick(1)
	if builder.chains[0].triggerCount() != 0 {
		t.Error("old chain still receives triggers")
	}
	if builder.chains[1].triggerCount() != 1 {
		t.Error("new chain did not receive the trigger")
	}
}

func TestReconfigurePreservesDedup(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	id, _ := conductor.AddTrack(trackConfig(8, 3))
	conductor.Start()
	transport.tick(1) // fires local step 0
	cfg := trackConfig(8, 3)
	cfg.Rotation = 2 // new pattern is still active at local step 0
	if err := conductor.Reconfigure(id, cfg); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	transport.tick(3) // master 1..3 still map to local step 0
	if got := builder.chains[0].triggerCount(); got != 1 {
		t.Errorf("reconfiguring mid-step double-fired, %v triggers", got)
	}
}

func TestReconfigureRegeneratesPattern(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	id, _ := conductor.AddTrack(trackConfig(8, 0))
	conductor.Start()
	transport.tick(metron.MasterCycleLength)
	if got := builder.chains[0].triggerCount(); got != 0 {
		t.Fatalf("empty pattern fired %v triggers", got)
	}
	if err := conductor.Reconfigure(id, trackConfig(8, 8)); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	transport.tick(metron.MasterCycleLength)
	if got := builder.chains[0].triggerCount(); got != 8 {
		t.Errorf("saturated pattern fired %v triggers, expected 8", got)
	}
}

func TestReconfigureUnknownTrack(t *testing.T) {
	conductor, _, _ := newTestConductor()
	if err := conductor.Reconfigure(42, trackConfig(8, 3)); !errors.Is(err, sequencer.ErrTrackNotFound) {
		t.Errorf("Reconfigure unknown track: %v", err)
	}
}

func TestRemoveTrack(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	id, _ := conductor.AddTrack(trackConfig(8, 8))
	if err := conductor.RemoveTrack(id); err != nil {
		t.Fatalf("RemoveTrack failed: %v", err)
	}
	if !builder.chains[0].closed {
		t.Error("removed track's chain not closed")
	}
	conductor.Start()
	transport.tick(4)
	if got := builder.chains[0].triggerCount(); got != 0 {
		t.Errorf("removed track fired %v triggers", got)
	}
	if err := conductor.RemoveTrack(id); !errors.Is(err, sequencer.ErrTrackNotFound) {
		t.Errorf("second RemoveTrack: %v", err)
	}
	// a stale manual trigger is a no-op, not a panic
	conductor.TriggerNote(id, 0, 0.5)
}

func TestMuteAdvancesDedupSilently(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	cfg := trackConfig(8, 8)
	cfg.Muted = true
	id, _ := conductor.AddTrack(cfg)
	conductor.Start()
	transport.tick(4)
	if got := builder.chains[0].triggerCount(); got != 0 {
		t.Fatalf("muted track fired %v triggers", got)
	}
	cfg.Muted = false
	if err := conductor.Reconfigure(id, cfg); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	// master step 4 is a fresh local step; the unmuted track fires there,
	// but the local step held while muted stays spent
	transport.tick(1)
	if got := builder.chains[0].triggerCount(); got != 1 {
		t.Errorf("unmuted track fired %v triggers, expected 1", got)
	}
}

func TestSoloSilencesOthers(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	conductor.AddTrack(trackConfig(8, 8))
	soloed := trackConfig(8, 8)
	soloed.Solo = true
	conductor.AddTrack(soloed)
	conductor.Start()
	transport.tick(8)
	if got := builder.chains[0].triggerCount(); got != 0 {
		t.Errorf("non-solo track fired %v triggers while another is soloed", got)
	}
	if got := builder.chains[1].triggerCount(); got != 2 {
		t.Errorf("solo track fired %v triggers, expected 2", got)
	}
}

func TestTriggerNoteDefaultsDuration(t *testing.T) {
	conductor, _, builder := newTestConductor()
	cfg := trackConfig(8, 3)
	cfg.NoteLength = 0.4
	id, _ := conductor.AddTrack(cfg)
	conductor.TriggerNote(id, 1.5, 0)
	chain := builder.chains[0]
	chain.mu.Lock()
	defer chain.mu.Unlock()
	if len(chain.triggers) != 1 {
		t.Fatalf("manual trigger fired %v notes", len(chain.triggers))
	}
	if got := chain.triggers[0]; got.when != 1.5 || got.duration != 0.4 {
		t.Errorf("manual trigger = %+v, expected when 1.5 duration 0.4", got)
	}
}

func TestAddTrackBuildFailure(t *testing.T) {
	transport := &fakeTransport{}
	builder := &fakeBuilder{fail: errors.New("no more channels")}
	conductor := sequencer.NewConductor(sequencer.NewBroker(), transport, builder)
	if _, err := conductor.AddTrack(trackConfig(8, 3)); err == nil {
		t.Error("AddTrack succeeded although the build failed")
	}
}

func TestAddTrackClampsConfig(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	conductor.AddTrack(trackConfig(99, -5))
	conductor.Start()
	transport.tick(metron.MasterCycleLength)
	// steps clamp to 32, pulses to 0: a silent but valid track
	if got := builder.chains[0].triggerCount(); got != 0 {
		t.Errorf("clamped track fired %v triggers", got)
	}
}

func TestSetTempoForwards(t *testing.T) {
	conductor, transport, _ := newTestConductor()
	conductor.SetTempo(140)
	if transport.bpm != 140 {
		t.Errorf("transport bpm = %v, expected 140", transport.bpm)
	}
}

func TestClose(t *testing.T) {
	conductor, transport, builder := newTestConductor()
	conductor.AddTrack(trackConfig(8, 3))
	if err := conductor.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !transport.cleared {
		t.Error("transport registration not cleared")
	}
	if !builder.chains[0].closed {
		t.Error("chain not closed")
	}
	if _, err := conductor.AddTrack(trackConfig(8, 3)); !errors.Is(err, sequencer.ErrConductorClosed) {
		t.Errorf("AddTrack after Close: %v", err)
	}
}

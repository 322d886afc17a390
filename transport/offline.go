package transport

import (
	"sync"

	"github.com/karttu/metron"
)

// Offline is a transport driven by its caller instead of a goroutine: each
// Advance call moves the musical timeline forward and fires every tick
// that falls inside the window. It is what offline bouncing and
// deterministic tests run on; the grid and tempo semantics are exactly
// those of Clock.
type Offline struct {
	mu        sync.Mutex
	bpm       float64
	running   bool
	regs      []*registration
	nextID    metron.TransportHandle
	now       float64
	nextTick  float64 // time of the next base tick on the grid
	tickIndex int64
}

func NewOffline(bpm float64) *Offline {
	return &Offline{bpm: clampBPM(bpm)}
}

func (o *Offline) ScheduleRepeat(callback metron.TickFunc, subdivision metron.Subdivision) metron.TransportHandle {
	every := int64(float64(subdivision)/float64(baseSubdivision) + 0.5)
	if every < 1 {
		every = 1
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	handle := o.nextID
	o.nextID++
	o.regs = append(o.regs, &registration{handle: handle, callback: callback, every: every})
	return handle
}

func (o *Offline) Clear(handle metron.TransportHandle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, r := range o.regs {
		if r.handle == handle {
			o.regs = append(o.regs[:i], o.regs[i+1:]...)
			return
		}
	}
}

func (o *Offline) Start() {
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
}

func (o *Offline) Pause() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Offline) Stop() {
	o.mu.Lock()
	o.running = false
	o.now = 0
	o.nextTick = 0
	o.tickIndex = 0
	o.mu.Unlock()
}

func (o *Offline) SetTempo(bpm float64) {
	o.mu.Lock()
	o.bpm = clampBPM(bpm)
	o.mu.Unlock()
}

func (o *Offline) BPM() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bpm
}

func (o *Offline) Now() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Advance moves the timeline forward by exactly seconds, firing every
// base tick whose grid time falls inside the window. The grid cursor is
// kept separately from the timeline, so windows smaller than a base
// interval accumulate correctly instead of overshooting. While the
// transport is not running the timeline does not move. Callbacks run
// outside the lock, like on Clock.
func (o *Offline) Advance(seconds float64) {
	o.mu.Lock()
	if !o.running || seconds <= 0 {
		o.mu.Unlock()
		return
	}
	target := o.now + seconds
	type firing struct {
		callback metron.TickFunc
		at       float64
	}
	var due []firing
	for o.nextTick < target {
		for _, r := range o.regs {
			if o.tickIndex%r.every == 0 {
				due = append(due, firing{callback: r.callback, at: o.nextTick})
			}
		}
		o.tickIndex++
		o.nextTick += baseSubdivision.Interval(o.bpm)
	}
	o.now = target
	o.mu.Unlock()
	for _, f := range due {
		f.callback(f.at)
	}
}

// Package transport provides the wall-clock implementation of the engine's
// master clock. A single goroutine ticks at a fixed base resolution (one
// 64th note) and fans out to the registered callbacks at their own
// subdivisions, all aligned to the same grid, so every consumer of the
// clock agrees on where the cycle is.
package transport

import (
	"sync"
	"time"

	"github.com/karttu/metron"
)

const baseSubdivision = metron.Subdivision(1.0 / 64)

const (
	minBPM = 20
	maxBPM = 300
)

type clockState int

const (
	stopped clockState = iota
	running
	paused
)

type (
	// Clock implements metron.Transport. The timeline it reports to
	// callbacks is the idealized musical one, tick index times interval,
	// not the wall clock: ticker jitter then shifts when a callback runs
	// but never what time it is told, which keeps scheduled audio on the
	// grid.
	Clock struct {
		mu        sync.Mutex
		bpm       float64
		state     clockState
		regs      []*registration
		nextID    metron.TransportHandle
		now       float64 // seconds on the musical timeline
		tickIndex int64   // base ticks since Stop

		ticker *time.Ticker
		wake   chan struct{}
		quit   chan struct{}
		done   chan struct{}
	}

	registration struct {
		handle   metron.TransportHandle
		callback metron.TickFunc
		every    int64 // base ticks per callback invocation
	}
)

// NewClock creates a stopped clock at the given tempo and starts its
// goroutine. Close releases it.
func NewClock(bpm float64) *Clock {
	c := &Clock{
		bpm:  clampBPM(bpm),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.ticker = time.NewTicker(time.Hour)
	c.ticker.Stop()
	go c.run()
	return c
}

// ScheduleRepeat registers a callback to fire every subdivision while the
// clock runs, aligned to the base grid counted from Stop.
func (c *Clock) ScheduleRepeat(callback metron.TickFunc, subdivision metron.Subdivision) metron.TransportHandle {
	every := int64(float64(subdivision)/float64(baseSubdivision) + 0.5)
	if every < 1 {
		every = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	handle := c.nextID
	c.nextID++
	c.regs = append(c.regs, &registration{handle: handle, callback: callback, every: every})
	return handle
}

// Clear cancels a registration. Clearing an unknown handle is a no-op.
func (c *Clock) Clear(handle metron.TransportHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.regs {
		if r.handle == handle {
			c.regs = append(c.regs[:i], c.regs[i+1:]...)
			return
		}
	}
}

// Start runs the clock. From stopped, the timeline begins at zero and the
// first tick fires immediately; from paused, ticking resumes where Pause
// left it without an extra tick.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.state == running {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = running
	interval := baseSubdivision.Interval(c.bpm)
	c.mu.Unlock()
	c.ticker.Reset(secondsToDuration(interval))
	c.nudge()
	if prev == stopped {
		c.advance()
	}
}

// Pause suspends ticking, holding the timeline position.
func (c *Clock) Pause() {
	c.mu.Lock()
	if c.state != running {
		c.mu.Unlock()
		return
	}
	c.state = paused
	c.mu.Unlock()
	c.ticker.Stop()
	c.nudge()
}

// Stop suspends ticking and rewinds the timeline to zero.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.state = stopped
	c.now = 0
	c.tickIndex = 0
	c.mu.Unlock()
	c.ticker.Stop()
	c.nudge()
}

// SetTempo changes the tempo, clamped to [20,300] BPM, re-arming the
// ticker immediately if the clock is running.
func (c *Clock) SetTempo(bpm float64) {
	c.mu.Lock()
	c.bpm = clampBPM(bpm)
	isRunning := c.state == running
	interval := baseSubdivision.Interval(c.bpm)
	c.mu.Unlock()
	if isRunning {
		c.ticker.Reset(secondsToDuration(interval))
	}
}

// BPM returns the current tempo.
func (c *Clock) BPM() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bpm
}

// Now returns the current position on the musical timeline, in seconds.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Close stops the clock and its goroutine for good.
func (c *Clock) Close() error {
	c.Stop()
	close(c.quit)
	<-c.done
	return nil
}

func (c *Clock) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case <-c.wake:
		case <-c.ticker.C:
			c.advance()
		}
	}
}

// advance fires one base tick: all registrations due at the current tick
// index get the current timeline position, then the timeline moves one base
// interval. Callbacks run outside the lock so they may call back into the
// clock.
func (c *Clock) advance() {
	c.mu.Lock()
	if c.state != running {
		c.mu.Unlock()
		return
	}
	now := c.now
	var due []metron.TickFunc
	for _, r := range c.regs {
		if c.tickIndex%r.every == 0 {
			due = append(due, r.callback)
		}
	}
	c.tickIndex++
	c.now += baseSubdivision.Interval(c.bpm)
	c.mu.Unlock()
	for _, callback := range due {
		callback(now)
	}
}

// nudge wakes the run loop after a state change; if the buffer is full the
// loop is already waking, so dropping is fine.
func (c *Clock) nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func clampBPM(bpm float64) float64 {
	if bpm < minBPM {
		return minBPM
	}
	if bpm > maxBPM {
		return maxBPM
	}
	return bpm
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return time.Millisecond
	}
	return time.Duration(s * float64(time.Second))
}

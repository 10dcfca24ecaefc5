// Package timeutil provides the timebase pose estimators stamp their
// measurements with, plus a manually driven clock for tests and replays.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source behind a Timebase.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Timebase converts clock readings into the seconds-since-start timestamps
// the estimators work in. Measurements that arrive with their own capture
// time are placed on the same axis with At.
type Timebase struct {
	clock Clock
	start time.Time
}

// NewTimebase returns a Timebase whose zero is the clock's current reading.
func NewTimebase(clock Clock) *Timebase {
	return &Timebase{clock: clock, start: clock.Now()}
}

// Seconds is the current timestamp.
func (tb *Timebase) Seconds() float64 {
	return tb.At(tb.clock.Now())
}

// At returns the timestamp of t; readings before the zero are negative.
func (tb *Timebase) At(t time.Time) float64 {
	return t.Sub(tb.start).Seconds()
}

// Start is the instant timestamp zero refers to.
func (tb *Timebase) Start() time.Time { return tb.start }

// ManualClock only moves when told to. A non-zero step is added after every
// Now call, which lets a loop that never touches the clock still see time
// advance by one period per reading.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewManualClock returns a clock stopped at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the current reading, then applies the auto step.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current reading without stepping.
func (c *ManualClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set jumps to t. Jumping backwards is allowed.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetStep sets the auto step; zero disables it.
func (c *ManualClock) SetStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}

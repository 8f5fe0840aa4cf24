package testutil

import (
	"sync"
	"time"

	"github.com/roach88/knock/internal/market"
)

// ManualClock is a wall clock that only moves when a test moves it.
//
// It satisfies engine.TimeSource, so tests control which calendar day the
// engine considers current and when the expiry window opens.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at start (converted to UTC).
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// NewManualClockAtDay creates a clock frozen at noon of the given day.
func NewManualClockAtDay(day market.Day) *ManualClock {
	return NewManualClock(day.Start().Add(12 * time.Hour))
}

// Now returns the current frozen time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed here; the engine
// itself never lets its view of time decrease.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceDays moves the clock forward by n whole days.
func (c *ManualClock) AdvanceDays(n int) {
	c.Advance(time.Duration(n) * 24 * time.Hour)
}

// Day returns the calendar day the clock is in.
func (c *ManualClock) Day() market.Day {
	return market.DayOf(c.Now())
}

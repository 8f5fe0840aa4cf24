package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the monotonic logical clock for event ordering.
//
// Every event is stamped with a strictly increasing seq number from this
// clock. Seq numbers are reserved while an operation runs and only published
// once its transaction commits, so a rolled-back operation never leaves a gap.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// However, the Engine's single-writer design means only one goroutine
// at a time advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used on startup to resume from the last event in the ledger.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward to seq. It never moves backwards.
func (c *Clock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// TimeSource supplies wall-clock time for day bucketing and expiry checks.
// Implemented by SystemTime (production) and testutil.ManualClock (tests).
type TimeSource interface {
	Now() time.Time
}

// SystemTime reads the host clock in UTC.
type SystemTime struct{}

// Now implements TimeSource.
func (SystemTime) Now() time.Time {
	return time.Now().UTC()
}

// monotonicTime never reports a time earlier than one it already reported.
// Day eligibility (settlement cutoff, expiry) is evaluated against it, so a
// host clock stepping backwards cannot reopen a closed day.
type monotonicTime struct {
	mu   sync.Mutex
	src  TimeSource
	last time.Time
}

func (m *monotonicTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.src.Now().UTC()
	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}

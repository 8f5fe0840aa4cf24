package testutil

import (
	"testing"
	"time"

	"github.com/roach88/knock/internal/market"
	"github.com/stretchr/testify/assert"
)

func TestManualClock_Frozen(t *testing.T) {
	start := time.Date(2024, 10, 1, 9, 30, 0, 0, time.UTC)
	clock := NewManualClock(start)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now(), "time must not move on its own")
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClockAtDay(20000)
	assert.Equal(t, market.Day(20000), clock.Day())

	clock.Advance(11 * time.Hour)
	assert.Equal(t, market.Day(20000), clock.Day())

	clock.Advance(time.Hour)
	assert.Equal(t, market.Day(20001), clock.Day())

	clock.AdvanceDays(7)
	assert.Equal(t, market.Day(20008), clock.Day())
}

func TestManualClock_SetConvertsToUTC(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	loc := time.FixedZone("plus5", 5*60*60)
	at := time.Date(2024, 1, 2, 3, 0, 0, 0, loc)

	clock.Set(at)
	assert.Equal(t, time.UTC, clock.Now().Location())
	assert.True(t, at.Equal(clock.Now()))
}

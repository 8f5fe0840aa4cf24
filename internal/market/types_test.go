package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusSettled))
	assert.True(t, StatusPending.CanTransition(StatusRefunded))
	assert.False(t, StatusPending.CanTransition(StatusAccepted))

	assert.True(t, StatusSettled.CanTransition(StatusAccepted))
	assert.True(t, StatusSettled.CanTransition(StatusRejected))
	assert.True(t, StatusSettled.CanTransition(StatusExpired))
	assert.False(t, StatusSettled.CanTransition(StatusRefunded))
	assert.False(t, StatusSettled.CanTransition(StatusPending))
}

func TestStatus_TerminalStatesHaveNoExit(t *testing.T) {
	all := []Status{StatusPending, StatusSettled, StatusAccepted, StatusRejected, StatusRefunded, StatusExpired}
	for _, from := range []Status{StatusAccepted, StatusRejected, StatusRefunded, StatusExpired} {
		assert.True(t, from.IsTerminal(), "%s should be terminal", from)
		for _, to := range all {
			assert.False(t, from.CanTransition(to), "%s -> %s must be illegal", from, to)
		}
	}
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusSettled.IsTerminal())
	assert.False(t, Status("bogus").IsTerminal())
}

func TestDayOf(t *testing.T) {
	midnight := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d := DayOf(midnight)
	assert.Equal(t, d, DayOf(midnight.Add(23*time.Hour+59*time.Minute)))
	assert.Equal(t, d+1, DayOf(midnight.Add(24*time.Hour)))
	assert.Equal(t, "2026-03-01", d.String())
	assert.Equal(t, midnight, d.Start())
	assert.Equal(t, d-1, d.Prev())
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", d.String())

	n, err := ParseDay("20000")
	require.NoError(t, err)
	assert.Equal(t, Day(20000), n)

	_, err = ParseDay("yesterday")
	assert.Error(t, err)
}

func TestKnock_ExpiresAt(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	k := &Knock{CreatedAt: created}
	assert.Equal(t, created.Add(7*24*time.Hour), k.ExpiresAt())
}

func TestValidSlots(t *testing.T) {
	assert.False(t, ValidSlots(0))
	assert.True(t, ValidSlots(1))
	assert.True(t, ValidSlots(100))
	assert.False(t, ValidSlots(101))
}

func TestNormalizeParticipant(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeParticipant("  0xABCDEF "))
	// "é" composed vs decomposed
	assert.Equal(t, NormalizeParticipant("café"), NormalizeParticipant("café"))
}

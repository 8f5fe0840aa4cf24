package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/roach88/knock/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestClock_NewClockAt(t *testing.T) {
	c := NewClockAt(100)
	assert.Equal(t, int64(100), c.Current(), "clock should start at specified value")
	assert.Equal(t, int64(101), c.Next())
}

func TestClock_Next_Incrementing(t *testing.T) {
	c := NewClock()

	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(3), c.Next())
	assert.Equal(t, int64(3), c.Current())
}

func TestClock_AdvanceTo_NeverBackwards(t *testing.T) {
	c := NewClockAt(10)

	c.AdvanceTo(15)
	assert.Equal(t, int64(15), c.Current())

	c.AdvanceTo(12)
	assert.Equal(t, int64(15), c.Current(), "AdvanceTo must not move the clock back")
}

func TestClock_ThreadSafe(t *testing.T) {
	c := NewClock()
	const goroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	seqs := make(chan int64, goroutines*callsPerGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seqs <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "seq %d generated twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
}

func TestMonotonicTime_HoldsAgainstBackwardSteps(t *testing.T) {
	manual := testutil.NewManualClockAtDay(20000)
	mt := &monotonicTime{src: manual}

	first := mt.Now()
	manual.Advance(-48 * time.Hour)
	assert.Equal(t, first, mt.Now(), "time must not go backwards")

	manual.Set(first.Add(time.Minute))
	assert.Equal(t, first.Add(time.Minute), mt.Now())
}

func TestSystemTime_IsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, SystemTime{}.Now().Location())
}

package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knock/internal/market"
)

func sampleEvents() []market.Event {
	at := time.Date(2024, 10, 5, 12, 0, 0, 0, time.UTC)
	return []market.Event{
		{ID: "e1", Seq: 1, TxID: "tx-0001", Kind: market.EventSubmitted, KnockID: 1, Sender: "alice", Receiver: "rita", Amount: decimal.New(2, 16), Day: 20001, At: at},
		{ID: "e2", Seq: 2, TxID: "tx-0002", Kind: market.EventSettled, KnockID: 1, Sender: "alice", Receiver: "rita", Amount: decimal.New(2, 16), Won: true, Day: 20001, At: at},
		{ID: "e3", Seq: 3, TxID: "tx-0002", Kind: market.EventDaySettled, Receiver: "rita", Day: 20001, Slots: 10, At: at},
	}
}

// recordingSink collects delivered events and optionally fails.
type recordingSink struct {
	mu   sync.Mutex
	seqs []int64
	err  error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, e market.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs = append(s.seqs, e.Seq)
	return s.err
}

func (s *recordingSink) delivered() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.seqs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// runToCompletion publishes batches, closes the dispatcher and waits for Run.
func runToCompletion(t *testing.T, d *Dispatcher, batches ...[]market.Event) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	for _, b := range batches {
		d.Publish(b)
	}
	d.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := newQueue()
	for _, e := range sampleEvents() {
		require.True(t, q.enqueue(e))
	}
	assert.Equal(t, 3, q.len())

	for want := int64(1); want <= 3; want++ {
		e, ok := q.tryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Seq)
	}
	_, ok := q.tryDequeue()
	assert.False(t, ok)
}

func TestQueue_Close(t *testing.T) {
	q := newQueue()
	q.enqueue(sampleEvents()[0])
	q.close()
	q.close()

	assert.False(t, q.enqueue(sampleEvents()[1]), "closed queue rejects events")
	assert.False(t, q.drained(), "queued events survive close")

	_, ok := q.tryDequeue()
	require.True(t, ok)
	assert.True(t, q.drained())

	select {
	case <-q.wait():
	default:
		t.Fatal("closed queue must wake waiters")
	}
}

func TestDispatcher_DeliversInOrderToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	d := NewDispatcher(discardLogger(), a, b)

	evs := sampleEvents()
	runToCompletion(t, d, evs[:2], evs[2:])

	assert.Equal(t, []int64{1, 2, 3}, a.delivered())
	assert.Equal(t, []int64{1, 2, 3}, b.delivered())
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_FailingSinkDoesNotStopOthers(t *testing.T) {
	bad := &recordingSink{err: errors.New("down")}
	good := &recordingSink{}
	var buf bytes.Buffer
	d := NewDispatcher(slog.New(slog.NewTextHandler(&buf, nil)), bad, good)

	runToCompletion(t, d, sampleEvents())

	assert.Equal(t, []int64{1, 2, 3}, good.delivered())
	assert.Contains(t, buf.String(), "event delivery failed")
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(discardLogger(), sink)
	runToCompletion(t, d)

	d.Publish(sampleEvents())
	assert.Empty(t, sink.delivered())
}

func TestDispatcher_ContextCancel(t *testing.T) {
	d := NewDispatcher(discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher ignored cancellation")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)), slog.LevelInfo)

	require.NoError(t, sink.Deliver(context.Background(), sampleEvents()[0]))
	out := buf.String()
	assert.Contains(t, out, "kind=knock_submitted")
	assert.Contains(t, out, "sender=alice")
	assert.Contains(t, out, "amount=20000000000000000")
}

func TestRedisSink_AppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	d := NewDispatcher(discardLogger(), NewRedisSink(client, "", 0))
	runToCompletion(t, d, sampleEvents())

	msgs, err := client.XRange(context.Background(), DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	first := msgs[0].Values
	assert.Equal(t, "1", first["seq"])
	assert.Equal(t, "knock_submitted", first["kind"])
	assert.Equal(t, "alice", first["sender"])
	assert.Equal(t, "20000000000000000", first["amount"])
	assert.NotContains(t, first, "won")

	assert.Equal(t, "true", msgs[1].Values["won"])
	assert.Equal(t, "10", msgs[2].Values["slots"])
}

func TestRedisSink_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	err := NewRedisSink(client, "s", 0).Deliver(context.Background(), sampleEvents()[0])
	assert.Error(t, err)
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewMetricsSink(reg)
	require.NoError(t, err)

	d := NewDispatcher(discardLogger(), sink)
	runToCompletion(t, d, sampleEvents())

	assert.Equal(t, float64(1), promtest.ToFloat64(sink.events.WithLabelValues("knock_submitted")))
	assert.Equal(t, float64(1), promtest.ToFloat64(sink.events.WithLabelValues("day_settled")))
	assert.Equal(t, float64(3), promtest.ToFloat64(sink.lastSeq))
	assert.Equal(t, float64(20001), promtest.ToFloat64(sink.settledAt.WithLabelValues("rita")))
	assert.InDelta(t, 2e16, promtest.ToFloat64(sink.wei.WithLabelValues("knock_submitted")), 1)

	_, err = NewMetricsSink(reg)
	assert.Error(t, err, "double registration is refused")
}

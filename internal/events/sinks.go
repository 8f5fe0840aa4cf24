package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/roach88/knock/internal/market"
)

// LogSink writes each event as one structured log line.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink logs events at level.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	return &LogSink{logger: logger, level: level}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, e market.Event) error {
	attrs := []any{"seq", e.Seq, "kind", e.Kind, "tx", e.TxID}
	if e.KnockID != 0 {
		attrs = append(attrs, "knock", e.KnockID)
	}
	if e.Sender != "" {
		attrs = append(attrs, "sender", e.Sender)
	}
	if e.Receiver != "" {
		attrs = append(attrs, "receiver", e.Receiver)
	}
	if !e.Amount.IsZero() {
		attrs = append(attrs, "amount", e.Amount.String())
	}
	s.logger.Log(ctx, s.level, "event", attrs...)
	return nil
}

// DefaultStream is the Redis stream events are appended to when none is configured.
const DefaultStream = "knock:events"

// RedisSink appends each event to a Redis stream with XADD. Stream entry
// fields mirror the event's JSON field names.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates a sink writing to stream. maxLen > 0 trims the stream
// approximately to that many entries.
func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, e market.Event) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: streamValues(e),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s seq %d: %w", s.stream, e.Seq, err)
	}
	return nil
}

func streamValues(e market.Event) map[string]any {
	v := map[string]any{
		"id":     e.ID,
		"seq":    strconv.FormatInt(e.Seq, 10),
		"tx_id":  e.TxID,
		"kind":   string(e.Kind),
		"amount": e.Amount.String(),
		"at":     strconv.FormatInt(e.At.UnixNano(), 10),
	}
	if e.KnockID != 0 {
		v["knock_id"] = strconv.FormatInt(e.KnockID, 10)
	}
	if e.Sender != "" {
		v["sender"] = e.Sender
	}
	if e.Receiver != "" {
		v["receiver"] = e.Receiver
	}
	if e.Kind == market.EventSettled {
		v["won"] = strconv.FormatBool(e.Won)
	}
	if e.Day != 0 {
		v["day"] = strconv.FormatInt(int64(e.Day), 10)
	}
	if e.Slots != 0 {
		v["slots"] = strconv.Itoa(e.Slots)
	}
	return v
}

// MetricsSink turns events into Prometheus counters.
type MetricsSink struct {
	events    *prometheus.CounterVec
	wei       *prometheus.CounterVec
	lastSeq   prometheus.Gauge
	settledAt *prometheus.GaugeVec
}

// NewMetricsSink registers the knock metrics on reg.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knock",
			Name:      "events_total",
			Help:      "Committed events by kind",
		}, []string{"kind"}),
		wei: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knock",
			Name:      "amount_wei_total",
			Help:      "Wei carried by committed events, by kind",
		}, []string{"kind"}),
		lastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knock",
			Name:      "last_event_seq",
			Help:      "Seq of the last delivered event",
		}),
		settledAt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "knock",
			Name:      "last_settled_day",
			Help:      "Most recent day settled, by receiver",
		}, []string{"receiver"}),
	}
	for _, c := range []prometheus.Collector{s.events, s.wei, s.lastSeq, s.settledAt} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register knock metrics: %w", err)
		}
	}
	return s, nil
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Deliver(_ context.Context, e market.Event) error {
	kind := string(e.Kind)
	s.events.WithLabelValues(kind).Inc()
	if !e.Amount.IsZero() {
		s.wei.WithLabelValues(kind).Add(e.Amount.InexactFloat64())
	}
	s.lastSeq.Set(float64(e.Seq))
	if e.Kind == market.EventDaySettled {
		s.settledAt.WithLabelValues(e.Receiver).Set(float64(e.Day))
	}
	return nil
}

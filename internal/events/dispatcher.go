// Package events delivers committed knock events to external sinks.
//
// The engine hands each committed operation's events to a Dispatcher, which
// queues them and returns immediately. A single Run goroutine drains the
// queue and delivers every event, in seq order, to each sink. A failing sink
// is logged and skipped; it never blocks the engine or the other sinks.
package events

import (
	"context"
	"log/slog"

	"github.com/roach88/knock/internal/market"
)

// Sink receives committed events one at a time, in seq order.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e market.Event) error
}

// Dispatcher fans committed events out to sinks. It implements
// engine.Publisher.
//
// Thread-safety: Publish may be called from any goroutine. Run must be
// called from exactly one goroutine.
type Dispatcher struct {
	queue  *queue
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher delivering to sinks in the given order.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: newQueue(), sinks: sinks, logger: logger}
}

// Publish queues events for delivery. Events published after Close are
// dropped with a warning.
func (d *Dispatcher) Publish(events []market.Event) {
	if len(events) == 0 {
		return
	}
	if !d.queue.enqueue(events...) {
		d.logger.Warn("events dropped after dispatcher close", "count", len(events), "first_seq", events[0].Seq)
	}
}

// Pending returns the number of events not yet delivered.
func (d *Dispatcher) Pending() int {
	return d.queue.len()
}

// Run delivers queued events until ctx is cancelled or the dispatcher is
// closed and drained. It returns ctx.Err() on cancellation and nil on a
// clean close.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Debug("event dispatcher starting", "sinks", len(d.sinks))

	for {
		if e, ok := d.queue.tryDequeue(); ok {
			d.deliver(ctx, e)
			continue
		}
		if d.queue.drained() {
			d.logger.Debug("event dispatcher stopping: queue closed")
			return nil
		}

		select {
		case <-ctx.Done():
			d.logger.Debug("event dispatcher stopping: context cancelled", "undelivered", d.queue.len())
			d.queue.close()
			return ctx.Err()
		case <-d.queue.wait():
		}
	}
}

// Close stops accepting events. Run returns once the queue is drained.
func (d *Dispatcher) Close() {
	d.queue.close()
}

func (d *Dispatcher) deliver(ctx context.Context, e market.Event) {
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, e); err != nil {
			d.logger.Warn("event delivery failed",
				"sink", s.Name(),
				"seq", e.Seq,
				"kind", e.Kind,
				"error", err)
		}
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/knock/internal/identity"
	"github.com/roach88/knock/internal/market"
	"github.com/roach88/knock/internal/payout"
	"github.com/roach88/knock/internal/store"
	"github.com/shopspring/decimal"
)

// Publisher receives the events of each committed operation, in seq order.
// Implemented by events.Dispatcher. Publish must not block.
type Publisher interface {
	Publish(events []market.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish([]market.Event) {}

// Config is the engine's startup configuration.
type Config struct {
	// FeeRecipient receives the protocol share of every accepted or
	// rejected knock.
	FeeRecipient string
}

// Engine runs the knock lifecycle against the ledger.
//
// Thread-safety model:
//   - Mutating operations are serialised by a mutex; each runs to completion
//     inside one ledger transaction.
//   - Read queries go straight to the store and may run concurrently.
//
// INVARIANTS:
//   - Event seq numbers are gap-free and strictly increasing.
//   - State transitions are applied before any payment in the same transaction.
//   - Registry counters and event publication happen only after commit.
type Engine struct {
	mu sync.Mutex

	store        *store.Store
	registry     identity.Registry
	payer        payout.Payer
	clock        *Clock
	timeSrc      TimeSource
	time         *monotonicTime
	txIDs        TxIDGenerator
	publisher    Publisher
	logger       *slog.Logger
	feeRecipient string
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithPayer replaces the default ledger payer.
func WithPayer(p payout.Payer) Option {
	return func(e *Engine) { e.payer = p }
}

// WithTimeSource replaces the system clock.
func WithTimeSource(ts TimeSource) Option {
	return func(e *Engine) { e.timeSrc = ts }
}

// WithTxIDGenerator replaces the UUIDv7 transaction id generator.
func WithTxIDGenerator(g TxIDGenerator) Option {
	return func(e *Engine) { e.txIDs = g }
}

// WithPublisher sets where committed events are delivered.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the engine's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over an open ledger.
//
// The logical clock resumes from the last event seq in the ledger and the
// engine's view of time never falls behind the last recorded event.
func New(ctx context.Context, s *store.Store, reg identity.Registry, cfg Config, opts ...Option) (*Engine, error) {
	if s == nil || reg == nil {
		return nil, errors.New("engine: store and registry are required")
	}
	fee := market.NormalizeParticipant(cfg.FeeRecipient)
	if fee == "" {
		return nil, errors.New("engine: fee recipient is required")
	}
	if market.IsReserved(fee) {
		return nil, fmt.Errorf("engine: fee recipient %q uses the reserved prefix %q", fee, market.ReservedPrefix)
	}

	e := &Engine{
		store:        s,
		registry:     reg,
		timeSrc:      SystemTime{},
		txIDs:        UUIDv7Generator{},
		publisher:    nopPublisher{},
		logger:       slog.Default(),
		feeRecipient: fee,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.payer == nil {
		e.payer = payout.NewLedgerPayer(e.logger)
	}

	seq, err := s.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume clock: %w", err)
	}
	latest, err := s.LatestTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume clock: %w", err)
	}
	e.clock = NewClockAt(seq)
	e.time = &monotonicTime{src: e.timeSrc, last: time.Unix(0, latest).UTC()}

	e.logger.Debug("engine ready", "seq", seq, "fee_recipient", fee)
	return e, nil
}

// op accumulates the events of one operation until its transaction commits.
type op struct {
	txID    string
	at      time.Time
	nextSeq int64
	events  []market.Event
}

// newOp starts an operation. Callers must hold e.mu.
func (e *Engine) newOp() *op {
	return &op{
		txID:    e.txIDs.Generate(),
		at:      e.time.Now(),
		nextSeq: e.clock.Current(),
	}
}

func (o *op) emit(ev market.Event) {
	o.nextSeq++
	ev.Seq = o.nextSeq
	ev.TxID = o.txID
	ev.At = o.at
	o.events = append(o.events, ev)
}

// execute runs fn and then writes the op's events in the same transaction.
// On commit the clock advances past the events and they are published.
func (e *Engine) execute(ctx context.Context, o *op, fn func(tx *store.Tx) error) error {
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		for i := range o.events {
			id, err := market.EventID(&o.events[i])
			if err != nil {
				return fmt.Errorf("event id: %w", err)
			}
			o.events[i].ID = id
			if err := tx.AppendEvent(ctx, o.events[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if n := len(o.events); n > 0 {
		e.clock.AdvanceTo(o.events[n-1].Seq)
		e.publisher.Publish(o.events)
	}
	return nil
}

// pay issues one payment out of escrow inside tx.
func (e *Engine) pay(ctx context.Context, tx *store.Tx, o *op, knockID int64, payee string, amount decimal.Decimal, kind market.PaymentKind) (market.Payment, error) {
	p := market.Payment{TxID: o.txID, KnockID: knockID, Payee: payee, Amount: amount, Kind: kind}
	if err := e.payer.Pay(ctx, tx, p); err != nil {
		return market.Payment{}, errTransferFailed(knockID, payee, err)
	}
	return p, nil
}

// logFailure records an aborted operation.
func (e *Engine) logFailure(operation string, err error, attrs ...any) {
	attrs = append(attrs, "error", err)
	if code := CodeOf(err); code != "" {
		attrs = append(attrs, "code", string(code))
		e.logger.Debug(operation+" rejected", attrs...)
		return
	}
	e.logger.Error(operation+" failed", attrs...)
}

// knockInTx loads a knock, translating a missing row into NOT_FOUND.
func knockInTx(ctx context.Context, tx *store.Tx, id int64) (market.Knock, error) {
	k, err := tx.Knock(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return market.Knock{}, errNotFound(id)
	}
	return k, err
}

// CurrentDay returns the calendar day the engine considers current.
func (e *Engine) CurrentDay() market.Day {
	return market.DayOf(e.time.Now())
}

// Now returns the engine's monotonic view of wall-clock time.
func (e *Engine) Now() time.Time {
	return e.time.Now()
}

// Knock returns a knock by id.
func (e *Engine) Knock(ctx context.Context, id int64) (market.Knock, error) {
	k, err := e.store.Knock(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return market.Knock{}, errNotFound(id)
	}
	return k, err
}

// PendingKnocks returns the sender's knocks still awaiting settlement.
func (e *Engine) PendingKnocks(ctx context.Context, sender string) ([]market.Knock, error) {
	return e.store.PendingKnocks(ctx, market.NormalizeParticipant(sender))
}

// SettledKnocks returns the receiver's actionable queue.
func (e *Engine) SettledKnocks(ctx context.Context, receiver string) ([]market.Knock, error) {
	return e.store.SettledKnocks(ctx, market.NormalizeParticipant(receiver))
}

// Settings returns a receiver's slot configuration.
func (e *Engine) Settings(ctx context.Context, receiver string) (market.Settings, error) {
	return e.store.Settings(ctx, market.NormalizeParticipant(receiver))
}

// Stats returns a receiver's aggregate counters.
func (e *Engine) Stats(ctx context.Context, receiver string) (market.Stats, error) {
	return e.store.Stats(ctx, market.NormalizeParticipant(receiver))
}

// DayBucket returns the knocks filed for (receiver, day) in insertion order.
func (e *Engine) DayBucket(ctx context.Context, receiver string, day market.Day) ([]market.BucketEntry, error) {
	return e.store.Bucket(ctx, market.NormalizeParticipant(receiver), day)
}

// IsDaySettled reports whether (receiver, day) has been settled.
func (e *Engine) IsDaySettled(ctx context.Context, receiver string, day market.Day) (bool, error) {
	return e.store.IsDaySettled(ctx, market.NormalizeParticipant(receiver), day)
}

// DaySettlement returns the settlement record of (receiver, day).
func (e *Engine) DaySettlement(ctx context.Context, receiver string, day market.Day) (market.DaySettlement, error) {
	ds, err := e.store.DaySettlement(ctx, market.NormalizeParticipant(receiver), day)
	if errors.Is(err, store.ErrNotFound) {
		return market.DaySettlement{}, &Error{
			Code:        ErrCodeNotFound,
			Message:     fmt.Sprintf("day %d has not been settled", day),
			Participant: receiver,
		}
	}
	return ds, err
}

// Balance returns the ledger balance of an account.
func (e *Engine) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	if account != market.EscrowAccount {
		account = market.NormalizeParticipant(account)
	}
	return e.store.Balance(ctx, account)
}

// UnpaidRefunds lists refunds owed after failed settlement transfers.
// An empty sender lists every open refund.
func (e *Engine) UnpaidRefunds(ctx context.Context, sender string) ([]market.UnpaidRefund, error) {
	return e.store.UnpaidRefunds(ctx, market.NormalizeParticipant(sender))
}

// Events returns committed events with seq greater than after.
func (e *Engine) Events(ctx context.Context, after int64, limit int) ([]market.Event, error) {
	return e.store.Events(ctx, after, limit)
}

// Transfers returns the payments journaled for a knock.
func (e *Engine) Transfers(ctx context.Context, knockID int64) ([]market.Payment, error) {
	return e.store.Transfers(ctx, knockID)
}

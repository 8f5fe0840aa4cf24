package store

import (
	"context"
	"fmt"

	"github.com/roach88/knock/internal/market"
)

// AppendEvent writes an event to the log. Seq and ID must already be assigned;
// both are unique.
func (t *Tx) AppendEvent(ctx context.Context, e market.Event) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (seq, id, tx_id, kind, knock_id, sender, receiver, amount, won, day, slots, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Seq, e.ID, e.TxID, string(e.Kind), e.KnockID, e.Sender, e.Receiver,
		e.Amount.String(), e.Won, int64(e.Day), e.Slots, e.At.UnixNano())
	if err != nil {
		return fmt.Errorf("append event seq=%d: %w", e.Seq, err)
	}
	return nil
}

// MaxSeq returns the highest event sequence number, or 0 for an empty log.
// The engine resumes its logical clock from this value.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

// LatestTime returns the largest event timestamp in the log in unix nanos,
// or 0 for an empty log.
func (s *Store) LatestTime(ctx context.Context) (int64, error) {
	var at int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(at), 0) FROM events`).Scan(&at); err != nil {
		return 0, fmt.Errorf("latest event time: %w", err)
	}
	return at, nil
}

// Events returns events with seq greater than after, in seq order. A limit of
// zero or less returns every remaining event.
func (s *Store) Events(ctx context.Context, after int64, limit int) ([]market.Event, error) {
	where := `WHERE seq > ?`
	args := []any{after}
	if limit > 0 {
		where += ` ORDER BY seq ASC LIMIT ?`
		args = append(args, limit)
		return queryEvents(ctx, s.db, where, args...)
	}
	return queryEvents(ctx, s.db, where+` ORDER BY seq ASC`, args...)
}

// EventsForTx returns the events written by one operation, in seq order.
func (s *Store) EventsForTx(ctx context.Context, txID string) ([]market.Event, error) {
	return queryEvents(ctx, s.db, `WHERE tx_id = ? ORDER BY seq ASC`, txID)
}

func queryEvents(ctx context.Context, q queryer, tail string, args ...any) ([]market.Event, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, id, tx_id, kind, knock_id, sender, receiver, amount, won, day, slots, at
		FROM events `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []market.Event{}
	for rows.Next() {
		var (
			e      market.Event
			kind   string
			amount string
			day    int64
			at     int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.TxID, &kind, &e.KnockID, &e.Sender, &e.Receiver,
			&amount, &e.Won, &day, &e.Slots, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		e.Kind = market.EventKind(kind)
		e.Day = market.Day(day)
		e.At = fromNanos(at)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

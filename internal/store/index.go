package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/knock/internal/market"
)

// AppendBucket files a knock at the end of the (receiver, day) bucket and
// returns its position. Positions start at 0 and never repeat in a bucket.
func (t *Tx) AppendBucket(ctx context.Context, receiver string, day market.Day, knockID int64) (int, error) {
	var next int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM day_buckets WHERE receiver = ? AND day = ?
	`, receiver, int64(day)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next bucket position: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO day_buckets (receiver, day, position, knock_id) VALUES (?, ?, ?, ?)
	`, receiver, int64(day), next, knockID)
	if err != nil {
		return 0, fmt.Errorf("append bucket: %w", err)
	}
	return next, nil
}

// Bucket reads the (receiver, day) bucket inside the transaction.
func (t *Tx) Bucket(ctx context.Context, receiver string, day market.Day) ([]market.BucketEntry, error) {
	return readBucket(ctx, t.tx, receiver, day)
}

// Bucket returns the knocks filed for (receiver, day) in insertion order.
// Buckets are retained after settlement.
func (s *Store) Bucket(ctx context.Context, receiver string, day market.Day) ([]market.BucketEntry, error) {
	return readBucket(ctx, s.db, receiver, day)
}

func readBucket(ctx context.Context, q queryer, receiver string, day market.Day) ([]market.BucketEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT b.knock_id, b.position, k.bid, k.sender
		FROM day_buckets b
		JOIN knocks k ON k.id = b.knock_id
		WHERE b.receiver = ? AND b.day = ?
		ORDER BY b.position ASC
	`, receiver, int64(day))
	if err != nil {
		return nil, fmt.Errorf("query bucket: %w", err)
	}
	defer rows.Close()

	entries := []market.BucketEntry{}
	for rows.Next() {
		var (
			e   market.BucketEntry
			bid string
		)
		if err := rows.Scan(&e.KnockID, &e.Position, &bid, &e.Sender); err != nil {
			return nil, fmt.Errorf("scan bucket entry: %w", err)
		}
		if e.Bid, err = parseAmount(bid); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bucket: %w", err)
	}
	return entries, nil
}

// MarkDaySettled records that (receiver, day) has been drained. A second call
// for the same pair fails on the primary key.
func (t *Tx) MarkDaySettled(ctx context.Context, s market.DaySettlement) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO settled_days (receiver, day, tx_id, winners, losers, settled_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.Receiver, int64(s.Day), s.TxID, s.Winners, s.Losers, s.SettledAt.UnixNano())
	if err != nil {
		return fmt.Errorf("mark day %d settled for %s: %w", s.Day, s.Receiver, err)
	}
	return nil
}

// IsDaySettled reports whether (receiver, day) was drained, inside the transaction.
func (t *Tx) IsDaySettled(ctx context.Context, receiver string, day market.Day) (bool, error) {
	_, err := readDaySettlement(ctx, t.tx, receiver, day)
	return settledResult(err)
}

// IsDaySettled reports whether (receiver, day) was drained.
func (s *Store) IsDaySettled(ctx context.Context, receiver string, day market.Day) (bool, error) {
	_, err := readDaySettlement(ctx, s.db, receiver, day)
	return settledResult(err)
}

// DaySettlement returns the settlement record for (receiver, day) or ErrNotFound.
func (s *Store) DaySettlement(ctx context.Context, receiver string, day market.Day) (market.DaySettlement, error) {
	return readDaySettlement(ctx, s.db, receiver, day)
}

func settledResult(err error) (bool, error) {
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func readDaySettlement(ctx context.Context, q queryer, receiver string, day market.Day) (market.DaySettlement, error) {
	var (
		ds        = market.DaySettlement{Receiver: receiver, Day: day}
		settledAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT tx_id, winners, losers, settled_at FROM settled_days WHERE receiver = ? AND day = ?
	`, receiver, int64(day)).Scan(&ds.TxID, &ds.Winners, &ds.Losers, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.DaySettlement{}, fmt.Errorf("day %d for %s: %w", day, receiver, ErrNotFound)
	}
	if err != nil {
		return market.DaySettlement{}, fmt.Errorf("read day settlement: %w", err)
	}
	ds.SettledAt = time.Unix(0, settledAt).UTC()
	return ds, nil
}

// AddPending adds a knock to the sender's pending index.
func (t *Tx) AddPending(ctx context.Context, sender string, knockID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sender_pending (sender, knock_id) VALUES (?, ?)
	`, sender, knockID)
	if err != nil {
		return fmt.Errorf("add pending: %w", err)
	}
	return nil
}

// RemovePending drops a knock from the sender's pending index. Removing an
// absent entry is a no-op.
func (t *Tx) RemovePending(ctx context.Context, sender string, knockID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM sender_pending WHERE sender = ? AND knock_id = ?
	`, sender, knockID)
	if err != nil {
		return fmt.Errorf("remove pending: %w", err)
	}
	return nil
}

// CountPending counts the sender's indexed knocks whose status is still Pending.
func (t *Tx) CountPending(ctx context.Context, sender string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sender_pending p
		JOIN knocks k ON k.id = p.knock_id
		WHERE p.sender = ? AND k.status = 'pending'
	`, sender).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// PushSettled appends a knock to the receiver's settled queue.
func (t *Tx) PushSettled(ctx context.Context, receiver string, knockID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO receiver_settled (receiver, knock_id, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM receiver_settled WHERE receiver = ?))
	`, receiver, knockID, receiver)
	if err != nil {
		return fmt.Errorf("push settled: %w", err)
	}
	return nil
}

// RemoveSettled drops a knock from the receiver's settled queue. Removing an
// absent entry is a no-op; remaining entries keep their relative order.
func (t *Tx) RemoveSettled(ctx context.Context, receiver string, knockID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM receiver_settled WHERE receiver = ? AND knock_id = ?
	`, receiver, knockID)
	if err != nil {
		return fmt.Errorf("remove settled: %w", err)
	}
	return nil
}

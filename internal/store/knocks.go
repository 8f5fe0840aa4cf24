package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/knock/internal/market"
	"github.com/shopspring/decimal"
)

const knockColumns = `k.id, k.sender, k.receiver, k.bid, k.content_id, k.created_at, k.settle_day, k.status`

// InsertKnock writes a new knock and returns the assigned id. The id is
// monotonic for the lifetime of the database.
func (t *Tx) InsertKnock(ctx context.Context, k *market.Knock, txID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO knocks (sender, receiver, bid, content_id, created_at, settle_day, status, tx_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, k.Sender, k.Receiver, k.Bid.String(), k.ContentID, k.CreatedAt.UnixNano(), int64(k.SettleDay), string(k.Status), txID)
	if err != nil {
		return 0, fmt.Errorf("insert knock: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert knock: last id: %w", err)
	}
	return id, nil
}

// SetStatus moves a knock from one status to another. It fails with
// ErrStatusConflict if the knock is not currently in from.
func (t *Tx) SetStatus(ctx context.Context, id int64, from, to market.Status) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE knocks SET status = ? WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("set knock %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set knock %d status: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("knock %d: %s -> %s: %w", id, from, to, ErrStatusConflict)
	}
	return nil
}

// Knock reads a knock inside the transaction.
func (t *Tx) Knock(ctx context.Context, id int64) (market.Knock, error) {
	return readKnock(ctx, t.tx, id)
}

// Knock reads a knock by id. Returns ErrNotFound if no such knock exists.
func (s *Store) Knock(ctx context.Context, id int64) (market.Knock, error) {
	return readKnock(ctx, s.db, id)
}

// PendingKnocks returns the sender's knocks that are still Pending, ordered by id.
func (s *Store) PendingKnocks(ctx context.Context, sender string) ([]market.Knock, error) {
	return queryKnocks(ctx, s.db, `
		SELECT `+knockColumns+`
		FROM sender_pending p
		JOIN knocks k ON k.id = p.knock_id
		WHERE p.sender = ? AND k.status = 'pending'
		ORDER BY k.id ASC
	`, sender)
}

// SettledKnocks returns the receiver's settled queue in insertion order.
func (s *Store) SettledKnocks(ctx context.Context, receiver string) ([]market.Knock, error) {
	return queryKnocks(ctx, s.db, `
		SELECT `+knockColumns+`
		FROM receiver_settled q
		JOIN knocks k ON k.id = q.knock_id
		WHERE q.receiver = ?
		ORDER BY q.position ASC
	`, receiver)
}

func readKnock(ctx context.Context, q queryer, id int64) (market.Knock, error) {
	row := q.QueryRowContext(ctx, `SELECT `+knockColumns+` FROM knocks k WHERE k.id = ?`, id)
	k, err := scanKnock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Knock{}, fmt.Errorf("knock %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return market.Knock{}, fmt.Errorf("read knock %d: %w", id, err)
	}
	return k, nil
}

func queryKnocks(ctx context.Context, q queryer, query string, args ...any) ([]market.Knock, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query knocks: %w", err)
	}
	defer rows.Close()

	knocks := []market.Knock{}
	for rows.Next() {
		k, err := scanKnock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knock: %w", err)
		}
		knocks = append(knocks, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knocks: %w", err)
	}
	return knocks, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanKnock(s scanner) (market.Knock, error) {
	var (
		k         market.Knock
		bid       string
		createdAt int64
		settleDay int64
		status    string
	)
	if err := s.Scan(&k.ID, &k.Sender, &k.Receiver, &bid, &k.ContentID, &createdAt, &settleDay, &status); err != nil {
		return market.Knock{}, err
	}
	amount, err := decimal.NewFromString(bid)
	if err != nil {
		return market.Knock{}, fmt.Errorf("knock %d bid %q: %w", k.ID, bid, err)
	}
	k.Bid = amount
	k.CreatedAt = fromNanos(createdAt)
	k.SettleDay = market.Day(settleDay)
	k.Status = market.Status(status)
	return k, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

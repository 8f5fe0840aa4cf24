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

// ErrInsufficientFunds is returned when a debit would drive a balance negative.
var ErrInsufficientFunds = errors.New("insufficient funds")

// PutSettings stores the receiver's daily slot count.
func (t *Tx) PutSettings(ctx context.Context, receiver string, slots int, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO receiver_settings (receiver, daily_slots, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(receiver) DO UPDATE SET daily_slots = excluded.daily_slots, updated_at = excluded.updated_at
	`, receiver, slots, at.UnixNano())
	if err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}

// Settings reads receiver settings inside the transaction.
func (t *Tx) Settings(ctx context.Context, receiver string) (market.Settings, error) {
	return readSettings(ctx, t.tx, receiver)
}

// Settings returns the receiver's settings, or the defaults with
// IsConfigured false if the receiver never configured slots.
func (s *Store) Settings(ctx context.Context, receiver string) (market.Settings, error) {
	return readSettings(ctx, s.db, receiver)
}

func readSettings(ctx context.Context, q queryer, receiver string) (market.Settings, error) {
	var slots int
	err := q.QueryRowContext(ctx, `
		SELECT daily_slots FROM receiver_settings WHERE receiver = ?
	`, receiver).Scan(&slots)
	if errors.Is(err, sql.ErrNoRows) {
		return market.DefaultSettings(receiver), nil
	}
	if err != nil {
		return market.Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return market.Settings{Receiver: receiver, DailySlots: slots, IsConfigured: true}, nil
}

// RecordReceived counts one admitted knock and its bid toward the receiver's stats.
func (t *Tx) RecordReceived(ctx context.Context, receiver string, bid decimal.Decimal) error {
	st, err := readStats(ctx, t.tx, receiver)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO receiver_stats (receiver, total_received, total_bids) VALUES (?, 1, ?)
		ON CONFLICT(receiver) DO UPDATE SET
			total_received = total_received + 1,
			total_bids = excluded.total_bids
	`, receiver, st.TotalBids.Add(bid).String())
	if err != nil {
		return fmt.Errorf("record received: %w", err)
	}
	return nil
}

// IncrementAccepted bumps the receiver's accepted counter.
func (t *Tx) IncrementAccepted(ctx context.Context, receiver string) error {
	return t.bumpStat(ctx, receiver, "accepted")
}

// IncrementRejected bumps the receiver's rejected counter.
func (t *Tx) IncrementRejected(ctx context.Context, receiver string) error {
	return t.bumpStat(ctx, receiver, "rejected")
}

// bumpStat increments a counter column. column is always a constant from this file.
func (t *Tx) bumpStat(ctx context.Context, receiver, column string) error {
	query := fmt.Sprintf(`
		INSERT INTO receiver_stats (receiver, %[1]s) VALUES (?, 1)
		ON CONFLICT(receiver) DO UPDATE SET %[1]s = %[1]s + 1
	`, column)
	if _, err := t.tx.ExecContext(ctx, query, receiver); err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

// Stats returns the receiver's counters. Unknown receivers report zeros.
func (s *Store) Stats(ctx context.Context, receiver string) (market.Stats, error) {
	return readStats(ctx, s.db, receiver)
}

func readStats(ctx context.Context, q queryer, receiver string) (market.Stats, error) {
	st := market.Stats{Receiver: receiver, TotalBids: decimal.Zero}
	var totalBids string
	err := q.QueryRowContext(ctx, `
		SELECT total_received, total_bids, accepted, rejected FROM receiver_stats WHERE receiver = ?
	`, receiver).Scan(&st.TotalReceived, &totalBids, &st.Accepted, &st.Rejected)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return market.Stats{}, fmt.Errorf("read stats: %w", err)
	}
	if st.TotalBids, err = parseAmount(totalBids); err != nil {
		return market.Stats{}, err
	}
	return st, nil
}

// Credit adds amount to an account balance.
func (t *Tx) Credit(ctx context.Context, account string, amount decimal.Decimal) error {
	bal, err := readBalance(ctx, t.tx, account)
	if err != nil {
		return err
	}
	return t.putBalance(ctx, account, bal.Add(amount))
}

// Debit subtracts amount from an account balance. It fails with
// ErrInsufficientFunds rather than going negative.
func (t *Tx) Debit(ctx context.Context, account string, amount decimal.Decimal) error {
	bal, err := readBalance(ctx, t.tx, account)
	if err != nil {
		return err
	}
	if bal.LessThan(amount) {
		return fmt.Errorf("debit %s from %s (balance %s): %w", amount, account, bal, ErrInsufficientFunds)
	}
	return t.putBalance(ctx, account, bal.Sub(amount))
}

func (t *Tx) putBalance(ctx context.Context, account string, amount decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (account, amount) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET amount = excluded.amount
	`, account, amount.String())
	if err != nil {
		return fmt.Errorf("put balance %s: %w", account, err)
	}
	return nil
}

// Balance returns an account balance; unknown accounts hold zero.
func (s *Store) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	return readBalance(ctx, s.db, account)
}

// Balances returns every account balance.
func (s *Store) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account, amount FROM balances ORDER BY account ASC`)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var account, amount string
		if err := rows.Scan(&account, &amount); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		if out[account], err = parseAmount(amount); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return out, nil
}

func readBalance(ctx context.Context, q queryer, account string) (decimal.Decimal, error) {
	var amount string
	err := q.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = ?`, account).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance %s: %w", account, err)
	}
	return parseAmount(amount)
}

// RecordTransfer appends a payment to the transfer journal.
func (t *Tx) RecordTransfer(ctx context.Context, p market.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transfers (tx_id, knock_id, payee, amount, kind) VALUES (?, ?, ?, ?, ?)
	`, p.TxID, p.KnockID, p.Payee, p.Amount.String(), string(p.Kind))
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	return nil
}

// Transfers lists journaled payments for a knock in the order they were made.
func (s *Store) Transfers(ctx context.Context, knockID int64) ([]market.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_id, knock_id, payee, amount, kind FROM transfers WHERE knock_id = ? ORDER BY id ASC
	`, knockID)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	payments := []market.Payment{}
	for rows.Next() {
		var (
			p      market.Payment
			amount string
			kind   string
		)
		if err := rows.Scan(&p.TxID, &p.KnockID, &p.Payee, &amount, &kind); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		if p.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		p.Kind = market.PaymentKind(kind)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return payments, nil
}

// RecordUnpaidRefund notes a refund owed to a loser whose transfer failed.
func (t *Tx) RecordUnpaidRefund(ctx context.Context, r market.UnpaidRefund) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO unpaid_refunds (knock_id, sender, amount, reason, day) VALUES (?, ?, ?, ?, ?)
	`, r.KnockID, r.Sender, r.Amount.String(), r.Reason, int64(r.Day))
	if err != nil {
		return fmt.Errorf("record unpaid refund: %w", err)
	}
	return nil
}

// UnpaidRefund reads one refund record inside the transaction.
func (t *Tx) UnpaidRefund(ctx context.Context, knockID int64) (market.UnpaidRefund, error) {
	rows, err := queryUnpaid(ctx, t.tx, `WHERE knock_id = ?`, knockID)
	if err != nil {
		return market.UnpaidRefund{}, err
	}
	if len(rows) == 0 {
		return market.UnpaidRefund{}, fmt.Errorf("unpaid refund for knock %d: %w", knockID, ErrNotFound)
	}
	return rows[0], nil
}

// ResolveUnpaidRefund marks a refund as paid by txID.
func (t *Tx) ResolveUnpaidRefund(ctx context.Context, knockID int64, txID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE unpaid_refunds SET resolved = 1, resolved_tx = ? WHERE knock_id = ? AND resolved = 0
	`, txID, knockID)
	if err != nil {
		return fmt.Errorf("resolve unpaid refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve unpaid refund: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("open unpaid refund for knock %d: %w", knockID, ErrNotFound)
	}
	return nil
}

// UnpaidRefunds lists open refunds, optionally for one sender, ordered by knock id.
func (s *Store) UnpaidRefunds(ctx context.Context, sender string) ([]market.UnpaidRefund, error) {
	if sender == "" {
		return queryUnpaid(ctx, s.db, `WHERE resolved = 0`)
	}
	return queryUnpaid(ctx, s.db, `WHERE resolved = 0 AND sender = ?`, sender)
}

func queryUnpaid(ctx context.Context, q queryer, where string, args ...any) ([]market.UnpaidRefund, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT knock_id, sender, amount, reason, day, resolved FROM unpaid_refunds `+where+`
		ORDER BY knock_id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query unpaid refunds: %w", err)
	}
	defer rows.Close()

	out := []market.UnpaidRefund{}
	for rows.Next() {
		var (
			r      market.UnpaidRefund
			amount string
			day    int64
		)
		if err := rows.Scan(&r.KnockID, &r.Sender, &amount, &r.Reason, &day, &r.Resolved); err != nil {
			return nil, fmt.Errorf("scan unpaid refund: %w", err)
		}
		if r.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		r.Day = market.Day(day)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unpaid refunds: %w", err)
	}
	return out, nil
}

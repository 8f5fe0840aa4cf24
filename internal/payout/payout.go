// Package payout moves funds out of escrow.
//
// A Payer runs inside the caller's ledger transaction so that a payment and
// the state transition it belongs to commit or roll back together. The engine
// always applies its state transitions before calling Pay.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/knock/internal/market"
	"github.com/roach88/knock/internal/store"
)

// ErrPayeeRejected is returned when a payee cannot receive funds.
var ErrPayeeRejected = errors.New("payee rejected transfer")

// Payer transfers one payment out of escrow.
type Payer interface {
	Pay(ctx context.Context, tx *store.Tx, p market.Payment) error
}

// LedgerPayer settles payments against the ledger's balances: escrow is
// debited, the payee credited and the transfer journaled.
type LedgerPayer struct {
	logger *slog.Logger
}

// NewLedgerPayer returns a payer that writes to the ledger.
func NewLedgerPayer(logger *slog.Logger) *LedgerPayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerPayer{logger: logger}
}

// Pay implements Payer.
func (l *LedgerPayer) Pay(ctx context.Context, tx *store.Tx, p market.Payment) error {
	if p.Amount.IsNegative() {
		return fmt.Errorf("pay %s to %s: negative amount", p.Amount, p.Payee)
	}
	if p.Amount.IsZero() {
		// Nothing moves, but the journal still records the share.
		return tx.RecordTransfer(ctx, p)
	}
	if err := tx.Debit(ctx, market.EscrowAccount, p.Amount); err != nil {
		return fmt.Errorf("pay knock %d: %w", p.KnockID, err)
	}
	if err := tx.Credit(ctx, p.Payee, p.Amount); err != nil {
		return fmt.Errorf("pay knock %d: %w", p.KnockID, err)
	}
	if err := tx.RecordTransfer(ctx, p); err != nil {
		return err
	}
	l.logger.Debug("transfer",
		"knock", p.KnockID,
		"payee", p.Payee,
		"amount", p.Amount.String(),
		"kind", p.Kind,
		"tx", p.TxID)
	return nil
}

// Unpayable wraps a Payer and refuses payments to a fixed set of payees.
// It models recipients without a receive path.
type Unpayable struct {
	next   Payer
	payees map[string]struct{}
}

// NewUnpayable returns a decorator that fails payments to any of payees.
func NewUnpayable(next Payer, payees ...string) *Unpayable {
	u := &Unpayable{next: next, payees: make(map[string]struct{}, len(payees))}
	for _, p := range payees {
		u.payees[market.NormalizeParticipant(p)] = struct{}{}
	}
	return u
}

// Pay implements Payer.
func (u *Unpayable) Pay(ctx context.Context, tx *store.Tx, p market.Payment) error {
	if _, blocked := u.payees[p.Payee]; blocked {
		return fmt.Errorf("pay knock %d to %s: %w", p.KnockID, p.Payee, ErrPayeeRejected)
	}
	return u.next.Pay(ctx, tx, p)
}

// Block adds a payee to the refusal set.
func (u *Unpayable) Block(payee string) {
	u.payees[market.NormalizeParticipant(payee)] = struct{}{}
}

// Unblock removes a payee from the refusal set.
func (u *Unpayable) Unblock(payee string) {
	delete(u.payees, market.NormalizeParticipant(payee))
}

// String lists the blocked payees, sorted.
func (u *Unpayable) String() string {
	names := make([]string, 0, len(u.payees))
	for p := range u.payees {
		names = append(names, p)
	}
	sort.Strings(names)
	return "unpayable[" + strings.Join(names, ",") + "]"
}

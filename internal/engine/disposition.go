package engine

import (
	"context"
	"time"

	"github.com/roach88/knock/internal/market"
	"github.com/roach88/knock/internal/store"
	"github.com/shopspring/decimal"
)

// Disposition is the outcome of accepting, rejecting or expiring a knock.
type Disposition struct {
	TxID     string           `json:"tx_id"`
	Knock    market.Knock     `json:"knock"`
	Payments []market.Payment `json:"payments"`
}

// Accept honours a settled knock. Only the knock's receiver may call it.
// The bid is split 40/40/20 between sender, receiver and the fee recipient.
func (e *Engine) Accept(ctx context.Context, caller string, knockID int64) (Disposition, error) {
	return e.dispose(ctx, caller, knockID, market.StatusAccepted)
}

// Reject declines a settled knock. Only the knock's receiver may call it.
// The bid is split 80/20 between receiver and the fee recipient.
func (e *Engine) Reject(ctx context.Context, caller string, knockID int64) (Disposition, error) {
	return e.dispose(ctx, caller, knockID, market.StatusRejected)
}

// ClaimExpired returns the full bid of a settled knock to its sender once
// market.ExpireAfter has passed since creation. Anyone may call it.
func (e *Engine) ClaimExpired(ctx context.Context, caller string, knockID int64) (Disposition, error) {
	return e.dispose(ctx, caller, knockID, market.StatusExpired)
}

// dispose moves a Settled knock to a terminal status.
//
// Failure order: NOT_FOUND, WRONG_STATUS, then NOT_AUTHORIZED (accept and
// reject) or NOT_EXPIRED (expiry). The status change, queue removal and
// stats update are written before any payment; a failed payment rolls the
// whole disposition back with TRANSFER_FAILED.
func (e *Engine) dispose(ctx context.Context, caller string, knockID int64, to market.Status) (Disposition, error) {
	caller = market.NormalizeParticipant(caller)
	if err := checkParticipant(caller); err != nil {
		return Disposition{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.newOp()
	d := Disposition{TxID: o.txID, Payments: []market.Payment{}}

	err := e.execute(ctx, o, func(tx *store.Tx) error {
		k, err := knockInTx(ctx, tx, knockID)
		if err != nil {
			return err
		}
		if k.Status != market.StatusSettled {
			return errWrongStatus(knockID, k.Status, market.StatusSettled)
		}
		switch to {
		case market.StatusAccepted, market.StatusRejected:
			if caller != k.Receiver {
				return errNotAuthorized(knockID, caller)
			}
		case market.StatusExpired:
			if o.at.Before(k.ExpiresAt()) {
				return &Error{
					Code:    ErrCodeNotExpired,
					Message: "knock expires at " + k.ExpiresAt().Format(time.RFC3339),
					KnockID: knockID,
				}
			}
		}

		if err := tx.SetStatus(ctx, knockID, market.StatusSettled, to); err != nil {
			return err
		}
		if err := tx.RemoveSettled(ctx, k.Receiver, knockID); err != nil {
			return err
		}

		var payouts []plannedPayment
		switch to {
		case market.StatusAccepted:
			if err := tx.IncrementAccepted(ctx, k.Receiver); err != nil {
				return err
			}
			split := market.AcceptSplit(k.Bid)
			payouts = []plannedPayment{
				{k.Sender, split.Sender, market.PaymentSenderShare},
				{k.Receiver, split.Receiver, market.PaymentReceiverShare},
				{e.feeRecipient, split.Protocol, market.PaymentProtocolShare},
			}
			o.emit(dispositionEvent(market.EventAccepted, k))
		case market.StatusRejected:
			if err := tx.IncrementRejected(ctx, k.Receiver); err != nil {
				return err
			}
			split := market.RejectSplit(k.Bid)
			payouts = []plannedPayment{
				{k.Receiver, split.Receiver, market.PaymentReceiverShare},
				{e.feeRecipient, split.Protocol, market.PaymentProtocolShare},
			}
			o.emit(dispositionEvent(market.EventRejected, k))
		case market.StatusExpired:
			payouts = []plannedPayment{{k.Sender, k.Bid, market.PaymentExpiryRefund}}
			o.emit(dispositionEvent(market.EventExpired, k))
		}

		// Payments last.
		for _, p := range payouts {
			paid, err := e.pay(ctx, tx, o, knockID, p.payee, p.amount, p.kind)
			if err != nil {
				return err
			}
			d.Payments = append(d.Payments, paid)
		}

		k.Status = to
		d.Knock = k
		return nil
	})
	if err != nil {
		e.logFailure("dispose knock", err, "knock", knockID, "caller", caller, "to", to)
		return Disposition{}, err
	}

	e.bumpIdentityCounter(ctx, d.Knock.Sender, to)

	e.logger.Info("knock disposed",
		"knock", knockID,
		"status", to,
		"caller", caller,
		"bid", d.Knock.Bid.String(),
		"tx", o.txID)
	return d, nil
}

type plannedPayment struct {
	payee  string
	amount decimal.Decimal
	kind   market.PaymentKind
}

// bumpIdentityCounter mirrors the disposition into the sender's profile.
// Failures are logged; the committed disposition stands.
func (e *Engine) bumpIdentityCounter(ctx context.Context, sender string, to market.Status) {
	var err error
	switch to {
	case market.StatusAccepted:
		err = e.registry.IncrementAccepted(ctx, sender)
	case market.StatusRejected:
		err = e.registry.IncrementRejected(ctx, sender)
	default:
		return
	}
	if err != nil {
		e.logger.Warn("identity counter update failed", "participant", sender, "counter", to, "error", err)
	}
}

func dispositionEvent(kind market.EventKind, k market.Knock) market.Event {
	return market.Event{
		Kind:     kind,
		KnockID:  k.ID,
		Sender:   k.Sender,
		Receiver: k.Receiver,
		Amount:   k.Bid,
	}
}

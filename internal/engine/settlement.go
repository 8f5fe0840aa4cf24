package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/knock/internal/market"
	"github.com/roach88/knock/internal/payout"
	"github.com/roach88/knock/internal/store"
)

// SettleResult reports what one settlement did.
type SettleResult struct {
	TxID          string                `json:"tx_id"`
	Receiver      string                `json:"receiver"`
	Day           market.Day            `json:"day"`
	Slots         int                   `json:"slots"`
	Winners       []int64               `json:"winners"`
	Losers        []int64               `json:"losers"`
	UnpaidRefunds []market.UnpaidRefund `json:"unpaid_refunds"`
}

// Settle settles the receiver's bucket for yesterday. Anyone may call it.
func (e *Engine) Settle(ctx context.Context, receiver string) (SettleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.settleDay(ctx, receiver, market.DayOf(e.time.Now()).Prev())
}

// SettleDay settles the receiver's bucket for any closed day (day before the
// current one). It fails with DAY_NOT_CLOSED for today or a future day.
func (e *Engine) SettleDay(ctx context.Context, receiver string, day market.Day) (SettleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.settleDay(ctx, receiver, day)
}

// settleDay drains one bucket. Callers must hold e.mu.
//
// Winners move Pending -> Settled and join the receiver's queue best first.
// Losers move Pending -> Refunded. All transitions and the settled-day flag
// are written before any refund is paid. A refund the payee rejects does not
// abort the batch: the loser stays Refunded and the amount is recorded as an
// unpaid refund that RetryRefund can pay later.
func (e *Engine) settleDay(ctx context.Context, receiver string, day market.Day) (SettleResult, error) {
	receiver = market.NormalizeParticipant(receiver)
	if receiver == "" {
		return SettleResult{}, newError(ErrCodeInvalidArgument, "receiver is required")
	}

	o := e.newOp()
	if current := market.DayOf(o.at); day >= current {
		return SettleResult{}, &Error{
			Code:        ErrCodeDayNotClosed,
			Message:     fmt.Sprintf("day %d is not before current day %d", day, current),
			Participant: receiver,
		}
	}

	res := SettleResult{
		TxID:          o.txID,
		Receiver:      receiver,
		Day:           day,
		Winners:       []int64{},
		Losers:        []int64{},
		UnpaidRefunds: []market.UnpaidRefund{},
	}

	err := e.execute(ctx, o, func(tx *store.Tx) error {
		settled, err := tx.IsDaySettled(ctx, receiver, day)
		if err != nil {
			return err
		}
		if settled {
			return &Error{
				Code:        ErrCodeAlreadySettled,
				Message:     fmt.Sprintf("day %d already settled", day),
				Participant: receiver,
			}
		}

		bucket, err := tx.Bucket(ctx, receiver, day)
		if err != nil {
			return err
		}
		settings, err := tx.Settings(ctx, receiver)
		if err != nil {
			return err
		}
		res.Slots = settings.DailySlots

		winners, losers := selectTopK(bucket, settings.DailySlots)
		e.logger.Debug("settlement selection",
			"receiver", receiver,
			"day", int64(day),
			"bucket", len(bucket),
			"slots", settings.DailySlots,
			"winners", len(winners))

		for _, w := range winners {
			if err := tx.SetStatus(ctx, w.KnockID, market.StatusPending, market.StatusSettled); err != nil {
				return err
			}
			if err := tx.RemovePending(ctx, w.Sender, w.KnockID); err != nil {
				return err
			}
			if err := tx.PushSettled(ctx, receiver, w.KnockID); err != nil {
				return err
			}
			res.Winners = append(res.Winners, w.KnockID)
			o.emit(settledEvent(w, receiver, day, true))
		}
		for _, l := range losers {
			if err := tx.SetStatus(ctx, l.KnockID, market.StatusPending, market.StatusRefunded); err != nil {
				return err
			}
			if err := tx.RemovePending(ctx, l.Sender, l.KnockID); err != nil {
				return err
			}
			res.Losers = append(res.Losers, l.KnockID)
			o.emit(settledEvent(l, receiver, day, false))
		}

		err = tx.MarkDaySettled(ctx, market.DaySettlement{
			Receiver:  receiver,
			Day:       day,
			TxID:      o.txID,
			Winners:   len(winners),
			Losers:    len(losers),
			SettledAt: o.at,
		})
		if err != nil {
			return err
		}

		// Payments last.
		for _, l := range losers {
			unpaid, err := e.refundLoser(ctx, tx, o, l, receiver, day)
			if err != nil {
				return err
			}
			if unpaid != nil {
				res.UnpaidRefunds = append(res.UnpaidRefunds, *unpaid)
			}
		}

		o.emit(market.Event{Kind: market.EventDaySettled, Receiver: receiver, Day: day, Slots: settings.DailySlots})
		return nil
	})
	if err != nil {
		e.logFailure("settle", err, "receiver", receiver, "day", int64(day))
		return SettleResult{}, err
	}

	e.logger.Info("day settled",
		"receiver", receiver,
		"day", int64(day),
		"winners", len(res.Winners),
		"losers", len(res.Losers),
		"unpaid", len(res.UnpaidRefunds),
		"tx", o.txID)
	return res, nil
}

// refundLoser pays a loser back in full. A payee rejection is isolated and
// returned as an unpaid refund; any other failure aborts the settlement.
func (e *Engine) refundLoser(ctx context.Context, tx *store.Tx, o *op, l market.BucketEntry, receiver string, day market.Day) (*market.UnpaidRefund, error) {
	_, err := e.pay(ctx, tx, o, l.KnockID, l.Sender, l.Bid, market.PaymentRefund)
	if err == nil {
		o.emit(market.Event{Kind: market.EventRefundIssued, KnockID: l.KnockID, Sender: l.Sender, Receiver: receiver, Amount: l.Bid})
		return nil, nil
	}
	if !errors.Is(err, payout.ErrPayeeRejected) {
		return nil, err
	}

	unpaid := market.UnpaidRefund{
		KnockID: l.KnockID,
		Sender:  l.Sender,
		Amount:  l.Bid,
		Reason:  errors.Unwrap(err).Error(),
		Day:     day,
	}
	if err := tx.RecordUnpaidRefund(ctx, unpaid); err != nil {
		return nil, err
	}
	o.emit(market.Event{Kind: market.EventRefundFailed, KnockID: l.KnockID, Sender: l.Sender, Receiver: receiver, Amount: l.Bid})
	e.logger.Warn("refund isolated as unpaid",
		"knock", l.KnockID,
		"sender", l.Sender,
		"amount", l.Bid.String(),
		"error", err)
	return &unpaid, nil
}

// RetryRefund pays an unpaid settlement refund. Anyone may call it. A payee
// that still rejects the transfer fails the call with TRANSFER_FAILED and
// the refund stays open.
func (e *Engine) RetryRefund(ctx context.Context, knockID int64) (market.Payment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.newOp()
	var paid market.Payment
	err := e.execute(ctx, o, func(tx *store.Tx) error {
		r, err := tx.UnpaidRefund(ctx, knockID)
		if errors.Is(err, store.ErrNotFound) {
			return &Error{Code: ErrCodeNotFound, Message: "no unpaid refund for knock", KnockID: knockID}
		}
		if err != nil {
			return err
		}
		if r.Resolved {
			return &Error{Code: ErrCodeWrongStatus, Message: "refund already paid", KnockID: knockID}
		}
		if err := tx.ResolveUnpaidRefund(ctx, knockID, o.txID); err != nil {
			return err
		}
		k, err := knockInTx(ctx, tx, knockID)
		if err != nil {
			return err
		}
		if paid, err = e.pay(ctx, tx, o, knockID, r.Sender, r.Amount, market.PaymentRefund); err != nil {
			return err
		}
		o.emit(market.Event{Kind: market.EventRefundIssued, KnockID: knockID, Sender: r.Sender, Receiver: k.Receiver, Amount: r.Amount})
		return nil
	})
	if err != nil {
		e.logFailure("retry refund", err, "knock", knockID)
		return market.Payment{}, err
	}

	e.logger.Info("refund retried", "knock", knockID, "sender", paid.Payee, "amount", paid.Amount.String(), "tx", o.txID)
	return paid, nil
}

func settledEvent(b market.BucketEntry, receiver string, day market.Day, won bool) market.Event {
	return market.Event{
		Kind:     market.EventSettled,
		KnockID:  b.KnockID,
		Sender:   b.Sender,
		Receiver: receiver,
		Amount:   b.Bid,
		Won:      won,
		Day:      day,
	}
}

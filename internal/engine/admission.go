package engine

import (
	"context"
	"fmt"

	"github.com/roach88/knock/internal/market"
	"github.com/roach88/knock/internal/store"
	"github.com/shopspring/decimal"
)

// SubmitRequest is one knock a sender wants to deliver.
type SubmitRequest struct {
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver"`
	Bid       decimal.Decimal `json:"bid"`
	ContentID string          `json:"content_id"`
}

// SubmitKnock admits a knock, escrows its bid and files it into the
// receiver's bucket for the current day.
//
// Checks run in this order, all before any mutation (a reserved sender or
// receiver id fails first with INVALID_ARGUMENT):
//   - NO_PROFILE: the sender has no valid, unbanned profile
//   - SELF_TARGET: receiver equals sender
//   - BID_TOO_LOW: bid is below market.MinBid
//   - INVALID_ARGUMENT: bid is not a whole number of wei
//   - TOO_MANY_PENDING: the sender already has market.MaxPendingKnocks
//     knocks still Pending (resolved entries in the index do not count)
//
// Creation, escrow and both index enrolments commit together.
func (e *Engine) SubmitKnock(ctx context.Context, req SubmitRequest) (market.Knock, error) {
	sender := market.NormalizeParticipant(req.Sender)
	receiver := market.NormalizeParticipant(req.Receiver)

	e.mu.Lock()
	defer e.mu.Unlock()

	if sender == "" || receiver == "" {
		return market.Knock{}, newError(ErrCodeInvalidArgument, "sender and receiver are required")
	}
	if err := checkParticipant(sender); err != nil {
		return market.Knock{}, err
	}
	if err := checkParticipant(receiver); err != nil {
		return market.Knock{}, err
	}

	ok, err := e.registry.HasValidProfile(ctx, sender)
	if err != nil {
		return market.Knock{}, fmt.Errorf("check profile %s: %w", sender, err)
	}
	if !ok {
		return market.Knock{}, &Error{Code: ErrCodeNoProfile, Message: "sender has no valid profile", Participant: sender}
	}
	if receiver == sender {
		return market.Knock{}, &Error{Code: ErrCodeSelfTarget, Message: "cannot knock yourself", Participant: sender}
	}
	if req.Bid.LessThan(market.MinBid) {
		return market.Knock{}, newError(ErrCodeBidTooLow, "bid %s is below minimum %s", req.Bid, market.MinBid)
	}
	if !req.Bid.IsInteger() {
		return market.Knock{}, newError(ErrCodeInvalidArgument, "bid %s is not a whole number of wei", req.Bid)
	}

	o := e.newOp()
	k := market.Knock{
		Sender:    sender,
		Receiver:  receiver,
		Bid:       req.Bid,
		ContentID: req.ContentID,
		CreatedAt: o.at,
		SettleDay: market.DayOf(o.at),
		Status:    market.StatusPending,
	}

	err = e.execute(ctx, o, func(tx *store.Tx) error {
		pending, err := tx.CountPending(ctx, sender)
		if err != nil {
			return err
		}
		if pending >= market.MaxPendingKnocks {
			return &Error{
				Code:        ErrCodeTooManyPending,
				Message:     fmt.Sprintf("sender already has %d pending knocks", pending),
				Participant: sender,
			}
		}

		if k.ID, err = tx.InsertKnock(ctx, &k, o.txID); err != nil {
			return err
		}
		if err := tx.Credit(ctx, market.EscrowAccount, k.Bid); err != nil {
			return err
		}
		if _, err := tx.AppendBucket(ctx, receiver, k.SettleDay, k.ID); err != nil {
			return err
		}
		if err := tx.AddPending(ctx, sender, k.ID); err != nil {
			return err
		}
		if err := tx.RecordReceived(ctx, receiver, k.Bid); err != nil {
			return err
		}

		o.emit(market.Event{
			Kind:     market.EventSubmitted,
			KnockID:  k.ID,
			Sender:   sender,
			Receiver: receiver,
			Amount:   k.Bid,
			Day:      k.SettleDay,
		})
		return nil
	})
	if err != nil {
		e.logFailure("submit knock", err, "sender", sender, "receiver", receiver)
		return market.Knock{}, err
	}

	if err := e.registry.IncrementSent(ctx, sender); err != nil {
		e.logger.Warn("identity counter update failed", "participant", sender, "counter", "sent", "error", err)
	}

	e.logger.Info("knock submitted",
		"knock", k.ID,
		"sender", sender,
		"receiver", receiver,
		"bid", k.Bid.String(),
		"day", int64(k.SettleDay),
		"tx", o.txID)
	return k, nil
}

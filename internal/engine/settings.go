package engine

import (
	"context"
	"fmt"

	"github.com/roach88/knock/internal/market"
	"github.com/roach88/knock/internal/store"
)

// SetDailySlots configures how many knocks per day survive the receiver's
// settlement. slots must be within [market.MinDailySlots, market.MaxDailySlots].
// The new value applies to every settlement that runs after it commits,
// including settlement of days that were filed before the change.
func (e *Engine) SetDailySlots(ctx context.Context, receiver string, slots int) (market.Settings, error) {
	receiver = market.NormalizeParticipant(receiver)
	if receiver == "" {
		return market.Settings{}, newError(ErrCodeInvalidArgument, "receiver is required")
	}
	if err := checkParticipant(receiver); err != nil {
		return market.Settings{}, err
	}
	if !market.ValidSlots(slots) {
		return market.Settings{}, &Error{
			Code:        ErrCodeInvalidSlots,
			Message:     fmt.Sprintf("slots %d outside [%d, %d]", slots, market.MinDailySlots, market.MaxDailySlots),
			Participant: receiver,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.newOp()
	err := e.execute(ctx, o, func(tx *store.Tx) error {
		if err := tx.PutSettings(ctx, receiver, slots, o.at); err != nil {
			return err
		}
		o.emit(market.Event{Kind: market.EventSettingsUpdated, Receiver: receiver, Slots: slots})
		return nil
	})
	if err != nil {
		e.logFailure("set daily slots", err, "receiver", receiver, "slots", slots)
		return market.Settings{}, err
	}

	e.logger.Info("settings updated", "receiver", receiver, "slots", slots, "tx", o.txID)
	return market.Settings{Receiver: receiver, DailySlots: slots, IsConfigured: true}, nil
}

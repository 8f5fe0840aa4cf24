package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names an observable signal.
type EventKind string

const (
	EventSubmitted       EventKind = "knock_submitted"
	EventSettled         EventKind = "knock_settled"
	EventAccepted        EventKind = "knock_accepted"
	EventRejected        EventKind = "knock_rejected"
	EventExpired         EventKind = "knock_expired"
	EventRefundIssued    EventKind = "refund_issued"
	EventRefundFailed    EventKind = "refund_failed"
	EventSettingsUpdated EventKind = "settings_updated"
	EventDaySettled      EventKind = "day_settled"
)

// Event is one signal emitted by a committed operation. Seq orders events
// globally; TxID groups the events of one operation.
type Event struct {
	ID       string          `json:"id"`
	Seq      int64           `json:"seq"`
	TxID     string          `json:"tx_id"`
	Kind     EventKind       `json:"kind"`
	KnockID  int64           `json:"knock_id,omitempty"`
	Sender   string          `json:"sender,omitempty"`
	Receiver string          `json:"receiver,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Won      bool            `json:"won,omitempty"`
	Day      Day             `json:"day,omitempty"`
	Slots    int             `json:"slots,omitempty"`
	At       time.Time       `json:"at"`
}

// TraceFields returns the deterministic, id-free view of the event used for
// golden traces. Zero-valued optional fields are omitted.
func (e *Event) TraceFields() map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"kind": string(e.Kind),
	}
	if e.KnockID != 0 {
		m["knock"] = e.KnockID
	}
	if e.Sender != "" {
		m["sender"] = e.Sender
	}
	if e.Receiver != "" {
		m["receiver"] = e.Receiver
	}
	if !e.Amount.IsZero() {
		m["amount"] = e.Amount.String()
	}
	if e.Kind == EventSettled {
		m["won"] = e.Won
	}
	if e.Kind == EventDaySettled || e.Kind == EventSettled {
		m["day"] = int64(e.Day)
	}
	if e.Slots != 0 {
		m["slots"] = e.Slots
	}
	return m
}

// hashFields is TraceFields plus the transaction id and timestamp.
func (e *Event) hashFields() map[string]any {
	m := e.TraceFields()
	m["tx"] = e.TxID
	m["at"] = e.At.UnixNano()
	return m
}

// PaymentKind labels why a transfer was made.
type PaymentKind string

const (
	PaymentRefund        PaymentKind = "refund"
	PaymentSenderShare   PaymentKind = "sender_share"
	PaymentReceiverShare PaymentKind = "receiver_share"
	PaymentProtocolShare PaymentKind = "protocol_share"
	PaymentExpiryRefund  PaymentKind = "expiry_refund"
)

// Payment is one transfer out of escrow.
type Payment struct {
	TxID    string          `json:"tx_id"`
	KnockID int64           `json:"knock_id"`
	Payee   string          `json:"payee"`
	Amount  decimal.Decimal `json:"amount"`
	Kind    PaymentKind     `json:"kind"`
}

package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market constants. These are fixed and not runtime-configurable.
const (
	// MaxPendingKnocks is the most knocks a sender may have in Pending at once.
	MaxPendingKnocks = 3

	// ExpireDays is how long a receiver has to dispose of a settled knock.
	ExpireDays = 7

	// DefaultDailySlots applies to receivers that never configured their slots.
	DefaultDailySlots = 10

	// MinDailySlots and MaxDailySlots bound SetDailySlots.
	MinDailySlots = 1
	MaxDailySlots = 100
)

// ExpireAfter is ExpireDays as a duration, measured from Knock.CreatedAt.
const ExpireAfter = ExpireDays * 24 * time.Hour

// MinBid is the bid floor: 0.01 native units, in wei.
var MinBid = decimal.New(1, 16)

// Status is the lifecycle state of a knock.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusRefunded Status = "refunded"
	StatusExpired  Status = "expired"
)

// transitions lists the only legal status changes.
// Pending is the initial state; Settled is the only non-terminal successor.
var transitions = map[Status][]Status{
	StatusPending: {StatusSettled, StatusRefunded},
	StatusSettled: {StatusAccepted, StatusRejected, StatusExpired},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSettled, StatusAccepted, StatusRejected, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether a knock in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Knock is one paid message attempt. Records are never deleted; terminal
// knocks are retained for audit.
type Knock struct {
	ID        int64           `json:"id"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver"`
	Bid       decimal.Decimal `json:"bid"`
	ContentID string          `json:"content_id"`
	CreatedAt time.Time       `json:"created_at"`
	SettleDay Day             `json:"settle_day"`
	Status    Status          `json:"status"`
}

// ExpiresAt is the earliest instant ClaimExpired may succeed.
func (k *Knock) ExpiresAt() time.Time {
	return k.CreatedAt.Add(ExpireAfter)
}

// Settings is a receiver's slot configuration. A receiver that never
// configured anything reports DefaultDailySlots with IsConfigured false.
type Settings struct {
	Receiver     string `json:"receiver"`
	DailySlots   int    `json:"daily_slots"`
	IsConfigured bool   `json:"is_configured"`
}

// DefaultSettings returns the settings of an unconfigured receiver.
func DefaultSettings(receiver string) Settings {
	return Settings{Receiver: receiver, DailySlots: DefaultDailySlots}
}

// ValidSlots reports whether n is an allowed daily slot count.
func ValidSlots(n int) bool {
	return n >= MinDailySlots && n <= MaxDailySlots
}

// Stats are append-only aggregate counters per receiver.
type Stats struct {
	Receiver      string          `json:"receiver"`
	TotalReceived int64           `json:"total_received"`
	TotalBids     decimal.Decimal `json:"total_bids"`
	Accepted      int64           `json:"accepted"`
	Rejected      int64           `json:"rejected"`
}

// BucketEntry is one knock filed in a (receiver, day) bucket. Position is the
// insertion order within the bucket, starting at 0.
type BucketEntry struct {
	KnockID  int64           `json:"knock_id"`
	Position int             `json:"position"`
	Bid      decimal.Decimal `json:"bid"`
	Sender   string          `json:"sender"`
}

// UnpaidRefund records a settlement refund whose transfer failed.
type UnpaidRefund struct {
	KnockID  int64           `json:"knock_id"`
	Sender   string          `json:"sender"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
	Day      Day             `json:"day"`
	Resolved bool            `json:"resolved"`
}

// EscrowAccount is the ledger account holding every bid between SubmitKnock
// and the transfer that releases it.
const EscrowAccount = ReservedPrefix + "escrow"

// DaySettlement records one drained (receiver, day) bucket.
type DaySettlement struct {
	Receiver  string    `json:"receiver"`
	Day       Day       `json:"day"`
	TxID      string    `json:"tx_id"`
	Winners   int       `json:"winners"`
	Losers    int       `json:"losers"`
	SettledAt time.Time `json:"settled_at"`
}

package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BasisPoints is 100% expressed in basis points.
const BasisPoints = 10000

// Fee splits in basis points.
const (
	AcceptSenderBps   = 4000
	AcceptReceiverBps = 4000
	AcceptProtocolBps = BasisPoints - AcceptSenderBps - AcceptReceiverBps

	RejectReceiverBps = 8000
	RejectProtocolBps = BasisPoints - RejectReceiverBps
)

const weiDecimals = 18

// Split is a disposition's division of a bid. The protocol share absorbs any
// rounding so that Sender + Receiver + Protocol equals the bid exactly.
type Split struct {
	Sender   decimal.Decimal `json:"sender"`
	Receiver decimal.Decimal `json:"receiver"`
	Protocol decimal.Decimal `json:"protocol"`
}

// Total returns the sum of all shares.
func (s Split) Total() decimal.Decimal {
	return s.Sender.Add(s.Receiver).Add(s.Protocol)
}

// AcceptSplit divides bid 40/40/20 between sender, receiver and protocol.
func AcceptSplit(bid decimal.Decimal) Split {
	sender := shareOf(bid, AcceptSenderBps)
	receiver := shareOf(bid, AcceptReceiverBps)
	return Split{
		Sender:   sender,
		Receiver: receiver,
		Protocol: bid.Sub(sender).Sub(receiver),
	}
}

// RejectSplit divides bid 80/20 between receiver and protocol.
func RejectSplit(bid decimal.Decimal) Split {
	receiver := shareOf(bid, RejectReceiverBps)
	return Split{
		Sender:   decimal.Zero,
		Receiver: receiver,
		Protocol: bid.Sub(receiver),
	}
}

// shareOf returns floor(amount * bps / 10000) for non-negative integer amounts.
func shareOf(amount decimal.Decimal, bps int64) decimal.Decimal {
	q, _ := amount.Mul(decimal.NewFromInt(bps)).QuoRem(decimal.NewFromInt(BasisPoints), 0)
	return q
}

// ParseEther converts a native-unit string such as "0.02" into wei.
// Amounts finer than one wei or negative amounts are rejected.
func ParseEther(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return ToWei(d)
}

// ToWei shifts a native-unit amount into wei.
func ToWei(ether decimal.Decimal) (decimal.Decimal, error) {
	wei := ether.Shift(weiDecimals)
	if !wei.IsInteger() {
		return decimal.Zero, fmt.Errorf("amount %s has more than %d decimals", ether, weiDecimals)
	}
	if wei.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %s is negative", ether)
	}
	return wei, nil
}

// ParseWei parses an integer wei amount.
func ParseWei(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse wei %q: %w", s, err)
	}
	if !d.IsInteger() || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("wei amount %q must be a non-negative integer", s)
	}
	return d, nil
}

// FormatEther renders a wei amount in native units.
func FormatEther(wei decimal.Decimal) string {
	return wei.Shift(-weiDecimals).String()
}

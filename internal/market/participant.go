package market

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ReservedPrefix marks ledger accounts owned by the market itself, such as
// EscrowAccount. No participant id may start with it.
const ReservedPrefix = "@"

// IsReserved reports whether a normalised id names a market-owned account.
func IsReserved(id string) bool {
	return strings.HasPrefix(id, ReservedPrefix)
}

// NormalizeParticipant returns the canonical form of a participant id.
// Hex addresses are lower-cased; everything else is NFC-normalised so that
// visually identical ids always key the same rows.
func NormalizeParticipant(id string) string {
	id = norm.NFC.String(strings.TrimSpace(id))
	if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
		return strings.ToLower(id)
	}
	return id
}

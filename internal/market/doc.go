// Package market defines the entities and value types of the attention market.
//
// A knock is a paid message from a sender to a receiver. Its bid is escrowed at
// submission, filed into the receiver's bucket for the day, and later either
// promoted into the receiver's settled queue or refunded by daily settlement.
// Settled knocks end as accepted, rejected or expired; each disposition splits
// the bid between sender, receiver and protocol in basis points.
//
// Amounts are integer wei carried in shopspring/decimal so that no share is
// ever rounded through a float. Days are UTC calendar days counted from the
// Unix epoch.
//
// Events carry content-addressed ids computed over canonical JSON (sorted keys,
// NFC-normalised strings, no floats) so that replays produce identical logs.
package market

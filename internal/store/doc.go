// Package store provides the SQLite-backed ledger for the attention market.
//
// The ledger holds:
//   - Knocks: every knock ever admitted, never deleted
//   - Day buckets: knock ids per (receiver, day) in insertion order
//   - Settled days: one row per (receiver, day) that settlement has drained
//   - Sender pending index and receiver settled queue
//   - Receiver settings and aggregate stats
//   - Balances, the transfer journal and unpaid refunds
//   - The event log, ordered by logical sequence number
//
// # Transactions
//
// Every public market operation runs inside exactly one Update call. Update
// begins a transaction, runs the callback and commits only if the callback
// returns nil; any error rolls back every write made by the operation. There
// is never partial visibility of an operation's effects.
//
// # Deterministic reads
//
// Queries that return lists always carry an explicit ORDER BY so results are
// identical across runs: buckets by position, queues by position, events by seq.
//
// # Amounts
//
// Wei amounts are stored as decimal TEXT and summed in Go with
// shopspring/decimal, never with SQLite arithmetic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

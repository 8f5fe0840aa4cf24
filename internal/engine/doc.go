// Package engine implements the knock lifecycle: admission, daily
// settlement, disposition and receiver settings.
//
// ARCHITECTURE:
//
// Single Writer:
// Every mutating operation takes the engine mutex and runs as exactly one
// ledger transaction. Operations are therefore totally ordered and no
// partial effects are ever visible.
//
// Operation Flow:
//  1. Validate inputs (no mutation on failure)
//  2. Check state preconditions inside the transaction
//  3. Apply state transitions, index changes and stats
//  4. Issue payments out of escrow through the Payer
//  5. Append the operation's events with fresh seq numbers
//  6. Commit, then publish events and update identity counters
//
// A failure at any step rolls the transaction back.
//
// Knock states:
//
//	Pending ──settle──▶ Settled ──accept──▶ Accepted
//	   │                  ├─────reject──▶ Rejected
//	   │                  └─────expire──▶ Expired
//	   └──────settle (lost)──▶ Refunded
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// All events are stamped with a monotonic seq from Clock. Wall-clock time is
// only used to decide the current day and expiry eligibility, and the engine's
// view of it never moves backwards.
//
// Deterministic Settlement:
// Bucket entries are ranked by bid, ties by insertion position. The same
// bucket always produces the same winners, losers and event order.
package engine

// Package harness runs scripted market scenarios against the real engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: accept_splits_bid
//	description: "An accepted knock splits its bid 40/40/20"
//	start_day: 20000          # optional, clock starts at noon UTC
//	fee_recipient: protocol   # optional
//	participants: [alice, rita]
//	unpayable: [bob]          # optional, payees whose transfers fail
//	steps:
//	  - do: submit
//	    from: alice
//	    to: rita
//	    bid: "0.02"
//	    expect: { knock: 1, status: pending }
//	  - do: advance
//	    days: 1
//	  - do: settle
//	    receiver: rita
//	    expect: { winners: [1], losers: [] }
//	  - do: accept
//	    knock: 1
//	    as: rita
//	    expect: { status: accepted }
//	assertions:
//	  - type: balance
//	    account: alice
//	    ether: "0.008"
//
// A step without an expect clause must succeed. expect.error names the
// market error code the step must fail with.
//
// # Step Actions
//
// register, ban, unban, slots, submit, advance, settle, accept, reject,
// expire, retry_refund, block_payee, unblock_payee and restart. restart
// opens a fresh engine over the same ledger.
//
// # Assertion Types
//
//   - balance: an account holds the given amount (native units)
//   - status: a knock is in the given status
//   - pending: a sender has count pending knocks
//   - queue: a receiver's settled queue holds exactly knocks, best first
//   - unpaid_refunds: count open unpaid refunds, optionally for one sender
//   - day_settled: a receiver's bucket for day has been settled
//   - event_count: the log holds count events of kind
//   - event_order: the first event of each kind appears in the given order
//
// Every run also checks conservation: all ledger balances, escrow included,
// add up to the bids ever escrowed.
//
// # Deterministic Testing
//
// Each run uses an in-memory ledger and registry, a manual clock and
// sequential transaction ids, so the event trace is identical across runs
// and can be compared against golden files.
package harness

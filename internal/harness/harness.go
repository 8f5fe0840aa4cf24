package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/knock/internal/engine"
	"github.com/roach88/knock/internal/identity"
	"github.com/roach88/knock/internal/market"
	"github.com/roach88/knock/internal/payout"
	"github.com/roach88/knock/internal/store"
	"github.com/roach88/knock/internal/testutil"
)

// Harness drives one scenario through a real engine.
//
// Each run gets a private in-memory ledger and registry, a manual clock
// frozen at noon of the scenario's start day, sequential transaction ids
// and a payer that refuses the scenario's unpayable payees.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	registry *identity.BadgerRegistry
	clock    *testutil.ManualClock
	payer    *payout.Unpayable
	engine   *engine.Engine
	logger   *slog.Logger
	restarts int

	// escrowed is the sum of every accepted bid; the ledger's balances
	// must always add up to it.
	escrowed decimal.Decimal
}

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger routes engine and harness logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Open a fresh in-memory ledger and registry
//  2. Register participants
//  3. Execute steps, checking each expect clause
//  4. Evaluate assertions and the conservation check
//  5. Collect the event log for golden comparison
//
// The returned error reports infrastructure failures only; a scenario
// whose expectations do not hold returns a Result with Pass false.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory ledger: %w", err)
	}
	defer st.Close()

	regCfg := identity.InMemoryConfig()
	regCfg.Logger = cfg.logger
	reg, err := identity.Open(regCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity registry: %w", err)
	}
	defer reg.Close()

	h := &Harness{
		scenario: scenario,
		store:    st,
		registry: reg,
		clock:    testutil.NewManualClockAtDay(market.Day(scenario.StartDay)),
		payer:    payout.NewUnpayable(payout.NewLedgerPayer(cfg.logger), scenario.Unpayable...),
		logger:   cfg.logger,
		escrowed: decimal.Zero,
	}
	if err := h.restart(ctx); err != nil {
		return nil, err
	}

	for _, p := range scenario.Participants {
		if _, err := reg.Register(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", p, err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	if err := h.checkConservation(ctx); err != nil {
		result.AddError(err.Error())
	}

	if result.Events, err = st.Events(ctx, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return result, nil
}

// restart opens a new engine over the same ledger, as a process restart would.
func (h *Harness) restart(ctx context.Context) error {
	h.restarts++
	eng, err := engine.New(ctx, h.store, h.registry, engine.Config{FeeRecipient: h.scenario.FeeRecipient},
		engine.WithTimeSource(h.clock),
		engine.WithTxIDGenerator(testutil.NewSequentialTxIDs(fmt.Sprintf("%s-%d", h.scenario.Name, h.restarts))),
		engine.WithPayer(h.payer),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	h.engine = eng
	return nil
}

// executeStep runs one step and records any mismatch with its expect
// clause on result. Only infrastructure failures are returned.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	label := fmt.Sprintf("step %d (%s)", index+1, step.Do)
	expect := step.Expect
	if expect == nil {
		expect = &Expect{}
	}

	var (
		err     error
		knockID = step.Knock
		settled *engine.SettleResult
	)

	switch step.Do {
	case DoRegister:
		_, err = h.registry.Register(ctx, step.Participant)
	case DoBan:
		err = h.registry.Ban(ctx, step.Participant)
	case DoUnban:
		err = h.registry.Unban(ctx, step.Participant)
	case DoSlots:
		_, err = h.engine.SetDailySlots(ctx, step.Receiver, step.Slots)
	case DoSubmit:
		bid, perr := market.ParseEther(step.Bid)
		if perr != nil {
			return fmt.Errorf("%s: %w", label, perr)
		}
		var k market.Knock
		k, err = h.engine.SubmitKnock(ctx, engine.SubmitRequest{
			Sender:    step.From,
			Receiver:  step.To,
			Bid:       bid,
			ContentID: step.Content,
		})
		if err == nil {
			knockID = k.ID
			h.escrowed = h.escrowed.Add(k.Bid)
			if expect.Knock != 0 && k.ID != expect.Knock {
				result.AddError(fmt.Sprintf("%s: expected knock id %d, got %d", label, expect.Knock, k.ID))
			}
		}
	case DoAdvance:
		h.clock.Advance(time.Duration(step.Days)*24*time.Hour + time.Duration(step.Hours)*time.Hour)
		h.logger.Debug("clock advanced", "now", h.clock.Now(), "day", int64(h.clock.Day()))
	case DoSettle:
		var res engine.SettleResult
		if step.Day != nil {
			res, err = h.engine.SettleDay(ctx, step.Receiver, market.Day(*step.Day))
		} else {
			res, err = h.engine.Settle(ctx, step.Receiver)
		}
		if err == nil {
			settled = &res
		}
	case DoAccept:
		_, err = h.engine.Accept(ctx, step.As, step.Knock)
	case DoReject:
		_, err = h.engine.Reject(ctx, step.As, step.Knock)
	case DoExpire:
		_, err = h.engine.ClaimExpired(ctx, step.As, step.Knock)
	case DoRetryRefund:
		_, err = h.engine.RetryRefund(ctx, step.Knock)
	case DoBlockPayee:
		h.payer.Block(step.Participant)
	case DoUnblockPayee:
		h.payer.Unblock(step.Participant)
	case DoRestart:
		if err := h.restart(ctx); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
	default:
		return fmt.Errorf("%s: unknown action", label)
	}

	if code := errorCode(err); code != expect.Error {
		switch {
		case expect.Error == "":
			result.AddError(fmt.Sprintf("%s: expected success, got %s: %v", label, code, err))
		case err == nil:
			result.AddError(fmt.Sprintf("%s: expected %s, got success", label, expect.Error))
		default:
			result.AddError(fmt.Sprintf("%s: expected %s, got %s: %v", label, expect.Error, code, err))
		}
		return nil
	}

	if settled != nil {
		checkIDs(result, label, "winners", expect.Winners, settled.Winners)
		checkIDs(result, label, "losers", expect.Losers, settled.Losers)
		unpaid := make([]int64, len(settled.UnpaidRefunds))
		for i, u := range settled.UnpaidRefunds {
			unpaid[i] = u.KnockID
		}
		checkIDs(result, label, "unpaid", expect.Unpaid, unpaid)
	}

	if expect.Status != "" {
		k, kerr := h.engine.Knock(ctx, knockID)
		switch {
		case kerr != nil:
			result.AddError(fmt.Sprintf("%s: read knock %d: %v", label, knockID, kerr))
		case string(k.Status) != expect.Status:
			result.AddError(fmt.Sprintf("%s: knock %d is %s, expected %s", label, knockID, k.Status, expect.Status))
		}
	}

	h.logger.Debug("scenario step", "scenario", h.scenario.Name, "step", index+1, "do", step.Do, "code", errorCode(err))
	return nil
}

// checkIDs compares a reported id list when the expect clause names one.
func checkIDs(result *Result, label, field string, want, got []int64) {
	if want == nil {
		return
	}
	if !slices.Equal(want, got) {
		result.AddError(fmt.Sprintf("%s: expected %s %v, got %v", label, field, want, got))
	}
}

// errorCode names err the way the API and CLI report it: the market error
// code, a registry condition, or INTERNAL.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, identity.ErrAlreadyRegistered):
		return "ALREADY_REGISTERED"
	case errors.Is(err, identity.ErrUnknownParticipant):
		return "UNKNOWN_PARTICIPANT"
	case errors.Is(err, identity.ErrReservedParticipant):
		return string(engine.ErrCodeInvalidArgument)
	}
	return "INTERNAL"
}

// checkConservation verifies that value is never created or destroyed:
// every balance, escrow included, adds up to the bids ever escrowed.
func (h *Harness) checkConservation(ctx context.Context) error {
	balances, err := h.store.Balances(ctx)
	if err != nil {
		return fmt.Errorf("conservation: %w", err)
	}
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b)
	}
	if !total.Equal(h.escrowed) {
		return fmt.Errorf("conservation: balances sum to %s, bids escrowed %s",
			market.FormatEther(total), market.FormatEther(h.escrowed))
	}
	return nil
}

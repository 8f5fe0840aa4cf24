package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/knock/internal/market"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual:   %s", e.Actual)
	return buf.String()
}

// evaluateAssertions runs every assertion and returns one message per failure.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertBalance:
		return h.assertBalance(ctx, a)
	case AssertStatus:
		return h.assertStatus(ctx, a)
	case AssertPending:
		knocks, err := h.engine.PendingKnocks(ctx, a.Sender)
		if err != nil {
			return err
		}
		return expectCount(a.Type, a.Sender+" pending knocks", a.Count, len(knocks))
	case AssertQueue:
		return h.assertQueue(ctx, a)
	case AssertUnpaidRefunds:
		refunds, err := h.engine.UnpaidRefunds(ctx, a.Sender)
		if err != nil {
			return err
		}
		return expectCount(a.Type, "open unpaid refunds", a.Count, len(refunds))
	case AssertDaySettled:
		settled, err := h.engine.IsDaySettled(ctx, a.Receiver, market.Day(a.Day))
		if err != nil {
			return err
		}
		if !settled {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s day %d settled", a.Receiver, a.Day),
				Actual:   "not settled",
			}
		}
		return nil
	case AssertEventCount, AssertEventOrder:
		events, err := h.store.Events(ctx, 0, 0)
		if err != nil {
			return err
		}
		kinds := make([]string, len(events))
		for i, e := range events {
			kinds[i] = string(e.Kind)
		}
		if a.Type == AssertEventCount {
			n := 0
			for _, k := range kinds {
				if k == a.Kind {
					n++
				}
			}
			return expectCount(a.Type, a.Kind+" events", a.Count, n)
		}
		return assertEventOrder(kinds, a.Kinds)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) assertBalance(ctx context.Context, a Assertion) error {
	want, err := market.ParseEther(a.Ether)
	if err != nil {
		return err
	}
	got, err := h.engine.Balance(ctx, a.Account)
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s holds %s", a.Account, market.FormatEther(want)),
			Actual:   market.FormatEther(got),
		}
	}
	return nil
}

func (h *Harness) assertStatus(ctx context.Context, a Assertion) error {
	k, err := h.engine.Knock(ctx, a.Knock)
	if err != nil {
		return err
	}
	if string(k.Status) != a.Status {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("knock %d %s", a.Knock, a.Status),
			Actual:   string(k.Status),
		}
	}
	return nil
}

func (h *Harness) assertQueue(ctx context.Context, a Assertion) error {
	knocks, err := h.engine.SettledKnocks(ctx, a.Receiver)
	if err != nil {
		return err
	}
	ids := make([]int64, len(knocks))
	for i, k := range knocks {
		ids[i] = k.ID
	}
	want := a.Knocks
	if want == nil {
		want = []int64{}
	}
	if !slices.Equal(want, ids) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s queue %v", a.Receiver, want),
			Actual:   fmt.Sprintf("%v", ids),
		}
	}
	return nil
}

// assertEventOrder checks that the first occurrence of each expected kind
// appears in the given order. Other kinds may appear in between.
func assertEventOrder(kinds, expected []string) error {
	positions := make(map[string]int)
	for i, k := range kinds {
		if _, seen := positions[k]; !seen {
			positions[k] = i + 1
		}
	}

	for _, k := range expected {
		if positions[k] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all kinds present: %v", expected),
				Actual:   fmt.Sprintf("missing kind: %s", k),
			}
		}
	}
	for i := 1; i < len(expected); i++ {
		prev, curr := expected[i-1], expected[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("kinds in order: %v", expected),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
			}
		}
	}
	return nil
}

func expectCount(typ, what string, want, got int) error {
	if want != got {
		return &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%d %s", want, what),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

package harness

import (
	"bytes"

	"github.com/roach88/knock/internal/market"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Events is the full event log after the last step, in seq order.
	Events []market.Event `json:"events"`

	// Errors holds one message per failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Events: []market.Event{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Trace renders the event log as canonical JSON lines, one event per line.
// Transaction ids, event ids and timestamps are left out so the trace only
// depends on what the market did.
func (r *Result) Trace() ([]byte, error) {
	var buf bytes.Buffer
	for i := range r.Events {
		line, err := market.TraceLine(&r.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

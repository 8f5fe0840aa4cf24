package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/knock/internal/market"
)

// Scenario is a scripted run of the market: participants, a list of steps
// driven through the engine, and assertions on the resulting state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// StartDay is the day the clock starts in (noon UTC). Defaults to DefaultStartDay.
	StartDay int64 `yaml:"start_day,omitempty"`

	// FeeRecipient receives the protocol share. Defaults to DefaultFeeRecipient.
	FeeRecipient string `yaml:"fee_recipient,omitempty"`

	// Participants are registered in the identity registry before the first step.
	Participants []string `yaml:"participants"`

	// Unpayable lists payees whose transfers are refused from the start.
	Unpayable []string `yaml:"unpayable,omitempty"`

	// Steps run in order. A step whose outcome differs from its expect
	// clause fails the scenario but does not stop it.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action against the market.
type Step struct {
	// Do names the action; see the Do* constants.
	Do string `yaml:"do"`

	Participant string `yaml:"participant,omitempty"`
	From        string `yaml:"from,omitempty"`
	To          string `yaml:"to,omitempty"`
	Bid         string `yaml:"bid,omitempty"`
	Content     string `yaml:"content,omitempty"`
	Receiver    string `yaml:"receiver,omitempty"`
	As          string `yaml:"as,omitempty"`
	Knock       int64  `yaml:"knock,omitempty"`
	Slots       int    `yaml:"slots,omitempty"`

	// Day selects an explicit settlement day; nil settles yesterday.
	Day *int64 `yaml:"day,omitempty"`

	// Days and Hours move the clock for advance steps.
	Days  int `yaml:"days,omitempty"`
	Hours int `yaml:"hours,omitempty"`

	// Expect describes the outcome. Nil means the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step. Only the fields that are set
// are checked.
type Expect struct {
	// Error is the expected error code; empty means success.
	Error string `yaml:"error,omitempty"`

	// Knock is the id a submit step must return.
	Knock int64 `yaml:"knock,omitempty"`

	// Status is the knock's status after the step.
	Status string `yaml:"status,omitempty"`

	// Winners, Losers and Unpaid are the knock ids a settle step reports.
	Winners []int64 `yaml:"winners,omitempty"`
	Losers  []int64 `yaml:"losers,omitempty"`
	Unpaid  []int64 `yaml:"unpaid,omitempty"`
}

// Step actions.
const (
	DoRegister     = "register"
	DoBan          = "ban"
	DoUnban        = "unban"
	DoSlots        = "slots"
	DoSubmit       = "submit"
	DoAdvance      = "advance"
	DoSettle       = "settle"
	DoAccept       = "accept"
	DoReject       = "reject"
	DoExpire       = "expire"
	DoRetryRefund  = "retry_refund"
	DoBlockPayee   = "block_payee"
	DoUnblockPayee = "unblock_payee"
	DoRestart      = "restart"
)

// Assertion validates final state.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	Account  string `yaml:"account,omitempty"`
	Ether    string `yaml:"ether,omitempty"`
	Knock    int64  `yaml:"knock,omitempty"`
	Status   string `yaml:"status,omitempty"`
	Sender   string `yaml:"sender,omitempty"`
	Receiver string `yaml:"receiver,omitempty"`
	Kind     string `yaml:"kind,omitempty"`
	Day      int64  `yaml:"day,omitempty"`

	// Count is the expected number of matches (pending, unpaid_refunds, event_count).
	Count int `yaml:"count"`

	// Knocks is the expected queue contents, best first.
	Knocks []int64 `yaml:"knocks,omitempty"`

	// Kinds is the expected relative order of event kinds (event_order).
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion types.
const (
	AssertBalance       = "balance"
	AssertStatus        = "status"
	AssertPending       = "pending"
	AssertQueue         = "queue"
	AssertUnpaidRefunds = "unpaid_refunds"
	AssertDaySettled    = "day_settled"
	AssertEventCount    = "event_count"
	AssertEventOrder    = "event_order"
)

// Defaults applied to scenarios that leave them unset.
const (
	DefaultStartDay     int64 = 20000
	DefaultFeeRecipient       = "protocol"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML and applies defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.StartDay == 0 {
		scenario.StartDay = DefaultStartDay
	}
	if scenario.FeeRecipient == "" {
		scenario.FeeRecipient = DefaultFeeRecipient
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.StartDay < 0 {
		return fmt.Errorf("start_day must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	require := func(ok bool, field string) error {
		if !ok {
			return fmt.Errorf("steps[%d]: %s is required for %s", index, field, s.Do)
		}
		return nil
	}

	switch s.Do {
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	case DoRegister, DoBan, DoUnban, DoBlockPayee, DoUnblockPayee:
		return require(s.Participant != "", "participant")
	case DoSlots:
		return require(s.Receiver != "", "receiver")
	case DoSubmit:
		if err := require(s.From != "", "from"); err != nil {
			return err
		}
		if err := require(s.To != "", "to"); err != nil {
			return err
		}
		if err := require(s.Bid != "", "bid"); err != nil {
			return err
		}
		if _, err := market.ParseEther(s.Bid); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case DoAdvance:
		if s.Days < 0 || s.Hours < 0 || s.Days+s.Hours == 0 {
			return fmt.Errorf("steps[%d]: advance needs positive days or hours", index)
		}
	case DoSettle:
		return require(s.Receiver != "", "receiver")
	case DoAccept, DoReject:
		if err := require(s.Knock > 0, "knock"); err != nil {
			return err
		}
		return require(s.As != "", "as")
	case DoExpire, DoRetryRefund:
		return require(s.Knock > 0, "knock")
	case DoRestart:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Do)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	missing := func(field string) error {
		return fmt.Errorf("assertions[%d]: %s is required for %s", index, field, a.Type)
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertBalance:
		if a.Account == "" {
			return missing("account")
		}
		if _, err := market.ParseEther(a.Ether); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertStatus:
		if a.Knock <= 0 {
			return missing("knock")
		}
		if !market.Status(a.Status).Valid() {
			return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
		}
	case AssertPending:
		if a.Sender == "" {
			return missing("sender")
		}
	case AssertQueue, AssertDaySettled:
		if a.Receiver == "" {
			return missing("receiver")
		}
	case AssertUnpaidRefunds:
	case AssertEventCount:
		if a.Kind == "" {
			return missing("kind")
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return missing("kinds")
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}

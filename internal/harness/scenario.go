package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Steven-Chan/chat/internal/backend"
	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

// Scenario defines a chain scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the store. Empty means the caller's choice.
	Backend string `yaml:"backend,omitempty"`

	// Steps run in order against one store.
	Steps []Step `yaml:"steps"`

	// Expect lists the links the final chain must contain.
	Expect []ExpectLink `yaml:"expect,omitempty"`

	// Assertions are further checks on the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is exactly one of Import, Insert or Backfill.
type Step struct {
	// Import writes records without the insert hook.
	Import []record.Record `yaml:"import,omitempty"`

	// Insert writes one record through the insert hook.
	Insert *record.Record `yaml:"insert,omitempty"`

	// Backfill recomputes every link.
	Backfill bool `yaml:"backfill,omitempty"`

	// ExpectError is the error code the step must fail with, e.g.
	// INVARIANT_VIOLATION. Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Op names the step's operation.
func (s Step) Op() string {
	switch {
	case s.Import != nil:
		return OpImport
	case s.Insert != nil:
		return OpInsert
	case s.Backfill:
		return OpBackfill
	default:
		return ""
	}
}

// Step operations.
const (
	OpImport   = "import"
	OpInsert   = "insert"
	OpBackfill = "backfill"
)

// ExpectLink asserts the predecessor of (Conversation, Seq).
// PreviousSeq 0 means the record has no predecessor.
type ExpectLink struct {
	Conversation string `yaml:"conversation"`
	Seq          int64  `yaml:"seq"`
	PreviousSeq  int64  `yaml:"previous_seq"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of AssertCount or AssertChainValid.
	Type string `yaml:"type"`

	// Conversation limits AssertCount to one conversation. Empty counts
	// every record.
	Conversation string `yaml:"conversation,omitempty"`

	// Count is the expected number of records (AssertCount).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertCount      = "count"
	AssertChainValid = "chain_valid"
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

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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

	if s.Backend != "" && !isBackend(s.Backend) {
		return fmt.Errorf("unknown backend %q (want one of %v)", s.Backend, backend.Names)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		ops := 0
		if step.Import != nil {
			ops++
		}
		if step.Insert != nil {
			ops++
		}
		if step.Backfill {
			ops++
		}
		if ops != 1 {
			return fmt.Errorf("steps[%d]: exactly one of import, insert or backfill is required", i)
		}
		switch link.Code(step.ExpectError) {
		case "", link.CodeInvariantViolation, link.CodeStoreUnavailable, link.CodeConcurrencyConflict:
		default:
			return fmt.Errorf("steps[%d]: unknown expect_error %q", i, step.ExpectError)
		}
	}

	for i, e := range s.Expect {
		if e.Conversation == "" {
			return fmt.Errorf("expect[%d]: conversation is required", i)
		}
		if e.Seq <= 0 {
			return fmt.Errorf("expect[%d]: seq must be positive", i)
		}
		if e.PreviousSeq < 0 || (e.PreviousSeq != 0 && e.PreviousSeq >= e.Seq) {
			return fmt.Errorf("expect[%d]: previous_seq must be 0 or below seq", i)
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertCount:
			if a.Count < 0 {
				return fmt.Errorf("assertions[%d]: count must be non-negative", i)
			}
		case AssertChainValid:
		case "":
			return fmt.Errorf("assertions[%d]: type is required", i)
		default:
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
	}

	return nil
}

func isBackend(name string) bool {
	for _, b := range backend.Names {
		if b == name {
			return true
		}
	}
	return false
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one dispatch scenario.
type Scenario struct {
	// Name uniquely identifies this scenario (and its golden file).
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs is the directory of CUE store specs, relative to the
	// scenario file.
	Specs string `yaml:"specs"`

	// SkipValidation registers the stores even if static validation
	// fails. Used by scenarios that exercise runtime failures such as
	// wait cycles.
	SkipValidation bool `yaml:"skip_validation,omitempty"`

	// Session fixes the session ID. Defaults to testutil.DefaultSessionID.
	Session string `yaml:"session,omitempty"`

	// Context is the store context handed to every store.
	Context map[string]any `yaml:"context,omitempty"`

	// Restore, if set, is applied as a snapshot before the first step.
	Restore *SnapshotSpec `yaml:"restore,omitempty"`

	// Options tune the dispatcher.
	Options Options `yaml:"options,omitempty"`

	// Steps are dispatched in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the outcome after every action completed.
	Assertions []Assertion `yaml:"assertions"`
}

// SnapshotSpec is a snapshot written inline in a scenario.
type SnapshotSpec struct {
	Context map[string]any `yaml:"context,omitempty"`
	Stores  map[string]any `yaml:"stores"`
}

// Options map onto dispatcher options.
type Options struct {
	HandlerTimeoutMS int  `yaml:"handler_timeout_ms,omitempty"`
	RecoverPanics    bool `yaml:"recover_panics,omitempty"`
}

// Step dispatches one action.
type Step struct {
	// Dispatch is the action name.
	Dispatch string `yaml:"dispatch"`

	// Payload is passed to every handler.
	Payload any `yaml:"payload,omitempty"`

	// NoWait queues the action without waiting for its callback, so the
	// next step is dispatched while this one is pending.
	NoWait bool `yaml:"no_wait,omitempty"`

	// ExpectError requires the action to fail with a message containing
	// this text.
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectCode requires the action to fail with this dispatch error code.
	ExpectCode string `yaml:"expect_code,omitempty"`
}

// expectsFailure reports whether the step is meant to fail.
func (s Step) expectsFailure() bool {
	return s.ExpectError != "" || s.ExpectCode != ""
}

// Assertion validates the final outcome.
type Assertion struct {
	// Type selects the assertion, see the Assert* constants.
	Type string `yaml:"type"`

	// Store names the store (final_state, absent_from_snapshot).
	Store string `yaml:"store,omitempty"`

	// Expect holds expected state fields (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Action names the action (action_error, handled_by).
	Action string `yaml:"action,omitempty"`

	// Actions is the expected callback order (completion_order).
	Actions []string `yaml:"actions,omitempty"`

	// Stores is the expected handling order (handled_by).
	Stores []string `yaml:"stores,omitempty"`

	// Code is the expected dispatch error code (action_error).
	Code string `yaml:"code,omitempty"`

	// Contains is expected error text (action_error).
	Contains string `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState         = "final_state"
	AssertCompletionOrder    = "completion_order"
	AssertActionError        = "action_error"
	AssertHandledBy          = "handled_by"
	AssertSnapshotRoundtrip  = "snapshot_roundtrip"
	AssertAbsentFromSnapshot = "absent_from_snapshot"
)

// LoadScenario reads and parses a scenario YAML file. The specs path is
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Specs != "" && !filepath.IsAbs(scenario.Specs) {
		scenario.Specs = filepath.Join(filepath.Dir(path), scenario.Specs)
	}
	if _, err := os.Stat(scenario.Specs); os.IsNotExist(err) {
		return nil, fmt.Errorf("invalid scenario: specs directory not found: %s", scenario.Specs)
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:" vs "assertions:"
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
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Specs == "" {
		return fmt.Errorf("specs directory is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Options.HandlerTimeoutMS < 0 {
		return fmt.Errorf("options.handler_timeout_ms must not be negative")
	}
	if s.Restore != nil && s.Restore.Stores == nil {
		return fmt.Errorf("restore.stores is required (use an empty map for none)")
	}

	for i, step := range s.Steps {
		if step.Dispatch == "" {
			return fmt.Errorf("steps[%d]: dispatch is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if a.Store == "" {
			return fmt.Errorf("assertions[%d]: store is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertCompletionOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for completion_order", index)
		}
	case AssertActionError:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for action_error", index)
		}
	case AssertHandledBy:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for handled_by", index)
		}
	case AssertSnapshotRoundtrip:
	case AssertAbsentFromSnapshot:
		if a.Store == "" {
			return fmt.Errorf("assertions[%d]: store is required for absent_from_snapshot", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/dispatchr/internal/dispatch"
	"github.com/roach88/dispatchr/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v", event.Seq, event.Action, storeNames(event.Stores))
			if event.Error != "" {
				fmt.Fprintf(&buf, " error=%q", event.Error)
			}
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// AssertionContext provides the live session for state assertions.
type AssertionContext struct {
	Ctx        context.Context
	Dispatcher *dispatch.Dispatcher
	Registry   *dispatch.Registry
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalState:
			if actx == nil || actx.Dispatcher == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a live session", i)
			} else {
				err = assertFinalState(actx.Dispatcher, assertion)
			}
		case AssertCompletionOrder:
			err = assertCompletionOrder(result, assertion)
		case AssertActionError:
			err = assertActionError(result, assertion)
		case AssertHandledBy:
			err = assertHandledBy(result, assertion)
		case AssertSnapshotRoundtrip:
			if actx == nil || actx.Registry == nil {
				err = fmt.Errorf("assertion[%d]: snapshot_roundtrip requires a registry", i)
			} else {
				err = assertSnapshotRoundtrip(result, actx.Registry)
			}
		case AssertAbsentFromSnapshot:
			err = assertAbsentFromSnapshot(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertFinalState checks a store's state with subset semantics: only
// the fields in Expect are compared, as canonical JSON so 1 and 1.0 match.
func assertFinalState(d *dispatch.Dispatcher, assertion Assertion) error {
	inst, err := d.GetStore(dispatch.Name(assertion.Store))
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("store %s", assertion.Store),
			Actual:   err.Error(),
		}
	}
	getter, ok := inst.(dispatch.StateGetter)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("store %s to expose GetState", assertion.Store),
			Actual:   fmt.Sprintf("%T", inst),
		}
	}
	state, _ := getter.GetState().(map[string]any)

	for _, key := range ir.SortedKeys(assertion.Expect) {
		actual, exists := state[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s to exist", assertion.Store, key),
				Actual:   fmt.Sprintf("fields present: %v", ir.SortedKeys(state)),
			}
		}
		if !valuesEqual(actual, assertion.Expect[key]) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %s", assertion.Store, key, canonical(assertion.Expect[key])),
				Actual:   fmt.Sprintf("%s.%s = %s", assertion.Store, key, canonical(actual)),
			}
		}
	}
	return nil
}

// assertCompletionOrder checks the exact order callbacks fired in.
func assertCompletionOrder(result *Result, assertion Assertion) error {
	actual := make([]string, len(result.Completions))
	for i, c := range result.Completions {
		actual[i] = c.Action
	}
	if !slices.Equal(actual, assertion.Actions) {
		return &AssertionError{
			Type:     AssertCompletionOrder,
			Expected: fmt.Sprintf("%v", assertion.Actions),
			Actual:   fmt.Sprintf("%v", actual),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertActionError checks that the first completion of an action failed,
// optionally with a given code and message text.
func assertActionError(result *Result, assertion Assertion) error {
	idx := slices.IndexFunc(result.Completions, func(c Completion) bool {
		return c.Action == assertion.Action
	})
	if idx < 0 {
		return &AssertionError{
			Type:     AssertActionError,
			Expected: fmt.Sprintf("action %s to complete", assertion.Action),
			Actual:   "no completion",
			Trace:    result.Trace,
		}
	}

	c := result.Completions[idx]
	switch {
	case c.Error == "":
		return &AssertionError{
			Type:     AssertActionError,
			Expected: fmt.Sprintf("action %s to fail", assertion.Action),
			Actual:   "completed without error",
			Trace:    result.Trace,
		}
	case assertion.Code != "" && c.Code != assertion.Code:
		return &AssertionError{
			Type:     AssertActionError,
			Expected: fmt.Sprintf("code %s", assertion.Code),
			Actual:   fmt.Sprintf("code %q: %s", c.Code, c.Error),
			Trace:    result.Trace,
		}
	case assertion.Contains != "" && !strings.Contains(c.Error, assertion.Contains):
		return &AssertionError{
			Type:     AssertActionError,
			Expected: fmt.Sprintf("error containing %q", assertion.Contains),
			Actual:   c.Error,
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertHandledBy checks which stores handled the first journaled
// occurrence of an action, in handler order.
func assertHandledBy(result *Result, assertion Assertion) error {
	for _, event := range result.Trace {
		if event.Action != assertion.Action {
			continue
		}
		actual := storeNames(event.Stores)
		expected := assertion.Stores
		if expected == nil {
			expected = []string{}
		}
		if !slices.Equal(actual, expected) {
			return &AssertionError{
				Type:     AssertHandledBy,
				Expected: fmt.Sprintf("%s handled by %v", assertion.Action, expected),
				Actual:   fmt.Sprintf("%v", actual),
				Trace:    result.Trace,
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertHandledBy,
		Expected: fmt.Sprintf("action %s in trace", assertion.Action),
		Actual:   "not found",
		Trace:    result.Trace,
	}
}

// assertSnapshotRoundtrip restores the final snapshot into a fresh
// session over the same registry and checks the second snapshot is
// identical.
func assertSnapshotRoundtrip(result *Result, reg *dispatch.Registry) error {
	if result.Snapshot == nil {
		return &AssertionError{Type: AssertSnapshotRoundtrip, Expected: "a snapshot", Actual: "none taken"}
	}

	fresh := dispatch.New(reg, nil, dispatch.WithSessionID(result.SessionID+"-roundtrip"))
	defer fresh.Close()

	if err := fresh.Restore(result.Snapshot); err != nil {
		return &AssertionError{Type: AssertSnapshotRoundtrip, Expected: "restore to succeed", Actual: err.Error()}
	}
	again, err := fresh.Snapshot()
	if err != nil {
		return &AssertionError{Type: AssertSnapshotRoundtrip, Expected: "second snapshot", Actual: err.Error()}
	}

	want, err := ir.SnapshotDigest(result.Snapshot)
	if err != nil {
		return err
	}
	got, err := ir.SnapshotDigest(again)
	if err != nil {
		return err
	}
	if want != got {
		return &AssertionError{
			Type:     AssertSnapshotRoundtrip,
			Expected: canonical(result.Snapshot),
			Actual:   canonical(again),
		}
	}
	return nil
}

// assertAbsentFromSnapshot checks a store did not serialize.
func assertAbsentFromSnapshot(result *Result, assertion Assertion) error {
	if result.Snapshot == nil {
		return nil
	}
	if _, ok := result.Snapshot.Stores[assertion.Store]; ok {
		return &AssertionError{
			Type:     AssertAbsentFromSnapshot,
			Expected: fmt.Sprintf("store %s absent from snapshot", assertion.Store),
			Actual:   fmt.Sprintf("snapshot stores %v", result.Snapshot.StoreNames()),
		}
	}
	return nil
}

func storeNames(outcomes []ir.StoreOutcome) []string {
	names := make([]string, len(outcomes))
	for i, o := range outcomes {
		names[i] = o.Store
	}
	return names
}

// valuesEqual compares two values by canonical JSON.
func valuesEqual(actual, expected any) bool {
	a, err := ir.MarshalCanonical(actual)
	if err != nil {
		return false
	}
	b, err := ir.MarshalCanonical(expected)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

func canonical(v any) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

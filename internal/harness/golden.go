package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/dispatchr/internal/ir"
)

// TraceSnapshot captures what a golden file pins down for a scenario:
// the journaled trace and the final session snapshot.
type TraceSnapshot struct {
	ScenarioName string
	SessionID    string
	Trace        []TraceEvent
	Snapshot     *ir.Snapshot
}

// toCanonicalMap converts a TraceSnapshot to a plain map for canonical
// JSON. Action IDs and digests are left out; they follow from the rest.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		stores := make([]any, len(event.Stores))
		for j, o := range event.Stores {
			m := map[string]any{"store": o.Store}
			if o.Error != "" {
				m["error"] = o.Error
			}
			stores[j] = m
		}

		eventMap := map[string]any{
			"seq":    event.Seq,
			"action": event.Action,
			"stores": stores,
		}
		if event.Origin != "" {
			eventMap["origin"] = event.Origin
		}
		if event.Payload != nil {
			eventMap["payload"] = event.Payload
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"session_id":    s.SessionID,
		"trace":         traceList,
	}
	if s.Snapshot != nil {
		result["snapshot"] = s.Snapshot
	}
	return result
}

// GoldenBytes renders a result as the canonical JSON stored in golden files.
func GoldenBytes(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		SessionID:    result.SessionID,
		Trace:        result.Trace,
		Snapshot:     result.Snapshot,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := GoldenBytes(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

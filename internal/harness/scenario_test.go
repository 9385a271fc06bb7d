package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one step"
specs: specs
steps:
  - dispatch: GO
assertions:
  - type: completion_order
    actions: [GO]
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, "specs", s.Specs)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "GO", s.Steps[0].Dispatch)
	assert.False(t, s.Steps[0].NoWait)
}

func TestParseScenarioFullStep(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: full
description: "every field"
specs: specs
session: s-1
context: { user: u1 }
restore:
  context: { user: u2 }
  stores: { Store: { page: home } }
options:
  handler_timeout_ms: 50
  recover_panics: true
steps:
  - dispatch: GO
    payload: { n: 1, tags: [a, b] }
    no_wait: true
    expect_error: boom
    expect_code: HANDLER_TIMEOUT
assertions:
  - type: snapshot_roundtrip
`))
	require.NoError(t, err)

	assert.Equal(t, "s-1", s.Session)
	assert.Equal(t, map[string]any{"user": "u1"}, s.Context)
	require.NotNil(t, s.Restore)
	assert.Equal(t, map[string]any{"page": "home"}, s.Restore.Stores["Store"])
	assert.Equal(t, 50, s.Options.HandlerTimeoutMS)
	assert.True(t, s.Options.RecoverPanics)

	step := s.Steps[0]
	assert.True(t, step.NoWait)
	assert.True(t, step.expectsFailure())
	assert.Equal(t, map[string]any{"n": float64(1), "tags": []any{"a", "b"}}, jsonValue(step.Payload))
}

func TestParseScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", minimalScenario + "assertion: []\n", "field assertion not found"},
		{"no name", "description: d\nspecs: s\nsteps: [{dispatch: GO}]\nassertions: [{type: snapshot_roundtrip}]\n", "name is required"},
		{"no description", "name: n\nspecs: s\nsteps: [{dispatch: GO}]\nassertions: [{type: snapshot_roundtrip}]\n", "description is required"},
		{"no specs", "name: n\ndescription: d\nsteps: [{dispatch: GO}]\nassertions: [{type: snapshot_roundtrip}]\n", "specs directory is required"},
		{"no steps", "name: n\ndescription: d\nspecs: s\nassertions: [{type: snapshot_roundtrip}]\n", "steps list is required"},
		{"no assertions", "name: n\ndescription: d\nspecs: s\nsteps: [{dispatch: GO}]\n", "assertions list is required"},
		{"empty dispatch", "name: n\ndescription: d\nspecs: s\nsteps: [{payload: 1}]\nassertions: [{type: snapshot_roundtrip}]\n", "steps[0]: dispatch is required"},
		{"negative timeout", "name: n\ndescription: d\nspecs: s\noptions: {handler_timeout_ms: -1}\nsteps: [{dispatch: GO}]\nassertions: [{type: snapshot_roundtrip}]\n", "must not be negative"},
		{"restore without stores", "name: n\ndescription: d\nspecs: s\nrestore: {context: {}}\nsteps: [{dispatch: GO}]\nassertions: [{type: snapshot_roundtrip}]\n", "restore.stores is required"},
		{"unknown assertion", "name: n\ndescription: d\nspecs: s\nsteps: [{dispatch: GO}]\nassertions: [{type: trace_contains}]\n", "unknown assertion type"},
		{"final_state without store", "name: n\ndescription: d\nspecs: s\nsteps: [{dispatch: GO}]\nassertions: [{type: final_state, expect: {a: 1}}]\n", "store is required for final_state"},
		{"final_state without expect", "name: n\ndescription: d\nspecs: s\nsteps: [{dispatch: GO}]\nassertions: [{type: final_state, store: S}]\n", "expect is required"},
		{"completion_order without actions", "name: n\ndescription: d\nspecs: s\nsteps: [{dispatch: GO}]\nassertions: [{type: completion_order}]\n", "actions list is required"},
		{"action_error without action", "name: n\ndescription: d\nspecs: s\nsteps: [{dispatch: GO}]\nassertions: [{type: action_error}]\n", "action is required for action_error"},
		{"absent without store", "name: n\ndescription: d\nspecs: s\nsteps: [{dispatch: GO}]\nassertions: [{type: absent_from_snapshot}]\n", "store is required for absent_from_snapshot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioResolvesSpecs(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "navigate.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "specs", "navigation"), s.Specs)
}

func TestLoadScenarioMissingSpecs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "specs directory not found")
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

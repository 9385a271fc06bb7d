package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dispatchr/internal/testutil"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func requirePass(t *testing.T, result *Result) {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestGoldenScenarios(t *testing.T) {
	for _, name := range []string{"navigate", "delay_wait_for", "nested_dispatch", "handler_failure"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			requirePass(t, result)
		})
	}
}

func TestAssertionOnlyScenarios(t *testing.T) {
	for _, name := range []string{"fifo_queue", "wait_cycle", "restore", "no_handler"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(context.Background(), loadTestScenario(t, name), WithLogger(testutil.NewLogger(t)))
			require.NoError(t, err)
			requirePass(t, result)
		})
	}
}

func TestRunCompletionsRecordOrderAndSeq(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "nested_dispatch"))
	require.NoError(t, err)
	requirePass(t, result)

	require.Len(t, result.Completions, 1)
	assert.Equal(t, Completion{Step: 0, Action: "START", Seq: 1}, result.Completions[0])
	// Only harness-dispatched actions have callbacks; the nested NAVIGATE
	// shows up in the trace.
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "NAVIGATE", result.Trace[1].Action)
	assert.Equal(t, "Nav", result.Trace[1].Origin)
	assert.Empty(t, result.Trace[0].Origin)
	assert.Equal(t, int64(2), result.Trace[1].Seq)
}

func TestRunRestoreUsesSnapshotContext(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "restore"))
	require.NoError(t, err)
	requirePass(t, result)

	require.NotNil(t, result.Snapshot)
	assert.Equal(t, "u9", result.Snapshot.Context["user"])
	assert.Equal(t, []string{"DelayedStore", "Store"}, result.Snapshot.StoreNames())
}

func TestRunWaitCycleRejectedByValidation(t *testing.T) {
	scenario := loadTestScenario(t, "wait_cycle")
	scenario.SkipValidation = false

	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E211")
}

func TestRunReportsStepMismatch(t *testing.T) {
	scenario := loadTestScenario(t, "handler_failure")
	scenario.Steps[0].ExpectError = ""

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "unexpected error")
}

func TestRunReportsUnexpectedSuccess(t *testing.T) {
	scenario := loadTestScenario(t, "navigate")
	scenario.Steps[0].ExpectCode = "WAIT_CYCLE"

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected failure")
}

func TestRunMissingSpecs(t *testing.T) {
	scenario := loadTestScenario(t, "navigate")
	scenario.Specs = filepath.Join("testdata", "specs", "missing")

	_, err := Run(context.Background(), scenario)
	assert.ErrorContains(t, err, "failed to load specs")
}

func TestRunIsDeterministic(t *testing.T) {
	scenario := loadTestScenario(t, "nested_dispatch")

	first, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	second, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	a, err := GoldenBytes(scenario.Name, first)
	require.NoError(t, err)
	b, err := GoldenBytes(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

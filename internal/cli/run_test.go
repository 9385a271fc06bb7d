package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dispatchr/internal/ir"
)

type runResponse struct {
	Status    string    `json:"status"`
	SessionID string    `json:"session_id"`
	Data      RunResult `json:"data"`
	Error     *CLIError `json:"error"`
}

func decodeRun(t *testing.T, out string) runResponse {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestRunText(t *testing.T) {
	out, err := execute(t, "run", specsDir("app"), "--actions", actionsFile("app.jsonl"), "--session", "run-1")
	require.NoError(t, err)

	assert.Contains(t, out, "Session: run-1")
	assert.Contains(t, out, "✓ [1] START [Nav Audit]")
	assert.Contains(t, out, "✓ [2] NAVIGATE [Nav Audit]")
	assert.Contains(t, out, "Snapshot: 1 store(s), digest ")
}

func TestRunVerboseLogsStoreChanges(t *testing.T) {
	_, stderr, err := executeSplit(t, "--verbose", "run", specsDir("app"), "--actions", actionsFile("app.jsonl"), "--session", "run-1")
	require.NoError(t, err)

	assert.Contains(t, stderr, "store changed")
	assert.Contains(t, stderr, "store=Nav")

	_, stderr, err = executeSplit(t, "run", specsDir("app"), "--actions", actionsFile("app.jsonl"), "--session", "run-1")
	require.NoError(t, err)
	assert.NotContains(t, stderr, "store changed", "change logging is debug level")
}

func TestRunJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "run", specsDir("app"), "--actions", actionsFile("app.jsonl"), "--session", "run-1")
	require.NoError(t, err)

	resp := decodeRun(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.SessionID)
	require.Len(t, resp.Data.Actions, 2)
	assert.Equal(t, ActionOutcome{
		Seq:    1,
		Action: "START",
		Stores: []ir.StoreOutcome{{Store: "Nav"}, {Store: "Audit"}},
	}, resp.Data.Actions[0])
	assert.Equal(t, int64(2), resp.Data.Actions[1].Seq)

	// The nested NAVIGATE queued behind the scripted one, so it ran last.
	require.Contains(t, resp.Data.Snapshot.Stores, "Nav")
	assert.JSONEq(t, `{"page":"home","started":true}`, string(resp.Data.Snapshot.Stores["Nav"]))
	assert.NotContains(t, resp.Data.Snapshot.Stores, "Audit")
	assert.Equal(t, ir.MustSnapshotDigest(resp.Data.Snapshot), resp.Data.Digest)
}

func TestRunYAMLMatchesJSONL(t *testing.T) {
	jsonl, err := execute(t, "--format", "json", "run", specsDir("app"), "--actions", actionsFile("app.jsonl"), "--session", "same")
	require.NoError(t, err)
	yml, err := execute(t, "--format", "json", "run", specsDir("app"), "--actions", actionsFile("app.yaml"), "--session", "same")
	require.NoError(t, err)

	assert.Equal(t, decodeRun(t, jsonl).Data.Digest, decodeRun(t, yml).Data.Digest)
}

func TestRunFailedActionExitsWithFailure(t *testing.T) {
	out, err := execute(t, "run", specsDir("app"), "--actions", actionsFile("break.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ [1] NAVIGATE")
	assert.Contains(t, out, "✗ [2] BREAK [Checker Waiter Audit]")
	assert.Contains(t, out, "error: store Checker failed handling BREAK: boom")
}

func TestRunFailedActionJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "run", specsDir("app"), "--actions", actionsFile("break.jsonl"))
	require.Error(t, err)

	resp := decodeRun(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeActionFailed, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	assert.Equal(t, "store Checker failed handling BREAK: boom", resp.Data.Actions[1].Error)
}

func TestRunContextAndStdin(t *testing.T) {
	cmd := NewRootCommand()
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetErr(&strings.Builder{})
	cmd.SetIn(strings.NewReader(`{"action":"NAVIGATE","payload":{"page":"home"}}` + "\n"))
	cmd.SetArgs([]string{"--format", "json", "run", specsDir("app"), "--actions", "-", "--context", `{"user":"u1","n":2}`})
	require.NoError(t, cmd.Execute())

	resp := decodeRun(t, out.String())
	assert.Equal(t, ir.StoreContext{"user": "u1", "n": float64(2)}, resp.Data.Snapshot.Context)
	assert.JSONEq(t, `{"page":"home"}`, string(resp.Data.Snapshot.Stores["Nav"]))
}

func TestRunOutThenRestore(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "snap.json")
	_, err := execute(t, "run", specsDir("app"), "--actions", actionsFile("app.jsonl"), "--context", `{"user":"u1"}`, "--out", snapPath)
	require.NoError(t, err)

	data, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	assert.Equal(t, `{"context":{"user":"u1"},"stores":{"Nav":{"page":"home","started":true}}}`, string(data))

	// A restored session starts from the snapshot; BREAK leaves Nav alone.
	actions := filepath.Join(dir, "break.jsonl")
	require.NoError(t, os.WriteFile(actions, []byte(`{"action":"BREAK"}`+"\n"), 0o644))
	out, err := execute(t, "--format", "json", "run", specsDir("app"), "--actions", actions, "--restore", snapPath)
	require.Error(t, err)

	resp := decodeRun(t, out)
	assert.Equal(t, ir.StoreContext{"user": "u1"}, resp.Data.Snapshot.Context)
	assert.JSONEq(t, `{"page":"home","started":true}`, string(resp.Data.Snapshot.Stores["Nav"]))
}

func TestRunCommandErrors(t *testing.T) {
	dir := t.TempDir()
	badActions := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(badActions, []byte(`{"payload":{}}`+"\n"), 0o644))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing actions flag", []string{"run", specsDir("app")}, "required flag"},
		{"missing specs", []string{"run", filepath.Join(dir, "nope"), "--actions", actionsFile("app.jsonl")}, "failed to load specs"},
		{"invalid specs", []string{"run", specsDir("invalid"), "--actions", actionsFile("app.jsonl")}, "validation failed"},
		{"missing actions file", []string{"run", specsDir("app"), "--actions", filepath.Join(dir, "none.jsonl")}, "failed to read actions"},
		{"action without name", []string{"run", specsDir("app"), "--actions", badActions}, "missing action"},
		{"bad context", []string{"run", specsDir("app"), "--actions", actionsFile("app.jsonl"), "--context", "[1]"}, "must be a JSON object"},
		{"missing snapshot", []string{"run", specsDir("app"), "--actions", actionsFile("app.jsonl"), "--restore", filepath.Join(dir, "none.json")}, "failed to read snapshot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			if tt.name != "missing actions flag" {
				assert.Equal(t, ExitCommandError, GetExitCode(err))
			}
		})
	}
}

package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dispatchr/internal/journal"
)

type replayResponse struct {
	Status string       `json:"status"`
	Data   ReplayResult `json:"data"`
	Error  *CLIError    `json:"error"`
}

func TestReplayDeterministic(t *testing.T) {
	db := journaledRun(t, "replay-1", "app.jsonl")

	out, err := execute(t, "replay", specsDir("app"), "--db", db)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Session: replay-1")
	assert.Contains(t, out, "Actions: 3 recorded, 2 external, 3 replayed")
	assert.Contains(t, out, "✓ All sessions replayed identically")
}

func TestReplayFailedActionIsDeterministic(t *testing.T) {
	db := journaledRun(t, "replay-2", "break.jsonl")

	out, err := execute(t, "--format", "json", "replay", specsDir("app"), "--db", db, "--session", "replay-2")
	require.NoError(t, err)

	var resp replayResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllDeterministic)
	require.Len(t, resp.Data.Sessions, 1)
	assert.Equal(t, ReplaySessionResult{
		SessionID:     "replay-2",
		Recorded:      2,
		External:      2,
		Replayed:      2,
		Deterministic: true,
	}, resp.Data.Sessions[0])
}

func TestReplayDetectsDivergence(t *testing.T) {
	db := journaledRun(t, "replay-1", "app.jsonl")

	j, err := journal.Open(db)
	require.NoError(t, err)
	_, err = j.DB().ExecContext(context.Background(), "UPDATE actions SET error = 'tampered' WHERE seq = 1")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	out, err := execute(t, "--format", "json", "replay", specsDir("app"), "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp replayResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeDivergence, resp.Error.Code)
	require.Len(t, resp.Data.Sessions, 1)
	assert.Equal(t, []Mismatch{{Seq: 1, Field: "error", Expected: "tampered", Actual: ""}}, resp.Data.Sessions[0].Mismatches)
}

func TestCompareRecordsLengthMismatch(t *testing.T) {
	db := journaledRun(t, "replay-1", "app.jsonl")
	j, err := journal.Open(db)
	require.NoError(t, err)
	defer j.Close()

	recs, err := j.ReadActions(context.Background(), "replay-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Empty(t, compareRecords(recs, recs))
	assert.Equal(t, []Mismatch{{Seq: 3, Field: "action", Expected: "NAVIGATE", Actual: "(missing)"}}, compareRecords(recs, recs[:2]))
	assert.Equal(t, []Mismatch{{Seq: 3, Field: "action", Expected: "(none)", Actual: "NAVIGATE"}}, compareRecords(recs[:2], recs))
}

func TestReplayErrors(t *testing.T) {
	db := journaledRun(t, "replay-1", "app.jsonl")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "db not found", args: []string{"replay", specsDir("app"), "--db", filepath.Join(t.TempDir(), "nope.db")}, wantErr: "failed to open journal"},
		{name: "unknown session", args: []string{"replay", specsDir("app"), "--db", db, "--session", "ghost"}, wantErr: "session not found"},
		{name: "invalid specs", args: []string{"replay", specsDir("invalid"), "--db", db}, wantErr: "validation failed"},
		{name: "missing snapshot", args: []string{"replay", specsDir("app"), "--db", db, "--restore", filepath.Join(t.TempDir(), "snap.json")}, wantErr: "failed to read snapshot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

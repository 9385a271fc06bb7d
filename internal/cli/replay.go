package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dispatchr/internal/dispatch"
	"github.com/roach88/dispatchr/internal/ir"
	"github.com/roach88/dispatchr/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database       string
	Session        string // optional - specific session only
	Restore        string
	HandlerTimeout time.Duration
	RecoverPanics  bool
}

// Mismatch is one difference between a journaled action and its replay.
type Mismatch struct {
	Seq      int64  `json:"seq"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	SessionID     string     `json:"session_id"`
	Recorded      int        `json:"recorded"`
	External      int        `json:"external"`
	Replayed      int        `json:"replayed"`
	Deterministic bool       `json:"deterministic"`
	Mismatches    []Mismatch `json:"mismatches,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <specs-dir>",
		Short: "Rebuild journaled sessions and verify they replay identically",
		Long: `Rebuild journaled sessions from their externally dispatched actions and
check that every action replays with the same ID, sequence number, store
outcomes and error.

Actions that stores dispatched from inside handlers are not re-sent; the
stores dispatch them again. The session context comes from the journal;
pass --restore with the snapshot the session started from, if any.

Exit codes:
  0 - All sessions replayed identically
  1 - At least one session diverged
  2 - Command error (bad specs, database not found, etc.)

Examples:
  dispatchr replay ./specs --db ./dispatchr.db
  dispatchr replay ./specs --db ./dispatchr.db --session 0190...
  dispatchr replay ./specs --db ./dispatchr.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay one session only")
	cmd.Flags().StringVar(&opts.Restore, "restore", "", "snapshot the session was restored from")
	cmd.Flags().DurationVar(&opts.HandlerTimeout, "handler-timeout", 0, "handler timeout the session ran with")
	cmd.Flags().BoolVar(&opts.RecoverPanics, "recover-panics", false, "recover handler panics as the session did")

	return cmd
}

func runReplay(opts *ReplayOptions, specsDir string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	_, reg, err := loadRegistry(f, specsDir)
	if err != nil {
		return err
	}

	var restore *ir.Snapshot
	if opts.Restore != "" {
		if restore, err = readSnapshot(opts.Restore); err != nil {
			return f.Fail(ExitCommandError, ErrCodeBadInput, "failed to read snapshot", err)
		}
	}

	j, err := openExistingJournal(opts.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer j.Close()

	sessions, err := selectSessions(ctx, j, opts.Session)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to read sessions", err)
	}

	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(sessions)),
		TotalSessions:    len(sessions),
		AllDeterministic: true,
	}
	for _, sess := range sessions {
		f.VerboseLog("Replaying session %s", sess.ID)
		r, err := replaySession(ctx, reg, j, sess, restore, opts, logger)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeJournal, fmt.Sprintf("failed to replay session %s", sess.ID), err)
		}
		result.Sessions = append(result.Sessions, r)
		if !r.Deterministic {
			result.AllDeterministic = false
		}
	}

	return outputReplay(f, result)
}

// replaySession re-dispatches a session's external actions into a fresh
// dispatcher with the same session ID, journals the replay in memory and
// compares it record by record with the original.
//
// Consecutive external actions are queued as one batch, as run queues its
// script. When the journal shows nested actions between two external ones,
// the batch so far is drained first so the nested ones take the same
// sequence numbers.
func replaySession(ctx context.Context, reg *dispatch.Registry, j *journal.Journal, sess ir.SessionRecord, restore *ir.Snapshot, opts *ReplayOptions, logger *slog.Logger) (ReplaySessionResult, error) {
	recorded, err := j.ReadActions(ctx, sess.ID)
	if err != nil {
		return ReplaySessionResult{}, err
	}

	mem, err := journal.Open(":memory:")
	if err != nil {
		return ReplaySessionResult{}, fmt.Errorf("open replay journal: %w", err)
	}
	defer mem.Close()

	dopts := []dispatch.Option{
		dispatch.WithSessionID(sess.ID),
		dispatch.WithJournal(mem),
		dispatch.WithLogger(logger),
	}
	if opts.HandlerTimeout > 0 {
		dopts = append(dopts, dispatch.WithHandlerTimeout(opts.HandlerTimeout))
	}
	if opts.RecoverPanics {
		dopts = append(dopts, dispatch.WithPanicRecovery())
	}
	d := dispatch.New(reg, sess.Context, dopts...)
	defer d.Close()

	if restore != nil {
		if err := d.Restore(restore); err != nil {
			return ReplaySessionResult{}, fmt.Errorf("restore: %w", err)
		}
	}
	if err := mem.WriteSession(ctx, ir.SessionRecord{ID: sess.ID, Context: d.Context(), EngineVersion: ir.EngineVersion}); err != nil {
		return ReplaySessionResult{}, fmt.Errorf("journal replay session: %w", err)
	}

	result := ReplaySessionResult{SessionID: sess.ID, Recorded: len(recorded)}
	var batch []dispatch.Queued
	flush := func() error {
		d.DispatchAll(batch)
		batch = nil
		return d.Drain(ctx)
	}
	for i, rec := range recorded {
		if rec.Origin != "" {
			continue
		}
		if i > 0 && recorded[i-1].Origin != "" && len(batch) > 0 {
			if err := flush(); err != nil {
				return ReplaySessionResult{}, err
			}
		}
		payload, err := ir.DecodeJSON(rec.Payload)
		if err != nil {
			return ReplaySessionResult{}, fmt.Errorf("action %d: %w", rec.Seq, err)
		}
		batch = append(batch, dispatch.Queued{Name: rec.Name, Payload: payload})
		result.External++
	}
	if err := flush(); err != nil {
		return ReplaySessionResult{}, err
	}

	replayed, err := mem.ReadActions(ctx, sess.ID)
	if err != nil {
		return ReplaySessionResult{}, err
	}
	result.Replayed = len(replayed)
	result.Mismatches = compareRecords(recorded, replayed)
	result.Deterministic = len(result.Mismatches) == 0
	return result, nil
}

// compareRecords lines two journals up by position and reports every
// field that differs.
func compareRecords(expected, actual []ir.ActionRecord) []Mismatch {
	var out []Mismatch
	n := max(len(expected), len(actual))
	for i := range n {
		switch {
		case i >= len(actual):
			out = append(out, Mismatch{Seq: expected[i].Seq, Field: "action", Expected: expected[i].Name, Actual: "(missing)"})
			continue
		case i >= len(expected):
			out = append(out, Mismatch{Seq: actual[i].Seq, Field: "action", Expected: "(none)", Actual: actual[i].Name})
			continue
		}

		e, a := expected[i], actual[i]
		add := func(field, want, got string) {
			if want != got {
				out = append(out, Mismatch{Seq: e.Seq, Field: field, Expected: want, Actual: got})
			}
		}
		add("seq", fmt.Sprint(e.Seq), fmt.Sprint(a.Seq))
		add("action", e.Name, a.Name)
		add("origin", e.Origin, a.Origin)
		add("id", e.ID, a.ID)
		add("error", e.Error, a.Error)
		if !slices.Equal(e.Stores, a.Stores) {
			add("stores", fmt.Sprint(e.Stores), fmt.Sprint(a.Stores))
		}
	}
	return out
}

func outputReplay(f *OutputFormatter, result ReplayResult) error {
	if f.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.AllDeterministic {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeDivergence, Message: "replay diverged from journal"}
		}
		if err := f.Respond(resp); err != nil {
			return err
		}
	} else {
		w := f.Writer
		if result.TotalSessions == 0 {
			fmt.Fprintln(w, "No sessions found in journal.")
			return nil
		}

		fmt.Fprintf(w, "Replay Summary: %d session(s)\n\n", result.TotalSessions)
		for _, s := range result.Sessions {
			status := "✓"
			if !s.Deterministic {
				status = "✗"
			}
			fmt.Fprintf(w, "%s Session: %s\n", status, s.SessionID)
			fmt.Fprintf(w, "  Actions: %d recorded, %d external, %d replayed\n", s.Recorded, s.External, s.Replayed)
			for _, m := range s.Mismatches {
				fmt.Fprintf(w, "  [%d] %s: expected %s, got %s\n", m.Seq, m.Field, m.Expected, m.Actual)
			}
			fmt.Fprintln(w)
		}

		if result.AllDeterministic {
			fmt.Fprintln(w, "✓ All sessions replayed identically")
		} else {
			fmt.Fprintln(w, "✗ Replay diverged from journal")
		}
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "replay diverged from journal")
	}
	return nil
}

// requireFile fails unless path names an existing regular file.
func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dispatchr/internal/compiler"
	"github.com/roach88/dispatchr/internal/dispatch"
	"github.com/roach88/dispatchr/internal/ir"
	"github.com/roach88/dispatchr/internal/journal"
	"github.com/roach88/dispatchr/internal/scripted"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Actions        string
	Database       string
	Context        string
	Restore        string
	Out            string
	Session        string
	HandlerTimeout time.Duration
	RecoverPanics  bool

	// SessionGenerator allows overriding the session ID generator (for
	// testing). If nil, defaults to UUIDv7Generator.
	SessionGenerator dispatch.SessionIDGenerator
}

// ActionOutcome is the callback result of one scripted action.
type ActionOutcome struct {
	Seq    int64             `json:"seq"`
	Action string            `json:"action"`
	Stores []ir.StoreOutcome `json:"stores"`
	Error  string            `json:"error,omitempty"`
	Code   string            `json:"code,omitempty"`
}

// RunResult is the output of the run command.
type RunResult struct {
	SessionID string          `json:"session_id"`
	Actions   []ActionOutcome `json:"actions"`
	Failed    int             `json:"failed"`
	Snapshot  *ir.Snapshot    `json:"snapshot"`
	Digest    string          `json:"digest"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <specs-dir>",
		Short: "Dispatch a script of actions through compiled stores",
		Long: `Start one dispatcher session over the stores in a specs directory and
dispatch every action in an actions file, in order.

Actions files are JSON Lines ({"action": "NAVIGATE", "payload": {...}} per
line) or, with a .yaml/.yml extension, a YAML list of the same objects.
Use "-" to read JSON Lines from stdin.

With --db, the session and every action (nested dispatches included) are
journaled to SQLite so they can be traced and replayed later.

Exit codes:
  0 - Every scripted action succeeded
  1 - At least one scripted action failed
  2 - Command error (bad specs, unreadable files, journal errors)

Examples:
  dispatchr run ./specs --actions actions.jsonl
  dispatchr run ./specs --actions actions.yaml --db ./dispatchr.db --out snap.json
  dispatchr run ./specs --actions more.jsonl --restore snap.json --context '{"user":"u1"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActions(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actions, "actions", "", "actions file, or - for stdin (required)")
	_ = cmd.MarkFlagRequired("actions")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal actions to this SQLite database")
	cmd.Flags().StringVar(&opts.Context, "context", "", "store context as a JSON object")
	cmd.Flags().StringVar(&opts.Restore, "restore", "", "restore this snapshot file before dispatching")
	cmd.Flags().StringVar(&opts.Out, "out", "", "write the final snapshot to this file")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session ID (default: generated UUIDv7)")
	cmd.Flags().DurationVar(&opts.HandlerTimeout, "handler-timeout", 0, "fail handlers that do not settle in time (0 disables)")
	cmd.Flags().BoolVar(&opts.RecoverPanics, "recover-panics", false, "turn handler panics into action failures")

	return cmd
}

func runActions(opts *RunOptions, specsDir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	_, reg, err := loadRegistry(f, specsDir, scripted.WithChangeListener(func(store string, state any) {
		logger.Debug("store changed", "store", store, "state", state)
	}))
	if err != nil {
		return err
	}

	actions, err := ReadActionsFile(opts.Actions, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadInput, "failed to read actions", err)
	}
	storeCtx, err := parseContext(opts.Context)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadInput, "invalid --context", err)
	}
	var restore *ir.Snapshot
	if opts.Restore != "" {
		if restore, err = readSnapshot(opts.Restore); err != nil {
			return f.Fail(ExitCommandError, ErrCodeBadInput, "failed to read snapshot", err)
		}
	}

	dopts := []dispatch.Option{dispatch.WithLogger(logger)}
	if opts.Session != "" {
		dopts = append(dopts, dispatch.WithSessionID(opts.Session))
	} else if opts.SessionGenerator != nil {
		dopts = append(dopts, dispatch.WithSessionIDGenerator(opts.SessionGenerator))
	}
	if opts.HandlerTimeout > 0 {
		dopts = append(dopts, dispatch.WithHandlerTimeout(opts.HandlerTimeout))
	}
	if opts.RecoverPanics {
		dopts = append(dopts, dispatch.WithPanicRecovery())
	}

	var j *journal.Journal
	if opts.Database != "" {
		if j, err = journal.Open(opts.Database); err != nil {
			return f.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		dopts = append(dopts, dispatch.WithJournal(j))
	}

	ctx := commandContext(cmd)

	d := dispatch.New(reg, storeCtx, dopts...)
	defer d.Close()
	logger.Info("session started", "session", d.ID(), "stores", len(reg.Stores()), "actions", len(actions))

	if restore != nil {
		if err := d.Restore(restore); err != nil {
			return f.Fail(ExitCommandError, ErrCodeBadInput, "failed to restore snapshot", err)
		}
	}
	if j != nil {
		err := j.WriteSession(ctx, ir.SessionRecord{ID: d.ID(), Context: d.Context(), EngineVersion: ir.EngineVersion})
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeJournal, "failed to journal session", err)
		}
	}

	result, err := dispatchScript(ctx, d, actions)
	if err != nil {
		return f.Fail(ExitCommandError, compiler.ErrCodeGeneric, "dispatch interrupted", err)
	}

	if opts.Out != "" {
		if err := writeSnapshot(opts.Out, result.Snapshot); err != nil {
			return f.Fail(ExitCommandError, ErrCodeWriteFailed, "failed to write snapshot", err)
		}
	}

	return outputRun(f, result)
}

// dispatchScript queues every action as one batch, so nested dispatches
// run after the whole script, then drains the session and snapshots it.
func dispatchScript(ctx context.Context, d *dispatch.Dispatcher, actions []ScriptAction) (*RunResult, error) {
	outcomes := make([]ActionOutcome, len(actions))
	batch := make([]dispatch.Queued, len(actions))
	for i, a := range actions {
		batch[i] = dispatch.Queued{Name: a.Action, Payload: a.Payload, Callback: func(res dispatch.Result, err error) {
			outcomes[i] = ActionOutcome{Seq: res.Seq, Action: a.Action, Stores: res.Stores}
			if err != nil {
				outcomes[i].Error = err.Error()
				outcomes[i].Code = string(dispatch.CodeOf(err))
			}
			if outcomes[i].Stores == nil {
				outcomes[i].Stores = []ir.StoreOutcome{}
			}
		}}
	}
	d.DispatchAll(batch)
	if err := d.Drain(ctx); err != nil {
		return nil, err
	}

	snap, err := d.Snapshot()
	if err != nil {
		return nil, err
	}
	digest, err := ir.SnapshotDigest(snap)
	if err != nil {
		return nil, err
	}

	result := &RunResult{SessionID: d.ID(), Actions: outcomes, Snapshot: snap, Digest: digest}
	for _, o := range outcomes {
		if o.Error != "" {
			result.Failed++
		}
	}
	return result, nil
}

func outputRun(f *OutputFormatter, result *RunResult) error {
	if f.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: result, SessionID: result.SessionID}
		if result.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeActionFailed, Message: fmt.Sprintf("%d action(s) failed", result.Failed)}
		}
		if err := f.Respond(resp); err != nil {
			return err
		}
	} else {
		w := f.Writer
		fmt.Fprintf(w, "Session: %s\n\n", result.SessionID)
		for _, o := range result.Actions {
			mark := "✓"
			if o.Error != "" {
				mark = "✗"
			}
			fmt.Fprintf(w, "%s [%d] %s %v\n", mark, o.Seq, o.Action, outcomeStores(o.Stores))
			if o.Error != "" {
				fmt.Fprintf(w, "    error: %s\n", o.Error)
			}
		}
		fmt.Fprintf(w, "\nSnapshot: %d store(s), digest %s\n", len(result.Snapshot.Stores), result.Digest)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d action(s) failed", result.Failed))
	}
	return nil
}

func outcomeStores(outcomes []ir.StoreOutcome) []string {
	names := make([]string, len(outcomes))
	for i, o := range outcomes {
		names[i] = o.Store
	}
	return names
}

// commandContext returns the command's context, or Background when the
// command was executed without one (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dispatchr/internal/ir"
	"github.com/roach88/dispatchr/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string // optional - trace one session only
	Action   string // optional - filter to specific action
}

// TraceEvent is one journaled action in a session timeline.
type TraceEvent struct {
	Seq     int64             `json:"seq"`
	ID      string            `json:"id"`
	Action  string            `json:"action"`
	Origin  string            `json:"origin,omitempty"`
	Payload any               `json:"payload,omitempty"`
	Stores  []ir.StoreOutcome `json:"stores"`
	Error   string            `json:"error,omitempty"`
}

// SessionTrace is the timeline of one session.
type SessionTrace struct {
	SessionID string          `json:"session_id"`
	Context   ir.StoreContext `json:"context"`
	Timeline  []TraceEvent    `json:"timeline"`
	Stats     TraceStats      `json:"stats"`
}

// TraceStats holds summary statistics for a session.
type TraceStats struct {
	Actions      int `json:"actions"`
	Failed       int `json:"failed"`
	StoreOutputs int `json:"store_outcomes"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Sessions []SessionTrace `json:"sessions"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show journaled actions",
		Long: `Show the actions journaled for one session, or for every session.

Each action is listed in sequence order with the stores that handled it,
in handler order, and any error.

Examples:
  dispatchr trace --db ./dispatchr.db
  dispatchr trace --db ./dispatchr.db --session 0190...
  dispatchr trace --db ./dispatchr.db --session 0190... --action NAVIGATE --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "trace one session only")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter to a specific action name")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)

	j, err := openExistingJournal(opts.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer j.Close()

	sessions, err := selectSessions(ctx, j, opts.Session)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeJournal, "failed to read sessions", err)
	}

	result := TraceResult{Sessions: make([]SessionTrace, 0, len(sessions))}
	for _, sess := range sessions {
		trace, err := buildSessionTrace(ctx, j, sess, opts.Action)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeJournal, fmt.Sprintf("failed to read session %s", sess.ID), err)
		}
		result.Sessions = append(result.Sessions, trace)
	}

	if f.IsJSON() {
		return f.Respond(CLIResponse{Status: "ok", Data: result, SessionID: opts.Session})
	}
	if len(result.Sessions) == 0 {
		fmt.Fprintln(f.Writer, "No sessions found in journal.")
		return nil
	}
	for i, s := range result.Sessions {
		if i > 0 {
			fmt.Fprintln(f.Writer)
		}
		writeSessionTrace(f.Writer, s, opts.Verbose)
	}
	return nil
}

// openExistingJournal opens a journal that must already exist; Open
// alone would create an empty database at a mistyped path.
func openExistingJournal(path string) (*journal.Journal, error) {
	if err := requireFile(path); err != nil {
		return nil, err
	}
	return journal.Open(path)
}

// selectSessions returns the one named session, or every session when
// id is empty.
func selectSessions(ctx context.Context, j *journal.Journal, id string) ([]ir.SessionRecord, error) {
	if id == "" {
		return j.ListSessions(ctx)
	}
	sess, err := j.ReadSession(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return []ir.SessionRecord{sess}, nil
}

func buildSessionTrace(ctx context.Context, j *journal.Journal, sess ir.SessionRecord, actionFilter string) (SessionTrace, error) {
	records, err := j.ReadActions(ctx, sess.ID)
	if err != nil {
		return SessionTrace{}, err
	}

	trace := SessionTrace{SessionID: sess.ID, Context: sess.Context, Timeline: []TraceEvent{}}
	for _, rec := range records {
		if actionFilter != "" && rec.Name != actionFilter {
			continue
		}
		payload, err := ir.DecodeJSON(rec.Payload)
		if err != nil {
			return SessionTrace{}, fmt.Errorf("action %s: %w", rec.ID, err)
		}
		trace.Timeline = append(trace.Timeline, TraceEvent{
			Seq:     rec.Seq,
			ID:      rec.ID,
			Action:  rec.Name,
			Origin:  rec.Origin,
			Payload: payload,
			Stores:  rec.Stores,
			Error:   rec.Error,
		})
		trace.Stats.Actions++
		trace.Stats.StoreOutputs += len(rec.Stores)
		if rec.Failed() {
			trace.Stats.Failed++
		}
	}
	return trace, nil
}

func writeSessionTrace(w io.Writer, s SessionTrace, verbose bool) {
	fmt.Fprintf(w, "Session: %s\n", s.SessionID)
	if len(s.Context) > 0 {
		fmt.Fprintf(w, "Context: %s\n", formatArgs(s.Context))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(s.Timeline) == 0 {
		fmt.Fprintln(w, "  (no actions)")
	}
	for _, e := range s.Timeline {
		mark := "✓"
		if e.Error != "" {
			mark = "✗"
		}
		from := ""
		if e.Origin != "" {
			from = " (from " + e.Origin + ")"
		}
		fmt.Fprintf(w, "  %s [%d] %s%s %v\n", mark, e.Seq, e.Action, from, outcomeStores(e.Stores))
		if verbose {
			if m, ok := e.Payload.(map[string]any); ok {
				fmt.Fprintf(w, "       Payload: %s\n", formatArgs(m))
			} else if e.Payload != nil {
				fmt.Fprintf(w, "       Payload: %s\n", formatValue(e.Payload))
			}
			fmt.Fprintf(w, "       ID: %s\n", truncateID(e.ID))
			for _, o := range e.Stores {
				if o.Error != "" {
					fmt.Fprintf(w, "       %s: %s\n", o.Store, o.Error)
				}
			}
		}
		if e.Error != "" {
			fmt.Fprintf(w, "       error: %s\n", e.Error)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Actions:        %d\n", s.Stats.Actions)
	fmt.Fprintf(w, "  Failed:         %d\n", s.Stats.Failed)
	fmt.Fprintf(w, "  Store outcomes: %d\n", s.Stats.StoreOutputs)
}

// formatArgs formats a map for display with sorted keys.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, nested values included.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case ir.StoreContext:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/dispatchr/internal/compiler"
	"github.com/roach88/dispatchr/internal/dispatch"
	"github.com/roach88/dispatchr/internal/ir"
	"github.com/roach88/dispatchr/internal/journal"
	"github.com/roach88/dispatchr/internal/scripted"
	"github.com/roach88/dispatchr/internal/testutil"
)

// Option configures a harness run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger routes dispatcher logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Harness holds the state of one scenario run.
type Harness struct {
	scenario *Scenario
	registry *dispatch.Registry
	journal  *journal.Journal
	d        *dispatch.Dispatcher
	logger   *slog.Logger

	mu       sync.Mutex
	outcomes []stepOutcome
	result   *Result
}

type stepOutcome struct {
	done bool
	err  error
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory journal for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Load, validate and register the CUE store specs
// 2. Start a dispatcher with a deterministic clock and fixed session ID
// 3. Apply the restore snapshot, if any
// 4. Dispatch each step, waiting for its callback unless no_wait is set
// 5. Drain, read the trace back from the journal, take a snapshot
// 6. Check step expectations and assertions
//
// An error is returned only when the scenario cannot run at all; step
// and assertion failures are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg, err := loadRegistry(scenario)
	if err != nil {
		return nil, err
	}

	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	h := &Harness{
		scenario: scenario,
		registry: reg,
		journal:  j,
		logger:   cfg.logger,
		outcomes: make([]stepOutcome, len(scenario.Steps)),
		result:   NewResult(),
	}
	return h.run(ctx)
}

// loadRegistry compiles the scenario's specs into a fresh registry.
func loadRegistry(scenario *Scenario) (*dispatch.Registry, error) {
	loaded, errs := compiler.LoadDir(scenario.Specs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load specs: %w", errors.Join(errs...))
	}

	if !scenario.SkipValidation {
		if verrs := compiler.Validate(loaded.Stores); len(verrs) > 0 {
			joined := make([]error, len(verrs))
			for i, v := range verrs {
				joined[i] = v
			}
			return nil, fmt.Errorf("invalid specs: %w", errors.Join(joined...))
		}
	}

	reg := dispatch.NewRegistry()
	if err := scripted.Register(reg, loaded.Stores); err != nil {
		return nil, err
	}
	return reg, nil
}

func (h *Harness) run(ctx context.Context) (*Result, error) {
	sc := ir.StoreContext(jsonValue(h.scenario.Context).(map[string]any))

	session := testutil.NewFixedSessionGenerator(h.scenario.Session)
	opts := []dispatch.Option{
		dispatch.WithClock(testutil.NewDeterministicClock()),
		dispatch.WithSessionIDGenerator(session),
		dispatch.WithJournal(h.journal),
		dispatch.WithLogger(h.logger),
	}
	if ms := h.scenario.Options.HandlerTimeoutMS; ms > 0 {
		opts = append(opts, dispatch.WithHandlerTimeout(time.Duration(ms)*time.Millisecond))
	}
	if h.scenario.Options.RecoverPanics {
		opts = append(opts, dispatch.WithPanicRecovery())
	}

	h.d = dispatch.New(h.registry, sc, opts...)
	defer h.d.Close()
	h.result.SessionID = h.d.ID()

	if err := h.journal.WriteSession(ctx, ir.SessionRecord{
		ID:            h.d.ID(),
		Context:       sc,
		EngineVersion: ir.EngineVersion,
	}); err != nil {
		return nil, fmt.Errorf("failed to journal session: %w", err)
	}

	if h.scenario.Restore != nil {
		snap, err := h.scenario.Restore.snapshot()
		if err != nil {
			return nil, fmt.Errorf("failed to build restore snapshot: %w", err)
		}
		if err := h.d.Restore(snap); err != nil {
			return nil, fmt.Errorf("failed to restore snapshot: %w", err)
		}
	}

	if err := h.executeSteps(ctx); err != nil {
		return nil, err
	}
	if err := h.d.Drain(ctx); err != nil {
		return nil, fmt.Errorf("failed to drain dispatcher: %w", err)
	}

	records, err := h.journal.ReadActions(ctx, h.d.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	for _, rec := range records {
		if err := h.result.AddTrace(rec); err != nil {
			return nil, fmt.Errorf("failed to decode trace: %w", err)
		}
	}

	snap, err := h.d.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot session: %w", err)
	}
	h.result.Snapshot = snap

	h.checkSteps()

	actx := &AssertionContext{
		Ctx:        ctx,
		Dispatcher: h.d,
		Registry:   h.registry,
	}
	for _, msg := range EvaluateAssertions(h.result, h.scenario.Assertions, actx) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

// executeSteps dispatches every step in order. A step without no_wait
// blocks until its callback fired.
func (h *Harness) executeSteps(ctx context.Context) error {
	for i, step := range h.scenario.Steps {
		fired := make(chan struct{})
		h.d.Dispatch(step.Dispatch, jsonValue(step.Payload), func(res dispatch.Result, err error) {
			h.complete(i, step, res, err)
			close(fired)
		})

		h.logger.Debug("step dispatched", "step", i, "action", step.Dispatch, "no_wait", step.NoWait)
		if step.NoWait {
			continue
		}
		select {
		case <-fired:
		case <-ctx.Done():
			return fmt.Errorf("step %d (%s): %w", i, step.Dispatch, ctx.Err())
		}
	}
	return nil
}

// complete records a callback. Runs on the dispatcher's loop.
func (h *Harness) complete(i int, step Step, res dispatch.Result, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outcomes[i] = stepOutcome{done: true, err: err}
	c := Completion{Step: i, Action: step.Dispatch, Seq: res.Seq}
	if err != nil {
		c.Error = err.Error()
		c.Code = string(dispatch.CodeOf(err))
	}
	h.result.Completions = append(h.result.Completions, c)
}

// checkSteps compares every step outcome with its expectation.
func (h *Harness) checkSteps() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, step := range h.scenario.Steps {
		out := h.outcomes[i]
		label := fmt.Sprintf("steps[%d] %s", i, step.Dispatch)

		switch {
		case !out.done:
			h.result.AddError(label + ": callback never fired")
		case out.err == nil && step.expectsFailure():
			h.result.AddError(label + ": expected failure, action succeeded")
		case out.err != nil && !step.expectsFailure():
			h.result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, out.err))
		case out.err != nil:
			if step.ExpectError != "" && !strings.Contains(out.err.Error(), step.ExpectError) {
				h.result.AddError(fmt.Sprintf("%s: error %q does not contain %q", label, out.err, step.ExpectError))
			}
			if step.ExpectCode != "" && string(dispatch.CodeOf(out.err)) != step.ExpectCode {
				h.result.AddError(fmt.Sprintf("%s: error code %q, expected %q", label, dispatch.CodeOf(out.err), step.ExpectCode))
			}
		}
	}
}

// snapshot converts the inline YAML snapshot to an ir.Snapshot.
func (s *SnapshotSpec) snapshot() (*ir.Snapshot, error) {
	snap := &ir.Snapshot{
		Context: ir.StoreContext(jsonValue(s.Context).(map[string]any)),
		Stores:  make(map[string]json.RawMessage, len(s.Stores)),
	}
	for name, state := range s.Stores {
		raw, err := json.Marshal(jsonValue(state))
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		snap.Stores[name] = raw
	}
	return snap, nil
}

// jsonValue reshapes a YAML-decoded value into what encoding/json would
// have produced for the same document. A nil map becomes an empty one so
// contexts are always objects.
func jsonValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if val == nil {
			return map[string]any{}
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = jsonValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = jsonValue(elem)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return val
	}
}

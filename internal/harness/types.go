package harness

import (
	"github.com/roach88/dispatchr/internal/ir"
)

// TraceEvent is one journaled action, as read back after the run.
type TraceEvent struct {
	Seq     int64             `json:"seq"`
	Action  string            `json:"action"`
	Origin  string            `json:"origin,omitempty"`
	Payload any               `json:"payload,omitempty"`
	Stores  []ir.StoreOutcome `json:"stores"`
	Error   string            `json:"error,omitempty"`
}

// Completion is one dispatch callback, in the order callbacks fired.
type Completion struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	Seq    int64  `json:"seq"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// SessionID is the dispatcher session the trace belongs to.
	SessionID string `json:"session_id"`

	// Trace contains every journaled action in seq order.
	Trace []TraceEvent `json:"trace"`

	// Completions lists callbacks in the order they fired.
	Completions []Completion `json:"completions"`

	// Errors contains step and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the session snapshot taken after the last action.
	Snapshot *ir.Snapshot `json:"snapshot,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Trace:       []TraceEvent{},
		Completions: []Completion{},
		Errors:      []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a journaled action to the trace.
func (r *Result) AddTrace(rec ir.ActionRecord) error {
	payload, err := ir.DecodeJSON(rec.Payload)
	if err != nil {
		return err
	}
	stores := rec.Stores
	if stores == nil {
		stores = []ir.StoreOutcome{}
	}
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     rec.Seq,
		Action:  rec.Name,
		Origin:  rec.Origin,
		Payload: payload,
		Stores:  stores,
		Error:   rec.Error,
	})
	return nil
}

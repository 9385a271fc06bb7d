package dispatch

import (
	"encoding/json"
	"time"

	"github.com/roach88/dispatchr/internal/ir"
)

// ActionCallback receives the outcome of a dispatched action. It is always
// invoked on a later tick, never from inside Dispatch.
type ActionCallback func(Result, error)

// Result describes a completed action.
type Result struct {
	ActionID string
	Action   string
	Seq      int64
	Stores   []ir.StoreOutcome // In handler invocation order
}

// Action is one in-flight dispatch of a named event to its stores.
//
// All fields are owned by the session loop.
type Action struct {
	id      string
	name    string
	payload any
	raw     json.RawMessage // canonical payload for the journal
	seq     int64
	cb      ActionCallback
	origin  string

	tokens  map[string]*token
	order   []string
	pending int
	err     error
	started bool
}

// Name returns the action name.
func (a *Action) Name() string { return a.name }

// Payload returns the payload the action was dispatched with.
func (a *Action) Payload() any { return a.payload }

// Origin returns the store whose handler dispatched the action, or ""
// when it came from outside the session.
func (a *Action) Origin() string { return a.origin }

// Seq returns the action's logical sequence number.
func (a *Action) Seq() int64 { return a.seq }

// token is one store's completion state for an action.
type token struct {
	store   string
	settled bool
	err     error
	waiters []func()
	waits   []*waitReg // WaitFor registrations made by this store
	timer   *time.Timer
}

// waitReg is one pending WaitFor call.
type waitReg struct {
	targets []*token
	fired   bool
	fn      func(error)
}

func (a *Action) result() Result {
	r := Result{
		ActionID: a.id,
		Action:   a.name,
		Seq:      a.seq,
		Stores:   make([]ir.StoreOutcome, 0, len(a.order)),
	}
	for _, name := range a.order {
		out := ir.StoreOutcome{Store: name}
		if t := a.tokens[name]; t != nil && t.err != nil {
			out.Error = t.err.Error()
		}
		r.Stores = append(r.Stores, out)
	}
	return r
}

func (a *Action) record(sessionID string) ir.ActionRecord {
	rec := ir.ActionRecord{
		ID:            a.id,
		SessionID:     sessionID,
		Seq:           a.seq,
		Name:          a.name,
		Origin:        a.origin,
		Payload:       a.raw,
		Stores:        a.result().Stores,
		EngineVersion: ir.EngineVersion,
	}
	if a.err != nil {
		rec.Error = a.err.Error()
	}
	return rec
}

// edges returns the unsettled tokens t is currently waiting on.
func (t *token) edges() []*token {
	var out []*token
	for _, w := range t.waits {
		if w.fired {
			continue
		}
		for _, target := range w.targets {
			if !target.settled {
				out = append(out, target)
			}
		}
	}
	return out
}

// reaches reports whether waiting on targets would end up waiting on
// from itself, following the wait edges of unsettled tokens.
func reaches(targets []*token, from *token) bool {
	seen := make(map[*token]bool)
	stack := append([]*token(nil), targets...)
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t.settled || seen[t] {
			continue
		}
		if t == from {
			return true
		}
		seen[t] = true
		stack = append(stack, t.edges()...)
	}
	return false
}

package dispatch

import (
	"context"
	"encoding/json"

	"github.com/roach88/dispatchr/internal/ir"
)

// A store is any value a Factory returns. The dispatcher discovers what a
// store can do through the optional capability interfaces below.

// StateGetter exposes a store's current state for readers.
type StateGetter interface {
	GetState() any
}

// Dehydrator serializes a store for Snapshot. Stores that implement
// neither Dehydrator nor json.Marshaler are left out of snapshots.
type Dehydrator interface {
	Dehydrate() (any, error)
}

// Rehydrator lets an already constructed store take serialized state
// when a snapshot is restored into a session that cached it earlier.
type Rehydrator interface {
	Rehydrate(state json.RawMessage) error
}

// DispatcherSetter receives the session view right after construction.
type DispatcherSetter interface {
	SetDispatcher(s Session)
}

// Initializer runs once after construction and SetDispatcher.
type Initializer interface {
	Initialize() error
}

// Session is what stores see of the dispatcher that owns them.
type Session interface {
	// ID returns the session identifier.
	ID() string

	// Context returns the session's store context.
	Context() ir.StoreContext

	// GetStore returns the session's instance of a store, creating it on
	// first use.
	GetStore(ref StoreRef) (any, error)

	// WaitFor calls fn once every listed store has settled its handler for
	// the current action. Stores not participating in the action are
	// skipped. fn receives the first failure, if any.
	WaitFor(refs []StoreRef, fn func(error)) error

	// Dispatch queues a new action. It starts only after the current one
	// has completed.
	Dispatch(name string, payload any, cb ActionCallback)

	// CurrentAction returns the name of the action being processed.
	CurrentAction() (string, bool)
}

// Journal receives one record per completed action.
// Implemented by journal.Journal.
type Journal interface {
	RecordAction(ctx context.Context, rec ir.ActionRecord) error
}

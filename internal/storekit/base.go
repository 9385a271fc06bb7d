package storekit

import (
	"github.com/roach88/dispatchr/internal/dispatch"
	"github.com/roach88/dispatchr/internal/ir"
)

// Base is meant to be embedded in store types. It records the session the
// store belongs to (through dispatch.DispatcherSetter) and the context it
// was constructed with, and carries an Emitter.
//
//	type CartStore struct {
//		storekit.Base
//		items []string
//	}
//
//	func NewCartStore(sc ir.StoreContext, initial json.RawMessage) (any, error) {
//		s := &CartStore{}
//		s.Init(sc)
//		...
//	}
type Base struct {
	Emitter

	ctx     ir.StoreContext
	session dispatch.Session
}

// Init records the store context. Call it from the store's factory.
func (b *Base) Init(sc ir.StoreContext) {
	b.ctx = sc
}

// SetDispatcher implements dispatch.DispatcherSetter.
func (b *Base) SetDispatcher(s dispatch.Session) {
	b.session = s
}

// Dispatcher returns the session the store belongs to, or nil before the
// dispatcher has attached it.
func (b *Base) Dispatcher() dispatch.Session {
	return b.session
}

// Context returns the context the store was constructed with.
func (b *Base) Context() ir.StoreContext {
	return b.ctx
}

var _ dispatch.DispatcherSetter = (*Base)(nil)

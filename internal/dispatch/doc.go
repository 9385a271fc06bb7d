// Package dispatch is the action dispatch engine.
//
// A Registry is the process-wide catalog of stores: each Descriptor names a
// store, says how to construct it, and maps action names to handlers.
// A Dispatcher is one session: it lazily creates one instance of each
// store for its context and feeds it the actions dispatched to it.
//
// Actions are processed one at a time in FIFO order. Within an action,
// every participating store gets a completion token before any handler
// runs; handlers settle their token through Done (or a returned channel)
// and may wait on sibling stores' tokens with WaitFor. The action completes
// when every token has settled, and its first failure becomes the error
// delivered to the dispatch callback.
//
// Sessions serialize to an ir.Snapshot and can be rebuilt from one.
package dispatch

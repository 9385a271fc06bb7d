// Package scripted builds stores from compiled ir.StoreSpec definitions.
//
// A scripted store keeps a JSON-shaped state map. Each of its handlers is
// a fixed sequence of steps described by an ir.HandlerSpec: merge values
// into state, queue a nested action, wait on other stores, check their
// state, delay, merge more values, and finally succeed or fail. This lets
// the CLI and the scenario harness exercise the dispatcher end to end
// without Go code per store.
package scripted

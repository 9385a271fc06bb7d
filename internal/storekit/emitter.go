package storekit

import (
	"sync"
)

// Listener is called after a store emits a change.
type Listener func()

// Emitter fans change notifications out to registered listeners.
// The zero value is ready to use.
//
// Thread-safety: safe for concurrent use. Listeners run synchronously on
// the emitting goroutine, in registration order.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listenerEntry
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// AddChangeListener registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (e *Emitter) AddChangeListener(fn Listener) (remove func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// EmitChange notifies every listener registered at the time of the call.
func (e *Emitter) EmitChange() {
	e.mu.Lock()
	snapshot := make([]Listener, len(e.listeners))
	for i, l := range e.listeners {
		snapshot[i] = l.fn
	}
	e.mu.Unlock()

	for _, fn := range snapshot {
		fn()
	}
}

// ListenerCount returns the number of registered listeners.
func (e *Emitter) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

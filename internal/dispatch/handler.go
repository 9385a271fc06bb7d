package dispatch

import (
	"fmt"
	"reflect"
)

// Done settles a store's completion token for the current action.
// Passing nil marks success. Calls after the first are ignored.
type Done func(error)

// HandlerRef is a store handler as declared in a Descriptor. It is bound
// to a concrete store instance when an action resolves its handlers.
//
// Use Method to name a method on the store, or Callback, Awaitable and
// Sync to supply a function in one of the supported calling conventions.
type HandlerRef interface {
	bind(store any) (boundHandler, error)
	String() string
}

// boundHandler is the single calling convention the dispatcher uses
// internally: every style is adapted to report through done.
type boundHandler func(payload any, done Done)

// Method refers to a store method by name. The method must have one of
// these signatures:
//
//	func(payload any, done dispatch.Done)
//	func(payload any, done func(error))
//	func(payload any) <-chan error
//	func(payload any) error
//	func(payload any)
func Method(name string) HandlerRef {
	return methodRef(name)
}

type methodRef string

func (m methodRef) String() string { return string(m) }

func (m methodRef) bind(store any) (boundHandler, error) {
	v := reflect.ValueOf(store)
	if !v.IsValid() {
		return nil, fmt.Errorf("store instance is nil")
	}
	method := v.MethodByName(string(m))
	if !method.IsValid() {
		return nil, fmt.Errorf("%T has no method %s", store, string(m))
	}

	switch fn := method.Interface().(type) {
	case func(any, Done):
		return boundHandler(fn), nil
	case func(any, func(error)):
		return func(p any, done Done) { fn(p, done) }, nil
	case func(any) <-chan error:
		return awaitChannel(fn), nil
	case func(any) error:
		return func(p any, done Done) { done(fn(p)) }, nil
	case func(any):
		return func(p any, done Done) { fn(p); done(nil) }, nil
	default:
		return nil, fmt.Errorf("method %s has unsupported signature %s", string(m), method.Type())
	}
}

// Callback adapts a callback-style handler. The handler settles by
// calling done exactly once, now or later.
func Callback[S any](fn func(store S, payload any, done Done)) HandlerRef {
	return funcRef[S]{kind: "callback", fn: func(s S) boundHandler {
		return func(p any, done Done) { fn(s, p, done) }
	}}
}

// Awaitable adapts a handler that returns a completion channel. The
// handler settles when the channel yields a value or is closed. A nil
// channel counts as already resolved.
func Awaitable[S any](fn func(store S, payload any) <-chan error) HandlerRef {
	return funcRef[S]{kind: "awaitable", fn: func(s S) boundHandler {
		return awaitChannel(func(p any) <-chan error { return fn(s, p) })
	}}
}

// Sync adapts a handler that finishes before returning.
func Sync[S any](fn func(store S, payload any) error) HandlerRef {
	return funcRef[S]{kind: "sync", fn: func(s S) boundHandler {
		return func(p any, done Done) { done(fn(s, p)) }
	}}
}

type funcRef[S any] struct {
	kind string
	fn   func(S) boundHandler
}

func (f funcRef[S]) String() string {
	var zero S
	return fmt.Sprintf("%s(%T)", f.kind, zero)
}

func (f funcRef[S]) bind(store any) (boundHandler, error) {
	s, ok := store.(S)
	if !ok {
		var zero S
		return nil, fmt.Errorf("store instance %T is not %T", store, zero)
	}
	return f.fn(s), nil
}

func awaitChannel(fn func(any) <-chan error) boundHandler {
	return func(p any, done Done) {
		ch := fn(p)
		if ch == nil {
			done(nil)
			return
		}
		go func() {
			err, ok := <-ch
			if !ok {
				err = nil
			}
			done(err)
		}()
	}
}

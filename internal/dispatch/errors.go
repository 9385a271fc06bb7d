package dispatch

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes dispatcher errors.
type ErrorCode string

const (
	// CodeDuplicateStore indicates a different store already owns the name.
	CodeDuplicateStore ErrorCode = "DUPLICATE_STORE"

	// CodeInvalidStore indicates a descriptor without a name or factory.
	CodeInvalidStore ErrorCode = "INVALID_STORE"

	// CodeUnregisteredStore indicates a lookup for a name nobody registered.
	CodeUnregisteredStore ErrorCode = "UNREGISTERED_STORE"

	// CodeMissingHandlerMethod indicates a named handler is not callable on
	// the store instance.
	CodeMissingHandlerMethod ErrorCode = "MISSING_HANDLER_METHOD"

	// CodeNoActiveAction indicates WaitFor was called outside of an action.
	CodeNoActiveAction ErrorCode = "NO_ACTIVE_ACTION"

	// CodeWaitCycle indicates stores waiting on each other within one action.
	CodeWaitCycle ErrorCode = "WAIT_CYCLE"

	// CodeHandlerTimeout indicates a handler did not settle in time.
	CodeHandlerTimeout ErrorCode = "HANDLER_TIMEOUT"

	// CodeHandlerPanic indicates a recovered handler panic.
	CodeHandlerPanic ErrorCode = "HANDLER_PANIC"

	// CodeClosed indicates the dispatcher no longer accepts work.
	CodeClosed ErrorCode = "DISPATCHER_CLOSED"
)

// Error is the structured error returned by registry and dispatcher
// operations. Two Errors match under errors.Is when their codes match,
// so callers can test against the exported sentinels:
//
//	if errors.Is(err, dispatch.ErrUnregisteredStore) { ... }
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Store is the store involved, if any.
	Store string

	// Action is the action involved, if any.
	Action string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Store != "" && e.Action != "":
		return fmt.Sprintf("%s: %s (store=%s, action=%s)", e.Code, e.Message, e.Store, e.Action)
	case e.Store != "":
		return fmt.Sprintf("%s: %s (store=%s)", e.Code, e.Message, e.Store)
	case e.Action != "":
		return fmt.Sprintf("%s: %s (action=%s)", e.Code, e.Message, e.Action)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is matching.
var (
	ErrDuplicateStore       = &Error{Code: CodeDuplicateStore, Message: "store already registered"}
	ErrInvalidStore         = &Error{Code: CodeInvalidStore, Message: "invalid store"}
	ErrUnregisteredStore    = &Error{Code: CodeUnregisteredStore, Message: "store not registered"}
	ErrMissingHandlerMethod = &Error{Code: CodeMissingHandlerMethod, Message: "handler method missing"}
	ErrNoActiveAction       = &Error{Code: CodeNoActiveAction, Message: "no action is being dispatched"}
	ErrWaitCycle            = &Error{Code: CodeWaitCycle, Message: "stores wait on each other"}
	ErrHandlerTimeout       = &Error{Code: CodeHandlerTimeout, Message: "handler did not settle in time"}
	ErrHandlerPanic         = &Error{Code: CodeHandlerPanic, Message: "handler panicked"}
	ErrClosed               = &Error{Code: CodeClosed, Message: "dispatcher is closed"}
)

// HandlerError wraps an error a store handler delivered through its
// completion channel.
type HandlerError struct {
	Store  string
	Action string
	Err    error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("store %s failed handling %s: %v", e.Store, e.Action, e.Err)
}

// Unwrap returns the handler's own error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsHandlerError returns true if err carries a store handler failure.
// Uses errors.As to handle wrapped errors.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, store, action, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Store:   store,
		Action:  action,
	}
}

package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/dispatchr/internal/ir"
)

// Validation error codes (E200-E219)
const (
	ErrStoreNameInvalid  = "E201" // store name empty or not an identifier
	ErrDuplicateStore    = "E202" // two stores share a name
	ErrInvalidStyle      = "E203" // unknown handler style
	ErrUnknownWaitTarget = "E204" // wait_for names an undefined store
	ErrSelfWait          = "E205" // handler waits on its own store
	ErrSyncCannotWait    = "E206" // sync handler with wait_for or delay_ms
	ErrNegativeDelay     = "E207" // delay_ms below zero
	ErrEmptyDispatch     = "E208" // dispatch without an action name
	ErrInvalidExpect     = "E209" // expect key malformed or names an undefined store
	ErrEmptyAction       = "E210" // handler without an action name
	ErrWaitCycle         = "E211" // stores wait on each other for one action
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var storeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a set of store specs as a whole.
// Returns all errors found (does not fail-fast), wait cycles included.
func Validate(specs []ir.StoreSpec) []ValidationError {
	var errs []ValidationError

	known := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if !storeNamePattern.MatchString(spec.Name) {
			errs = append(errs, ValidationError{
				Field:   "store",
				Message: fmt.Sprintf("invalid store name %q", spec.Name),
				Code:    ErrStoreNameInvalid,
			})
			continue
		}
		if known[spec.Name] {
			errs = append(errs, ValidationError{
				Field:   "store." + spec.Name,
				Message: "store defined more than once",
				Code:    ErrDuplicateStore,
			})
		}
		known[spec.Name] = true
	}

	for _, spec := range specs {
		for _, h := range spec.Handlers {
			errs = append(errs, validateHandler(spec.Name, h, known)...)
		}
	}

	for _, c := range DetectWaitCycles(specs) {
		errs = append(errs, ValidationError{
			Field:   "on." + c.Action,
			Message: c.Message,
			Code:    ErrWaitCycle,
		})
	}

	return errs
}

func validateHandler(store string, h ir.HandlerSpec, known map[string]bool) []ValidationError {
	var errs []ValidationError
	field := fmt.Sprintf("store.%s.on.%s", store, h.Action)
	add := func(code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if h.Action == "" {
		add(ErrEmptyAction, "handler has no action name")
	}
	if h.Style != "" && !ir.ValidStyles[h.Style] {
		add(ErrInvalidStyle, "style %q must be callback, awaitable or sync", h.Style)
	}
	for _, target := range h.WaitFor {
		switch {
		case target == store:
			add(ErrSelfWait, "store waits on itself")
		case !known[target]:
			add(ErrUnknownWaitTarget, "wait_for names undefined store %q", target)
		}
	}
	if h.Style == ir.StyleSync && (len(h.WaitFor) > 0 || h.DelayMS > 0) {
		add(ErrSyncCannotWait, "sync handlers cannot use wait_for or delay_ms")
	}
	if h.DelayMS < 0 {
		add(ErrNegativeDelay, "delay_ms must not be negative, got %d", h.DelayMS)
	}
	if h.Dispatch != nil && h.Dispatch.Action == "" {
		add(ErrEmptyDispatch, "dispatch needs an action name")
	}
	for key := range h.Expect {
		target, fieldName, ok := strings.Cut(key, ".")
		if !ok || target == "" || fieldName == "" {
			add(ErrInvalidExpect, "expect key %q must be Store.field", key)
			continue
		}
		if !known[target] {
			add(ErrInvalidExpect, "expect names undefined store %q", target)
		}
	}

	return errs
}

package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/dispatchr/internal/ir"
)

// CompileStore parses a CUE value into a StoreSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the store struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`store: Cart: { serialize: true, on: ADD: { ... } }`)
//	spec, err := CompileStore(v.LookupPath(cue.ParsePath("store.Cart")))
//
// Recognized fields: serialize (bool), state (struct of initial values)
// and on (struct mapping action names to handler steps). The action name
// "default" declares the store's wildcard handler.
func CompileStore(v cue.Value) (*ir.StoreSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.StoreSpec{}

	// Store name comes from the struct label
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	serializeVal := v.LookupPath(cue.ParsePath("serialize"))
	if serializeVal.Exists() {
		b, err := serializeVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Serialize = b
	}

	stateVal := v.LookupPath(cue.ParsePath("state"))
	if stateVal.Exists() {
		state := map[string]any{}
		if err := decodeConcrete(stateVal, &state); err != nil {
			return nil, &CompileError{Field: "state", Message: err.Error(), Pos: stateVal.Pos()}
		}
		spec.State = state
	}

	handlers, err := parseHandlers(v)
	if err != nil {
		return nil, err
	}
	spec.Handlers = handlers

	return spec, nil
}

// CompileStores compiles every store under the top-level "store" field,
// sorted by name.
func CompileStores(v cue.Value) ([]ir.StoreSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	storesVal := v.LookupPath(cue.ParsePath("store"))
	if !storesVal.Exists() {
		return nil, nil
	}

	iter, err := storesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []ir.StoreSpec
	for iter.Next() {
		spec, err := CompileStore(iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}

	slices.SortFunc(specs, func(a, b ir.StoreSpec) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return specs, nil
}

// parseHandlers extracts the "on" block, sorted by action name.
func parseHandlers(v cue.Value) ([]ir.HandlerSpec, error) {
	onVal := v.LookupPath(cue.ParsePath("on"))
	if !onVal.Exists() {
		return nil, nil // a store may only react to nothing and hold state
	}

	iter, err := onVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var handlers []ir.HandlerSpec
	for iter.Next() {
		action := iter.Label()
		h, err := parseHandler(action, iter.Value())
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}

	slices.SortFunc(handlers, func(a, b ir.HandlerSpec) int {
		switch {
		case a.Action < b.Action:
			return -1
		case a.Action > b.Action:
			return 1
		}
		return 0
	})
	return handlers, nil
}

// parseHandler decodes one handler block. Unknown fields are rejected so
// that typos like "waitfor" do not silently do nothing.
func parseHandler(action string, v cue.Value) (ir.HandlerSpec, error) {
	field := "on." + action

	var h ir.HandlerSpec
	if err := decodeConcrete(v, &h); err != nil {
		return h, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	if h.Action != "" && h.Action != action {
		return h, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("action field %q does not match label %q", h.Action, action),
			Pos:     v.Pos(),
		}
	}
	h.Action = action
	if h.Style == "" {
		h.Style = ir.StyleCallback
	}
	return h, nil
}

// decodeConcrete exports a concrete CUE value as JSON and decodes it
// strictly into out.
func decodeConcrete(v cue.Value, out any) error {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return formatCUEError(err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// CompileError is a compile failure with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

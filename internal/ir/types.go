package ir

import "encoding/json"

// StoreContext is the opaque per-session context handed to every store
// constructor. The dispatcher never interprets it.
type StoreContext map[string]any

// Snapshot is the serializable picture of one dispatcher session.
//
// Stores holds only stores that were instantiated and are serializable,
// keyed by store name. The value is whatever the store produced when
// dehydrated, already encoded as JSON.
type Snapshot struct {
	Context StoreContext               `json:"context"`
	Stores  map[string]json.RawMessage `json:"stores"`
}

// StoreNames returns the names present in the snapshot in sorted order.
func (s *Snapshot) StoreNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Stores))
	for name := range s.Stores {
		names = append(names, name)
	}
	sortStrings(names)
	return names
}

// ActionRecord is the journal entry for one processed action.
type ActionRecord struct {
	ID            string          `json:"id"`         // Content-addressed hash
	SessionID     string          `json:"session_id"` // Dispatcher session
	Seq           int64           `json:"seq"`        // Logical clock
	Name          string          `json:"name"`
	Origin        string          `json:"origin,omitempty"` // Dispatching store; empty for external dispatches
	Payload       json.RawMessage `json:"payload"`          // Canonical JSON
	Stores        []StoreOutcome  `json:"stores"`           // In handler resolution order
	Error         string          `json:"error,omitempty"`
	EngineVersion string          `json:"engine_version"`
}

// Failed reports whether the action completed with an error.
func (r ActionRecord) Failed() bool {
	return r.Error != ""
}

// StoreOutcome records how one store's handler settled for an action.
type StoreOutcome struct {
	Store string `json:"store"`
	Error string `json:"error,omitempty"`
}

// SessionRecord is the journal entry describing a dispatcher session.
type SessionRecord struct {
	ID            string       `json:"id"`
	Context       StoreContext `json:"context"`
	EngineVersion string       `json:"engine_version"`
}

// StoreSpec is a compiled declarative store definition.
type StoreSpec struct {
	Name      string         `json:"name"`
	Serialize bool           `json:"serialize"`
	State     map[string]any `json:"state,omitempty"`
	Handlers  []HandlerSpec  `json:"handlers"` // Sorted by action name
}

// Handler calling conventions for declarative stores.
const (
	StyleCallback  = "callback"
	StyleAwaitable = "awaitable"
	StyleSync      = "sync"
)

// ValidStyles defines allowed handler styles.
var ValidStyles = map[string]bool{
	StyleCallback:  true,
	StyleAwaitable: true,
	StyleSync:      true,
}

// HandlerSpec describes what a declarative store does when an action
// reaches it. Steps run in field order: Set, RecordAction, Dispatch,
// WaitFor, Expect, DelayMS, After, Fail.
type HandlerSpec struct {
	Action       string         `json:"action"`
	Style        string         `json:"style,omitempty"`
	Set          map[string]any `json:"set,omitempty"`
	RecordAction string         `json:"record_action,omitempty"` // State field receiving the action name
	Dispatch     *DispatchSpec  `json:"dispatch,omitempty"`
	WaitFor      []string       `json:"wait_for,omitempty"`
	Expect       map[string]any `json:"expect,omitempty"` // "Store.field" -> value
	DelayMS      int            `json:"delay_ms,omitempty"`
	After        map[string]any `json:"after,omitempty"`
	Fail         string         `json:"fail,omitempty"`
}

// DispatchSpec is a nested action queued from inside a handler.
type DispatchSpec struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

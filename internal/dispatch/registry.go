package dispatch

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/roach88/dispatchr/internal/ir"
)

// DefaultAction is the wildcard action name. A store handler registered
// under it receives every action the store has no explicit handler for.
const DefaultAction = "default"

// Factory constructs a store instance for one session.
//
// initial is nil for ordinary creation and holds the serialized state when
// the store is being restored from a snapshot. Both paths go through the
// same constructor.
type Factory func(sc ir.StoreContext, initial json.RawMessage) (any, error)

// StoreRef identifies a store either by name or by its descriptor.
type StoreRef interface {
	StoreName() string
}

// Name is a StoreRef naming a store by its registered name.
type Name string

// StoreName implements StoreRef.
func (n Name) StoreName() string { return string(n) }

// Names converts store names into refs for WaitFor.
func Names(names ...string) []StoreRef {
	refs := make([]StoreRef, len(names))
	for i, n := range names {
		refs[i] = Name(n)
	}
	return refs
}

// Descriptor declares a store: its canonical name, how to build an
// instance, and which action it handles with which handler.
type Descriptor struct {
	Name     string
	New      Factory
	Handlers map[string]HandlerRef
}

// StoreName implements StoreRef.
func (d *Descriptor) StoreName() string {
	if d == nil {
		return ""
	}
	return d.Name
}

// handlerEntry is one (action, store, handler) registration.
type handlerEntry struct {
	action string
	store  string
	ref    HandlerRef
}

// Registry is the process-wide catalog of store descriptors.
//
// Build one at startup, register every store, then hand it to each
// Dispatcher. Per-action handler lists keep registration order.
//
// Thread-safety: safe for concurrent use. Registration is expected to
// finish before sessions start dispatching.
type Registry struct {
	mu       sync.RWMutex
	stores   map[string]*Descriptor
	order    []string
	handlers map[string][]handlerEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stores:   make(map[string]*Descriptor),
		handlers: make(map[string][]handlerEntry),
	}
}

// Register adds a store descriptor.
//
// Re-registering the identical descriptor is a no-op. A different
// descriptor under an existing name fails with a DUPLICATE_STORE error.
// A descriptor without a name or factory fails with INVALID_STORE.
func (r *Registry) Register(d *Descriptor) (*Descriptor, error) {
	if d == nil {
		return nil, newError(CodeInvalidStore, "", "", "descriptor is nil")
	}
	if d.Name == "" {
		return nil, newError(CodeInvalidStore, "", "", "store descriptor has no name")
	}
	if d.New == nil {
		return nil, newError(CodeInvalidStore, d.Name, "", "store descriptor has no factory")
	}
	for action, ref := range d.Handlers {
		if action == "" || ref == nil {
			return nil, newError(CodeInvalidStore, d.Name, action, "handler entry is empty")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.stores[d.Name]; ok {
		if existing == d {
			return d, nil
		}
		return nil, newError(CodeDuplicateStore, d.Name, "", "a different store is already registered under this name")
	}

	r.stores[d.Name] = d
	r.order = append(r.order, d.Name)

	actions := make([]string, 0, len(d.Handlers))
	for action := range d.Handlers {
		actions = append(actions, action)
	}
	slices.Sort(actions)
	for _, action := range actions {
		r.handlers[action] = append(r.handlers[action], handlerEntry{
			action: action,
			store:  d.Name,
			ref:    d.Handlers[action],
		})
	}

	return d, nil
}

// MustRegister is like Register but panics on error.
// Intended for package-level store setup.
func (r *Registry) MustRegister(d *Descriptor) *Descriptor {
	if _, err := r.Register(d); err != nil {
		panic(err)
	}
	return d
}

// IsRegistered reports whether ref names a registered store. A descriptor
// matches only if it is the very descriptor that was registered, not just
// one with the same name.
func (r *Registry) IsRegistered(ref StoreRef) bool {
	if ref == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.stores[ref.StoreName()]
	if !ok {
		return false
	}
	if d, isDesc := ref.(*Descriptor); isDesc {
		return d == existing
	}
	return true
}

// Descriptor returns the descriptor registered under name.
func (r *Registry) Descriptor(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.stores[name]
	return d, ok
}

// Stores returns registered store names in registration order.
func (r *Registry) Stores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Handlers returns the stores registered explicitly for action, in
// registration order.
func (r *Registry) Handlers(action string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.handlers[action]
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.store
	}
	return names
}

// Resolve returns the store names that will handle action, in invocation
// order: explicit handlers first, then default handlers for stores that
// have no explicit one. Each store appears at most once.
func (r *Registry) Resolve(action string) []string {
	entries := r.resolve(action)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.store
	}
	return names
}

func (r *Registry) resolve(action string) []handlerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	explicit := r.handlers[action]
	defaults := r.handlers[DefaultAction]

	seen := make(map[string]bool, len(explicit)+len(defaults))
	out := make([]handlerEntry, 0, len(explicit)+len(defaults))
	for _, e := range explicit {
		if seen[e.store] {
			continue
		}
		seen[e.store] = true
		out = append(out, e)
	}
	for _, e := range defaults {
		if seen[e.store] {
			continue
		}
		seen[e.store] = true
		out = append(out, e)
	}
	return out
}

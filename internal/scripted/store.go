package scripted

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/dispatchr/internal/dispatch"
	"github.com/roach88/dispatchr/internal/ir"
	"github.com/roach88/dispatchr/internal/storekit"
)

// PayloadPrefix marks a string value that is copied from the payload.
// "$payload" alone copies the whole payload; "$payload.a.b" copies a
// nested field.
const PayloadPrefix = "$payload"

// Store is a scripted store without snapshot support.
type Store struct {
	storekit.Base

	name string

	mu    sync.Mutex
	state map[string]any
}

// SerializableStore is a Store that takes part in snapshots.
type SerializableStore struct {
	*Store
}

// instance is satisfied by both store flavors so one set of handler refs
// serves either.
type instance interface {
	scripted() *Store
}

func (s *Store) scripted() *Store { return s }

// ChangeListener receives a store's name and a copy of its state after
// each change.
type ChangeListener func(store string, state any)

// RegisterOption configures the descriptors built by Descriptor and
// Register.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	onChange ChangeListener
}

// WithChangeListener subscribes fn to every store instance the
// descriptors construct.
func WithChangeListener(fn ChangeListener) RegisterOption {
	return func(c *registerConfig) {
		c.onChange = fn
	}
}

// Descriptor builds the dispatch descriptor for spec.
func Descriptor(spec ir.StoreSpec, opts ...RegisterOption) *dispatch.Descriptor {
	var cfg registerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	handlers := make(map[string]dispatch.HandlerRef, len(spec.Handlers))
	for _, h := range spec.Handlers {
		handlers[h.Action] = handlerRef(h)
	}

	return &dispatch.Descriptor{
		Name:     spec.Name,
		Handlers: handlers,
		New: func(sc ir.StoreContext, initial json.RawMessage) (any, error) {
			s, err := newStore(spec, sc, initial)
			if err != nil {
				return nil, err
			}
			if cfg.onChange != nil {
				s.AddChangeListener(func() { cfg.onChange(s.name, s.GetState()) })
			}
			if spec.Serialize {
				return &SerializableStore{Store: s}, nil
			}
			return s, nil
		},
	}
}

// Register builds and registers a descriptor for every spec, in order.
func Register(reg *dispatch.Registry, specs []ir.StoreSpec, opts ...RegisterOption) error {
	for _, spec := range specs {
		if _, err := reg.Register(Descriptor(spec, opts...)); err != nil {
			return fmt.Errorf("register store %s: %w", spec.Name, err)
		}
	}
	return nil
}

func newStore(spec ir.StoreSpec, sc ir.StoreContext, initial json.RawMessage) (*Store, error) {
	s := &Store{name: spec.Name, state: map[string]any{}}
	s.Init(sc)

	if initial != nil {
		if err := json.Unmarshal(initial, &s.state); err != nil {
			return nil, fmt.Errorf("store %s: decode initial state: %w", spec.Name, err)
		}
		if s.state == nil {
			s.state = map[string]any{}
		}
		return s, nil
	}

	for k, v := range spec.State {
		s.state[k] = jsonClone(v)
	}
	return s, nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// GetState returns a deep copy of the state.
func (s *Store) GetState() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsonClone(s.state)
}

// Get returns one state field.
func (s *Store) Get(field string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[field]
	return jsonClone(v), ok
}

func (s *Store) merge(values map[string]any, payload any) {
	if len(values) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.state[k] = jsonClone(resolvePayload(v, payload))
	}
}

func (s *Store) setField(field string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[field] = v
}

// Dehydrate implements dispatch.Dehydrator.
func (s *SerializableStore) Dehydrate() (any, error) {
	return s.GetState(), nil
}

// Rehydrate implements dispatch.Rehydrator.
func (s *SerializableStore) Rehydrate(raw json.RawMessage) error {
	state := map[string]any{}
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("store %s: rehydrate: %w", s.name, err)
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.EmitChange()
	return nil
}

func handlerRef(h ir.HandlerSpec) dispatch.HandlerRef {
	switch h.Style {
	case ir.StyleAwaitable:
		return dispatch.Awaitable(func(s instance, p any) <-chan error {
			ch := make(chan error, 1)
			s.scripted().run(h, p, func(err error) { ch <- err })
			return ch
		})
	case ir.StyleSync:
		return dispatch.Sync(func(s instance, p any) error {
			return s.scripted().runSync(h, p)
		})
	default:
		return dispatch.Callback(func(s instance, p any, done dispatch.Done) {
			s.scripted().run(h, p, done)
		})
	}
}

// run executes the handler steps, calling done exactly once.
func (s *Store) run(h ir.HandlerSpec, payload any, done func(error)) {
	session := s.Dispatcher()
	if session == nil {
		done(errors.New("store is not attached to a dispatcher"))
		return
	}

	s.begin(session, h, payload)

	proceed := func(err error) {
		if err != nil {
			done(err)
			return
		}
		if err := s.checkExpect(session, h.Expect); err != nil {
			done(err)
			return
		}
		finish := func() { done(s.end(h, payload)) }
		if h.DelayMS > 0 {
			time.AfterFunc(time.Duration(h.DelayMS)*time.Millisecond, finish)
			return
		}
		finish()
	}

	if len(h.WaitFor) > 0 {
		if err := session.WaitFor(dispatch.Names(h.WaitFor...), proceed); err != nil {
			done(err)
		}
		return
	}
	proceed(nil)
}

// runSync executes a handler that neither waits nor delays.
func (s *Store) runSync(h ir.HandlerSpec, payload any) error {
	session := s.Dispatcher()
	if session == nil {
		return errors.New("store is not attached to a dispatcher")
	}
	if len(h.WaitFor) > 0 || h.DelayMS > 0 {
		return fmt.Errorf("sync handler for %s cannot wait or delay", h.Action)
	}
	s.begin(session, h, payload)
	if err := s.checkExpect(session, h.Expect); err != nil {
		return err
	}
	return s.end(h, payload)
}

func (s *Store) begin(session dispatch.Session, h ir.HandlerSpec, payload any) {
	s.merge(h.Set, payload)
	if h.RecordAction != "" {
		name, _ := session.CurrentAction()
		s.setField(h.RecordAction, name)
	}
	if h.Dispatch != nil {
		var nested any
		if h.Dispatch.Payload != nil {
			nested = jsonClone(resolvePayload(h.Dispatch.Payload, payload))
		}
		session.Dispatch(h.Dispatch.Action, nested, nil)
	}
}

func (s *Store) end(h ir.HandlerSpec, payload any) error {
	s.merge(h.After, payload)
	s.EmitChange()
	if h.Fail != "" {
		return errors.New(h.Fail)
	}
	return nil
}

// checkExpect compares "Store.field" entries against other stores' state.
func (s *Store) checkExpect(session dispatch.Session, expect map[string]any) error {
	for _, key := range ir.SortedKeys(expect) {
		storeName, field, ok := strings.Cut(key, ".")
		if !ok {
			return fmt.Errorf("expect key %q is not Store.field", key)
		}
		inst, err := session.GetStore(dispatch.Name(storeName))
		if err != nil {
			return fmt.Errorf("expect %s: %w", key, err)
		}
		getter, ok := inst.(dispatch.StateGetter)
		if !ok {
			return fmt.Errorf("expect %s: store does not expose state", key)
		}
		state, _ := getter.GetState().(map[string]any)

		want, err := ir.MarshalCanonical(expect[key])
		if err != nil {
			return fmt.Errorf("expect %s: %w", key, err)
		}
		got, err := ir.MarshalCanonical(state[field])
		if err != nil {
			return fmt.Errorf("expect %s: %w", key, err)
		}
		if string(want) != string(got) {
			return fmt.Errorf("expected %s = %s, got %s", key, want, got)
		}
	}
	return nil
}

// resolvePayload substitutes "$payload" references inside v.
func resolvePayload(v any, payload any) any {
	switch val := v.(type) {
	case string:
		if val == PayloadPrefix {
			return payload
		}
		if path, ok := strings.CutPrefix(val, PayloadPrefix+"."); ok {
			return lookup(payload, strings.Split(path, "."))
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = resolvePayload(elem, payload)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = resolvePayload(elem, payload)
		}
		return out
	default:
		return val
	}
}

func lookup(v any, path []string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

// jsonClone deep-copies v into plain JSON shapes (float64 numbers).
// Values that cannot be encoded are returned unchanged.
func jsonClone(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

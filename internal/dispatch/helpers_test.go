package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/roach88/dispatchr/internal/ir"
	"github.com/stretchr/testify/require"
)

// mapStore is a minimal store with mutex-guarded map state.
type mapStore struct {
	mu      sync.Mutex
	state   map[string]any
	session Session
	ctx     ir.StoreContext
}

func newMapStore(sc ir.StoreContext, initial json.RawMessage) (*mapStore, error) {
	s := &mapStore{state: map[string]any{}, ctx: sc}
	if initial != nil {
		if err := json.Unmarshal(initial, &s.state); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *mapStore) SetDispatcher(sess Session) { s.session = sess }

func (s *mapStore) set(k string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[k] = v
}

func (s *mapStore) get(k string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[k]
}

func (s *mapStore) GetState() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.state)
}

// serialStore adds snapshot support to mapStore.
type serialStore struct {
	*mapStore
	rehydrated bool
}

func (s *serialStore) Dehydrate() (any, error) { return s.GetState(), nil }

func (s *serialStore) Rehydrate(state json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rehydrated = true
	s.state = map[string]any{}
	return json.Unmarshal(state, &s.state)
}

func mapDesc(name string, handlers map[string]HandlerRef) *Descriptor {
	return &Descriptor{
		Name: name,
		New: func(sc ir.StoreContext, initial json.RawMessage) (any, error) {
			return newMapStore(sc, initial)
		},
		Handlers: handlers,
	}
}

func serialDesc(name string, handlers map[string]HandlerRef) *Descriptor {
	return &Descriptor{
		Name: name,
		New: func(sc ir.StoreContext, initial json.RawMessage) (any, error) {
			ms, err := newMapStore(sc, initial)
			if err != nil {
				return nil, err
			}
			return &serialStore{mapStore: ms}, nil
		},
		Handlers: handlers,
	}
}

// setter returns a sync handler that merges kv into the store's state.
func setter(kv map[string]any) HandlerRef {
	return Sync(func(s *mapStore, _ any) error {
		for k, v := range kv {
			s.set(k, v)
		}
		return nil
	})
}

// recorder collects strings from concurrent callbacks.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type memJournal struct {
	mu   sync.Mutex
	recs []ir.ActionRecord
	err  error
}

func (j *memJournal) RecordAction(_ context.Context, rec ir.ActionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return j.err
}

func (j *memJournal) records() []ir.ActionRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]ir.ActionRecord(nil), j.recs...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, reg *Registry, opts ...Option) *Dispatcher {
	t.Helper()
	all := append([]Option{WithLogger(quietLogger()), WithSessionID("test-session")}, opts...)
	d := New(reg, ir.StoreContext{"user": "u1"}, all...)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustStore(t *testing.T, d *Dispatcher, name string) *mapStore {
	t.Helper()
	inst, err := d.GetStore(Name(name))
	require.NoError(t, err)
	switch s := inst.(type) {
	case *mapStore:
		return s
	case *serialStore:
		return s.mapStore
	}
	t.Fatalf("unexpected store type %T", inst)
	return nil
}

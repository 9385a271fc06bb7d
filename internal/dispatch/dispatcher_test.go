package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roach88/dispatchr/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchNavigate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Store", map[string]HandlerRef{
		"NAVIGATE": setter(map[string]any{"called": true, "page": "home"}),
	}))
	d := newTestDispatcher(t, reg)

	res, err := d.DispatchAndWait(testContext(t), "NAVIGATE", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "NAVIGATE", res.Action)
	assert.Equal(t, int64(1), res.Seq)
	assert.Equal(t, []ir.StoreOutcome{{Store: "Store"}}, res.Stores)

	store := mustStore(t, d, "Store")
	assert.Equal(t, map[string]any{"called": true, "page": "home"}, store.GetState())
}

func delayRegistry(delay time.Duration) *Registry {
	reg := NewRegistry()
	// Store registers first so its handler runs before DelayedStore's.
	reg.MustRegister(mapDesc("Store", map[string]HandlerRef{
		"DELAY": Callback(func(s *mapStore, _ any, done Done) {
			err := s.session.WaitFor(Names("DelayedStore"), func(err error) {
				if err != nil {
					done(err)
					return
				}
				other, gerr := s.session.GetStore(Name("DelayedStore"))
				if gerr != nil {
					done(gerr)
					return
				}
				s.set("page", "delay")
				s.set("sawFinal", other.(*mapStore).get("final"))
				done(nil)
			})
			if err != nil {
				done(err)
			}
		}),
		"NAVIGATE": setter(map[string]any{"page": "home"}),
	}))
	reg.MustRegister(mapDesc("DelayedStore", map[string]HandlerRef{
		"DELAY": Callback(func(s *mapStore, _ any, done Done) {
			time.AfterFunc(delay, func() {
				s.set("final", true)
				done(nil)
			})
		}),
	}))
	return reg
}

func TestDispatchWaitForDelayedStore(t *testing.T) {
	d := newTestDispatcher(t, delayRegistry(20*time.Millisecond))

	_, err := d.DispatchAndWait(testContext(t), "DELAY", map[string]any{})
	require.NoError(t, err)

	store := mustStore(t, d, "Store")
	assert.Equal(t, "delay", store.get("page"))
	assert.Equal(t, true, store.get("sawFinal"), "waiter must observe the settled state")
	assert.Equal(t, true, mustStore(t, d, "DelayedStore").get("final"))
}

func TestDispatchFIFO(t *testing.T) {
	d := newTestDispatcher(t, delayRegistry(20*time.Millisecond))
	rec := &recorder{}

	d.Dispatch("DELAY", nil, func(_ Result, err error) {
		assert.NoError(t, err)
		rec.add("DELAY")
	})
	d.Dispatch("NAVIGATE", nil, func(_ Result, err error) {
		assert.NoError(t, err)
		rec.add("NAVIGATE")
	})
	d.Dispatch("UNHANDLED", nil, func(_ Result, err error) {
		assert.NoError(t, err)
		rec.add("UNHANDLED")
	})

	require.NoError(t, d.Drain(testContext(t)))
	assert.Equal(t, []string{"DELAY", "NAVIGATE", "UNHANDLED"}, rec.list())
	assert.Equal(t, "home", mustStore(t, d, "Store").get("page"), "NAVIGATE ran after DELAY")
}

func TestDispatchNoHandlersCompletesLater(t *testing.T) {
	var returned, sawReturned atomic.Bool
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Store", map[string]HandlerRef{
		"OUTER": Callback(func(s *mapStore, _ any, done Done) {
			s.session.Dispatch("NOBODY", nil, func(res Result, err error) {
				assert.NoError(t, err)
				assert.Empty(t, res.Stores)
				sawReturned.Store(returned.Load())
			})
			returned.Store(true)
			done(nil)
		}),
	}))
	d := newTestDispatcher(t, reg)

	d.Dispatch("OUTER", nil, nil)
	require.NoError(t, d.Drain(testContext(t)))
	assert.True(t, sawReturned.Load(), "callback must not run inside Dispatch")
}

func TestNestedDispatchRunsAfterEnclosingAction(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Store", map[string]HandlerRef{
		"FIRST": Callback(func(s *mapStore, _ any, done Done) {
			s.session.Dispatch("SECOND", nil, func(_ Result, err error) {
				rec.add("second callback")
			})
			rec.add("first handler")
			time.AfterFunc(10*time.Millisecond, func() {
				rec.add("first settled")
				done(nil)
			})
		}),
		"SECOND": Sync(func(s *mapStore, _ any) error {
			rec.add("second handler")
			return nil
		}),
	}))
	d := newTestDispatcher(t, reg)

	d.Dispatch("FIRST", nil, func(_ Result, _ error) { rec.add("first callback") })
	require.NoError(t, d.Drain(testContext(t)))

	assert.Equal(t, []string{
		"first handler",
		"first settled",
		"first callback",
		"second handler",
		"second callback",
	}, rec.list())
}

func TestExplicitHandlerBeatsDefault(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Store", map[string]HandlerRef{
		"SAVE":        setter(map[string]any{"by": "explicit"}),
		DefaultAction: setter(map[string]any{"by": "default"}),
	}))
	reg.MustRegister(mapDesc("Audit", map[string]HandlerRef{
		DefaultAction: Sync(func(s *mapStore, _ any) error {
			name, ok := s.session.CurrentAction()
			if !ok {
				return errors.New("no current action")
			}
			s.set("last", name)
			return nil
		}),
	}))
	d := newTestDispatcher(t, reg)

	res, err := d.DispatchAndWait(testContext(t), "SAVE", nil)
	require.NoError(t, err)
	assert.Equal(t, []ir.StoreOutcome{{Store: "Store"}, {Store: "Audit"}}, res.Stores)
	assert.Equal(t, "explicit", mustStore(t, d, "Store").get("by"))
	assert.Equal(t, "SAVE", mustStore(t, d, "Audit").get("last"))

	_, err = d.DispatchAndWait(testContext(t), "OTHER", nil)
	require.NoError(t, err)
	assert.Equal(t, "default", mustStore(t, d, "Store").get("by"))
	assert.Equal(t, "OTHER", mustStore(t, d, "Audit").get("last"))
}

func TestHandlerErrorIsDeliveredToCallback(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Good", map[string]HandlerRef{"SAVE": setter(map[string]any{"ok": true})}))
	reg.MustRegister(mapDesc("Bad", map[string]HandlerRef{
		"SAVE": Sync(func(_ *mapStore, _ any) error { return boom }),
	}))
	d := newTestDispatcher(t, reg)

	res, err := d.DispatchAndWait(testContext(t), "SAVE", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "Bad", he.Store)
	assert.Equal(t, "SAVE", he.Action)

	require.Len(t, res.Stores, 2)
	assert.Empty(t, res.Stores[0].Error)
	assert.Contains(t, res.Stores[1].Error, "boom")
	assert.Equal(t, true, mustStore(t, d, "Good").get("ok"), "other stores still run")

	// The session keeps working after a failed action.
	_, err = d.DispatchAndWait(testContext(t), "UNHANDLED", nil)
	assert.NoError(t, err)
}

func TestFirstFailureInTimeWins(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Slow", map[string]HandlerRef{
		"GO": Callback(func(_ *mapStore, _ any, done Done) {
			time.AfterFunc(30*time.Millisecond, func() { done(errors.New("slow failure")) })
		}),
	}))
	reg.MustRegister(mapDesc("Fast", map[string]HandlerRef{
		"GO": Sync(func(_ *mapStore, _ any) error { return errors.New("fast failure") }),
	}))
	d := newTestDispatcher(t, reg)

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast failure")
}

func TestWaitForSkipsNonParticipatingStores(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Idle", nil))
	reg.MustRegister(mapDesc("Store", map[string]HandlerRef{
		"GO": Callback(func(s *mapStore, _ any, done Done) {
			err := s.session.WaitFor(Names("Idle", "Unknown"), func(err error) {
				s.set("waited", true)
				done(err)
			})
			if err != nil {
				done(err)
			}
		}),
	}))
	d := newTestDispatcher(t, reg)

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	require.NoError(t, err)
	assert.Equal(t, true, mustStore(t, d, "Store").get("waited"))
}

func TestWaitForPropagatesFailure(t *testing.T) {
	boom := errors.New("upstream failed")
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Waiter", map[string]HandlerRef{
		"GO": Callback(func(s *mapStore, _ any, done Done) {
			_ = s.session.WaitFor(Names("Upstream"), func(err error) {
				s.set("waitErr", fmt.Sprint(err))
				done(nil)
			})
		}),
	}))
	reg.MustRegister(mapDesc("Upstream", map[string]HandlerRef{
		"GO": Callback(func(_ *mapStore, _ any, done Done) {
			time.AfterFunc(10*time.Millisecond, func() { done(boom) })
		}),
	}))
	d := newTestDispatcher(t, reg)

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	require.Error(t, err, "action carries the upstream failure")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, mustStore(t, d, "Waiter").get("waitErr"), "upstream failed")
}

func TestWaitForAlreadySettledTarget(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("First", map[string]HandlerRef{"GO": setter(map[string]any{"v": "first"})}))
	reg.MustRegister(mapDesc("Second", map[string]HandlerRef{
		"GO": Callback(func(s *mapStore, _ any, done Done) {
			// First's handler ran on an earlier tick and has settled.
			time.AfterFunc(10*time.Millisecond, func() {
				_ = s.session.WaitFor(Names("First"), done)
			})
		}),
	}))
	d := newTestDispatcher(t, reg)

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	assert.NoError(t, err)
}

func TestWaitForOutsideAction(t *testing.T) {
	d := newTestDispatcher(t, NewRegistry())

	err := d.WaitFor(Names("Store"), func(error) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoActiveAction)
}

func TestWaitCycleFailsInsteadOfHanging(t *testing.T) {
	waitOn := func(target string) HandlerRef {
		return Callback(func(s *mapStore, _ any, done Done) {
			if err := s.session.WaitFor(Names(target), done); err != nil {
				done(err)
			}
		})
	}
	reg := NewRegistry()
	reg.MustRegister(mapDesc("A", map[string]HandlerRef{"GO": waitOn("B")}))
	reg.MustRegister(mapDesc("B", map[string]HandlerRef{"GO": waitOn("A")}))
	d := newTestDispatcher(t, reg)

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWaitCycle)
}

func TestSelfWaitIsACycle(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("A", map[string]HandlerRef{
		"GO": Callback(func(s *mapStore, _ any, done Done) {
			_ = s.session.WaitFor(Names("A"), done)
		}),
	}))
	d := newTestDispatcher(t, reg)

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	assert.ErrorIs(t, err, ErrWaitCycle)
}

func TestMissingHandlerMethodFailsBeforeRunning(t *testing.T) {
	var ran atomic.Bool
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Runs", map[string]HandlerRef{
		"GO": Sync(func(_ *mapStore, _ any) error { ran.Store(true); return nil }),
	}))
	reg.MustRegister(mapDesc("Broken", map[string]HandlerRef{"GO": Method("DoesNotExist")}))
	d := newTestDispatcher(t, reg)

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingHandlerMethod)
	assert.False(t, ran.Load(), "no handler runs when resolution fails")
}

func TestHandlerTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Stuck", map[string]HandlerRef{
		"GO": Callback(func(_ *mapStore, _ any, _ Done) {}),
	}))
	d := newTestDispatcher(t, reg, WithHandlerTimeout(20*time.Millisecond))

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerTimeout)

	_, err = d.DispatchAndWait(testContext(t), "NEXT", nil)
	assert.NoError(t, err, "queue keeps moving after a timeout")
}

func TestPanicRecovery(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Explodes", map[string]HandlerRef{
		"GO": Sync(func(_ *mapStore, _ any) error { panic("kaboom") }),
	}))
	d := newTestDispatcher(t, reg, WithPanicRecovery())

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestPanicRecoveryInWaitForContinuation(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Upstream", map[string]HandlerRef{
		"GO":   setter(map[string]any{"done": true}),
		"NEXT": setter(map[string]any{"next": true}),
	}))
	reg.MustRegister(mapDesc("Waiter", map[string]HandlerRef{
		"GO": Callback(func(s *mapStore, _ any, done Done) {
			_ = s.session.WaitFor(Names("Upstream"), func(error) {
				panic("boom in continuation")
			})
		}),
	}))
	d := newTestDispatcher(t, reg, WithPanicRecovery())

	res, err := d.DispatchAndWait(testContext(t), "GO", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.Contains(t, err.Error(), "boom in continuation")

	outcomes := map[string]string{}
	for _, o := range res.Stores {
		outcomes[o.Store] = o.Error
	}
	require.Contains(t, outcomes, "Waiter")
	require.Contains(t, outcomes, "Upstream")
	assert.NotEmpty(t, outcomes["Waiter"], "waiting store carries the panic")
	assert.Empty(t, outcomes["Upstream"])

	_, err = d.DispatchAndWait(testContext(t), "NEXT", nil)
	assert.NoError(t, err, "session keeps processing after a recovered continuation panic")
	assert.Equal(t, true, mustStore(t, d, "Upstream").get("next"))
}

func TestDuplicateDoneIgnored(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Twice", map[string]HandlerRef{
		"GO": Callback(func(_ *mapStore, _ any, done Done) {
			done(nil)
			done(errors.New("late"))
		}),
	}))
	d := newTestDispatcher(t, reg)

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	assert.NoError(t, err)
}

func TestGetStoreUnregistered(t *testing.T) {
	d := newTestDispatcher(t, NewRegistry())

	_, err := d.GetStore(Name("Missing"))
	assert.ErrorIs(t, err, ErrUnregisteredStore)

	_, err = d.GetStore(nil)
	assert.ErrorIs(t, err, ErrUnregisteredStore)
}

func TestGetStoreConstructsOnce(t *testing.T) {
	var built atomic.Int32
	reg := NewRegistry()
	desc := reg.MustRegister(&Descriptor{
		Name: "Counted",
		New: func(sc ir.StoreContext, _ json.RawMessage) (any, error) {
			built.Add(1)
			return newMapStore(sc, nil)
		},
	})
	d := newTestDispatcher(t, reg)

	var wg sync.WaitGroup
	results := make([]any, 32)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := d.GetStore(desc)
			assert.NoError(t, err)
			results[i] = inst
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, "u1", results[0].(*mapStore).ctx["user"], "factory receives the session context")
}

func TestFactoryErrorFailsAction(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Descriptor{
		Name:     "Broken",
		New:      func(ir.StoreContext, json.RawMessage) (any, error) { return nil, errors.New("no disk") },
		Handlers: map[string]HandlerRef{"GO": Method("Go")},
	})
	d := newTestDispatcher(t, reg)

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no disk")
}

func TestJournalRecordsEveryAction(t *testing.T) {
	j := &memJournal{}
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Store", map[string]HandlerRef{
		"SAVE": Sync(func(_ *mapStore, p any) error {
			if p.(map[string]any)["fail"] == true {
				return errors.New("refused")
			}
			return nil
		}),
	}))
	d := newTestDispatcher(t, reg, WithJournal(j))

	d.Dispatch("SAVE", map[string]any{"fail": false}, nil)
	d.Dispatch("SAVE", map[string]any{"fail": true}, nil)
	d.Dispatch("NOOP", nil, nil)
	require.NoError(t, d.Drain(testContext(t)))

	recs := j.records()
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, int64(i+1), rec.Seq)
		assert.Equal(t, "test-session", rec.SessionID)
		assert.Equal(t, ir.MustActionID("test-session", rec.Name, rec.Payload, rec.Seq), rec.ID)
	}
	assert.Equal(t, `{"fail":false}`, string(recs[0].Payload))
	assert.False(t, recs[0].Failed())
	assert.True(t, recs[1].Failed())
	assert.Contains(t, recs[1].Stores[0].Error, "refused")
	assert.Equal(t, "null", string(recs[2].Payload))
	assert.Empty(t, recs[2].Stores)
}

func TestJournalRecordsOrigin(t *testing.T) {
	j := &memJournal{}
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Nav", map[string]HandlerRef{
		"START": Sync(func(s *mapStore, _ any) error {
			s.session.Dispatch("NAVIGATE", nil, nil)
			return nil
		}),
	}))
	d := newTestDispatcher(t, reg, WithJournal(j))

	d.Dispatch("START", nil, nil)
	require.NoError(t, d.Drain(testContext(t)))

	recs := j.records()
	require.Len(t, recs, 2)
	assert.Equal(t, "START", recs[0].Name)
	assert.Empty(t, recs[0].Origin)
	assert.Equal(t, "NAVIGATE", recs[1].Name)
	assert.Equal(t, "Nav", recs[1].Origin)
}

func TestDispatchAllQueuesBatchAheadOfNested(t *testing.T) {
	j := &memJournal{}
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Nav", map[string]HandlerRef{
		"START": Sync(func(s *mapStore, _ any) error {
			s.session.Dispatch("NAVIGATE", map[string]any{"page": "home"}, nil)
			return nil
		}),
		"NAVIGATE": Sync(func(s *mapStore, p any) error {
			s.set("page", p.(map[string]any)["page"])
			return nil
		}),
	}))
	d := newTestDispatcher(t, reg, WithJournal(j))

	rec := &recorder{}
	d.DispatchAll([]Queued{
		{Name: "START", Callback: func(r Result, err error) { rec.add(fmt.Sprint(r.Seq, " ", r.Action, " ", err)) }},
		{Name: "NAVIGATE", Payload: map[string]any{"page": "about"}, Callback: func(r Result, err error) {
			rec.add(fmt.Sprint(r.Seq, " ", r.Action, " ", err))
		}},
	})
	d.DispatchAll(nil)
	require.NoError(t, d.Drain(testContext(t)))

	assert.Equal(t, []string{"1 START <nil>", "2 NAVIGATE <nil>"}, rec.list())
	recs := j.records()
	require.Len(t, recs, 3)
	assert.Equal(t, "Nav", recs[2].Origin)
	assert.Equal(t, "home", mustStore(t, d, "Nav").get("page"), "nested NAVIGATE ran after the batch")
}

func TestDispatchAllAfterClose(t *testing.T) {
	d := New(NewRegistry(), nil, WithLogger(quietLogger()))
	require.NoError(t, d.Close())

	errs := make(chan error, 2)
	d.DispatchAll([]Queued{
		{Name: "A", Callback: func(_ Result, err error) { errs <- err }},
		{Name: "B", Callback: func(_ Result, err error) { errs <- err }},
	})
	for range 2 {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("callback not delivered after close")
		}
	}
}

func TestJournalErrorDoesNotFailAction(t *testing.T) {
	j := &memJournal{err: errors.New("disk full")}
	d := newTestDispatcher(t, NewRegistry(), WithJournal(j))

	_, err := d.DispatchAndWait(testContext(t), "NOOP", nil)
	assert.NoError(t, err)
}

func TestCloseFailsPendingWork(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(mapDesc("Stuck", map[string]HandlerRef{
		"GO": Callback(func(_ *mapStore, _ any, _ Done) {}),
	}))
	d := New(reg, nil, WithLogger(quietLogger()))

	errs := make(chan error, 2)
	d.Dispatch("GO", nil, func(_ Result, err error) { errs <- err })
	d.Dispatch("GO", nil, func(_ Result, err error) { errs <- err })

	require.Eventually(t, func() bool {
		_, ok := d.CurrentAction()
		return ok
	}, time.Second, time.Millisecond)
	require.NoError(t, d.Close())

	for range 2 {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("callback not delivered after close")
		}
	}

	_, err := d.DispatchAndWait(testContext(t), "GO", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, d.Close(), "close is idempotent")
	assert.NoError(t, d.Drain(testContext(t)))
}

func TestSessionIDs(t *testing.T) {
	gen := NewFixedGenerator("s-1", "s-2")
	d1 := New(NewRegistry(), nil, WithLogger(quietLogger()), WithSessionIDGenerator(gen))
	d2 := New(NewRegistry(), nil, WithLogger(quietLogger()), WithSessionIDGenerator(gen))
	t.Cleanup(func() { _ = d1.Close(); _ = d2.Close() })

	assert.Equal(t, "s-1", d1.ID())
	assert.Equal(t, "s-2", d2.ID())
	assert.Panics(t, func() { gen.Generate() })

	d3 := New(NewRegistry(), nil, WithLogger(quietLogger()))
	t.Cleanup(func() { _ = d3.Close() })
	assert.Len(t, d3.ID(), 36, "UUIDv7 by default")
}

func TestClockOption(t *testing.T) {
	d := newTestDispatcher(t, NewRegistry(), WithClock(NewClockAt(41)))

	res, err := d.DispatchAndWait(testContext(t), "NOOP", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Seq)
}

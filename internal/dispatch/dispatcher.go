package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/dispatchr/internal/ir"
)

// Dispatcher is one session: it owns the store instances created for a
// single context and processes that session's actions.
//
// Actions run strictly one at a time, in the order Dispatch was called.
// Every handler invocation, completion, callback and queue advance is a
// separate task on the session's event loop goroutine, so handlers never
// run concurrently with each other and never inline in the caller.
//
// Thread-safety model:
//   - Dispatch, DispatchAndWait, WaitFor, Drain: safe from any goroutine
//   - GetStore, Snapshot, Restore: safe from any goroutine; stores must
//     tolerate being read while a handler runs if the caller does this
//     mid-action
//   - Close, Drain, DispatchAndWait: must not be called from a handler or
//     callback (they block on the loop the handler is running on)
//
// A handler that panics is not recovered unless WithPanicRecovery is set:
// the panic escapes the loop goroutine and takes the process down.
type Dispatcher struct {
	id             string
	registry       *Registry
	loop           *loop
	clock          Sequencer
	logger         *slog.Logger
	journal        Journal
	idGen          SessionIDGenerator
	handlerTimeout time.Duration
	recoverPanics  bool

	mu        sync.Mutex
	storeCtx  ir.StoreContext
	instances map[string]*storeSlot

	current   atomic.Pointer[Action]
	inflight  atomic.Int64 // dispatched, callback not yet delivered
	closeOnce sync.Once

	// Owned by the loop goroutine.
	queue   []*Action
	idle    []chan struct{}
	stopped bool
}

type storeSlot struct {
	mu    sync.Mutex
	inst  any
	ready atomic.Bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock sets the sequencer that stamps actions. Default: NewClock().
func WithClock(c Sequencer) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithSessionIDGenerator sets how the session ID is generated.
// Default: UUIDv7Generator.
func WithSessionIDGenerator(g SessionIDGenerator) Option {
	return func(d *Dispatcher) {
		if g != nil {
			d.idGen = g
		}
	}
}

// WithSessionID fixes the session ID. Used when replaying a journaled
// session so action IDs line up.
func WithSessionID(id string) Option {
	return func(d *Dispatcher) {
		d.id = id
	}
}

// WithJournal records every completed action.
func WithJournal(j Journal) Option {
	return func(d *Dispatcher) {
		d.journal = j
	}
}

// WithHandlerTimeout fails a store's completion with HANDLER_TIMEOUT if its
// handler has not settled within timeout.
//
// Default: 0, no timeout. A handler that never settles stalls its action
// and every action queued behind it.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.handlerTimeout = timeout
	}
}

// WithPanicRecovery turns a handler panic into a HANDLER_PANIC failure of
// that store instead of crashing the process.
func WithPanicRecovery() Option {
	return func(d *Dispatcher) {
		d.recoverPanics = true
	}
}

// New creates a session for sc backed by reg and starts its event loop.
// Call Close to stop the loop.
func New(reg *Registry, sc ir.StoreContext, opts ...Option) *Dispatcher {
	if reg == nil {
		reg = NewRegistry()
	}
	d := &Dispatcher{
		registry:  reg,
		loop:      newLoop(),
		clock:     NewClock(),
		logger:    slog.Default(),
		idGen:     UUIDv7Generator{},
		storeCtx:  sc,
		instances: make(map[string]*storeSlot),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.id == "" {
		d.id = d.idGen.Generate()
	}
	if d.storeCtx == nil {
		d.storeCtx = ir.StoreContext{}
	}
	d.logger = d.logger.With("session", d.id)

	go d.loop.run()
	return d
}

// ID returns the session identifier.
func (d *Dispatcher) ID() string { return d.id }

// Registry returns the registry the session resolves stores from.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Context returns the session's store context.
func (d *Dispatcher) Context() ir.StoreContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.storeCtx
}

// CurrentAction returns the name of the action being processed, if any.
func (d *Dispatcher) CurrentAction() (string, bool) {
	a := d.current.Load()
	if a == nil {
		return "", false
	}
	return a.name, true
}

// GetStore returns the session's instance of the store, constructing it
// on first use. Construction happens once per session even under
// concurrent calls.
func (d *Dispatcher) GetStore(ref StoreRef) (any, error) {
	if ref == nil {
		return nil, newError(CodeUnregisteredStore, "", "", "nil store reference")
	}
	inst, _, err := d.getStore(ref.StoreName(), nil)
	return inst, err
}

func (d *Dispatcher) getStore(name string, initial json.RawMessage) (any, bool, error) {
	desc, ok := d.registry.Descriptor(name)
	if !ok {
		return nil, false, newError(CodeUnregisteredStore, name, "", "no store registered under this name")
	}

	slot, sc := d.slot(name)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.ready.Load() {
		return slot.inst, false, nil
	}

	inst, err := d.construct(desc, sc, initial)
	if err != nil {
		return nil, false, err
	}
	slot.inst = inst
	slot.ready.Store(true)

	d.logger.Debug("store created", "store", name, "restored", initial != nil)
	return inst, true, nil
}

// slot returns the instance slot for name, creating an empty one, along
// with the current store context.
func (d *Dispatcher) slot(name string) (*storeSlot, ir.StoreContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	slot := d.instances[name]
	if slot == nil {
		slot = &storeSlot{}
		d.instances[name] = slot
	}
	return slot, d.storeCtx
}

// construct builds and initializes a store instance without publishing it.
func (d *Dispatcher) construct(desc *Descriptor, sc ir.StoreContext, initial json.RawMessage) (any, error) {
	inst, err := desc.New(sc, initial)
	if err != nil {
		return nil, fmt.Errorf("construct store %s: %w", desc.Name, err)
	}
	if inst == nil {
		return nil, fmt.Errorf("construct store %s: factory returned nil", desc.Name)
	}
	if s, ok := inst.(DispatcherSetter); ok {
		s.SetDispatcher(&storeSession{d: d, store: desc.Name})
	}
	if i, ok := inst.(Initializer); ok {
		if err := i.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize store %s: %w", desc.Name, err)
		}
	}
	return inst, nil
}

// Dispatch queues an action. cb, if non-nil, receives the outcome on a
// later tick. Actions with no registered handler still pass through the
// queue and complete without error, so callbacks always fire in dispatch
// order.
func (d *Dispatcher) Dispatch(name string, payload any, cb ActionCallback) {
	d.dispatch("", name, payload, cb)
}

// dispatch queues an action on behalf of origin, the store whose handler
// dispatched it ("" for callers outside the session).
func (d *Dispatcher) dispatch(origin, name string, payload any, cb ActionCallback) {
	a := &Action{name: name, payload: payload, cb: cb, origin: origin}
	d.inflight.Add(1)
	if !d.loop.post(func() { d.enqueue(a) }) {
		d.inflight.Add(-1)
		if cb != nil {
			go cb(Result{Action: name}, newError(CodeClosed, "", name, "dispatch after close"))
		}
	}
}

// Queued is one entry of a DispatchAll batch.
type Queued struct {
	Name     string
	Payload  any
	Callback ActionCallback
}

// DispatchAll queues a batch of actions in one tick, so nothing a handler
// dispatches can land between them. Outcomes are the same as calling
// Dispatch for each entry in order.
func (d *Dispatcher) DispatchAll(batch []Queued) {
	if len(batch) == 0 {
		return
	}
	actions := make([]*Action, len(batch))
	for i, q := range batch {
		actions[i] = &Action{name: q.Name, payload: q.Payload, cb: q.Callback}
	}
	d.inflight.Add(int64(len(actions)))
	ok := d.loop.post(func() {
		for _, a := range actions {
			d.enqueue(a)
		}
	})
	if ok {
		return
	}
	d.inflight.Add(-int64(len(actions)))
	for _, a := range actions {
		if a.cb != nil {
			go a.cb(Result{Action: a.name}, newError(CodeClosed, "", a.name, "dispatch after close"))
		}
	}
}

// DispatchAndWait dispatches an action and blocks until its callback
// would fire or ctx is done.
func (d *Dispatcher) DispatchAndWait(ctx context.Context, name string, payload any) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	d.Dispatch(name, payload, func(r Result, err error) {
		ch <- outcome{r, err}
	})

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return Result{Action: name}, ctx.Err()
	}
}

// Drain blocks until every dispatched action has completed and its
// callback has returned, including actions those callbacks dispatched.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ch := make(chan struct{})
	if !d.loop.post(func() {
		d.idle = append(d.idle, ch)
		d.checkIdle()
	}) {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-d.loop.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitFor waits, on behalf of no particular store, for the listed stores
// to settle their handlers for the current action. Stores use the
// Session they were given instead, which also detects wait cycles.
func (d *Dispatcher) WaitFor(refs []StoreRef, fn func(error)) error {
	return d.waitFor("", refs, fn)
}

// Close stops the session. Queued and in-flight actions complete with a
// DISPATCHER_CLOSED error; later dispatches fail the same way.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		if !d.loop.post(d.shutdown) {
			d.loop.close()
		}
	})
	<-d.loop.done
	return nil
}

func (d *Dispatcher) enqueue(a *Action) {
	if d.stopped {
		d.abandon(a)
		return
	}
	d.queue = append(d.queue, a)
	d.next()
}

// next starts the head of the queue unless an action is already current.
func (d *Dispatcher) next() {
	if d.stopped || d.current.Load() != nil {
		return
	}
	if len(d.queue) == 0 {
		d.checkIdle()
		return
	}

	a := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	d.start(a)
}

func (d *Dispatcher) start(a *Action) {
	a.started = true
	a.seq = d.clock.Next()

	raw, err := ir.MarshalCanonical(a.payload)
	if err != nil {
		d.logger.Warn("payload is not JSON encodable, journaling null",
			"action", a.name,
			"seq", a.seq,
			"error", err,
		)
		raw = []byte("null")
	}
	a.raw = raw
	if id, err := ir.ActionID(d.id, a.name, json.RawMessage(raw), a.seq); err == nil {
		a.id = id
	}

	d.current.Store(a)

	entries := d.registry.resolve(a.name)
	d.logger.Debug("action started",
		"action", a.name,
		"seq", a.seq,
		"stores", len(entries),
	)

	// Resolve every instance and handler before anything runs, so a
	// missing method fails the action without side effects.
	bound := make([]boundHandler, len(entries))
	for i, e := range entries {
		inst, _, err := d.getStore(e.store, nil)
		if err != nil {
			d.abort(a, err)
			return
		}
		h, err := e.ref.bind(inst)
		if err != nil {
			d.abort(a, newError(CodeMissingHandlerMethod, e.store, a.name, "handler %s: %v", e.ref, err))
			return
		}
		bound[i] = h
	}

	// All tokens exist before the first handler runs, so a handler may
	// wait on any sibling regardless of invocation order.
	a.tokens = make(map[string]*token, len(entries))
	for _, e := range entries {
		a.tokens[e.store] = &token{store: e.store}
		a.order = append(a.order, e.store)
	}
	a.pending = len(entries)

	if a.pending == 0 {
		d.finish(a)
		return
	}
	for i, e := range entries {
		t, h := a.tokens[e.store], bound[i]
		d.loop.post(func() { d.invoke(a, t, h) })
	}
}

func (d *Dispatcher) invoke(a *Action, t *token, h boundHandler) {
	if d.stopped || t.settled {
		return
	}
	done := d.doneFor(a, t)
	if d.handlerTimeout > 0 {
		timeout := d.handlerTimeout
		t.timer = time.AfterFunc(timeout, func() {
			done(newError(CodeHandlerTimeout, t.store, a.name, "no completion after %s", timeout))
		})
	}

	d.logger.Debug("handler invoked", "action", a.name, "store", t.store)
	d.guard(a, t.store, func() { h(a.payload, done) })
}

// guard runs handler code for store on the loop. With panic recovery on,
// a panic fails that store's token with HANDLER_PANIC; this covers both
// the handler call itself and the WaitFor continuations it registered.
func (d *Dispatcher) guard(a *Action, store string, fn func()) {
	if d.recoverPanics {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			d.logger.Error("handler panicked",
				"action", a.name,
				"store", store,
				"panic", r,
			)
			if t := a.tokens[store]; t != nil {
				d.doneFor(a, t)(newError(CodeHandlerPanic, store, a.name, "%v", r))
			}
		}()
	}
	fn()
}

// doneFor returns the completion callback handed to a store's handler.
// It may be called from any goroutine; the settle itself runs on the loop.
func (d *Dispatcher) doneFor(a *Action, t *token) Done {
	return func(err error) {
		if !d.loop.post(func() { d.settle(a, t, err) }) {
			d.logger.Warn("completion after close dropped",
				"action", a.name,
				"store", t.store,
			)
		}
	}
}

func (d *Dispatcher) settle(a *Action, t *token, err error) {
	if d.stopped {
		return
	}
	if t.settled {
		d.logger.Debug("duplicate completion ignored",
			"action", a.name,
			"store", t.store,
		)
		return
	}
	t.settled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	if err != nil {
		t.err = &HandlerError{Store: t.store, Action: a.name, Err: err}
		if a.err == nil {
			a.err = t.err
		}
		d.logger.Warn("handler failed",
			"action", a.name,
			"seq", a.seq,
			"store", t.store,
			"error", err,
		)
	}
	a.pending--

	waiters := t.waiters
	t.waiters = nil
	for _, w := range waiters {
		w()
	}

	if a.pending == 0 {
		d.finish(a)
	}
}

// abort fails an action before any handler ran.
func (d *Dispatcher) abort(a *Action, err error) {
	d.logger.Error("action failed to start",
		"action", a.name,
		"seq", a.seq,
		"error", err,
	)
	a.err = err
	a.tokens = nil
	a.order = nil
	d.finish(a)
}

// finish clears the current action, journals it, then schedules the
// caller's callback and the next queue advance on separate ticks.
func (d *Dispatcher) finish(a *Action) {
	d.current.CompareAndSwap(a, nil)

	if d.journal != nil {
		if err := d.journal.RecordAction(context.Background(), a.record(d.id)); err != nil {
			// Log and continue: the in-memory outcome stays authoritative.
			d.logger.Error("journal write failed",
				"action", a.name,
				"seq", a.seq,
				"error", err,
			)
		}
	}

	if a.err != nil {
		d.logger.Info("action completed with error", "action", a.name, "seq", a.seq, "error", a.err)
	} else {
		d.logger.Debug("action completed", "action", a.name, "seq", a.seq)
	}

	d.loop.post(func() { d.deliver(a) })
	d.loop.post(d.next)
}

func (d *Dispatcher) deliver(a *Action) {
	if a.cb != nil {
		a.cb(a.result(), a.err)
	}
	d.inflight.Add(-1)
	d.checkIdle()
}

func (d *Dispatcher) checkIdle() {
	if len(d.idle) == 0 {
		return
	}
	if d.inflight.Load() != 0 || d.current.Load() != nil || len(d.queue) != 0 {
		return
	}
	for _, ch := range d.idle {
		close(ch)
	}
	d.idle = nil
}

// abandon completes an action that will never run.
func (d *Dispatcher) abandon(a *Action) {
	err := newError(CodeClosed, "", a.name, "dispatcher closed before the action completed")
	res := a.result()
	if !a.started {
		res = Result{Action: a.name}
	}
	if a.cb != nil {
		go a.cb(res, err)
	}
	d.inflight.Add(-1)
}

func (d *Dispatcher) shutdown() {
	d.stopped = true

	if a := d.current.Load(); a != nil {
		for _, t := range a.tokens {
			if t.timer != nil {
				t.timer.Stop()
			}
		}
		d.current.Store(nil)
		d.abandon(a)
	}
	for _, a := range d.queue {
		d.abandon(a)
	}
	d.queue = nil

	for _, ch := range d.idle {
		close(ch)
	}
	d.idle = nil

	d.logger.Debug("session closed")
	d.loop.close()
}

func (d *Dispatcher) waitFor(scope string, refs []StoreRef, fn func(error)) error {
	a := d.current.Load()
	if a == nil {
		return newError(CodeNoActiveAction, scope, "", "waitFor called outside of a dispatch")
	}
	if fn == nil {
		fn = func(error) {}
	}
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		if r != nil {
			names = append(names, r.StoreName())
		}
	}
	d.loop.post(func() { d.registerWait(a, scope, names, fn) })
	return nil
}

// registerWait runs on the loop. fn is always called on a later tick,
// exactly once.
func (d *Dispatcher) registerWait(a *Action, scope string, names []string, fn func(error)) {
	var targets []*token
	for _, n := range names {
		t, ok := a.tokens[n]
		if !ok {
			d.logger.Debug("wait target not participating, skipped",
				"action", a.name,
				"store", n,
			)
			continue
		}
		targets = append(targets, t)
	}

	reg := &waitReg{targets: targets, fn: fn}
	fire := func(err error) {
		if reg.fired {
			return
		}
		reg.fired = true
		d.loop.post(func() { d.guard(a, scope, func() { fn(err) }) })
	}

	for _, t := range targets {
		if t.settled && t.err != nil {
			fire(t.err)
			return
		}
	}

	waiter := a.tokens[scope]
	if waiter != nil && reaches(targets, waiter) {
		fire(newError(CodeWaitCycle, scope, a.name, "waiting on %v would never finish", names))
		return
	}

	remaining := 0
	for _, t := range targets {
		if !t.settled {
			remaining++
		}
	}
	if remaining == 0 {
		fire(nil)
		return
	}

	if waiter != nil {
		waiter.waits = append(waiter.waits, reg)
	}
	for _, t := range targets {
		if t.settled {
			continue
		}
		t.waiters = append(t.waiters, func() {
			if reg.fired {
				return
			}
			if t.err != nil {
				fire(t.err)
				return
			}
			remaining--
			if remaining == 0 {
				fire(nil)
			}
		})
	}
}

// storeSession is the Session view handed to one store. Its waits are
// attributed to that store, which is what makes cycle detection possible.
type storeSession struct {
	d     *Dispatcher
	store string
}

func (s *storeSession) ID() string                         { return s.d.ID() }
func (s *storeSession) Context() ir.StoreContext           { return s.d.Context() }
func (s *storeSession) GetStore(ref StoreRef) (any, error) { return s.d.GetStore(ref) }
func (s *storeSession) CurrentAction() (string, bool)      { return s.d.CurrentAction() }

func (s *storeSession) Dispatch(name string, payload any, cb ActionCallback) {
	s.d.dispatch(s.store, name, payload, cb)
}

func (s *storeSession) WaitFor(refs []StoreRef, fn func(error)) error {
	return s.d.waitFor(s.store, refs, fn)
}

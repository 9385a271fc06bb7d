package dispatch

import "sync"

// loop is the session's single-writer event loop. Every tick is one task;
// tasks run one at a time, in the order they were posted, on the loop's
// own goroutine. All Action and queue state is only touched from here.
//
// The task list is unbounded so a handler can post arbitrarily many
// follow-ups (nested dispatches, settles, callbacks) without blocking.
type loop struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{} // buffered, size 1; coalesces wakeups
	done   chan struct{} // closed when run returns
}

func newLoop() *loop {
	return &loop{
		tasks:  make([]func(), 0, 64),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// post schedules fn on a later tick. Safe from any goroutine, including
// from inside a running task. Returns false once the loop is closed.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.tasks = append(l.tasks, fn)

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// tryNext removes and returns the front task without blocking.
func (l *loop) tryNext() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]

	// Nil out the slot so the closure can be collected.
	l.tasks[0] = nil
	if len(l.tasks) == 1 {
		l.tasks = l.tasks[:0]
	} else {
		l.tasks = l.tasks[1:]
	}
	return fn, true
}

// run executes tasks until the loop is closed and drained.
func (l *loop) run() {
	defer close(l.done)
	for {
		if fn, ok := l.tryNext(); ok {
			fn()
			continue
		}

		l.mu.Lock()
		closed := l.closed && len(l.tasks) == 0
		l.mu.Unlock()
		if closed {
			return
		}
		<-l.signal
	}
}

// len returns the number of pending tasks.
func (l *loop) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// close stops accepting tasks. Already posted tasks still run.
func (l *loop) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.signal)
}

package scopes

import (
	"sync"
	"sync/atomic"
	"time"
)

// executor is the bounded worker pool behind timeout-bounded destroy calls
// and fire-and-forget async reloads.
type executor struct {
	tasks    chan func()
	grace    time.Duration
	workers  sync.WaitGroup
	senders  sync.WaitGroup
	inflight atomic.Int64

	mu     sync.Mutex
	closed bool
}

func newExecutor(workers int, grace time.Duration) *executor {
	if workers < 1 {
		workers = 1
	}
	e := &executor{
		tasks: make(chan func(), workers*4),
		grace: grace,
	}
	e.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

func (e *executor) worker() {
	defer e.workers.Done()
	for task := range e.tasks {
		task()
		e.inflight.Add(-1)
	}
}

// submit schedules fn and returns a channel delivering its error. Reports
// false when the executor no longer accepts work.
func (e *executor) submit(fn func() error) (<-chan error, bool) {
	done := make(chan error, 1)
	ok := e.dispatch(func() { done <- fn() })
	return done, ok
}

// dispatch schedules fire-and-forget work. The mutex covers only the
// closed check; the send happens outside it, so a dispatcher parked on a
// full queue can never wedge shutdown. The senders group keeps the channel
// open until every registered dispatcher has finished its send.
func (e *executor) dispatch(task func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.inflight.Add(1)
	e.senders.Add(1)
	e.mu.Unlock()

	e.tasks <- task
	e.senders.Done()
	return true
}

// shutdown closes intake, waits up to the grace period for queued and
// running work, and abandons the rest. Returns the number of abandoned
// callbacks. Idempotent.
func (e *executor) shutdown() int {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	e.closed = true
	e.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		e.senders.Wait()
		close(e.tasks)
		e.workers.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return 0
	case <-time.After(e.grace):
		return int(e.inflight.Load())
	}
}

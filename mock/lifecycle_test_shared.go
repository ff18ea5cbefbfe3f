package mock

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder collects ordered lifecycle events from fixture callbacks.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Greeter exercises the interface shorthand: construct, destroy and reload
// callbacks are discovered from its method set, no registration needed.
type Greeter struct {
	Name       string
	Constructs atomic.Int32
	Destroys   atomic.Int32
	Reloads    atomic.Int32
}

func (g *Greeter) OnConstruct() error {
	g.Constructs.Add(1)
	return nil
}

func (g *Greeter) OnDestroy() error {
	g.Destroys.Add(1)
	return nil
}

func (g *Greeter) OnReload() error {
	g.Reloads.Add(1)
	return nil
}

// BaseConn and PooledConn form the embedding chain for ordering tests:
// callbacks registered for BaseConn run against the embedded field.
type BaseConn struct {
	Events *Recorder
}

type PooledConn struct {
	BaseConn
}

// SlowCloser blocks during teardown; tests bound it with a destroy timeout.
type SlowCloser struct {
	Delay    time.Duration
	Finished atomic.Bool
}

func (s *SlowCloser) Close() error {
	time.Sleep(s.Delay)
	s.Finished.Store(true)
	return nil
}

// FlakyResource fails its destroy callback on demand.
type FlakyResource struct {
	Name   string
	Broken bool
	Events *Recorder
}

func (f *FlakyResource) Release() error {
	f.Events.Record("release:" + f.Name)
	if f.Broken {
		return errors.New("resource is broken")
	}
	return nil
}

// CacheService notes which reload callbacks fired, for selective-reload
// tests.
type CacheService struct {
	mu    sync.Mutex
	notes []string
}

func (c *CacheService) Note(which string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, which)
}

func (c *CacheService) Noted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notes...)
}

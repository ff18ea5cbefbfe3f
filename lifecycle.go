package scopes

import (
	"errors"
	"reflect"
	"sync"
	"time"
)

// LifecycleProcessor discovers, caches and invokes construct, destroy and
// reload callbacks on managed instances. It never owns the instances: the
// scope stores do; the processor only runs methods on references handed to
// it. It does own the async executor bounding destroy timeouts and the
// registry of live reload targets.
//
// Per instance the implied state machine is Unconstructed -> Constructed
// -> reload* -> Destroyed. Destroyed is terminal; the processor does not
// guard against double-destroy.
type LifecycleProcessor struct {
	registry *CallbackRegistry
	log      Logger
	exec     *executor

	// One cache per kind; ordering rules differ, so the flattened lists do
	// too. Types are assumed not to change shape at runtime.
	constructCache sync.Map // reflect.Type -> []boundCallback
	destroyCache   sync.Map
	reloadCache    sync.Map

	// Live instances with at least one reload callback. Keyed by instance
	// identity, so managed instances must be comparable (pointers are).
	reloadTargets sync.Map
}

type processorConfig struct {
	logger  Logger
	workers int
	grace   time.Duration
}

// ProcessorOption configures a LifecycleProcessor.
type ProcessorOption func(*processorConfig)

// WithLogger replaces the default slog-backed logger.
func WithLogger(l Logger) ProcessorOption {
	return func(c *processorConfig) {
		c.logger = l
	}
}

// WithAsyncWorkers sets the executor pool size for timeout-bounded destroy
// calls and async reloads. Defaults to 4.
func WithAsyncWorkers(n int) ProcessorOption {
	return func(c *processorConfig) {
		c.workers = n
	}
}

// WithShutdownGrace bounds how long Shutdown waits for in-flight async
// callbacks before abandoning them. Defaults to 5s.
func WithShutdownGrace(d time.Duration) ProcessorOption {
	return func(c *processorConfig) {
		c.grace = d
	}
}

// NewLifecycleProcessor creates a processor over the given registration
// table. The registry may keep receiving registrations until the first
// instance of each type is processed.
func NewLifecycleProcessor(registry *CallbackRegistry, opts ...ProcessorOption) *LifecycleProcessor {
	cfg := processorConfig{
		logger:  defaultLogger(),
		workers: 4,
		grace:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LifecycleProcessor{
		registry: registry,
		log:      cfg.logger.WithComponent("lifecycle"),
		exec:     newExecutor(cfg.workers, cfg.grace),
	}
}

// InvokeConstruct runs the construct callbacks for instance, base types
// before the concrete type, ascending priority within each. Fail-fast: the
// first error (or recovered panic) skips the remaining callbacks and
// returns a ConstructionError; the instance must not be used. On success
// the instance joins the reload registry when its type declares reload
// callbacks.
func (p *LifecycleProcessor) InvokeConstruct(instance interface{}) error {
	if instance == nil {
		return &NilInstanceError{Op: "InvokeConstruct"}
	}
	for _, cb := range p.callbacksFor(kindConstruct, instance) {
		if err := safeInvoke(cb, instance); err != nil {
			return &ConstructionError{Type: instanceType(instance), Callback: cb.name, Err: err}
		}
	}
	if len(p.callbacksFor(kindReload, instance)) > 0 {
		p.reloadTargets.Store(instance, struct{}{})
	}
	return nil
}

// InvokeDestroy removes instance from the reload registry and runs its
// destroy callbacks, concrete type before base types, descending priority
// within each. Fail-soft: every failure, timeout and panic is logged and
// the sequence continues; the joined errors are returned so scope teardown
// can surface them. Callbacks with a timeout run on the executor and are
// disowned on expiry.
func (p *LifecycleProcessor) InvokeDestroy(instance interface{}) error {
	if instance == nil {
		return &NilInstanceError{Op: "InvokeDestroy"}
	}
	p.reloadTargets.Delete(instance)

	var errs []error
	for _, cb := range p.callbacksFor(kindDestroy, instance) {
		var err error
		if cb.timeout > 0 {
			err = p.invokeWithTimeout(cb, instance)
		} else {
			err = safeInvoke(cb, instance)
		}
		if err != nil {
			p.log.Error("destroy callback failed",
				"type", instanceType(instance),
				"callback", cb.name,
				"error", err.Error(),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *LifecycleProcessor) invokeWithTimeout(cb boundCallback, instance interface{}) error {
	done, ok := p.exec.submit(func() error { return safeInvoke(cb, instance) })
	if !ok {
		// Executor already shut down; run inline rather than skip cleanup.
		return safeInvoke(cb, instance)
	}
	select {
	case err := <-done:
		return err
	case <-time.After(cb.timeout):
		return &DestroyTimeoutError{Type: instanceType(instance), Callback: cb.name, Timeout: cb.timeout}
	}
}

// InvokeOnReload runs every reload callback of instance, ascending
// priority, registration order within a level. Fail-soft; callbacks marked
// Async are submitted to the executor and not awaited.
func (p *LifecycleProcessor) InvokeOnReload(instance interface{}) {
	if instance == nil {
		return
	}
	p.invokeReload(instance, nil)
}

// invokeReload runs the reload callbacks selected by changed. A nil set
// selects every callback.
func (p *LifecycleProcessor) invokeReload(instance interface{}, changed map[string]struct{}) {
	for _, cb := range p.callbacksFor(kindReload, instance) {
		if changed != nil && !cb.watches(changed) {
			continue
		}
		if cb.async {
			cb := cb
			dispatched := p.exec.dispatch(func() {
				p.logReloadFailure(cb, instance, safeInvoke(cb, instance))
			})
			if !dispatched {
				p.log.Warn("async reload dropped, executor is shut down",
					"type", instanceType(instance),
					"callback", cb.name,
				)
			}
			continue
		}
		p.logReloadFailure(cb, instance, safeInvoke(cb, instance))
	}
}

func (p *LifecycleProcessor) logReloadFailure(cb boundCallback, instance interface{}, err error) {
	if err == nil {
		return
	}
	p.log.Error("reload callback failed",
		"type", instanceType(instance),
		"callback", cb.name,
		"error", err.Error(),
	)
}

// TriggerReload invokes reload callbacks on a snapshot of the registry.
// With no arguments every callback of every target fires. With changed
// keys only the callbacks whose watch set is empty or intersects the keys
// fire, so unrelated services are not disturbed by unrelated configuration
// changes. Errors are isolated per callback and logged.
func (p *LifecycleProcessor) TriggerReload(changedKeys ...string) {
	var changed map[string]struct{}
	if len(changedKeys) > 0 {
		changed = make(map[string]struct{}, len(changedKeys))
		for _, k := range changedKeys {
			changed[k] = struct{}{}
		}
	}
	for _, target := range p.reloadSnapshot() {
		p.invokeReload(target, changed)
	}
}

func (p *LifecycleProcessor) reloadSnapshot() []interface{} {
	var targets []interface{}
	p.reloadTargets.Range(func(k, _ interface{}) bool {
		targets = append(targets, k)
		return true
	})
	return targets
}

// RegisterForReload adds instance to the reload registry, for callers that
// construct instances without going through InvokeConstruct.
func (p *LifecycleProcessor) RegisterForReload(instance interface{}) {
	if instance == nil {
		return
	}
	p.reloadTargets.Store(instance, struct{}{})
}

// UnregisterFromReload removes instance from the reload registry. Callers
// that evict an instance from a store without running InvokeDestroy must
// call this themselves, or the registry keeps the instance alive forever.
func (p *LifecycleProcessor) UnregisterFromReload(instance interface{}) {
	if instance == nil {
		return
	}
	p.reloadTargets.Delete(instance)
}

// IsRegisteredForReload reports whether instance is a live reload target.
func (p *LifecycleProcessor) IsRegisteredForReload(instance interface{}) bool {
	_, ok := p.reloadTargets.Load(instance)
	return ok
}

// Shutdown stops accepting async work, waits up to the grace period for
// in-flight callbacks, then abandons them and clears the discovery caches
// and the reload registry. Returns a ShutdownError when callbacks were
// abandoned. The processor must not be used afterwards.
func (p *LifecycleProcessor) Shutdown() error {
	pending := p.exec.shutdown()
	p.constructCache.Clear()
	p.destroyCache.Clear()
	p.reloadCache.Clear()
	p.reloadTargets.Clear()
	if pending > 0 {
		p.log.Warn("abandoning async callbacks at shutdown", "pending", pending)
		return &ShutdownError{Pending: pending}
	}
	return nil
}

// callbacksFor returns the cached ordered callback list for the instance's
// concrete type, computing it on first use.
func (p *LifecycleProcessor) callbacksFor(kind callbackKind, instance interface{}) []boundCallback {
	t := reflect.TypeOf(instance)
	cache := p.cacheFor(kind)
	if cached, ok := cache.Load(t); ok {
		return cached.([]boundCallback)
	}
	discovered := p.registry.discover(kind, t)
	cached, _ := cache.LoadOrStore(t, discovered)
	return cached.([]boundCallback)
}

func (p *LifecycleProcessor) cacheFor(kind callbackKind) *sync.Map {
	switch kind {
	case kindConstruct:
		return &p.constructCache
	case kindDestroy:
		return &p.destroyCache
	default:
		return &p.reloadCache
	}
}

// safeInvoke runs one callback, converting a panic into an error so a
// broken callback cannot take the whole teardown or reload down with it.
func safeInvoke(cb boundCallback, instance interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackPanicError{Type: instanceType(instance), Callback: cb.name, Value: r}
		}
	}()
	return cb.invoke(instance)
}

func instanceType(instance interface{}) string {
	return typeName(reflect.TypeOf(instance))
}

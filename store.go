package scopes

import "sync"

// ContextID identifies one scope instance: a session id, a world name, a
// module name. Opaque to the store.
type ContextID string

// Kind names a scope store. All stores behave identically; the kind only
// distinguishes how context ids are produced and shows up in errors and
// logs.
type Kind string

// Available scope kinds
const (
	// KindSession caches one instance per connected session
	KindSession Kind = "session"
	// KindWorld caches one instance per loaded world
	KindWorld Kind = "world"
	// KindModule caches one instance per installed module
	KindModule Kind = "module"
)

// Factory produces the instance cached for a (context, key) pair. The
// injection container supplies one at Resolve time.
type Factory func() (interface{}, error)

// instanceSlot is the unit of exactly-once creation. Each slot carries its
// own mutex so a factory may resolve other keys in the same context
// without deadlocking; only first access to the same slot serializes.
type instanceSlot struct {
	mu    sync.Mutex
	done  bool
	value interface{}
}

type contextEntry struct {
	slots sync.Map // ServiceKey -> *instanceSlot
}

// ScopeStore caches at most one instance per (context, key) pair and
// tracks which context each goroutine is currently inside. An instance
// created under one goroutine's context may legitimately be retrieved by
// another goroutine later; the store synchronizes its cache, thread-safety
// of the instances themselves is the caller's responsibility.
type ScopeStore struct {
	kind     Kind
	contexts sync.Map // ContextID -> *contextEntry
	current  sync.Map // goroutine id (int64) -> ContextID
}

// NewScopeStore creates an empty store for the given scope kind.
func NewScopeStore(kind Kind) *ScopeStore {
	return &ScopeStore{kind: kind}
}

// Kind returns the scope kind this store implements.
func (s *ScopeStore) Kind() Kind {
	return s.kind
}

// EnterScope marks the calling goroutine as inside the given context.
// Entering is not reentrant: a goroutine already inside a context of this
// kind must LeaveScope before entering another.
func (s *ScopeStore) EnterScope(id ContextID) error {
	if cur, loaded := s.current.LoadOrStore(goid(), id); loaded {
		return &AlreadyInScopeError{Kind: s.kind, Current: cur.(ContextID)}
	}
	return nil
}

// LeaveScope clears the calling goroutine's current context. Cached
// instances are untouched. No-op when not in scope.
func (s *ScopeStore) LeaveScope() {
	s.current.Delete(goid())
}

// CurrentContext returns the context the calling goroutine is inside, if
// any. The current context does not propagate to spawned goroutines;
// workers must EnterScope themselves.
func (s *ScopeStore) CurrentContext() (ContextID, bool) {
	v, ok := s.current.Load(goid())
	if !ok {
		return "", false
	}
	return v.(ContextID), true
}

// IsInScope reports whether the calling goroutine is inside id.
func (s *ScopeStore) IsInScope(id ContextID) bool {
	cur, ok := s.CurrentContext()
	return ok && cur == id
}

// ActiveContexts returns the context ids that currently hold cached
// instances. Safe from any goroutine.
func (s *ScopeStore) ActiveContexts() []ContextID {
	var ids []ContextID
	s.contexts.Range(func(k, _ interface{}) bool {
		ids = append(ids, k.(ContextID))
		return true
	})
	return ids
}

// Resolve returns the instance cached for (current context, key), invoking
// factory exactly once to create it. Concurrent first accesses race to one
// creation and every caller observes the same instance. A factory error
// caches nothing, so a later Resolve for the same key retries.
func (s *ScopeStore) Resolve(key ServiceKey, factory Factory) (interface{}, error) {
	id, ok := s.CurrentContext()
	if !ok {
		return nil, &OutOfScopeError{Kind: s.kind}
	}
	entry := s.entryFor(id)
	slotIface, _ := entry.slots.LoadOrStore(key, &instanceSlot{})
	slot := slotIface.(*instanceSlot)

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.done {
		return slot.value, nil
	}
	value, err := factory()
	if err != nil {
		// The empty slot stays mapped: waiters parked on its mutex and
		// later callers all retry on this same slot, never on a second one.
		return nil, &FactoryError{Key: key, Err: err}
	}
	slot.value = value
	slot.done = true
	return value, nil
}

func (s *ScopeStore) entryFor(id ContextID) *contextEntry {
	if e, ok := s.contexts.Load(id); ok {
		return e.(*contextEntry)
	}
	e, _ := s.contexts.LoadOrStore(id, &contextEntry{})
	return e.(*contextEntry)
}

// ExitScope atomically removes and returns every instance cached under id.
// This is the sole eviction path; callers are expected to run destroy
// callbacks on the returned instances. The calling goroutine's current
// context is cleared when it is scoped to id. Callers must not resolve and
// exit the same context concurrently from different call sites.
func (s *ScopeStore) ExitScope(id ContextID) map[ServiceKey]interface{} {
	if s.IsInScope(id) {
		s.LeaveScope()
	}
	e, ok := s.contexts.LoadAndDelete(id)
	if !ok {
		return nil
	}
	entry := e.(*contextEntry)
	evicted := make(map[ServiceKey]interface{})
	entry.slots.Range(func(k, v interface{}) bool {
		slot := v.(*instanceSlot)
		slot.mu.Lock()
		if slot.done {
			evicted[k.(ServiceKey)] = slot.value
		}
		slot.mu.Unlock()
		return true
	})
	return evicted
}

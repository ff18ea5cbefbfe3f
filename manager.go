package scopes

// ScopeManager composes the three scope stores and the lifecycle processor
// behind enter and destroy operations keyed by scope kind. Request glue
// drives it: "player connected" calls EnterSession, "player disconnected"
// calls DestroySession.
type ScopeManager struct {
	session *ScopeStore
	world   *ScopeStore
	module  *ScopeStore
	proc    *LifecycleProcessor
	log     Logger
}

// ManagerOption configures a ScopeManager.
type ManagerOption func(*ScopeManager)

// WithManagerLogger replaces the default slog-backed logger.
func WithManagerLogger(l Logger) ManagerOption {
	return func(m *ScopeManager) {
		m.log = l.WithComponent("scope-manager")
	}
}

// NewScopeManager creates a manager owning one store per scope kind. The
// processor runs destroy callbacks on instances evicted by Destroy*.
func NewScopeManager(proc *LifecycleProcessor, opts ...ManagerOption) *ScopeManager {
	m := &ScopeManager{
		session: NewScopeStore(KindSession),
		world:   NewScopeStore(KindWorld),
		module:  NewScopeStore(KindModule),
		proc:    proc,
		log:     defaultLogger().WithComponent("scope-manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the session-scope store, for containers that bind it
// directly and for instance inspection during teardown.
func (m *ScopeManager) Session() *ScopeStore {
	return m.session
}

// World returns the world-scope store.
func (m *ScopeManager) World() *ScopeStore {
	return m.world
}

// Module returns the module-scope store.
func (m *ScopeManager) Module() *ScopeStore {
	return m.module
}

// Store returns the store for the given kind, or nil for unknown kinds.
func (m *ScopeManager) Store(kind Kind) *ScopeStore {
	switch kind {
	case KindSession:
		return m.session
	case KindWorld:
		return m.world
	case KindModule:
		return m.module
	default:
		return nil
	}
}

// Processor returns the lifecycle processor the manager was built with.
func (m *ScopeManager) Processor() *LifecycleProcessor {
	return m.proc
}

// EnterSession enters the session scope for id on the calling goroutine.
func (m *ScopeManager) EnterSession(id ContextID) (*ScopeHandle, error) {
	return m.enter(m.session, id)
}

// EnterWorld enters the world scope for id on the calling goroutine.
func (m *ScopeManager) EnterWorld(id ContextID) (*ScopeHandle, error) {
	return m.enter(m.world, id)
}

// EnterModule enters the module scope for id on the calling goroutine.
func (m *ScopeManager) EnterModule(id ContextID) (*ScopeHandle, error) {
	return m.enter(m.module, id)
}

func (m *ScopeManager) enter(store *ScopeStore, id ContextID) (*ScopeHandle, error) {
	if err := store.EnterScope(id); err != nil {
		return nil, err
	}
	return &ScopeHandle{store: store, id: id}, nil
}

// DestroySession evicts every instance cached under the session id and
// runs destroy callbacks on each.
func (m *ScopeManager) DestroySession(id ContextID) error {
	return m.destroy(m.session, id)
}

// DestroyWorld evicts every instance cached under the world id and runs
// destroy callbacks on each.
func (m *ScopeManager) DestroyWorld(id ContextID) error {
	return m.destroy(m.world, id)
}

// DestroyModule evicts every instance cached under the module id and runs
// destroy callbacks on each.
func (m *ScopeManager) DestroyModule(id ContextID) error {
	return m.destroy(m.module, id)
}

// destroy drains the store and hands each instance to the processor. One
// failing instance never blocks cleanup of the rest; failures are logged
// and the last one is returned.
func (m *ScopeManager) destroy(store *ScopeStore, id ContextID) error {
	var lastErr error
	for key, instance := range store.ExitScope(id) {
		if err := m.proc.InvokeDestroy(instance); err != nil {
			m.log.Error("destroy failed during scope teardown",
				"kind", store.Kind(),
				"context", id,
				"key", key.String(),
				"error", err.Error(),
			)
			lastErr = err
		}
	}
	return lastErr
}

package scopes

import "sync"

// ScopeHandle is returned by ScopeManager.Enter*. Close leaves the scope
// exactly once however the caller's control flow exits, so the usual
// pattern is:
//
//	handle, err := manager.EnterSession("P1")
//	if err != nil {
//		return err
//	}
//	defer handle.Close()
type ScopeHandle struct {
	store *ScopeStore
	id    ContextID
	once  sync.Once
}

// Close leaves the scope on the goroutine that entered it. Idempotent.
// Cached instances survive; eviction happens through Destroy*.
func (h *ScopeHandle) Close() {
	h.once.Do(h.store.LeaveScope)
}

// ID returns the context this handle entered.
func (h *ScopeHandle) ID() ContextID {
	return h.id
}

// Kind returns the scope kind this handle entered.
func (h *ScopeHandle) Kind() Kind {
	return h.store.Kind()
}

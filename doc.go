// Package scopes implements the scope and lifecycle layer a dependency
// injection container delegates to: keyed instance caches with
// goroutine-local current-context tracking (ScopeStore), a facade composing
// the session, world and module scopes (ScopeManager), and a processor that
// discovers, orders and invokes construct, destroy and reload callbacks on
// managed instances (LifecycleProcessor).
//
// The package is not a container. It resolves no bindings and injects no
// constructors; the surrounding container supplies a factory per
// (ServiceKey, ContextID) at Resolve time and calls InvokeConstruct after
// it builds an object. Request-lifecycle glue drives the scopes: a session
// begins with EnterSession and ends with DestroySession, which evicts every
// instance cached under that session and runs their destroy callbacks
// best-effort.
//
// Construction is fail-fast: the first failing construct callback aborts
// the rest and surfaces to the container. Destruction and reload are
// fail-soft: failures are logged and the remaining callbacks still run, so
// one broken resource cannot wedge a teardown or an admin-triggered reload.
package scopes

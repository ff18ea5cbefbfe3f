package scopes

import (
	"fmt"
	"time"
)

// OutOfScopeError represents a Resolve call on a goroutine with no current
// context for the store's scope kind.
type OutOfScopeError struct {
	Kind Kind
}

func (e *OutOfScopeError) Error() string {
	return fmt.Sprintf("no active %s scope on the calling goroutine", e.Kind)
}

// AlreadyInScopeError represents a reentrant EnterScope: the calling
// goroutine is already inside a context of this scope kind.
type AlreadyInScopeError struct {
	Kind    Kind
	Current ContextID
}

func (e *AlreadyInScopeError) Error() string {
	return fmt.Sprintf("goroutine is already inside %s scope %q", e.Kind, e.Current)
}

// FactoryError represents a failed instance factory. Nothing is cached, so
// a later Resolve for the same key retries.
type FactoryError struct {
	Key ServiceKey
	Err error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("factory failed for key %s: %v", e.Key, e.Err)
}

func (e *FactoryError) Unwrap() error {
	return e.Err
}

// NilInstanceError represents a nil instance handed to a lifecycle
// operation, or a nil embedded pointer reached during callback dispatch.
type NilInstanceError struct {
	Op string
}

func (e *NilInstanceError) Error() string {
	return fmt.Sprintf("nil instance in %s", e.Op)
}

// ConstructionError represents a failed construct callback. The remaining
// construct callbacks were skipped and the instance must not be used.
type ConstructionError struct {
	Type     string
	Callback string
	Err      error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct callback %s failed for type %s: %v", e.Callback, e.Type, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// DestroyTimeoutError represents a destroy callback that exceeded its
// configured timeout. The callback goroutine is disowned, not interrupted;
// the destroy sequence has already moved on.
type DestroyTimeoutError struct {
	Type     string
	Callback string
	Timeout  time.Duration
}

func (e *DestroyTimeoutError) Error() string {
	return fmt.Sprintf("destroy callback %s timed out after %s for type %s", e.Callback, e.Timeout, e.Type)
}

// CallbackPanicError represents a panic recovered from a lifecycle
// callback.
type CallbackPanicError struct {
	Type     string
	Callback string
	Value    interface{}
}

func (e *CallbackPanicError) Error() string {
	return fmt.Sprintf("callback %s panicked for type %s: %v", e.Callback, e.Type, e.Value)
}

// ShutdownError represents async callbacks abandoned because the processor
// shut down before they finished within the grace period.
type ShutdownError struct {
	Pending int
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("lifecycle executor shut down with %d callbacks still running", e.Pending)
}

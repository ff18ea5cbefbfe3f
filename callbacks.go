package scopes

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Constructible is the interface shorthand for a construct callback. Types
// implementing it need no registry entry; OnConstruct is discovered as a
// priority-0 callback declared at the concrete type.
type Constructible interface {
	OnConstruct() error
}

// Destroyable is the interface shorthand for a destroy callback. The
// discovered callback runs synchronously with no timeout; register through
// OnDestroy with WithTimeout when the cleanup can hang.
type Destroyable interface {
	OnDestroy() error
}

// Reloadable is the interface shorthand for a reload callback. The
// discovered callback is synchronous and watches every key; register
// through OnReload for Async or WatchKeys markers.
type Reloadable interface {
	OnReload() error
}

var (
	constructibleType = reflect.TypeOf((*Constructible)(nil)).Elem()
	destroyableType   = reflect.TypeOf((*Destroyable)(nil)).Elem()
	reloadableType    = reflect.TypeOf((*Reloadable)(nil)).Elem()
)

// callbackKind indexes the three independent discovery caches; ordering
// rules differ per kind.
type callbackKind int

const (
	kindConstruct callbackKind = iota
	kindDestroy
	kindReload
)

func (k callbackKind) String() string {
	switch k {
	case kindConstruct:
		return "construct"
	case kindDestroy:
		return "destroy"
	default:
		return "reload"
	}
}

// callback is one registered (or interface-discovered) lifecycle method
// together with its markers. Pure data; binding to a concrete type happens
// at discovery time.
type callback struct {
	name      string
	priority  int
	timeout   time.Duration // destroy only; zero runs synchronously, unbounded
	async     bool          // reload only
	watchKeys []string      // reload only; empty watches every key
	seq       int           // registration order, tiebreaker within a priority
	fn        func(interface{}) error
}

// watches reports whether the callback fires for the given changed keys.
// An empty watch set fires for any change.
func (c *callback) watches(changed map[string]struct{}) bool {
	if len(c.watchKeys) == 0 {
		return true
	}
	for _, k := range c.watchKeys {
		if _, ok := changed[k]; ok {
			return true
		}
	}
	return false
}

// boundCallback is a callback resolved against a concrete type: invoke
// navigates from the instance to the embedded level the callback was
// registered at.
type boundCallback struct {
	*callback
	invoke func(interface{}) error
}

// CallbackOption attaches marker data to a registered callback.
type CallbackOption func(*callback)

// WithName names the callback in logs and errors. Unnamed callbacks get a
// kind-plus-sequence name.
func WithName(name string) CallbackOption {
	return func(c *callback) {
		c.name = name
	}
}

// WithPriority orders callbacks declared at the same type level. Construct
// and reload run ascending; destroy runs descending, so higher priority
// runs first during teardown.
func WithPriority(p int) CallbackOption {
	return func(c *callback) {
		c.priority = p
	}
}

// WithTimeout bounds a destroy callback: it runs on the async executor and
// the destroy sequence waits up to d before logging and moving on. The
// expired callback goroutine is disowned, not interrupted. Ignored for
// construct and reload callbacks.
func WithTimeout(d time.Duration) CallbackOption {
	return func(c *callback) {
		c.timeout = d
	}
}

// Async marks a reload callback fire-and-forget: it is submitted to the
// executor and not awaited. Ignored for construct and destroy callbacks.
func Async() CallbackOption {
	return func(c *callback) {
		c.async = true
	}
}

// WatchKeys restricts a reload callback to the given configuration keys:
// TriggerReload with changed keys skips it unless one of them matches. A
// callback with no watch keys fires on every reload. Ignored for construct
// and destroy callbacks.
func WatchKeys(keys ...string) CallbackOption {
	return func(c *callback) {
		c.watchKeys = keys
	}
}

// CallbackRegistry is the registration table mapping types to lifecycle
// callbacks. Register everything at startup, before the processor first
// touches an instance of the type: discovery results are cached per
// concrete type for the process lifetime and never recomputed.
type CallbackRegistry struct {
	mu        sync.RWMutex
	construct map[reflect.Type][]*callback
	destroy   map[reflect.Type][]*callback
	reload    map[reflect.Type][]*callback
	seq       int
}

// NewCallbackRegistry creates an empty registration table.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		construct: make(map[reflect.Type][]*callback),
		destroy:   make(map[reflect.Type][]*callback),
		reload:    make(map[reflect.Type][]*callback),
	}
}

// OnConstruct registers fn as a construct callback for T. Register T as
// the type instances are handed to the processor as (usually a pointer);
// callbacks registered for an embedded type run against that embedded
// field, before the outer type's own callbacks.
func OnConstruct[T any](r *CallbackRegistry, fn func(T) error, opts ...CallbackOption) {
	r.register(kindConstruct, typeOf[T](), wrapTyped(fn), opts)
}

// OnDestroy registers fn as a destroy callback for T.
func OnDestroy[T any](r *CallbackRegistry, fn func(T) error, opts ...CallbackOption) {
	r.register(kindDestroy, typeOf[T](), wrapTyped(fn), opts)
}

// OnReload registers fn as a reload callback for T.
func OnReload[T any](r *CallbackRegistry, fn func(T) error, opts ...CallbackOption) {
	r.register(kindReload, typeOf[T](), wrapTyped(fn), opts)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func wrapTyped[T any](fn func(T) error) func(interface{}) error {
	return func(instance interface{}) error {
		typed, ok := instance.(T)
		if !ok {
			return fmt.Errorf("callback bound to %s received %T", typeName(typeOf[T]()), instance)
		}
		return fn(typed)
	}
}

func (r *CallbackRegistry) register(kind callbackKind, t reflect.Type, fn func(interface{}) error, opts []CallbackOption) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb := &callback{fn: fn, seq: r.seq}
	r.seq++
	for _, opt := range opts {
		opt(cb)
	}
	if cb.name == "" {
		cb.name = fmt.Sprintf("%s#%d", kind, cb.seq)
	}

	// Drop markers that do not apply to this kind.
	switch kind {
	case kindConstruct:
		cb.timeout, cb.async, cb.watchKeys = 0, false, nil
		r.construct[t] = append(r.construct[t], cb)
	case kindDestroy:
		cb.async, cb.watchKeys = false, nil
		r.destroy[t] = append(r.destroy[t], cb)
	case kindReload:
		cb.timeout = 0
		r.reload[t] = append(r.reload[t], cb)
	}
}

func (r *CallbackRegistry) table(kind callbackKind) map[reflect.Type][]*callback {
	switch kind {
	case kindConstruct:
		return r.construct
	case kindDestroy:
		return r.destroy
	default:
		return r.reload
	}
}

// level is one step of a concrete type's embedding chain: the struct type
// declared at that step and the field index path leading to it from the
// outermost struct. The outermost struct itself has a nil path.
type level struct {
	path []int
	typ  reflect.Type
}

// collectLevels walks anonymous embedded structs depth-first, innermost
// first, so the returned slice is ordered base to concrete. The embedding
// chain is the Go analog of a class hierarchy: construct callbacks run
// base-first, destroy callbacks concrete-first.
func collectLevels(st reflect.Type, path []int) []level {
	var out []level
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() != reflect.Struct {
			continue
		}
		sub := append(append([]int(nil), path...), i)
		out = append(out, collectLevels(ft, sub)...)
	}
	return append(out, level{path: path, typ: st})
}

// discover computes the ordered callback list of the given kind for a
// concrete instance type. Called once per (kind, type); the processor
// caches the result.
func (r *CallbackRegistry) discover(kind callbackKind, t reflect.Type) []boundCallback {
	r.mu.RLock()
	defer r.mu.RUnlock()

	levels := []level{{typ: t}}
	st := t
	for st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() == reflect.Struct {
		levels = collectLevels(st, nil)
	}
	if kind == kindDestroy {
		for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
			levels[i], levels[j] = levels[j], levels[i]
		}
	}

	table := r.table(kind)
	var out []boundCallback
	for _, lvl := range levels {
		cbs := r.levelCallbacks(table, t, lvl)
		if lvl.path == nil {
			if shorthand := interfaceCallback(kind, t); shorthand != nil {
				cbs = append(cbs, boundCallback{callback: shorthand, invoke: shorthand.fn})
			}
		}
		sortLevel(kind, cbs)
		out = append(out, cbs...)
	}
	return out
}

// levelCallbacks binds the callbacks registered for a level's struct type,
// under both the value and pointer forms.
func (r *CallbackRegistry) levelCallbacks(table map[reflect.Type][]*callback, concrete reflect.Type, lvl level) []boundCallback {
	var out []boundCallback
	for _, regType := range []reflect.Type{lvl.typ, reflect.PointerTo(lvl.typ)} {
		for _, cb := range table[regType] {
			out = append(out, bind(cb, concrete, regType, lvl.path))
		}
	}
	return out
}

// bind resolves a registered callback against a concrete type by capturing
// the navigation from the instance to the registration level.
func bind(cb *callback, concrete, regType reflect.Type, path []int) boundCallback {
	if path == nil && concrete == regType {
		return boundCallback{callback: cb, invoke: cb.fn}
	}
	invoke := func(instance interface{}) error {
		target, err := fieldTarget(instance, cb.name, path, regType)
		if err != nil {
			return err
		}
		return cb.fn(target)
	}
	return boundCallback{callback: cb, invoke: invoke}
}

// fieldTarget navigates from a concrete instance to the embedded struct a
// callback was registered at and presents it as the registration type.
func fieldTarget(instance interface{}, name string, path []int, regType reflect.Type) (interface{}, error) {
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, &NilInstanceError{Op: name}
		}
		v = v.Elem()
	}
	for _, i := range path {
		v = v.Field(i)
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return nil, &NilInstanceError{Op: name}
			}
			v = v.Elem()
		}
	}
	if regType.Kind() == reflect.Pointer {
		if !v.CanAddr() {
			return nil, fmt.Errorf("callback %s needs a pointer instance to address %s", name, typeName(regType))
		}
		return v.Addr().Interface(), nil
	}
	return v.Interface(), nil
}

// interfaceCallback returns the shorthand callback when the concrete type
// implements the kind's lifecycle interface. Promoted methods surface once,
// at the concrete type, like any other Go method set member.
func interfaceCallback(kind callbackKind, t reflect.Type) *callback {
	switch kind {
	case kindConstruct:
		if t.Implements(constructibleType) {
			return &callback{
				name: "OnConstruct",
				seq:  -1,
				fn: func(instance interface{}) error {
					return instance.(Constructible).OnConstruct()
				},
			}
		}
	case kindDestroy:
		if t.Implements(destroyableType) {
			return &callback{
				name: "OnDestroy",
				seq:  -1,
				fn: func(instance interface{}) error {
					return instance.(Destroyable).OnDestroy()
				},
			}
		}
	case kindReload:
		if t.Implements(reloadableType) {
			return &callback{
				name: "OnReload",
				seq:  -1,
				fn: func(instance interface{}) error {
					return instance.(Reloadable).OnReload()
				},
			}
		}
	}
	return nil
}

// sortLevel orders the callbacks declared at one level: ascending priority
// for construct and reload, descending for destroy, registration order
// breaking ties. Deterministic for a given registry, never input-dependent.
func sortLevel(kind callbackKind, cbs []boundCallback) {
	sort.SliceStable(cbs, func(i, j int) bool {
		a, b := cbs[i], cbs[j]
		if a.priority != b.priority {
			if kind == kindDestroy {
				return a.priority > b.priority
			}
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})
}

package scopes

import (
	"reflect"
	"sync"
)

// typeNameCache memoizes reflect.Type to string conversions; key derivation
// sits on the hot path of every Resolve call.
var typeNameCache sync.Map

// ServiceKey identifies a bindable service: a type identifier plus an
// optional qualifier. Value-equal and usable as a map key; the same key
// resolves to different instances under different contexts.
type ServiceKey struct {
	Type      string
	Qualifier string
}

// NewServiceKey builds a key from an explicit type identifier, for callers
// that do not know the Go type at compile time.
func NewServiceKey(typeID, qualifier string) ServiceKey {
	return ServiceKey{Type: typeID, Qualifier: qualifier}
}

// KeyFor derives a ServiceKey from the type parameter. At most one
// qualifier may be given to distinguish multiple bindings of the same type.
func KeyFor[T any](qualifier ...string) ServiceKey {
	t := reflect.TypeOf((*T)(nil)).Elem()
	var q string
	if len(qualifier) > 0 {
		q = qualifier[0]
	}
	return ServiceKey{Type: typeName(t), Qualifier: q}
}

func typeName(t reflect.Type) string {
	if cached, ok := typeNameCache.Load(t); ok {
		return cached.(string)
	}
	s := t.String()
	typeNameCache.Store(t, s)
	return s
}

func (k ServiceKey) String() string {
	if k.Qualifier == "" {
		return k.Type
	}
	return k.Type + ":" + k.Qualifier
}

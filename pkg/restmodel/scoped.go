package restmodel

import (
	"sync"
	"sync/atomic"
)

// Scope isolates class-level configuration between concurrent callers, the
// way per-thread configuration isolates tenants in a threaded server. The
// zero scope is the main scope; NewScope mints an independent one.
type Scope uint64

// MainScope is the default scope used by Class methods.
const MainScope Scope = 0

var scopeCounter atomic.Uint64

// NewScope returns a fresh scope token.
func NewScope() Scope {
	return Scope(scopeCounter.Add(1))
}

// scopedValue is an owned-state container per (class, scope) pair. A value
// read from a scope where it was never set lazily copies the main scope's
// value into that scope, then diverges independently; the first Set from any
// scope also seeds the main scope so new scopes inherit a sane default.
type scopedValue[T any] struct {
	mu       sync.Mutex
	mainSet  bool
	main     T
	perScope map[Scope]T
	clone    func(T) T
}

func newScopedValue[T any](clone func(T) T) *scopedValue[T] {
	return &scopedValue[T]{clone: clone}
}

func (v *scopedValue[T]) Get(scope Scope) (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if scope == MainScope {
		return v.main, v.mainSet
	}

	if value, ok := v.perScope[scope]; ok {
		return value, true
	}

	if v.mainSet {
		copied := v.dup(v.main)
		if v.perScope == nil {
			v.perScope = make(map[Scope]T)
		}

		v.perScope[scope] = copied

		return copied, true
	}

	var zero T

	return zero, false
}

func (v *scopedValue[T]) Set(scope Scope, value T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if scope == MainScope {
		v.main = value
		v.mainSet = true

		return
	}

	if v.perScope == nil {
		v.perScope = make(map[Scope]T)
	}

	v.perScope[scope] = value

	if !v.mainSet {
		v.main = v.dup(value)
		v.mainSet = true
	}
}

func (v *scopedValue[T]) dup(value T) T {
	if v.clone == nil {
		return value
	}

	return v.clone(value)
}

func cloneStringMap(value map[string]string) map[string]string {
	if value == nil {
		return nil
	}

	copied := make(map[string]string, len(value))
	for key, val := range value {
		copied[key] = val
	}

	return copied
}

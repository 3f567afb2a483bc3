// Package syncx holds small lock wrappers shared by the route monitor and the server.
package syncx

import "sync"

// RWGuard keeps a value behind a RWMutex. All access goes through View and Modify
// so the lock can never be left held.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// View runs fn under the read lock and returns its result. fn must not retain
// references into the value.
func View[T, R any](g *RWGuard[T], fn func(T) R) R {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.value)
}

// Modify runs fn under the write lock and returns its result.
func Modify[T, R any](g *RWGuard[T], fn func(*T) R) R {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}

// Set is a concurrent set of comparable members.
type Set[K comparable] struct {
	g *RWGuard[map[K]struct{}]
}

// NewSet creates an empty set.
func NewSet[K comparable]() *Set[K] {
	return &Set[K]{g: NewGuard(make(map[K]struct{}))}
}

// Add inserts k and reports whether it was new.
func (s *Set[K]) Add(k K) bool {
	return Modify(s.g, func(m *map[K]struct{}) bool {
		if _, ok := (*m)[k]; ok {
			return false
		}
		(*m)[k] = struct{}{}
		return true
	})
}

// Remove deletes k and reports whether it was present.
func (s *Set[K]) Remove(k K) bool {
	return Modify(s.g, func(m *map[K]struct{}) bool {
		if _, ok := (*m)[k]; !ok {
			return false
		}
		delete(*m, k)
		return true
	})
}

// Len returns the member count.
func (s *Set[K]) Len() int {
	return View(s.g, func(m map[K]struct{}) int { return len(m) })
}

// Members returns a snapshot in no particular order. Callers may act on it
// without holding the lock.
func (s *Set[K]) Members() []K {
	return View(s.g, func(m map[K]struct{}) []K {
		out := make([]K, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		return out
	})
}

// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Set is a mutex-guarded set. The zero value is not usable; call NewSet.
type Set[K comparable] struct {
	mu    sync.RWMutex
	items map[K]struct{}
}

// NewSet creates an empty set.
func NewSet[K comparable]() *Set[K] {
	return &Set[K]{items: make(map[K]struct{})}
}

// Add inserts k and reports whether it was absent.
func (s *Set[K]) Add(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[k]; ok {
		return false
	}
	s.items[k] = struct{}{}
	return true
}

// Remove deletes k and reports whether it was present.
func (s *Set[K]) Remove(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[k]; !ok {
		return false
	}
	delete(s.items, k)
	return true
}

// Len returns the number of members.
func (s *Set[K]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Snapshot copies the members so callers can iterate without holding the
// lock. Order is unspecified.
func (s *Set[K]) Snapshot() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]K, 0, len(s.items))
	for k := range s.items {
		out = append(out, k)
	}
	return out
}

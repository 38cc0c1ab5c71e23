// Package history keeps a bounded, time-stamped record of recent events and
// a non-blocking feed of new ones.
package history

import (
	"sync"
	"time"
)

// Entry is one recorded value.
type Entry[T any] struct {
	At    time.Time
	Value T
}

// Store is a ring of the most recent entries plus an event channel.
type Store[T any] struct {
	mu       sync.RWMutex
	entries  []Entry[T]
	maxSize  int
	eventsCh chan T
	now      func() time.Time
}

// NewStore keeps up to maxEntries values and buffers eventBuffer events.
func NewStore[T any](maxEntries, eventBuffer int) *Store[T] {
	return &Store[T]{
		entries:  make([]Entry[T], 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan T, eventBuffer),
		now:      time.Now,
	}
}

// Add records v.
func (s *Store[T]) Add(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry[T]{At: s.now(), Value: v})
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

// Since returns values recorded within the last d, oldest first.
func (s *Store[T]) Since(d time.Duration) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-d)
	var out []T
	for _, e := range s.entries {
		if !e.At.Before(cutoff) {
			out = append(out, e.Value)
		}
	}
	return out
}

// Last returns the newest value.
func (s *Store[T]) Last() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		var zero T
		return zero, false
	}
	return s.entries[len(s.entries)-1].Value, true
}

// Len is the number of values held.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Events returns the channel new values are emitted on.
func (s *Store[T]) Events() <-chan T {
	return s.eventsCh
}

// Emit sends v to Events, dropping it when nobody keeps up.
func (s *Store[T]) Emit(v T) {
	select {
	case s.eventsCh <- v:
	default:
	}
}

// Entries returns a copy of everything held.
func (s *Store[T]) Entries() []Entry[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Entry[T], len(s.entries))
	copy(result, s.entries)
	return result
}

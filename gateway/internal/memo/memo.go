// Package memo provides a single-slot memoization cell for values that are
// expensive to compute and change rarely, such as key material derived from
// configuration.
package memo

import "sync/atomic"

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Slot remembers the value computed for the most recent key only. Concurrent
// callers may compute the same value more than once, but every reader
// observes a consistent key/value pair. The zero value is ready to use.
type Slot[K comparable, V any] struct {
	last atomic.Pointer[entry[K, V]]
}

// Get returns the value for key, calling compute only when key differs from
// the last successfully computed one. Errors are not memoized.
func (s *Slot[K, V]) Get(key K, compute func(K) (V, error)) (V, error) {
	if e := s.last.Load(); e != nil && e.key == key {
		return e.value, nil
	}

	v, err := compute(key)
	if err != nil {
		var zero V
		return zero, err
	}

	s.last.Store(&entry[K, V]{key: key, value: v})
	return v, nil
}

// Package kstate holds per-key operator state.
//
// Stores are process-local and not safe for concurrent use: each store is
// owned by exactly one operator, which is driven by exactly one loop
// goroutine. State is never persisted; it is rebuilt by replaying the input
// log.
package kstate

// Store maps a key to an operator-defined state value.
//
// Operations never fail. A missing key reports ok == false and the caller
// decides how to initialize the state.
type Store[K comparable, S any] interface {
	// Get returns the state for key, if any.
	Get(key K) (state S, ok bool)

	// Put replaces the state for key. Subsequent Gets observe it.
	Put(key K, state S)

	// Len returns the number of keys currently held.
	Len() int
}

// StoreBuilder creates an empty store. Operators call it once when they are
// built, so the store's lifetime is bound to the loop owning the operator.
type StoreBuilder[K comparable, S any] func() (Store[K, S], error)

// MapStore is an unbounded Store backed by a Go map. Keys are never evicted,
// so memory grows with the number of distinct keys seen since the process
// started.
type MapStore[K comparable, S any] struct {
	m map[K]S
}

// NewMapStore creates an empty MapStore.
func NewMapStore[K comparable, S any]() *MapStore[K, S] {
	return &MapStore[K, S]{m: make(map[K]S)}
}

func (s *MapStore[K, S]) Get(key K) (S, bool) {
	v, ok := s.m[key]
	return v, ok
}

func (s *MapStore[K, S]) Put(key K, state S) {
	s.m[key] = state
}

func (s *MapStore[K, S]) Len() int {
	return len(s.m)
}

// InMemory returns a StoreBuilder for unbounded MapStores.
func InMemory[K comparable, S any]() StoreBuilder[K, S] {
	return func() (Store[K, S], error) {
		return NewMapStore[K, S](), nil
	}
}

var _ Store[string, int] = (*MapStore[string, int])(nil)

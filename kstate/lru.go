package kstate

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// LRUStore is a Store bounded to a fixed number of keys. When full, Put
// evicts the key that was least recently read or written.
//
// Eviction is a behavior change for the operators built on top: a key whose
// state was evicted starts over as if it had never been seen. It is
// therefore opt-in.
type LRUStore[K comparable, S any] struct {
	cache *lru.LRU[K, S]
}

// NewLRUStore creates a store holding at most size keys. onEvict, if not
// nil, is called for every evicted key.
func NewLRUStore[K comparable, S any](size int, onEvict func(key K, state S)) (*LRUStore[K, S], error) {
	if size <= 0 {
		return nil, fmt.Errorf("kstate: lru size must be positive, got %d", size)
	}
	var cb lru.EvictCallback[K, S]
	if onEvict != nil {
		cb = func(key K, value S) { onEvict(key, value) }
	}
	cache, err := lru.NewLRU[K, S](size, cb)
	if err != nil {
		return nil, err
	}
	return &LRUStore[K, S]{cache: cache}, nil
}

func (s *LRUStore[K, S]) Get(key K) (S, bool) {
	return s.cache.Get(key)
}

func (s *LRUStore[K, S]) Put(key K, state S) {
	s.cache.Add(key, state)
}

func (s *LRUStore[K, S]) Len() int {
	return s.cache.Len()
}

// Bounded returns a StoreBuilder for LRUStores of the given size.
func Bounded[K comparable, S any](size int, onEvict func(key K, state S)) StoreBuilder[K, S] {
	return func() (Store[K, S], error) {
		s, err := NewLRUStore(size, onEvict)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

var _ Store[string, int] = (*LRUStore[string, int])(nil)

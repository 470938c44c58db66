package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vmihailenco/msgpack/v5"
)

// MemoryStore is a process-local LRU store. Entries are kept encoded so that
// callers can never mutate what another request will be served.
type MemoryStore struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryStore creates a store holding at most size entries, each expiring
// after ttl. A zero ttl keeps entries until evicted.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Match implements Store.
func (s *MemoryStore) Match(_ context.Context, key string) (*Entry, error) {
	b, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}

	e := new(Entry)
	if err := msgpack.Unmarshal(b, e); err != nil {
		s.lru.Remove(key)
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	return e, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, entry *Entry) error {
	b, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	s.lru.Add(key, b)
	return nil
}

// Len returns the number of cached entries.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}

// Package cache implements the edge cache for media responses: canonical key
// derivation, the in-memory and Redis backed stores, and the background
// writer that fills them without delaying clients.
package cache

import (
	"context"
	"errors"
	"net/http"

	"github.com/famgallery/mediagate/gateway/cache/internal/metrics"
)

// ErrCacheMiss is returned by Store.Match when no entry exists for a key.
var ErrCacheMiss = errors.New("cache miss")

// Entry is a cached origin response. Only successful responses are stored.
type Entry struct {
	StatusCode int         `msgpack:"status"`
	Header     http.Header `msgpack:"header"`
	Body       []byte      `msgpack:"body"`
}

// Size returns the number of body bytes held by the entry.
func (e *Entry) Size() int {
	return len(e.Body)
}

//go:generate mockgen -package mocks -destination mocks/store.go . Store

// Store is the shared edge cache.
type Store interface {
	// Match returns the entry cached under key, or ErrCacheMiss.
	Match(ctx context.Context, key string) (*Entry, error)
	// Put stores entry under key, replacing any previous entry.
	Put(ctx context.Context, key string, entry *Entry) error
}

// NoopStore never holds anything. It backs the "none" cache type.
type NoopStore struct{}

// Match implements Store.
func (NoopStore) Match(context.Context, string) (*Entry, error) {
	return nil, ErrCacheMiss
}

// Put implements Store.
func (NoopStore) Put(context.Context, string, *Entry) error {
	return nil
}

type instrumentedStore struct {
	Store
}

// Instrument wraps s so that every lookup is counted as a hit, miss or error.
func Instrument(s Store) Store {
	return &instrumentedStore{s}
}

func (s *instrumentedStore) Match(ctx context.Context, key string) (*Entry, error) {
	e, err := s.Store.Match(ctx, key)
	switch {
	case err == nil:
		metrics.Lookup(metrics.LookupHit)
	case errors.Is(err, ErrCacheMiss):
		metrics.Lookup(metrics.LookupMiss)
	default:
		metrics.Lookup(metrics.LookupError)
	}
	return e, err
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/opencontainers/go-digest"
	"github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 2 * time.Second

// RedisStore is a Store shared by all gateway instances. Entries are encoded
// with MessagePack.
type RedisStore struct {
	// cache provides access to the raw gocache interface
	cache *gocache.Cache[any]
	// marshaler provides access to a MessagePack backed marshaling interface
	marshaler *marshaler.Marshaler
	ttl       time.Duration
	opTimeout time.Duration
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration of stored entries. Zero means no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithOpTimeout bounds the duration of each Redis operation.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.opTimeout = d
	}
}

// NewRedisStore creates a store on top of client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromCache(gocache.New[any](redisstore.NewRedis(client)), opts...)
}

// NewRedisStoreFromCache creates a store on top of an existing gocache cache.
func NewRedisStoreFromCache(cache *gocache.Cache[any], opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		cache:     cache,
		marshaler: marshaler.New(cache),
		opTimeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// key generates the Redis key for a cache key. Cache keys are full URLs of
// unbounded length, so they are hashed.
func (s *RedisStore) key(cacheKey string) string {
	return fmt.Sprintf("mediagate:cache:{media:%s}", digest.FromString(cacheKey).Hex())
}

// Match implements Store.
func (s *RedisStore) Match(ctx context.Context, key string) (*Entry, error) {
	getCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	e := new(Entry)
	if _, err := s.marshaler.Get(getCtx, s.key(key), e); err != nil {
		// redis.Nil is returned when the key is not found in Redis
		var notFound *store.NotFound
		if errors.Is(err, redis.Nil) || errors.As(err, &notFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	return e, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, entry *Entry) error {
	setCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.marshaler.Set(setCtx, s.key(key), entry, store.WithExpiration(s.ttl)); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

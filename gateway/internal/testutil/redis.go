package testutil

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
)

// RedisServer start a new miniredis server and registers the cleanup after the test is done.
// See https://github.com/alicebob/miniredis.
func RedisServer(tb testing.TB) *miniredis.Miniredis {
	tb.Helper()

	return miniredis.RunT(tb)
}

// RedisClient gives back a client for srv that is closed when the test is done.
func RedisClient(tb testing.TB, srv *miniredis.Miniredis) redis.UniversalClient {
	tb.Helper()

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	tb.Cleanup(func() { _ = client.Close() })

	return client
}

// redisCache creates a new gocache cache based on Redis with a global TTL for
// cached objects (defaults to no TTL).
func redisCache(tb testing.TB, client redis.UniversalClient, ttl time.Duration) *gocache.Cache[any] {
	tb.Helper()

	s := redisstore.NewRedis(client, store.WithExpiration(ttl))
	return gocache.New[any](s)
}

// RedisCache creates a new gocache cache based on Redis using a new miniredis
// server and redis client. The server is returned so that tests can inspect
// keys or fast forward time.
func RedisCache(tb testing.TB, ttl time.Duration) (*gocache.Cache[any], *miniredis.Miniredis) {
	tb.Helper()

	srv := RedisServer(tb)
	return redisCache(tb, RedisClient(tb, srv), ttl), srv
}

// RedisCacheMock is similar to RedisCache but here we use a redismock client.
func RedisCacheMock(tb testing.TB, ttl time.Duration) (*gocache.Cache[any], redismock.ClientMock) {
	tb.Helper()

	client, mock := redismock.NewClientMock()

	return redisCache(tb, client, ttl), mock
}

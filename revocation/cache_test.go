package revocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type cacheHarness struct {
	cache   Cache
	advance func(time.Duration)
}

func cacheBackends(t *testing.T) map[string]func(t *testing.T) cacheHarness {
	return map[string]func(t *testing.T) cacheHarness{
		"memory": func(t *testing.T) cacheHarness {
			clock := newManualClock()
			return cacheHarness{cache: NewMemoryCache(clock.Now), advance: clock.Advance}
		},
		"redis": func(t *testing.T) cacheHarness {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return cacheHarness{cache: NewRedisCache(client, "test:"), advance: mr.FastForward}
		},
	}
}

func TestCacheBehavior(t *testing.T) {
	for name, build := range cacheBackends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("jti", func(t *testing.T) {
				h := build(t)
				ctx := context.Background()

				revoked, err := h.cache.IsJTIRevoked(ctx, "alice", "j1")
				require.NoError(t, err)
				assert.False(t, revoked)

				require.NoError(t, h.cache.AddRevokedJTI(ctx, "alice", "j1", time.Hour))
				require.NoError(t, h.cache.AddRevokedJTI(ctx, "alice", "j1", time.Hour))

				revoked, err = h.cache.IsJTIRevoked(ctx, "alice", "j1")
				require.NoError(t, err)
				assert.True(t, revoked)

				revoked, err = h.cache.IsJTIRevoked(ctx, "alice", "j2")
				require.NoError(t, err)
				assert.False(t, revoked)

				revoked, err = h.cache.IsJTIRevoked(ctx, "bob", "j1")
				require.NoError(t, err)
				assert.False(t, revoked)

				h.advance(time.Hour + time.Second)
				revoked, err = h.cache.IsJTIRevoked(ctx, "alice", "j1")
				require.NoError(t, err)
				assert.False(t, revoked)
			})

			t.Run("validity", func(t *testing.T) {
				h := build(t)
				ctx := context.Background()

				_, found, err := h.cache.RefreshValidity(ctx, "secret")
				require.NoError(t, err)
				assert.False(t, found)

				require.NoError(t, h.cache.SetRefreshValidity(ctx, "secret", true, time.Hour))
				valid, found, err := h.cache.RefreshValidity(ctx, "secret")
				require.NoError(t, err)
				assert.True(t, found)
				assert.True(t, valid)

				require.NoError(t, h.cache.SetRefreshValidity(ctx, "secret", false, time.Minute))
				valid, found, err = h.cache.RefreshValidity(ctx, "secret")
				require.NoError(t, err)
				assert.True(t, found)
				assert.False(t, valid)

				h.advance(time.Minute + time.Second)
				_, found, err = h.cache.RefreshValidity(ctx, "secret")
				require.NoError(t, err)
				assert.False(t, found)
			})
		})
	}
}

func TestRedisCacheNeverStoresRawSecret(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewRedisCache(client, "")

	require.NoError(t, c.SetRefreshValidity(context.Background(), "raw-secret", true, time.Hour))
	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "raw-secret")
		assert.Contains(t, key, "authcore:refresh_token:")
	}
}

func TestRedisCacheSurfacesConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := NewRedisCache(client, "")
	mr.Close()

	_, err := c.IsJTIRevoked(context.Background(), "alice", "j1")
	assert.Error(t, err)
	_, _, err = c.RefreshValidity(context.Background(), "secret")
	assert.Error(t, err)
}

func TestMemoryCacheSweep(t *testing.T) {
	clock := newManualClock()
	c := NewMemoryCache(clock.Now)
	ctx := context.Background()
	require.NoError(t, c.AddRevokedJTI(ctx, "alice", "j1", time.Minute))
	require.NoError(t, c.SetRefreshValidity(ctx, "s", true, time.Hour))

	clock.Advance(2 * time.Minute)
	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

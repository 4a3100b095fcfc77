package revocation

import (
	"context"
	"sync"
	"time"
)

// Cache is the fast layer in front of the authoritative revocation store.
// A miss must be reported as (false, nil) for JTIs and found == false for
// validity flags; callers fall back to the authoritative layer on miss or
// error.
type Cache interface {
	AddRevokedJTI(ctx context.Context, username, jti string, ttl time.Duration) error
	IsJTIRevoked(ctx context.Context, username, jti string) (bool, error)
	SetRefreshValidity(ctx context.Context, secret string, valid bool, ttl time.Duration) error
	RefreshValidity(ctx context.Context, secret string) (valid bool, found bool, err error)
	Close() error
}

type memoryJTI struct {
	username string
	jti      string
}

type memoryFlag struct {
	valid   bool
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	now func() time.Time

	mu       sync.RWMutex
	jtis     map[memoryJTI]time.Time
	validity map[string]memoryFlag
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty cache. A nil now uses time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		now:      now,
		jtis:     make(map[memoryJTI]time.Time),
		validity: make(map[string]memoryFlag),
	}
}

func (c *MemoryCache) AddRevokedJTI(_ context.Context, username, jti string, ttl time.Duration) error {
	key := memoryJTI{username: username, jti: jti}
	expires := c.now().Add(ttl)
	c.mu.Lock()
	if prev, ok := c.jtis[key]; !ok || prev.Before(expires) {
		c.jtis[key] = expires
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) IsJTIRevoked(_ context.Context, username, jti string) (bool, error) {
	c.mu.RLock()
	expires, ok := c.jtis[memoryJTI{username: username, jti: jti}]
	c.mu.RUnlock()
	return ok && c.now().Before(expires), nil
}

func (c *MemoryCache) SetRefreshValidity(_ context.Context, secret string, valid bool, ttl time.Duration) error {
	c.mu.Lock()
	c.validity[fingerprint(secret)] = memoryFlag{valid: valid, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) RefreshValidity(_ context.Context, secret string) (bool, bool, error) {
	c.mu.RLock()
	flag, ok := c.validity[fingerprint(secret)]
	c.mu.RUnlock()
	if !ok || !c.now().Before(flag.expires) {
		return false, false, nil
	}
	return flag.valid, true, nil
}

// Sweep removes expired entries and reports how many were dropped.
func (c *MemoryCache) Sweep(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for k, exp := range c.jtis {
		if !now.Before(exp) {
			delete(c.jtis, k)
			n++
		}
	}
	for k, flag := range c.validity {
		if !now.Before(flag.expires) {
			delete(c.validity, k)
			n++
		}
	}
	return n, nil
}

func (c *MemoryCache) Close() error { return nil }

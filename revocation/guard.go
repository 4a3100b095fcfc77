package revocation

import (
	"context"
	"time"

	"github.com/medconnect/authcore/breaker"
)

// GuardCache routes every call of c through b. The tracker already falls
// back on fast-layer errors, so an open breaker only means the cache is
// skipped.
func GuardCache(c Cache, b *breaker.Breaker) Cache {
	return &guardedCache{next: c, b: b}
}

type guardedCache struct {
	next Cache
	b    *breaker.Breaker
}

func (g *guardedCache) AddRevokedJTI(ctx context.Context, username, jti string, ttl time.Duration) error {
	return g.b.Execute(ctx, func(ctx context.Context) error {
		return g.next.AddRevokedJTI(ctx, username, jti, ttl)
	})
}

func (g *guardedCache) IsJTIRevoked(ctx context.Context, username, jti string) (bool, error) {
	return breaker.Do(ctx, g.b, func(ctx context.Context) (bool, error) {
		return g.next.IsJTIRevoked(ctx, username, jti)
	})
}

func (g *guardedCache) SetRefreshValidity(ctx context.Context, secret string, valid bool, ttl time.Duration) error {
	return g.b.Execute(ctx, func(ctx context.Context) error {
		return g.next.SetRefreshValidity(ctx, secret, valid, ttl)
	})
}

func (g *guardedCache) RefreshValidity(ctx context.Context, secret string) (bool, bool, error) {
	var found bool
	valid, err := breaker.Do(ctx, g.b, func(ctx context.Context) (bool, error) {
		v, ok, err := g.next.RefreshValidity(ctx, secret)
		found = ok
		return v, err
	})
	return valid, found, err
}

func (g *guardedCache) Close() error { return g.next.Close() }

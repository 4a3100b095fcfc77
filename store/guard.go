package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medconnect/authcore/breaker"
)

// IsFailure reports whether err should count against a store breaker.
// Lookups that miss and lost conditional updates are answers, not faults.
func IsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// Guard routes every call of s through b. A rejected call surfaces as
// ErrUnavailable wrapping breaker.ErrOpen. The breaker should be built with
// IsFailure as its failure filter.
func Guard(s Store, b *breaker.Breaker) Store {
	return &guarded{next: s, b: b}
}

type guarded struct {
	next Store
	b    *breaker.Breaker
}

func guardErr(err error) error {
	if errors.Is(err, breaker.ErrOpen) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (g *guarded) exec(ctx context.Context, op func(context.Context) error) error {
	return guardErr(g.b.Execute(ctx, op))
}

func guardedDo[T any](ctx context.Context, g *guarded, op func(context.Context) (T, error)) (T, error) {
	v, err := breaker.Do(ctx, g.b, op)
	return v, guardErr(err)
}

func (g *guarded) UserByID(ctx context.Context, id int64) (User, error) {
	return guardedDo(ctx, g, func(ctx context.Context) (User, error) { return g.next.UserByID(ctx, id) })
}

func (g *guarded) UserByUsername(ctx context.Context, username string) (User, error) {
	return guardedDo(ctx, g, func(ctx context.Context) (User, error) { return g.next.UserByUsername(ctx, username) })
}

func (g *guarded) UserByEmail(ctx context.Context, email string) (User, error) {
	return guardedDo(ctx, g, func(ctx context.Context) (User, error) { return g.next.UserByEmail(ctx, email) })
}

func (g *guarded) CreateUser(ctx context.Context, u User) (User, error) {
	return guardedDo(ctx, g, func(ctx context.Context) (User, error) { return g.next.CreateUser(ctx, u) })
}

func (g *guarded) UpdateUser(ctx context.Context, u User) error {
	return g.exec(ctx, func(ctx context.Context) error { return g.next.UpdateUser(ctx, u) })
}

func (g *guarded) DeleteUser(ctx context.Context, id int64) error {
	return g.exec(ctx, func(ctx context.Context) error { return g.next.DeleteUser(ctx, id) })
}

func (g *guarded) RefreshToken(ctx context.Context, secret string) (RefreshToken, error) {
	return guardedDo(ctx, g, func(ctx context.Context) (RefreshToken, error) { return g.next.RefreshToken(ctx, secret) })
}

func (g *guarded) RefreshTokensForUser(ctx context.Context, userID int64) ([]RefreshToken, error) {
	return guardedDo(ctx, g, func(ctx context.Context) ([]RefreshToken, error) {
		return g.next.RefreshTokensForUser(ctx, userID)
	})
}

func (g *guarded) AddRefreshToken(ctx context.Context, t RefreshToken) error {
	return g.exec(ctx, func(ctx context.Context) error { return g.next.AddRefreshToken(ctx, t) })
}

func (g *guarded) RevokeRefreshToken(ctx context.Context, secret string, at time.Time, replacedBy string) error {
	return g.exec(ctx, func(ctx context.Context) error {
		return g.next.RevokeRefreshToken(ctx, secret, at, replacedBy)
	})
}

func (g *guarded) DeleteRefreshTokens(ctx context.Context, userID int64, secrets ...string) error {
	return g.exec(ctx, func(ctx context.Context) error {
		return g.next.DeleteRefreshTokens(ctx, userID, secrets...)
	})
}

func (g *guarded) AddRevokedJTI(ctx context.Context, username, jti string, ttl time.Duration) error {
	return g.exec(ctx, func(ctx context.Context) error { return g.next.AddRevokedJTI(ctx, username, jti, ttl) })
}

func (g *guarded) IsJTIRevoked(ctx context.Context, username, jti string) (bool, error) {
	return guardedDo(ctx, g, func(ctx context.Context) (bool, error) { return g.next.IsJTIRevoked(ctx, username, jti) })
}

func (g *guarded) SetRefreshValidity(ctx context.Context, secret string, valid bool, ttl time.Duration) error {
	return g.exec(ctx, func(ctx context.Context) error {
		return g.next.SetRefreshValidity(ctx, secret, valid, ttl)
	})
}

func (g *guarded) RefreshValidity(ctx context.Context, secret string) (bool, bool, error) {
	type result struct{ valid, found bool }
	r, err := guardedDo(ctx, g, func(ctx context.Context) (result, error) {
		valid, found, err := g.next.RefreshValidity(ctx, secret)
		return result{valid, found}, err
	})
	return r.valid, r.found, err
}

func (g *guarded) Ping(ctx context.Context) error {
	return g.exec(ctx, g.next.Ping)
}

// Close bypasses the breaker.
func (g *guarded) Close() error {
	return g.next.Close()
}

package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a missing user, token or flag.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict reports a uniqueness violation or a lost conditional update.
	ErrConflict = errors.New("store: conflict")
	// ErrUnavailable reports that the backend could not serve the call.
	ErrUnavailable = errors.New("store: unavailable")
)

// Users resolves and maintains accounts. Username and email lookups are
// case-insensitive.
type Users interface {
	UserByID(ctx context.Context, id int64) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	// CreateUser assigns the ID and returns the stored user.
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, u User) error
	// DeleteUser removes the user and every refresh token it owns.
	DeleteUser(ctx context.Context, id int64) error
}

// RefreshTokens persists refresh tokens against their owner.
type RefreshTokens interface {
	RefreshToken(ctx context.Context, secret string) (RefreshToken, error)
	RefreshTokensForUser(ctx context.Context, userID int64) ([]RefreshToken, error)
	AddRefreshToken(ctx context.Context, t RefreshToken) error
	// RevokeRefreshToken sets Revoked and ReplacedByToken on a token that is
	// not yet revoked. It returns ErrConflict when the token was already
	// revoked and ErrNotFound when it does not exist.
	RevokeRefreshToken(ctx context.Context, secret string, at time.Time, replacedBy string) error
	// DeleteRefreshTokens removes the named tokens of userID. Missing secrets
	// are ignored.
	DeleteRefreshTokens(ctx context.Context, userID int64, secrets ...string) error
}

// Revocations is the authoritative layer behind the revocation tracker.
type Revocations interface {
	AddRevokedJTI(ctx context.Context, username, jti string, ttl time.Duration) error
	IsJTIRevoked(ctx context.Context, username, jti string) (bool, error)
	SetRefreshValidity(ctx context.Context, secret string, valid bool, ttl time.Duration) error
	// RefreshValidity reports the flag and whether one is recorded.
	RefreshValidity(ctx context.Context, secret string) (valid bool, found bool, err error)
}

// Store is a complete persistence backend.
type Store interface {
	Users
	RefreshTokens
	Revocations
	Ping(ctx context.Context) error
	Close() error
}

// Sweeper is implemented by backends that keep expired revocation entries
// until asked to drop them.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

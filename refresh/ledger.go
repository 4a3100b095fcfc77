package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medconnect/authcore/internal"
	"github.com/medconnect/authcore/internal/keylock"
	"github.com/medconnect/authcore/store"
)

const (
	defaultTokenTTL           = 7 * 24 * time.Hour
	defaultRetention          = 7 * 24 * time.Hour
	defaultRevokedValidityTTL = 24 * time.Hour
	maxChainLength            = 1024
)

var (
	// ErrDenied is returned for every refresh token that may not be rotated:
	// unknown, expired, revoked, or owned by a user that no longer resolves.
	ErrDenied = errors.New("refresh token denied")
	// ErrReused reports a revoked token presented again. It matches ErrDenied.
	ErrReused = fmt.Errorf("refresh token reuse: %w", ErrDenied)
	// ErrInvariant reports state that the ledger itself should never produce.
	ErrInvariant = errors.New("refresh ledger invariant violated")
)

// Repository is the persistence the ledger needs.
type Repository interface {
	UserByID(ctx context.Context, id int64) (store.User, error)
	store.RefreshTokens
}

// Validity is the advisory validity-flag layer, normally a
// revocation.Tracker.
type Validity interface {
	RefreshTokenValidity(ctx context.Context, secret string) (valid bool, known bool, err error)
	SetRefreshTokenValidity(ctx context.Context, secret string, valid bool, ttl time.Duration) error
}

// AccessMinter produces the access token returned with a rotation.
type AccessMinter func(ctx context.Context, u store.User) (string, error)

// Config tunes a Ledger. Zero values take the documented defaults.
type Config struct {
	// TokenTTL is the lifetime of a new refresh token. Default 7 days.
	TokenTTL time.Duration
	// Retention is how long inactive tokens are kept before Prune deletes
	// them, measured from creation. Default 7 days.
	Retention time.Duration
	// RevokedValidityTTL is how long a revoked token's invalid flag is kept.
	// Default 1 day.
	RevokedValidityTTL time.Duration
	// SecretBytes is the random length of a new secret. Minimum and
	// default 64.
	SecretBytes int
	// RevokeChainOnReuse revokes every still-active successor of a replayed
	// token. Off by default: a replay is denied but the legitimate holder
	// of the newest token keeps their session.
	RevokeChainOnReuse bool

	Now    func() time.Time
	Logger *zap.Logger
}

// Rotation is the result of a successful Rotate.
type Rotation struct {
	AccessToken  string
	RefreshToken store.RefreshToken
	User         store.User
}

// Ledger issues, rotates and prunes refresh tokens. Mutations of one
// user's tokens are serialized; different users never wait on each other.
type Ledger struct {
	repo     Repository
	validity Validity
	mint     AccessMinter
	cfg      Config
	logger   *zap.Logger
	locks    keylock.Map[int64]
}

// New builds a ledger. It fails only on an unusable configuration.
func New(repo Repository, validity Validity, mint AccessMinter, cfg Config) (*Ledger, error) {
	if repo == nil || validity == nil || mint == nil {
		return nil, errors.New("refresh: repository, validity and access minter are required")
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Retention == 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.RevokedValidityTTL == 0 {
		cfg.RevokedValidityTTL = defaultRevokedValidityTTL
	}
	if cfg.SecretBytes == 0 {
		cfg.SecretBytes = internal.MinSecretBytes
	}
	if cfg.TokenTTL < 0 || cfg.Retention < 0 || cfg.RevokedValidityTTL < 0 {
		return nil, errors.New("refresh: durations must be positive")
	}
	if cfg.SecretBytes < internal.MinSecretBytes {
		return nil, fmt.Errorf("refresh: secret must be at least %d bytes", internal.MinSecretBytes)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ledger{
		repo:     repo,
		validity: validity,
		mint:     mint,
		cfg:      cfg,
		logger:   logger.Named("ledger"),
	}, nil
}

func (l *Ledger) newToken(userID int64, now time.Time) (store.RefreshToken, error) {
	secret, err := internal.NewRefreshSecret(l.cfg.SecretBytes)
	if err != nil {
		return store.RefreshToken{}, fmt.Errorf("generate refresh secret: %w", err)
	}
	return store.RefreshToken{
		Token:   secret,
		UserID:  userID,
		Created: now,
		Expires: now.Add(l.cfg.TokenTTL),
	}, nil
}

// Issue creates and persists a new refresh token for userID and registers
// it as valid for its remaining lifetime.
func (l *Ledger) Issue(ctx context.Context, userID int64) (store.RefreshToken, error) {
	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		return store.RefreshToken{}, err
	}

	now := l.cfg.Now()
	tok, err := l.newToken(userID, now)
	if err != nil {
		unlock()
		return store.RefreshToken{}, err
	}
	if err := l.repo.AddRefreshToken(ctx, tok); err != nil {
		unlock()
		return store.RefreshToken{}, fmt.Errorf("persist refresh token: %w", err)
	}
	unlock()

	l.markValid(ctx, tok, now)
	return tok, nil
}

// Rotate exchanges presented for a new refresh token and access token.
//
// The presented token is revoked before its successor is stored, so a
// failure between the two steps leaves at most one usable token.
func (l *Ledger) Rotate(ctx context.Context, presented string) (Rotation, error) {
	if internal.CheckRefreshSecret(presented) != nil {
		return Rotation{}, ErrDenied
	}

	if !l.cfg.RevokeChainOnReuse {
		valid, known, err := l.validity.RefreshTokenValidity(ctx, presented)
		switch {
		case err != nil:
			l.logger.Warn("refresh validity lookup failed", zap.Error(err))
		case known && !valid:
			return Rotation{}, ErrReused
		}
	}

	tok, err := l.repo.RefreshToken(ctx, presented)
	if errors.Is(err, store.ErrNotFound) {
		return Rotation{}, ErrDenied
	}
	if err != nil {
		return Rotation{}, fmt.Errorf("load refresh token: %w", err)
	}

	user, err := l.repo.UserByID(ctx, tok.UserID)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.Info("refresh token owner not found", zap.Int64("user_id", tok.UserID))
		return Rotation{}, ErrDenied
	}
	if err != nil {
		return Rotation{}, fmt.Errorf("load refresh token owner: %w", err)
	}

	unlock, err := l.locks.Lock(ctx, user.ID)
	if err != nil {
		return Rotation{}, err
	}
	next, revoked, err := l.rotateLocked(ctx, presented, user)
	unlock()

	now := l.cfg.Now()
	for _, secret := range revoked {
		l.markInvalid(ctx, secret)
	}
	if err != nil {
		return Rotation{}, err
	}
	l.markValid(ctx, next, now)

	access, err := l.mint(ctx, user)
	if err != nil {
		return Rotation{}, fmt.Errorf("mint access token: %w", err)
	}
	return Rotation{AccessToken: access, RefreshToken: next, User: user}, nil
}

// rotateLocked must be called with the user's lock held. It returns the
// new token and every secret it revoked.
func (l *Ledger) rotateLocked(ctx context.Context, presented string, user store.User) (store.RefreshToken, []string, error) {
	current, err := l.repo.RefreshToken(ctx, presented)
	if errors.Is(err, store.ErrNotFound) {
		return store.RefreshToken{}, nil, ErrDenied
	}
	if err != nil {
		return store.RefreshToken{}, nil, fmt.Errorf("reload refresh token: %w", err)
	}
	if current.UserID != user.ID {
		l.logger.DPanic("refresh token owner changed under lock",
			zap.Int64("user_id", user.ID), zap.Int64("owner_id", current.UserID))
		return store.RefreshToken{}, nil, ErrInvariant
	}

	now := l.cfg.Now()
	if current.Revoked != nil {
		return store.RefreshToken{}, l.onReuse(ctx, current, now), ErrReused
	}
	if current.IsExpired(now) {
		return store.RefreshToken{}, nil, ErrDenied
	}

	next, err := l.newToken(user.ID, now)
	if err != nil {
		return store.RefreshToken{}, nil, err
	}

	err = l.repo.RevokeRefreshToken(ctx, presented, now, next.Token)
	if errors.Is(err, store.ErrConflict) {
		// Lost to a rotation on another instance.
		if reread, rerr := l.repo.RefreshToken(ctx, presented); rerr == nil {
			current = reread
		}
		return store.RefreshToken{}, l.onReuse(ctx, current, now), ErrReused
	}
	if err != nil {
		return store.RefreshToken{}, nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	revoked := []string{presented}

	if err := l.repo.AddRefreshToken(ctx, next); err != nil {
		l.logger.Error("successor refresh token not stored", zap.Int64("user_id", user.ID), zap.Error(err))
		return store.RefreshToken{}, revoked, fmt.Errorf("persist refresh token: %w", err)
	}

	if _, err := l.pruneLocked(ctx, user.ID, now); err != nil {
		l.logger.Warn("prune after rotation failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	return next, revoked, nil
}

func (l *Ledger) onReuse(ctx context.Context, replayed store.RefreshToken, now time.Time) []string {
	l.logger.Warn("revoked refresh token presented", zap.Int64("user_id", replayed.UserID),
		zap.Bool("revoke_chain", l.cfg.RevokeChainOnReuse))
	if !l.cfg.RevokeChainOnReuse {
		return nil
	}
	revoked, err := l.revokeChain(ctx, replayed, now)
	if err != nil {
		l.logger.Error("revoke successor chain failed", zap.Int64("user_id", replayed.UserID), zap.Error(err))
	}
	return revoked
}

// revokeChain follows ReplacedByToken from replayed and revokes every active
// descendant owned by the same user.
func (l *Ledger) revokeChain(ctx context.Context, replayed store.RefreshToken, now time.Time) ([]string, error) {
	var revoked []string
	seen := map[string]struct{}{replayed.Token: {}}

	next := replayed.ReplacedByToken
	for i := 0; next != "" && i < maxChainLength; i++ {
		if _, loop := seen[next]; loop {
			break
		}
		seen[next] = struct{}{}

		tok, err := l.repo.RefreshToken(ctx, next)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return revoked, err
		}
		if tok.UserID != replayed.UserID {
			l.logger.DPanic("refresh chain crosses users",
				zap.Int64("user_id", replayed.UserID), zap.Int64("owner_id", tok.UserID))
			return revoked, ErrInvariant
		}
		if tok.IsActive(now) {
			err := l.repo.RevokeRefreshToken(ctx, tok.Token, now, "")
			if err != nil && !errors.Is(err, store.ErrConflict) {
				return revoked, err
			}
			if err == nil {
				revoked = append(revoked, tok.Token)
			}
		}
		next = tok.ReplacedByToken
	}
	return revoked, nil
}

// Prune deletes the user's tokens that are inactive and were created before
// the retention cutoff. It returns how many tokens were removed.
func (l *Ledger) Prune(ctx context.Context, userID int64) (int, error) {
	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return l.pruneLocked(ctx, userID, l.cfg.Now())
}

func (l *Ledger) pruneLocked(ctx context.Context, userID int64, now time.Time) (int, error) {
	tokens, err := l.repo.RefreshTokensForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list refresh tokens: %w", err)
	}

	cutoff := now.Add(-l.cfg.Retention)
	var stale []string
	for _, t := range tokens {
		if !t.IsActive(now) && t.Created.Before(cutoff) {
			stale = append(stale, t.Token)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := l.repo.DeleteRefreshTokens(ctx, userID, stale...); err != nil {
		return 0, fmt.Errorf("delete refresh tokens: %w", err)
	}
	return len(stale), nil
}

// RevokeAll revokes every active token of userID, then prunes. It returns
// how many tokens were revoked.
func (l *Ledger) RevokeAll(ctx context.Context, userID int64) (int, error) {
	unlock, err := l.locks.Lock(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := l.cfg.Now()
	revoked, err := l.revokeAllLocked(ctx, userID, now)
	if err == nil {
		if _, perr := l.pruneLocked(ctx, userID, now); perr != nil {
			l.logger.Warn("prune after revoke-all failed", zap.Int64("user_id", userID), zap.Error(perr))
		}
	}
	unlock()

	for _, secret := range revoked {
		l.markInvalid(ctx, secret)
	}
	return len(revoked), err
}

func (l *Ledger) revokeAllLocked(ctx context.Context, userID int64, now time.Time) ([]string, error) {
	tokens, err := l.repo.RefreshTokensForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	var revoked []string
	for _, t := range tokens {
		if !t.IsActive(now) {
			continue
		}
		err := l.repo.RevokeRefreshToken(ctx, t.Token, now, "")
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return revoked, fmt.Errorf("revoke refresh token: %w", err)
		}
		revoked = append(revoked, t.Token)
	}
	return revoked, nil
}

func (l *Ledger) markValid(ctx context.Context, tok store.RefreshToken, now time.Time) {
	ttl := tok.Expires.Sub(now)
	if ttl <= 0 {
		return
	}
	if err := l.validity.SetRefreshTokenValidity(ctx, tok.Token, true, ttl); err != nil {
		l.logger.Warn("record refresh validity failed", zap.Int64("user_id", tok.UserID), zap.Error(err))
	}
}

func (l *Ledger) markInvalid(ctx context.Context, secret string) {
	if err := l.validity.SetRefreshTokenValidity(ctx, secret, false, l.cfg.RevokedValidityTTL); err != nil {
		l.logger.Warn("record refresh invalidity failed", zap.Error(err))
	}
}

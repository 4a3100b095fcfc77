package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medconnect/authcore/internal"
	"github.com/medconnect/authcore/store"
)

const (
	defaultJTIRetention    = 7 * 24 * time.Hour
	defaultValidityWarmTTL = time.Minute
)

// ErrInvalidTTL is returned for a non-positive validity TTL.
var ErrInvalidTTL = errors.New("revocation: ttl must be positive")

// Config tunes a Tracker.
type Config struct {
	// JTIRetention is how long a revoked JTI is remembered. Defaults to
	// seven days.
	JTIRetention time.Duration
	// ValidityWarmTTL bounds how long a validity flag copied from the
	// authoritative layer stays in the fast layer.
	ValidityWarmTTL time.Duration
	Logger          *zap.Logger
	// Observer receives fast-layer hit and error notifications. Optional.
	Observer Observer
}

// Observer is notified about fast-layer behavior for metrics.
type Observer interface {
	FastHit()
	FastError()
}

// Tracker answers "is this credential revoked" from a fast cache backed by
// the authoritative store. It is safe for concurrent use.
type Tracker struct {
	cache  Cache
	auth   store.Revocations
	cfg    Config
	logger *zap.Logger

	jtis     *tiered[bool]
	validity *tiered[bool]
}

// NewTracker wires cache in front of auth.
func NewTracker(cache Cache, auth store.Revocations, cfg Config) *Tracker {
	if cfg.JTIRetention <= 0 {
		cfg.JTIRetention = defaultJTIRetention
	}
	if cfg.ValidityWarmTTL <= 0 {
		cfg.ValidityWarmTTL = defaultValidityWarmTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("revocation")

	t := &Tracker{cache: cache, auth: auth, cfg: cfg, logger: logger}

	var onHit, onErr func()
	if cfg.Observer != nil {
		onHit, onErr = cfg.Observer.FastHit, cfg.Observer.FastError
	}

	t.jtis = &tiered[bool]{
		name: "jti",
		fast: func(ctx context.Context, key string) (bool, bool, error) {
			username, jti := splitJTIKey(key)
			revoked, err := cache.IsJTIRevoked(ctx, username, jti)
			return revoked, revoked, err
		},
		slow: func(ctx context.Context, key string) (bool, bool, error) {
			username, jti := splitJTIKey(key)
			revoked, err := auth.IsJTIRevoked(ctx, username, jti)
			return revoked, revoked, err
		},
		warm: func(ctx context.Context, key string, _ bool) error {
			username, jti := splitJTIKey(key)
			return cache.AddRevokedJTI(ctx, username, jti, cfg.JTIRetention)
		},
		logger:      logger,
		onFastHit:   onHit,
		onFastError: onErr,
	}
	t.validity = &tiered[bool]{
		name: "refresh_validity",
		fast: cache.RefreshValidity,
		slow: auth.RefreshValidity,
		warm: func(ctx context.Context, secret string, valid bool) error {
			return cache.SetRefreshValidity(ctx, secret, valid, cfg.ValidityWarmTTL)
		},
		logger:      logger,
		onFastHit:   onHit,
		onFastError: onErr,
	}
	return t
}

// jtiKey length-prefixes the folded username so any byte may appear in
// either part.
func jtiKey(username, jti string) string {
	username = foldUsername(username)
	return strconv.Itoa(len(username)) + ":" + username + jti
}

func splitJTIKey(key string) (string, string) {
	prefix, rest, _ := strings.Cut(key, ":")
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 || n > len(rest) {
		return "", rest
	}
	return rest[:n], rest[n:]
}

func foldUsername(username string) string {
	return store.FoldName(username)
}

func fingerprint(secret string) string {
	return internal.Fingerprint(secret)
}

// IsJTIRevoked reports whether jti was revoked for username. False means
// not known to be revoked.
func (t *Tracker) IsJTIRevoked(ctx context.Context, username, jti string) (bool, error) {
	revoked, _, err := t.jtis.get(ctx, jtiKey(username, jti))
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return revoked, nil
}

// AddRevokedJTI records the revocation in the authoritative layer, then the
// fast layer. When the authoritative write fails nothing is cached and the
// error is returned. A fast-layer failure is logged only.
//
// Once it returns nil, lookups already in flight for the same key are no
// longer shared, so later readers go to the authoritative layer.
func (t *Tracker) AddRevokedJTI(ctx context.Context, username, jti string) error {
	username = foldUsername(username)
	if err := t.auth.AddRevokedJTI(ctx, username, jti, t.cfg.JTIRetention); err != nil {
		return fmt.Errorf("record revoked jti: %w", err)
	}
	t.jtis.forget(jtiKey(username, jti))
	if err := t.cache.AddRevokedJTI(ctx, username, jti, t.cfg.JTIRetention); err != nil {
		t.logger.Warn("cache revoked jti failed", zap.String("username", username), zap.String("jti", jti), zap.Error(err))
		if t.cfg.Observer != nil {
			t.cfg.Observer.FastError()
		}
	}
	return nil
}

// RefreshTokenValidity reports the recorded flag for secret and whether any
// flag is recorded.
func (t *Tracker) RefreshTokenValidity(ctx context.Context, secret string) (valid bool, known bool, err error) {
	valid, known, err = t.validity.get(ctx, secret)
	if err != nil {
		return false, false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return valid, known, nil
}

// IsRefreshTokenValid is true only when a valid flag is recorded.
func (t *Tracker) IsRefreshTokenValid(ctx context.Context, secret string) (bool, error) {
	valid, known, err := t.RefreshTokenValidity(ctx, secret)
	return known && valid, err
}

// SetRefreshTokenValidity writes the flag authoritative first.
func (t *Tracker) SetRefreshTokenValidity(ctx context.Context, secret string, valid bool, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if err := t.auth.SetRefreshValidity(ctx, secret, valid, ttl); err != nil {
		return fmt.Errorf("record refresh validity: %w", err)
	}
	t.validity.forget(secret)
	if err := t.cache.SetRefreshValidity(ctx, secret, valid, ttl); err != nil {
		t.logger.Warn("cache refresh validity failed", zap.Bool("valid", valid), zap.Error(err))
		if t.cfg.Observer != nil {
			t.cfg.Observer.FastError()
		}
	}
	return nil
}

package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medconnect/authcore/breaker"
	internalaudit "github.com/medconnect/authcore/internal/audit"
	"github.com/medconnect/authcore/jwt"
	"github.com/medconnect/authcore/password"
	"github.com/medconnect/authcore/refresh"
	"github.com/medconnect/authcore/revocation"
	"github.com/medconnect/authcore/store"
)

// Engine is the session façade: login, refresh, logout and per-request
// revocation checks. It is safe for concurrent use once built.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	store        store.Store
	storeBreaker *breaker.Breaker
	cacheBreaker *breaker.Breaker

	tracker *revocation.Tracker
	ledger  *refresh.Ledger
	tokens  *jwt.Manager
	hasher  password.Hasher

	// decoyHash is verified against when the username is unknown.
	decoyHash string

	audit   *internalaudit.Dispatcher
	metrics *Metrics

	sweepTargets []sweepTarget
	stopSweep    context.CancelFunc
	sweepDone    chan struct{}
}

// Close stops the revocation sweep and drains the audit dispatcher. The
// store and Redis client stay owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.stopSweeper()
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// BreakerStates reports the store and cache breaker positions.
func (e *Engine) BreakerStates() (storeState, cacheState breaker.State) {
	return e.storeBreaker.State(), e.cacheBreaker.State()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// fail records a failed call and returns its public error.
func (e *Engine) fail(err error) error {
	out := classify(err)
	if errors.Is(out, ErrUnavailable) {
		e.metricInc(MetricUnavailable)
	}
	if errors.Is(out, ErrInvariant) {
		e.logger.DPanic("invariant violated", zap.Error(err))
	}
	return out
}

func (e *Engine) onBreakerChange(name string, from, to breaker.State) {
	fields := []zap.Field{zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to)}
	if to == breaker.StateOpen {
		e.metricInc(MetricBreakerOpened)
		e.logger.Warn("circuit opened", fields...)
		return
	}
	e.logger.Info("circuit state changed", fields...)
}

func identityOf(u store.User) jwt.Identity {
	return jwt.Identity{
		Subject:  strconv.FormatInt(u.ID, 10),
		Username: u.Username,
		Email:    u.Email,
	}
}

func (e *Engine) mintAccess(_ context.Context, u store.User) (string, error) {
	return e.tokens.Issue(identityOf(u))
}

const decoyPassword = "authcore-decoy-credential"

// Login verifies credentials and returns a fresh access and refresh token.
// Unknown users and wrong passwords both yield ErrUnauthorized.
func (e *Engine) Login(ctx context.Context, username, pass string) (LoginResult, error) {
	if strings.TrimSpace(username) == "" || pass == "" {
		return LoginResult{}, e.loginFailed(ctx, 0, username, ErrUnauthorized, "empty_credentials")
	}

	user, err := e.store.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		// Same hashing work as a wrong password.
		_, _ = e.hasher.Verify(pass, e.decoyHash)
		return LoginResult{}, e.loginFailed(ctx, 0, username, ErrUnauthorized, "user_not_found")
	}
	if err != nil {
		return LoginResult{}, e.loginFailed(ctx, 0, username, err, "")
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	switch {
	case errors.Is(err, password.ErrPasswordLength):
		ok = false
	case err != nil:
		e.logger.Error("stored password hash unusable", zap.Int64("user_id", user.ID), zap.Error(err))
		ok = false
	}
	if !ok {
		return LoginResult{}, e.loginFailed(ctx, user.ID, user.Username, ErrUnauthorized, "bad_password")
	}
	e.maybeRehash(ctx, user, pass)

	access, claims, err := e.tokens.IssueClaims(identityOf(user))
	if err != nil {
		return LoginResult{}, e.loginFailed(ctx, user.ID, user.Username, err, "")
	}
	tok, err := e.ledger.Issue(ctx, user.ID)
	if err != nil {
		return LoginResult{}, e.loginFailed(ctx, user.ID, user.Username, err, "")
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditLogin, true, user.ID, user.Username, claims.ID, nil, nil)
	return LoginResult{AccessToken: access, RefreshToken: tok.Token, Role: user.Role}, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID int64, username string, err error, reason string) error {
	out := e.fail(err)
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditLogin, false, userID, username, "", out, func() map[string]string {
		if reason == "" {
			return nil
		}
		return map[string]string{"reason": reason}
	})
	return out
}

// maybeRehash upgrades legacy or weaker hashes after a successful login.
// Failures are logged; the login itself still succeeds.
func (e *Engine) maybeRehash(ctx context.Context, user store.User, pass string) {
	m, ok := e.hasher.(*password.Multi)
	if !ok || !m.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := m.Hash(pass)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = hash
	if err := e.store.UpdateUser(ctx, user); err != nil {
		e.logger.Warn("persist rehashed password failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	e.metricInc(MetricPasswordRehashed)
}

// Refresh rotates refreshToken. The presented token is revoked; presenting
// it again yields ErrUnauthorized.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	rot, err := e.ledger.Rotate(ctx, refreshToken)
	if err != nil {
		out := e.fail(err)
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, refresh.ErrReused) {
			e.metricInc(MetricRefreshReuseDetected)
			e.logger.Warn("refresh token reuse rejected")
			e.emitAudit(ctx, AuditRefreshReuse, false, 0, "", "", err, nil)
		} else {
			e.emitAudit(ctx, AuditRefresh, false, 0, "", "", out, nil)
		}
		return TokenPair{}, out
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditRefresh, true, rot.User.ID, rot.User.Username, "", nil, nil)
	return TokenPair{AccessToken: rot.AccessToken, RefreshToken: rot.RefreshToken.Token}, nil
}

// Logout revokes the access token identified by jti for username. It is
// idempotent. The refresh token is untouched; use LogoutAll for that.
func (e *Engine) Logout(ctx context.Context, username, jti string) error {
	if strings.TrimSpace(username) == "" || jti == "" {
		return ErrUnauthorized
	}
	if err := e.tracker.AddRevokedJTI(ctx, username, jti); err != nil {
		out := e.fail(err)
		e.emitAudit(ctx, AuditLogout, false, 0, username, jti, out, nil)
		return out
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditLogout, true, 0, username, jti, nil, nil)
	return nil
}

// LogoutAll revokes every active refresh token of userID. Outstanding access
// tokens stay valid until they expire or are passed to Logout.
func (e *Engine) LogoutAll(ctx context.Context, userID int64) (int, error) {
	n, err := e.ledger.RevokeAll(ctx, userID)
	if err != nil {
		out := e.fail(err)
		e.emitAudit(ctx, AuditLogoutAll, false, userID, "", "", out, nil)
		return n, out
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditLogoutAll, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return n, nil
}

// VerifyRequest reports whether an access token with jti, owned by
// username, may still be used. When revocation state cannot be read it
// returns false and ErrUnavailable.
func (e *Engine) VerifyRequest(ctx context.Context, username, jti string) (bool, error) {
	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	revoked, err := e.tracker.IsJTIRevoked(ctx, username, jti)

	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
	if err != nil {
		return false, e.fail(err)
	}
	if revoked {
		e.metricInc(MetricVerifyRevoked)
		return false, nil
	}
	e.metricInc(MetricVerifyAllowed)
	return true, nil
}

// ValidateAccess parses a bearer access token and checks it against the
// revocation tracker. Any parse failure or revoked jti is ErrUnauthorized.
func (e *Engine) ValidateAccess(ctx context.Context, bearer string) (*jwt.Claims, error) {
	claims, err := e.tokens.Parse(bearer)
	if err != nil {
		return nil, ErrUnauthorized
	}
	allowed, err := e.VerifyRequest(ctx, claims.Name, claims.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// PruneRefreshTokens removes the user's inactive tokens past retention.
func (e *Engine) PruneRefreshTokens(ctx context.Context, userID int64) (int, error) {
	n, err := e.ledger.Prune(ctx, userID)
	if err != nil {
		return n, e.fail(err)
	}
	return n, nil
}

// Ping checks the authoritative store through its breaker.
func (e *Engine) Ping(ctx context.Context) error {
	return e.fail(e.store.Ping(ctx))
}

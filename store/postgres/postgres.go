// Package postgres is the durable store.Store backed by PostgreSQL through
// pgx. Schema changes ship as embedded migrations applied by Open.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medconnect/authcore/store"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for revocation expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for migration output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	logger *zap.Logger
	owned  bool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection and applies migrations. The
// returned Store owns the pool and closes it on Close.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", store.ErrUnavailable, err)
	}

	s := New(pool, opts...)
	s.owned = true
	if err := Migrate(pool, s.logger); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller keeps ownership of pool and must
// have applied Migrate.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}

const userColumns = `id, username, email, password_hash, role`

func scanUser(row pgx.Row) (store.User, error) {
	var (
		u    store.User
		role int16
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role); err != nil {
		return store.User{}, err
	}
	u.Role = store.Role(role)
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (store.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, mapErr("user by id", err)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (store.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = $1`, store.FoldName(username)))
	return u, mapErr("user by username", err)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (store.User, error) {
	folded := store.FoldName(email)
	if folded == "" {
		return store.User{}, store.ErrNotFound
	}
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, folded))
	return u, mapErr("user by email", err)
}

func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	u = u.Trimmed()
	if u.Username == "" {
		return store.User{}, fmt.Errorf("%w: username is required", store.ErrConflict)
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING id`,
		u.Username, u.Email, u.PasswordHash, int16(u.Role),
	).Scan(&u.ID)
	if err != nil {
		return store.User{}, mapErr("create user", err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u store.User) error {
	u = u.Trimmed()
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET username = $2, email = $3, password_hash = $4, role = $5 WHERE id = $1`,
		u.ID, u.Username, u.Email, u.PasswordHash, int16(u.Role))
	if err != nil {
		return mapErr("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteUser relies on ON DELETE CASCADE for the user's refresh tokens.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const tokenColumns = `token, user_id, created_at, expires_at, revoked_at, replaced_by_token`

func scanToken(row pgx.Row) (store.RefreshToken, error) {
	var t store.RefreshToken
	err := row.Scan(&t.Token, &t.UserID, &t.Created, &t.Expires, &t.Revoked, &t.ReplacedByToken)
	return t, err
}

func (s *Store) RefreshToken(ctx context.Context, secret string) (store.RefreshToken, error) {
	t, err := scanToken(s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token = $1`, secret))
	return t, mapErr("refresh token", err)
}

func (s *Store) RefreshTokensForUser(ctx context.Context, userID int64) ([]store.RefreshToken, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at, token`, userID)
	if err != nil {
		return nil, mapErr("refresh tokens for user", err)
	}
	defer rows.Close()

	out := make([]store.RefreshToken, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, mapErr("scan refresh token", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate refresh tokens", err)
	}
	return out, nil
}

func (s *Store) AddRefreshToken(ctx context.Context, t store.RefreshToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.Token, t.UserID, t.Created, t.Expires, t.Revoked, t.ReplacedByToken)
	return mapErr("add refresh token", err)
}

// RevokeRefreshToken is a conditional update so exactly one concurrent caller
// wins, even across instances.
func (s *Store) RevokeRefreshToken(ctx context.Context, secret string, at time.Time, replacedBy string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2, replaced_by_token = $3 WHERE token = $1 AND revoked_at IS NULL`,
		secret, at, replacedBy)
	if err != nil {
		return mapErr("revoke refresh token", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE token = $1)`, secret).Scan(&exists)
	if err != nil {
		return mapErr("revoke refresh token", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) DeleteRefreshTokens(ctx context.Context, userID int64, secrets ...string) error {
	if len(secrets) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1 AND token = ANY($2)`, userID, secrets)
	return mapErr("delete refresh tokens", err)
}

func (s *Store) AddRevokedJTI(ctx context.Context, username, jti string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO revoked_jtis (username, jti, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (username, jti) DO UPDATE
		SET expires_at = GREATEST(revoked_jtis.expires_at, EXCLUDED.expires_at)`,
		store.FoldName(username), jti, s.now().Add(ttl))
	return mapErr("add revoked jti", err)
}

func (s *Store) IsJTIRevoked(ctx context.Context, username, jti string) (bool, error) {
	var revoked bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_jtis WHERE username = $1 AND jti = $2 AND expires_at > $3)`,
		store.FoldName(username), jti, s.now()).Scan(&revoked)
	if err != nil {
		return false, mapErr("is jti revoked", err)
	}
	return revoked, nil
}

func (s *Store) SetRefreshValidity(ctx context.Context, secret string, valid bool, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_validity (token, valid, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET valid = EXCLUDED.valid, expires_at = EXCLUDED.expires_at`,
		secret, valid, s.now().Add(ttl))
	return mapErr("set refresh validity", err)
}

func (s *Store) RefreshValidity(ctx context.Context, secret string) (bool, bool, error) {
	var valid bool
	err := s.pool.QueryRow(ctx,
		`SELECT valid FROM refresh_validity WHERE token = $1 AND expires_at > $2`, secret, s.now()).Scan(&valid)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, mapErr("refresh validity", err)
	}
	return valid, true, nil
}

// Sweep deletes expired revocation entries and validity flags.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	for _, table := range []string{"revoked_jtis", "refresh_validity"} {
		tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE expires_at <= $1`, now)
		if err != nil {
			return total, mapErr("sweep "+table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return mapErr("ping", s.pool.Ping(ctx))
}

// Close releases the pool when the Store owns it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

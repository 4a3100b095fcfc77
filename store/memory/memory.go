// Package memory is a volatile store.Store for single-instance deployments
// and tests. All state lives behind one RWMutex and is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medconnect/authcore/store"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to expire revocation entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type jtiKey struct {
	username string
	jti      string
}

type validity struct {
	valid   bool
	expires time.Time
}

// Store implements store.Store in process memory.
type Store struct {
	now func() time.Time

	mu         sync.RWMutex
	nextID     int64
	users      map[int64]store.User
	byUsername map[string]int64
	byEmail    map[string]int64
	tokens     map[string]store.RefreshToken
	userTokens map[int64]map[string]struct{}
	jtis       map[jtiKey]time.Time
	validity   map[string]validity
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:        time.Now,
		users:      make(map[int64]store.User),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
		tokens:     make(map[string]store.RefreshToken),
		userTokens: make(map[int64]map[string]struct{}),
		jtis:       make(map[jtiKey]time.Time),
		validity:   make(map[string]validity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) UserByID(ctx context.Context, id int64) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (store.User, error) {
	return s.userByIndex(ctx, s.byUsername, username)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (store.User, error) {
	return s.userByIndex(ctx, s.byEmail, email)
}

func (s *Store) userByIndex(ctx context.Context, index map[string]int64, name string) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := index[store.FoldName(name)]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) CreateUser(ctx context.Context, u store.User) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}
	u = u.Trimmed()
	uname, email := store.FoldName(u.Username), store.FoldName(u.Email)
	if uname == "" {
		return store.User{}, fmt.Errorf("%w: username is required", store.ErrConflict)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byUsername[uname]; taken {
		return store.User{}, fmt.Errorf("%w: username %q exists", store.ErrConflict, u.Username)
	}
	if _, taken := s.byEmail[email]; taken && email != "" {
		return store.User{}, fmt.Errorf("%w: email exists", store.ErrConflict)
	}

	s.nextID++
	u.ID = s.nextID
	s.users[u.ID] = u
	s.byUsername[uname] = u.ID
	if email != "" {
		s.byEmail[email] = u.ID
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u store.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u = u.Trimmed()
	uname, email := store.FoldName(u.Username), store.FoldName(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	if id, taken := s.byUsername[uname]; taken && id != u.ID {
		return fmt.Errorf("%w: username %q exists", store.ErrConflict, u.Username)
	}
	if id, taken := s.byEmail[email]; taken && id != u.ID && email != "" {
		return fmt.Errorf("%w: email exists", store.ErrConflict)
	}

	delete(s.byUsername, store.FoldName(prev.Username))
	delete(s.byEmail, store.FoldName(prev.Email))
	s.users[u.ID] = u
	s.byUsername[uname] = u.ID
	if email != "" {
		s.byEmail[email] = u.ID
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	delete(s.byUsername, store.FoldName(u.Username))
	delete(s.byEmail, store.FoldName(u.Email))
	for secret := range s.userTokens[id] {
		delete(s.tokens, secret)
	}
	delete(s.userTokens, id)
	return nil
}

func (s *Store) RefreshToken(ctx context.Context, secret string) (store.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return store.RefreshToken{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[secret]
	if !ok {
		return store.RefreshToken{}, store.ErrNotFound
	}
	return t.Clone(), nil
}

// RefreshTokensForUser returns the user's tokens oldest first.
func (s *Store) RefreshTokensForUser(ctx context.Context, userID int64) ([]store.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]store.RefreshToken, 0, len(s.userTokens[userID]))
	for secret := range s.userTokens[userID] {
		out = append(out, s.tokens[secret].Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Token < out[j].Token
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

func (s *Store) AddRefreshToken(ctx context.Context, t store.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[t.UserID]; !ok {
		return fmt.Errorf("%w: user %d", store.ErrNotFound, t.UserID)
	}
	if _, exists := s.tokens[t.Token]; exists {
		return fmt.Errorf("%w: refresh token exists", store.ErrConflict)
	}
	s.tokens[t.Token] = t.Clone()
	set := s.userTokens[t.UserID]
	if set == nil {
		set = make(map[string]struct{})
		s.userTokens[t.UserID] = set
	}
	set[t.Token] = struct{}{}
	return nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, secret string, at time.Time, replacedBy string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[secret]
	if !ok {
		return store.ErrNotFound
	}
	if t.Revoked != nil {
		return store.ErrConflict
	}
	t.Revoked = &at
	t.ReplacedByToken = replacedBy
	s.tokens[secret] = t
	return nil
}

func (s *Store) DeleteRefreshTokens(ctx context.Context, userID int64, secrets ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.userTokens[userID]
	for _, secret := range secrets {
		if _, owned := set[secret]; !owned {
			continue
		}
		delete(set, secret)
		delete(s.tokens, secret)
	}
	return nil
}

func (s *Store) AddRevokedJTI(ctx context.Context, username, jti string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := jtiKey{username: store.FoldName(username), jti: jti}
	expires := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.jtis[key]; !ok || prev.Before(expires) {
		s.jtis[key] = expires
	}
	return nil
}

func (s *Store) IsJTIRevoked(ctx context.Context, username, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := jtiKey{username: store.FoldName(username), jti: jti}
	s.mu.RLock()
	expires, ok := s.jtis[key]
	s.mu.RUnlock()
	return ok && s.now().Before(expires), nil
}

func (s *Store) SetRefreshValidity(ctx context.Context, secret string, valid bool, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.validity[secret] = validity{valid: valid, expires: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *Store) RefreshValidity(ctx context.Context, secret string) (bool, bool, error) {
	if err := ctx.Err(); err != nil {
		return false, false, err
	}
	s.mu.RLock()
	v, ok := s.validity[secret]
	s.mu.RUnlock()
	if !ok || !s.now().Before(v.expires) {
		return false, false, nil
	}
	return v.valid, true, nil
}

// Sweep drops expired revocation entries and validity flags.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for k, expires := range s.jtis {
		if !now.Before(expires) {
			delete(s.jtis, k)
			removed++
		}
	}
	for k, v := range s.validity {
		if !now.Before(v.expires) {
			delete(s.validity, k)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

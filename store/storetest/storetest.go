// Package storetest holds the behavioral contract every store.Store backend
// must satisfy. Backends call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medconnect/authcore/store"
)

// Clock is a settable time source shared between the suite and the backend.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory returns an empty backend whose revocation expiry follows clock.
type Factory func(t *testing.T, clock *Clock) store.Store

// Run executes the contract against backends produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, store.Store, *Clock)
	}{
		{"UserLookupIsCaseInsensitive", testUserLookup},
		{"CreateUserRejectsDuplicates", testCreateUserDuplicates},
		{"PaddedUsernameStoredTrimmed", testPaddedUsername},
		{"UpdateUser", testUpdateUser},
		{"DeleteUserCascadesTokens", testDeleteUserCascade},
		{"AddAndListRefreshTokens", testRefreshTokens},
		{"AddRefreshTokenRequiresOwner", testRefreshTokenOwner},
		{"RevokeIsSingleWinner", testRevokeSingleWinner},
		{"DeleteRefreshTokensScopedToUser", testDeleteRefreshTokens},
		{"RevokedJTIIdempotentAndExpiring", testRevokedJTI},
		{"RefreshValidity", testRefreshValidity},
		{"Ping", testPing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock()
			s := newStore(t, clock)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s, clock)
		})
	}
}

func seedUser(t *testing.T, s store.Store, name string) store.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), store.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		Role:         store.RoleDoctor,
	})
	require.NoError(t, err)
	require.NotZero(t, u.ID)
	return u
}

func token(userID int64, secret string, created time.Time) store.RefreshToken {
	return store.RefreshToken{
		Token:   secret,
		UserID:  userID,
		Created: created,
		Expires: created.Add(7 * 24 * time.Hour),
	}
}

func testUserLookup(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	u := seedUser(t, s, "Alice")

	byName, err := s.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u, byName)

	byEmail, err := s.UserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RoleDoctor, byID.Role)

	_, err = s.UserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UserByID(ctx, u.ID+1000)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCreateUserDuplicates(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	seedUser(t, s, "bob")

	_, err := s.CreateUser(ctx, store.User{Username: "BOB", Email: "other@example.com"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreateUser(ctx, store.User{Username: "robert", Email: "Bob@example.com"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func testPaddedUsername(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	u, err := s.CreateUser(ctx, store.User{Username: "  Bob ", Email: " Bob@example.com\t", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, "Bob", u.Username)
	assert.Equal(t, "Bob@example.com", u.Email)

	for _, name := range []string{"bob", " BOB ", "Bob"} {
		got, err := s.UserByUsername(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "Bob", got.Username)
	}
	byEmail, err := s.UserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.CreateUser(ctx, store.User{Username: "bob", Email: "other@example.com"})
	assert.ErrorIs(t, err, store.ErrConflict)

	u.Username = " Robert "
	require.NoError(t, s.UpdateUser(ctx, u))
	got, err := s.UserByUsername(ctx, "robert")
	require.NoError(t, err)
	assert.Equal(t, "Robert", got.Username)
}

func testUpdateUser(t *testing.T, s store.Store, _ *Clock) {
	ctx := context.Background()
	u := seedUser(t, s, "carol")
	other := seedUser(t, s, "dave")

	u.Role = store.RoleAdmin
	u.Email = "carol@clinic.example"
	require.NoError(t, s.UpdateUser(ctx, u))

	got, err := s.UserByEmail(ctx, "carol@clinic.example")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, got.Role)

	_, err = s.UserByEmail(ctx, "carol@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	u.Username = other.Username
	assert.ErrorIs(t, s.UpdateUser(ctx, u), store.ErrConflict)

	assert.ErrorIs(t, s.UpdateUser(ctx, store.User{ID: u.ID + 1000, Username: "ghost"}), store.ErrNotFound)
}

func testDeleteUserCascade(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	u := seedUser(t, s, "erin")
	require.NoError(t, s.AddRefreshToken(ctx, token(u.ID, "erin-1", clock.Now())))

	require.NoError(t, s.DeleteUser(ctx, u.ID))

	_, err := s.UserByID(ctx, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.RefreshToken(ctx, "erin-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), store.ErrNotFound)
}

func testRefreshTokens(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	u := seedUser(t, s, "frank")
	base := clock.Now()

	require.NoError(t, s.AddRefreshToken(ctx, token(u.ID, "frank-2", base.Add(time.Minute))))
	require.NoError(t, s.AddRefreshToken(ctx, token(u.ID, "frank-1", base)))
	assert.ErrorIs(t, s.AddRefreshToken(ctx, token(u.ID, "frank-1", base)), store.ErrConflict)

	got, err := s.RefreshToken(ctx, "frank-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.True(t, got.Created.Equal(base))
	assert.True(t, got.Expires.Equal(base.Add(7*24*time.Hour)))
	assert.Nil(t, got.Revoked)
	assert.Empty(t, got.ReplacedByToken)

	list, err := s.RefreshTokensForUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "frank-1", list[0].Token)
	assert.Equal(t, "frank-2", list[1].Token)

	empty, err := s.RefreshTokensForUser(ctx, u.ID+1000)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.RefreshToken(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRefreshTokenOwner(t *testing.T, s store.Store, clock *Clock) {
	err := s.AddRefreshToken(context.Background(), token(987654, "orphan", clock.Now()))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRevokeSingleWinner(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	u := seedUser(t, s, "grace")
	require.NoError(t, s.AddRefreshToken(ctx, token(u.ID, "grace-1", clock.Now())))

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.RevokeRefreshToken(ctx, "grace-1", clock.Now(), fmt.Sprintf("next-%d", i))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrConflict)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	got, err := s.RefreshToken(ctx, "grace-1")
	require.NoError(t, err)
	require.NotNil(t, got.Revoked)
	assert.NotEmpty(t, got.ReplacedByToken)
	assert.False(t, got.IsActive(clock.Now()))

	assert.ErrorIs(t, s.RevokeRefreshToken(ctx, "missing", clock.Now(), ""), store.ErrNotFound)
}

func testDeleteRefreshTokens(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	a := seedUser(t, s, "heidi")
	b := seedUser(t, s, "ivan")
	require.NoError(t, s.AddRefreshToken(ctx, token(a.ID, "heidi-1", clock.Now())))
	require.NoError(t, s.AddRefreshToken(ctx, token(a.ID, "heidi-2", clock.Now())))
	require.NoError(t, s.AddRefreshToken(ctx, token(b.ID, "ivan-1", clock.Now())))

	require.NoError(t, s.DeleteRefreshTokens(ctx, a.ID, "heidi-1", "ivan-1", "missing"))
	require.NoError(t, s.DeleteRefreshTokens(ctx, a.ID))

	_, err := s.RefreshToken(ctx, "heidi-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.RefreshToken(ctx, "heidi-2")
	assert.NoError(t, err)
	_, err = s.RefreshToken(ctx, "ivan-1")
	assert.NoError(t, err, "tokens of another user must survive")
}

func testRevokedJTI(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()
	ttl := 7 * 24 * time.Hour

	revoked, err := s.IsJTIRevoked(ctx, "judy", "j1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.AddRevokedJTI(ctx, "Judy", "j1", ttl))
	require.NoError(t, s.AddRevokedJTI(ctx, "judy", "j1", ttl))

	revoked, err = s.IsJTIRevoked(ctx, "JUDY", "j1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = s.IsJTIRevoked(ctx, "judy", "j2")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = s.IsJTIRevoked(ctx, "mallory", "j1")
	require.NoError(t, err)
	assert.False(t, revoked, "jti sets are per user")

	clock.Advance(ttl)
	revoked, err = s.IsJTIRevoked(ctx, "judy", "j1")
	require.NoError(t, err)
	assert.False(t, revoked, "entry must expire after its ttl")
}

func testRefreshValidity(t *testing.T, s store.Store, clock *Clock) {
	ctx := context.Background()

	_, found, err := s.RefreshValidity(ctx, "secret-a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetRefreshValidity(ctx, "secret-a", true, 7*24*time.Hour))
	valid, found, err := s.RefreshValidity(ctx, "secret-a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, valid)

	require.NoError(t, s.SetRefreshValidity(ctx, "secret-a", false, 24*time.Hour))
	valid, found, err = s.RefreshValidity(ctx, "secret-a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, valid)

	clock.Advance(24 * time.Hour)
	_, found, err = s.RefreshValidity(ctx, "secret-a")
	require.NoError(t, err)
	assert.False(t, found)
}

func testPing(t *testing.T, s store.Store, _ *Clock) {
	require.NoError(t, s.Ping(context.Background()))
}

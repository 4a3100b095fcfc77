package refresh

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medconnect/authcore/revocation"
	"github.com/medconnect/authcore/store"
	"github.com/medconnect/authcore/store/memory"
	"github.com/medconnect/authcore/store/storetest"
)

type harness struct {
	clock   *storetest.Clock
	store   *memory.Store
	tracker *revocation.Tracker
	ledger  *Ledger
	user    store.User
	minted  int32
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{clock: storetest.NewClock()}
	h.store = memory.New(memory.WithClock(h.clock.Now))
	h.tracker = revocation.NewTracker(revocation.NewMemoryCache(h.clock.Now), h.store, revocation.Config{})

	u, err := h.store.CreateUser(context.Background(), store.User{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	h.user = u

	cfg := Config{Now: h.clock.Now, Logger: zap.NewNop()}
	if mutate != nil {
		mutate(&cfg)
	}
	h.ledger = h.newLedger(t, h.store, cfg)
	return h
}

func (h *harness) newLedger(t *testing.T, repo Repository, cfg Config) *Ledger {
	t.Helper()
	l, err := New(repo, h.tracker, func(_ context.Context, u store.User) (string, error) {
		n := atomic.AddInt32(&h.minted, 1)
		return fmt.Sprintf("access-%d-%d", u.ID, n), nil
	}, cfg)
	require.NoError(t, err)
	return l
}

func (h *harness) issue(t *testing.T) store.RefreshToken {
	t.Helper()
	tok, err := h.ledger.Issue(context.Background(), h.user.ID)
	require.NoError(t, err)
	return tok
}

func (h *harness) stored(t *testing.T, secret string) store.RefreshToken {
	t.Helper()
	tok, err := h.store.RefreshToken(context.Background(), secret)
	require.NoError(t, err)
	return tok
}

func TestIssue(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.issue(t)

	raw, err := base64.StdEncoding.DecodeString(tok.Token)
	require.NoError(t, err)
	assert.Len(t, raw, 64)
	assert.Equal(t, h.user.ID, tok.UserID)
	assert.True(t, tok.Expires.Equal(h.clock.Now().Add(7*24*time.Hour)))
	assert.True(t, h.stored(t, tok.Token).IsActive(h.clock.Now()))

	valid, err := h.tracker.IsRefreshTokenValid(context.Background(), tok.Token)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestRotate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	old := h.issue(t)

	h.clock.Advance(time.Minute)
	rot, err := h.ledger.Rotate(ctx, old.Token)
	require.NoError(t, err)

	assert.NotEqual(t, old.Token, rot.RefreshToken.Token)
	assert.NotEmpty(t, rot.AccessToken)
	assert.Equal(t, h.user.ID, rot.User.ID)

	prev := h.stored(t, old.Token)
	require.NotNil(t, prev.Revoked)
	assert.Equal(t, rot.RefreshToken.Token, prev.ReplacedByToken)
	assert.False(t, prev.IsActive(h.clock.Now()))
	assert.True(t, h.stored(t, rot.RefreshToken.Token).IsActive(h.clock.Now()))

	valid, known, err := h.tracker.RefreshTokenValidity(ctx, old.Token)
	require.NoError(t, err)
	assert.True(t, known)
	assert.False(t, valid)

	valid, err = h.tracker.IsRefreshTokenValid(ctx, rot.RefreshToken.Token)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestSecondRotationWithSameTokenIsReuse(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	old := h.issue(t)

	_, err := h.ledger.Rotate(ctx, old.Token)
	require.NoError(t, err)

	_, err = h.ledger.Rotate(ctx, old.Token)
	require.ErrorIs(t, err, ErrReused)
	require.ErrorIs(t, err, ErrDenied)
}

func TestReuseDetectedWithoutValidityFlag(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	old := h.issue(t)

	_, err := h.ledger.Rotate(ctx, old.Token)
	require.NoError(t, err)

	// The invalid flag expires after a day; the persisted revocation remains.
	h.clock.Advance(25 * time.Hour)
	_, err = h.ledger.Rotate(ctx, old.Token)
	require.ErrorIs(t, err, ErrReused)
}

func TestRotateUnknownAndMalformed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.ledger.Rotate(ctx, "not-a-token")
	require.ErrorIs(t, err, ErrDenied)

	unknown := base64.StdEncoding.EncodeToString(make([]byte, 64))
	_, err = h.ledger.Rotate(ctx, unknown)
	require.ErrorIs(t, err, ErrDenied)
	require.NotErrorIs(t, err, ErrReused)
}

func TestRotateExpiryBoundary(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	live := h.issue(t)
	dead := h.issue(t)

	h.clock.Advance(7*24*time.Hour - time.Nanosecond)
	_, err := h.ledger.Rotate(ctx, live.Token)
	require.NoError(t, err, "token is active until its expiry instant")

	h.clock.Advance(time.Nanosecond)
	_, err = h.ledger.Rotate(ctx, dead.Token)
	require.ErrorIs(t, err, ErrDenied)
	require.NotErrorIs(t, err, ErrReused)
}

type missingOwner struct{ *memory.Store }

func (missingOwner) UserByID(context.Context, int64) (store.User, error) {
	return store.User{}, store.ErrNotFound
}

func TestRotateDeniedWhenOwnerMissing(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.issue(t)

	l := h.newLedger(t, missingOwner{h.store}, Config{Now: h.clock.Now})
	_, err := l.Rotate(context.Background(), tok.Token)
	require.ErrorIs(t, err, ErrDenied)
}

func TestDeletedUserTokensAreDenied(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.issue(t)
	require.NoError(t, h.store.DeleteUser(context.Background(), h.user.ID))

	_, err := h.ledger.Rotate(context.Background(), tok.Token)
	require.ErrorIs(t, err, ErrDenied)
}

func TestConcurrentRotationsOfDistinctTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	const n = 100
	tokens := make([]store.RefreshToken, n)
	for i := range tokens {
		tokens[i] = h.issue(t)
	}

	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rot, err := h.ledger.Rotate(ctx, tokens[i].Token)
			errs[i] = err
			results[i] = rot.RefreshToken.Token
		}(i)
	}
	wg.Wait()

	fresh := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		fresh[results[i]] = struct{}{}
	}
	assert.Len(t, fresh, n)

	all, err := h.store.RefreshTokensForUser(ctx, h.user.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2*n, "no lost updates")

	active := 0
	for _, tok := range all {
		if tok.IsActive(h.clock.Now()) {
			active++
			assert.Contains(t, fresh, tok.Token)
		}
	}
	assert.Equal(t, n, active)
}

func TestConcurrentRotationsOfSameTokenHaveOneWinner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	tok := h.issue(t)

	const n = 16
	var (
		wg      sync.WaitGroup
		success int32
		reused  int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Rotate(ctx, tok.Token)
			switch {
			case err == nil:
				atomic.AddInt32(&success, 1)
			case errors.Is(err, ErrReused):
				atomic.AddInt32(&reused, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, success)
	assert.EqualValues(t, n-1, reused)
}

func TestPruneRemovesOnlyStaleInactive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first := h.issue(t)
	h.clock.Advance(time.Hour)
	rot, err := h.ledger.Rotate(ctx, first.Token)
	require.NoError(t, err)

	h.clock.Advance(7*24*time.Hour - 30*time.Minute)
	removed, err := h.ledger.Prune(ctx, h.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = h.store.RefreshToken(ctx, first.Token)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, h.stored(t, rot.RefreshToken.Token).IsActive(h.clock.Now()))
}

func TestRotationPrunesStaleTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	stale := h.issue(t)
	h.clock.Advance(8 * 24 * time.Hour)
	current := h.issue(t)

	_, err := h.ledger.Rotate(ctx, current.Token)
	require.NoError(t, err)

	_, err = h.store.RefreshToken(ctx, stale.Token)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevokeAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tokens := []store.RefreshToken{h.issue(t), h.issue(t), h.issue(t)}
	revoked, err := h.ledger.RevokeAll(ctx, h.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, revoked)

	for _, tok := range tokens {
		assert.False(t, h.stored(t, tok.Token).IsActive(h.clock.Now()))
		_, err := h.ledger.Rotate(ctx, tok.Token)
		assert.ErrorIs(t, err, ErrReused)
	}

	revoked, err = h.ledger.RevokeAll(ctx, h.user.ID)
	require.NoError(t, err)
	assert.Zero(t, revoked)
}

func TestReuseDoesNotCascadeByDefault(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	a := h.issue(t)
	b, err := h.ledger.Rotate(ctx, a.Token)
	require.NoError(t, err)

	_, err = h.ledger.Rotate(ctx, a.Token)
	require.ErrorIs(t, err, ErrReused)

	_, err = h.ledger.Rotate(ctx, b.RefreshToken.Token)
	require.NoError(t, err, "legitimate successor must survive a replay")
}

func TestReuseRevokesChainWhenEnabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RevokeChainOnReuse = true })
	ctx := context.Background()

	a := h.issue(t)
	b, err := h.ledger.Rotate(ctx, a.Token)
	require.NoError(t, err)
	c, err := h.ledger.Rotate(ctx, b.RefreshToken.Token)
	require.NoError(t, err)

	_, err = h.ledger.Rotate(ctx, a.Token)
	require.ErrorIs(t, err, ErrReused)

	assert.False(t, h.stored(t, c.RefreshToken.Token).IsActive(h.clock.Now()))
	_, err = h.ledger.Rotate(ctx, c.RefreshToken.Token)
	require.ErrorIs(t, err, ErrReused)

	valid, known, err := h.tracker.RefreshTokenValidity(ctx, c.RefreshToken.Token)
	require.NoError(t, err)
	assert.True(t, known)
	assert.False(t, valid)
}

// ownerFlip reports a different owner on every read after the first.
type ownerFlip struct {
	*memory.Store
	reads int32
}

func (o *ownerFlip) RefreshToken(ctx context.Context, secret string) (store.RefreshToken, error) {
	tok, err := o.Store.RefreshToken(ctx, secret)
	if atomic.AddInt32(&o.reads, 1) > 1 {
		tok.UserID += 1000
	}
	return tok, err
}

func TestOwnerChangeUnderLockIsInvariantViolation(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.issue(t)

	l := h.newLedger(t, &ownerFlip{Store: h.store}, Config{Now: h.clock.Now})
	_, err := l.Rotate(context.Background(), tok.Token)
	require.ErrorIs(t, err, ErrInvariant)
}

type downStore struct{ *memory.Store }

func (downStore) RefreshToken(context.Context, string) (store.RefreshToken, error) {
	return store.RefreshToken{}, fmt.Errorf("%w: connection reset", store.ErrUnavailable)
}

func TestStorageFailureIsNotDenied(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.issue(t)

	l := h.newLedger(t, downStore{h.store}, Config{Now: h.clock.Now})
	_, err := l.Rotate(context.Background(), tok.Token)
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.NotErrorIs(t, err, ErrDenied)
}

func TestMintFailureSurfaces(t *testing.T) {
	h := newHarness(t, nil)
	tok := h.issue(t)
	errMint := errors.New("signer offline")

	l, err := New(h.store, h.tracker, func(context.Context, store.User) (string, error) {
		return "", errMint
	}, Config{Now: h.clock.Now})
	require.NoError(t, err)

	_, err = l.Rotate(context.Background(), tok.Token)
	require.ErrorIs(t, err, errMint)
}

func TestNewRejectsShortSecrets(t *testing.T) {
	h := newHarness(t, nil)
	_, err := New(h.store, h.tracker, func(context.Context, store.User) (string, error) { return "", nil },
		Config{SecretBytes: 32})
	require.Error(t, err)
}

package authcore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/medconnect/authcore/password"
	"github.com/medconnect/authcore/store"
	"github.com/medconnect/authcore/store/memory"
	"github.com/medconnect/authcore/store/storetest"
)

const (
	testUsername = "alice"
	testPassword = "correct-horse-battery"
)

var (
	keyOnce sync.Once
	keyPEM  []byte
	keyErr  error
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			keyErr = err
			return
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	})
	require.NoError(t, keyErr)
	return keyPEM
}

// testConfig uses the cheapest Argon2 parameters the hasher accepts.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.JWT.PrivateKeyPEM = testKeyPEM(t)
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
		BcryptCost:  bcrypt.MinCost,
	}
	return cfg
}

func testHasher(t *testing.T) *password.Argon2 {
	t.Helper()
	h, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	return h
}

type harness struct {
	engine *Engine
	store  *memory.Store
	clock  *storetest.Clock
	user   store.User
}

type harnessOption func(*Builder)

func newHarness(t *testing.T, mutate func(*Config), opts ...harnessOption) *harness {
	t.Helper()
	clock := storetest.NewClock()
	mem := memory.New(memory.WithClock(clock.Now))
	return newHarnessWithStore(t, mem, mem, clock, mutate, opts...)
}

func newHarnessWithStore(t *testing.T, mem *memory.Store, s store.Store, clock *storetest.Clock, mutate func(*Config), opts ...harnessOption) *harness {
	t.Helper()

	hash, err := testHasher(t).Hash(testPassword)
	require.NoError(t, err)
	user, err := mem.CreateUser(context.Background(), store.User{
		Username:     testUsername,
		Email:        "alice@example.com",
		PasswordHash: hash,
		Role:         store.RoleDoctor,
	})
	require.NoError(t, err)

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	b := New().WithConfig(cfg).WithStore(s).WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &harness{engine: engine, store: mem, clock: clock, user: user}
}

func (h *harness) login(t *testing.T) LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	return res
}

var errConnRefused = errors.New("dial tcp: connection refused")

// outageStore fails user lookups and JTI reads while down is set.
type outageStore struct {
	store.Store
	down  atomic.Bool
	calls atomic.Int32
}

func (s *outageStore) UserByUsername(ctx context.Context, username string) (store.User, error) {
	s.calls.Add(1)
	if s.down.Load() {
		return store.User{}, errConnRefused
	}
	return s.Store.UserByUsername(ctx, username)
}

func (s *outageStore) IsJTIRevoked(ctx context.Context, username, jti string) (bool, error) {
	s.calls.Add(1)
	if s.down.Load() {
		return false, errConnRefused
	}
	return s.Store.IsJTIRevoked(ctx, username, jti)
}

// downCache fails every call.
type downCache struct{ calls atomic.Int32 }

func (c *downCache) AddRevokedJTI(context.Context, string, string, time.Duration) error {
	c.calls.Add(1)
	return errConnRefused
}

func (c *downCache) IsJTIRevoked(context.Context, string, string) (bool, error) {
	c.calls.Add(1)
	return false, errConnRefused
}

func (c *downCache) SetRefreshValidity(context.Context, string, bool, time.Duration) error {
	c.calls.Add(1)
	return errConnRefused
}

func (c *downCache) RefreshValidity(context.Context, string) (bool, bool, error) {
	c.calls.Add(1)
	return false, false, errConnRefused
}

func (c *downCache) Close() error { return nil }

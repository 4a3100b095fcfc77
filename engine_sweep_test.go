package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medconnect/authcore/store/memory"
	"github.com/medconnect/authcore/store/storetest"
)

func noBackgroundSweep(c *Config) { c.Revocation.SweepInterval = 0 }

func logoutTwice(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.engine.Logout(ctx, testUsername, "j1"))
	require.NoError(t, h.engine.Logout(ctx, testUsername, "j2"))
}

func TestSweepDropsExpiredRevocations(t *testing.T) {
	h := newHarness(t, noBackgroundSweep)
	logoutTwice(t, h)

	assert.Zero(t, h.engine.sweepOnce(context.Background()), "nothing has expired yet")

	h.clock.Advance(h.engine.config.Revocation.JTIRetention + time.Second)
	// Two jtis in the store and the same two in the memory cache.
	assert.EqualValues(t, 4, h.engine.sweepOnce(context.Background()))
	assert.Zero(t, h.engine.sweepOnce(context.Background()))
	assert.EqualValues(t, 4, h.engine.metrics.Value(MetricRevocationSwept))

	allowed, err := h.engine.VerifyRequest(context.Background(), testUsername, "j1")
	require.NoError(t, err)
	assert.True(t, allowed, "expired revocation no longer applies")
}

func TestSweepRunsInBackground(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Revocation.SweepInterval = 5 * time.Millisecond })
	logoutTwice(t, h)
	h.clock.Advance(h.engine.config.Revocation.JTIRetention + time.Second)

	assert.Eventually(t, func() bool {
		return h.engine.metrics.Value(MetricRevocationSwept) == 4
	}, time.Second, time.Millisecond)

	h.engine.Close()
	h.engine.Close()
}

func TestSweepDisabledStartsNoLoop(t *testing.T) {
	h := newHarness(t, noBackgroundSweep)
	assert.Nil(t, h.engine.stopSweep)
	assert.Len(t, h.engine.sweepTargets, 2)
}

type unsweepableStore struct{ *memory.Store }

func (unsweepableStore) Sweep(context.Context) (int64, error) { return 0, errConnRefused }

func TestSweepFailureSkipsOnlyThatBackend(t *testing.T) {
	clock := storetest.NewClock()
	mem := memory.New(memory.WithClock(clock.Now))
	h := newHarnessWithStore(t, mem, unsweepableStore{mem}, clock, noBackgroundSweep)
	logoutTwice(t, h)
	h.clock.Advance(h.engine.config.Revocation.JTIRetention + time.Second)

	assert.EqualValues(t, 2, h.engine.sweepOnce(context.Background()))
}

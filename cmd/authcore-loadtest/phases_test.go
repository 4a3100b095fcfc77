package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medconnect/authcore"
	"github.com/medconnect/authcore/password"
	"github.com/medconnect/authcore/store/memory"
)

func TestPercentileAndStats(t *testing.T) {
	samples := []time.Duration{5, 1, 4, 2, 3}
	s := computeStats(time.Second, samples, 1)
	assert.Equal(t, 5, s.ops)
	assert.Equal(t, time.Duration(3), s.p50)
	assert.Equal(t, time.Duration(4), s.p95)
	assert.Equal(t, int64(1), s.failures)
	assert.InDelta(t, 5.0, s.opsPerS, 0.001)

	empty := computeStats(time.Second, nil, 2)
	assert.Zero(t, empty.ops)
	assert.Equal(t, int64(2), empty.failures)
}

func TestPhasesAgainstMemoryBackends(t *testing.T) {
	ctx := context.Background()
	s, err := loadSettings("")
	require.NoError(t, err)
	s.Users, s.Concurrency, s.Ops, s.LogoutEvery = 20, 4, 100, 4
	s.Cache = backendMiniredis

	client, closeRedis, err := openRedis(s, zap.NewNop())
	require.NoError(t, err)
	defer closeRedis()

	cfg, err := engineConfig(s)
	require.NoError(t, err)
	st := memory.New()
	engine, err := authcore.New().WithConfig(cfg).WithStore(st).WithRedis(client).WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)
	defer engine.Close()

	hasher, err := password.NewArgon2(password.Config{Memory: cfg.Password.Memory, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	hash, err := hasher.Hash(loadtestPassword)
	require.NoError(t, err)

	states, err := seedUsers(ctx, st, hash, s.Users, 1)
	require.NoError(t, err)

	assert.Zero(t, loginPhase(ctx, engine, states, s.Concurrency).failures)
	assert.Zero(t, verifyPhase(ctx, engine, states, s.Ops, s.Concurrency).failures)
	refreshStats := refreshPhase(ctx, engine, states, s.Ops, s.Concurrency)
	assert.Zero(t, refreshStats.failures)
	assert.Equal(t, s.Ops, refreshStats.ops)

	logoutStats := logoutPhase(ctx, engine, states, s.LogoutEvery, s.Concurrency)
	assert.Equal(t, 5, logoutStats.ops)

	mismatches, err := checkRevocations(ctx, engine, states)
	require.NoError(t, err)
	assert.Zero(t, mismatches)
}

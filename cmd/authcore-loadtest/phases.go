package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medconnect/authcore"
	"github.com/medconnect/authcore/store"
)

const loadtestPassword = "loadtest-password-1"

type sessionState struct {
	mu       sync.Mutex
	username string
	userID   int64
	jti      string
	refresh  string
	revoked  bool
}

// runPhase calls op ops times across concurrency workers and collects one
// latency sample per call.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// seedUsers stores n users sharing one precomputed hash. Usernames carry
// runID so repeated runs against Postgres do not collide.
func seedUsers(ctx context.Context, users store.Users, hash string, n int, runID int64) ([]*sessionState, error) {
	states := make([]*sessionState, n)
	for i := 0; i < n; i++ {
		username := fmt.Sprintf("lt%d-user%d", runID, i)
		u, err := users.CreateUser(ctx, store.User{
			Username:     username,
			Email:        username + "@loadtest.invalid",
			PasswordHash: hash,
			Role:         store.Role(i % 3),
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", username, err)
		}
		states[i] = &sessionState{username: u.Username, userID: u.ID}
	}
	return states, nil
}

func loginPhase(ctx context.Context, engine *authcore.Engine, states []*sessionState, concurrency int) phaseStats {
	return runPhase(len(states), concurrency, func(_ *rand.Rand, i int) error {
		st := states[i]
		res, err := engine.Login(ctx, st.username, loadtestPassword)
		if err != nil {
			return err
		}
		claims, err := engine.ValidateAccess(ctx, res.AccessToken)
		if err != nil {
			return err
		}
		st.mu.Lock()
		st.jti = claims.ID
		st.refresh = res.RefreshToken
		st.mu.Unlock()
		return nil
	})
}

func verifyPhase(ctx context.Context, engine *authcore.Engine, states []*sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, func(r *rand.Rand, _ int) error {
		st := states[r.Intn(len(states))]
		_, err := engine.VerifyRequest(ctx, st.username, st.jti)
		return err
	})
}

func refreshPhase(ctx context.Context, engine *authcore.Engine, states []*sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, func(r *rand.Rand, _ int) error {
		st := states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		pair, err := engine.Refresh(ctx, st.refresh)
		if err != nil {
			return err
		}
		st.refresh = pair.RefreshToken
		return nil
	})
}

func logoutPhase(ctx context.Context, engine *authcore.Engine, states []*sessionState, every, concurrency int) phaseStats {
	targets := (len(states) + every - 1) / every
	return runPhase(targets, concurrency, func(_ *rand.Rand, i int) error {
		st := states[i*every]
		if err := engine.Logout(ctx, st.username, st.jti); err != nil {
			return err
		}
		st.mu.Lock()
		st.revoked = true
		st.mu.Unlock()
		return nil
	})
}

// checkRevocations counts sessions whose VerifyRequest answer disagrees with
// the logout phase.
func checkRevocations(ctx context.Context, engine *authcore.Engine, states []*sessionState) (mismatches int, err error) {
	for _, st := range states {
		allowed, verr := engine.VerifyRequest(ctx, st.username, st.jti)
		if verr != nil {
			return mismatches, verr
		}
		if allowed == st.revoked {
			mismatches++
		}
	}
	return mismatches, nil
}

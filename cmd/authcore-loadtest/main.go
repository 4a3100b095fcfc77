// Command authcore-loadtest drives an Engine through login, verify, refresh
// and logout phases and prints throughput and latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/medconnect/authcore"
	"github.com/medconnect/authcore/logging"
	"github.com/medconnect/authcore/password"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "YAML settings file; environment variables override it")
		users       = flag.Int("users", 0, "number of users to seed")
		concurrency = flag.Int("concurrency", 0, "number of concurrent workers")
		ops         = flag.Int("ops", 0, "operations per verify and refresh phase")
		storeKind   = flag.String("store", "", "memory or postgres")
		cacheKind   = flag.String("cache", "", "memory, miniredis or redis")
	)
	flag.Parse()

	s, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "users":
			s.Users = *users
		case "concurrency":
			s.Concurrency = *concurrency
		case "ops":
			s.Ops = *ops
		case "store":
			s.Store = *storeKind
		case "cache":
			s.Cache = *cacheKind
		}
	})
	if err := s.validate(); err != nil {
		return err
	}

	logger, err := logging.New(s.LogLevel, s.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	st, err := openStore(ctx, s, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	client, closeRedis, err := openRedis(s, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	cfg, err := engineConfig(s)
	if err != nil {
		return err
	}
	b := authcore.New().WithConfig(cfg).WithStore(st).WithLogger(logger)
	if client != nil {
		b.WithRedis(client)
	}
	engine, err := b.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(loadtestPassword)
	if err != nil {
		return err
	}

	logger.Info("seeding users", zap.Int("users", s.Users), zap.String("store", s.Store), zap.String("cache", s.Cache))
	startSeed := time.Now()
	states, err := seedUsers(ctx, st, hash, s.Users, time.Now().Unix())
	if err != nil {
		return err
	}
	logger.Info("seeded", zap.Duration("took", time.Since(startSeed).Round(time.Millisecond)))

	loginStats := loginPhase(ctx, engine, states, s.Concurrency)
	if loginStats.failures > 0 {
		return fmt.Errorf("%d logins failed; later phases need every session", loginStats.failures)
	}
	verifyStats := verifyPhase(ctx, engine, states, s.Ops, s.Concurrency)
	refreshStats := refreshPhase(ctx, engine, states, s.Ops, s.Concurrency)
	logoutStats := logoutPhase(ctx, engine, states, s.LogoutEvery, s.Concurrency)

	mismatches, err := checkRevocations(ctx, engine, states)
	if err != nil {
		return fmt.Errorf("revocation check: %w", err)
	}

	fmt.Println("---- results ----")
	fmt.Printf("login:   %s\n", loginStats)
	fmt.Printf("verify:  %s\n", verifyStats)
	fmt.Printf("refresh: %s\n", refreshStats)
	fmt.Printf("logout:  %s\n", logoutStats)
	fmt.Printf("revocation mismatches: %d\n", mismatches)

	storeState, cacheState := engine.BreakerStates()
	fmt.Printf("breakers: store=%s cache=%s audit_dropped=%d\n", storeState, cacheState, engine.AuditDropped())
	snap := engine.MetricsSnapshot()
	fmt.Printf("counters: cache_hits=%d cache_errors=%d unavailable=%d reuse=%d\n",
		snap.Counters[authcore.MetricRevocationCacheHit],
		snap.Counters[authcore.MetricRevocationCacheError],
		snap.Counters[authcore.MetricUnavailable],
		snap.Counters[authcore.MetricRefreshReuseDetected],
	)

	if mismatches > 0 {
		return fmt.Errorf("%d sessions disagree with logout state", mismatches)
	}
	return nil
}

func engineConfig(s settings) (authcore.Config, error) {
	key, err := signingKey(s.PrivateKeyFile)
	if err != nil {
		return authcore.Config{}, err
	}
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKeyPEM = key
	cfg.Revocation.RedisPrefix = s.RedisPrefix
	cfg.Revocation.SweepInterval = s.SweepInterval
	cfg.Password.Memory = s.Argon2MemoryKB
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg, nil
}

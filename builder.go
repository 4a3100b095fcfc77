package authcore

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medconnect/authcore/breaker"
	internalaudit "github.com/medconnect/authcore/internal/audit"
	"github.com/medconnect/authcore/jwt"
	"github.com/medconnect/authcore/password"
	"github.com/medconnect/authcore/refresh"
	"github.com/medconnect/authcore/revocation"
	"github.com/medconnect/authcore/store"
)

// Builder assembles an Engine. Configure it during startup, call Build once,
// then discard it.
type Builder struct {
	config Config
	store  store.Store
	redis  redis.UniversalClient
	cache  revocation.Cache
	hasher password.Hasher
	logger *zap.Logger
	now    func() time.Time

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the authoritative storage. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis selects the shared Redis fast layer for revocation state.
// Without it, and without WithCache, a process-local cache is used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCache sets an explicit revocation fast layer. It takes precedence
// over WithRedis.
func (b *Builder) WithCache(c revocation.Cache) *Builder {
	b.cache = c
	return b
}

// WithPasswordHasher overrides the default Argon2id-with-bcrypt-fallback
// hasher.
func (b *Builder) WithPasswordHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, parses key material and wires every
// component. All failures wrap ErrConfig.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrConfig)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:  cfg,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}

	// -------- BREAKERS --------
	engine.storeBreaker = breaker.New(breaker.Config{
		Name:             "store",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		IsFailure:        store.IsFailure,
		OnStateChange:    engine.onBreakerChange,
		Now:              now,
	})
	engine.cacheBreaker = breaker.New(breaker.Config{
		Name:             "cache",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		OnStateChange:    engine.onBreakerChange,
		Now:              now,
	})
	engine.store = store.Guard(b.store, engine.storeBreaker)

	// -------- REVOCATION --------
	cache := b.cache
	switch {
	case cache != nil:
	case b.redis != nil:
		cache = revocation.NewRedisCache(b.redis, cfg.Revocation.RedisPrefix)
	default:
		cache = revocation.NewMemoryCache(now)
	}
	engine.tracker = revocation.NewTracker(revocation.GuardCache(cache, engine.cacheBreaker), engine.store, revocation.Config{
		JTIRetention:    cfg.Revocation.JTIRetention,
		ValidityWarmTTL: cfg.Revocation.ValidityWarmTTL,
		Logger:          logger,
		Observer:        trackerObserver{m: engine.metrics},
	})

	// -------- TOKEN ISSUER --------
	tokens, err := jwt.NewManager(jwt.Config{
		PrivateKeyPEM: cloneBytes(cfg.JWT.PrivateKeyPEM),
		PublicKeyPEM:  cloneBytes(cfg.JWT.PublicKeyPEM),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		AccessTTL:     cfg.JWT.AccessTTL,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	engine.tokens = tokens

	// -------- PASSWORDS --------
	engine.hasher = b.hasher
	if engine.hasher == nil {
		primary, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		engine.hasher = password.NewMulti(primary, password.NewBcrypt(cfg.Password.BcryptCost))
	}
	decoy, err := engine.hasher.Hash(decoyPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: password hasher: %v", ErrConfig, err)
	}
	engine.decoyHash = decoy

	// -------- LEDGER --------
	ledger, err := refresh.New(engine.store, engine.tracker, engine.mintAccess, refresh.Config{
		TokenTTL:           cfg.Refresh.TokenTTL,
		Retention:          cfg.Refresh.Retention,
		RevokedValidityTTL: cfg.Refresh.RevokedValidityTTL,
		SecretBytes:        cfg.Refresh.SecretBytes,
		RevokeChainOnReuse: cfg.Refresh.RevokeChainOnReuse,
		Now:                now,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	engine.ledger = ledger

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, logger)

	engine.sweepTargets = collectSweepTargets(b.store, engine.storeBreaker, cache, engine.cacheBreaker)
	engine.startSweeper(cfg.Revocation.SweepInterval)

	b.built = true
	return engine, nil
}

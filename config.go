package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/medconnect/authcore/internal"
)

// Config is the complete engine configuration. Obtain one from
// DefaultConfig and override fields; zero-valued durations are rejected by
// Validate rather than silently defaulted.
type Config struct {
	JWT        JWTConfig
	Refresh    RefreshConfig
	Revocation RevocationConfig
	Breaker    BreakerConfig
	Password   PasswordConfig
	Metrics    MetricsConfig
	Audit      AuditConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access-token issuance. PrivateKeyPEM is required;
// PublicKeyPEM defaults to the public half of the private key.
type JWTConfig struct {
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures the refresh token ledger.
type RefreshConfig struct {
	TokenTTL           time.Duration
	Retention          time.Duration
	RevokedValidityTTL time.Duration
	SecretBytes        int
	// RevokeChainOnReuse also revokes every active successor of a token
	// that is presented after it was rotated away.
	RevokeChainOnReuse bool
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig configures the two-tier revocation tracker.
type RevocationConfig struct {
	JTIRetention    time.Duration
	ValidityWarmTTL time.Duration
	// RedisPrefix namespaces keys in the shared cache.
	RedisPrefix string
	// SweepInterval is how often expired entries are dropped from backends
	// that keep them until swept. Zero disables sweeping.
	SweepInterval time.Duration
}

/*
====================================
BREAKER CONFIG
====================================
*/

// BreakerConfig applies to both the store and the cache breaker.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig sets the Argon2id parameters of the default hasher.
// BcryptCost applies to legacy hashes only.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	BcryptCost  int
}

/*
====================================
METRICS / AUDIT CONFIG
====================================
*/

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns a configuration with every field except the signing
// key set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:    "medconnect",
			Audience:  "medconnect-api",
			AccessTTL: time.Hour,
		},
		Refresh: RefreshConfig{
			TokenTTL:           7 * 24 * time.Hour,
			Retention:          7 * 24 * time.Hour,
			RevokedValidityTTL: 24 * time.Hour,
			SecretBytes:        internal.MinSecretBytes,
		},
		Revocation: RevocationConfig{
			JTIRetention:    7 * 24 * time.Hour,
			ValidityWarmTTL: time.Minute,
			RedisPrefix:     "authcore:",
			SweepInterval:   10 * time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			BcryptCost:  10,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKeyPEM = cloneBytes(cfg.JWT.PrivateKeyPEM)
	out.JWT.PublicKeyPEM = cloneBytes(cfg.JWT.PublicKeyPEM)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration without touching key material. Key
// parsing happens in Build. Every returned error matches ErrConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	// JWT
	if len(c.JWT.PrivateKeyPEM) == 0 {
		return errors.New("JWT PrivateKeyPEM is required")
	}
	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		return errors.New("JWT Issuer and Audience are required")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Refresh
	if c.Refresh.TokenTTL <= 0 {
		return errors.New("Refresh TokenTTL must be > 0")
	}
	if c.Refresh.Retention <= 0 {
		return errors.New("Refresh Retention must be > 0")
	}
	if c.Refresh.RevokedValidityTTL <= 0 {
		return errors.New("Refresh RevokedValidityTTL must be > 0")
	}
	if c.Refresh.SecretBytes < internal.MinSecretBytes {
		return fmt.Errorf("Refresh SecretBytes must be >= %d", internal.MinSecretBytes)
	}
	if c.Refresh.TokenTTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TokenTTL must exceed JWT AccessTTL")
	}

	// Revocation
	if c.Revocation.JTIRetention < c.JWT.AccessTTL {
		return errors.New("Revocation JTIRetention must cover JWT AccessTTL")
	}
	if c.Revocation.ValidityWarmTTL <= 0 {
		return errors.New("Revocation ValidityWarmTTL must be > 0")
	}
	if c.Revocation.SweepInterval < 0 {
		return errors.New("Revocation SweepInterval must be >= 0")
	}

	// Breaker
	if c.Breaker.FailureThreshold <= 0 {
		return errors.New("Breaker FailureThreshold must be > 0")
	}
	if c.Breaker.Cooldown <= 0 {
		return errors.New("Breaker Cooldown must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Enabled")
	}
	return nil
}

package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL = time.Hour
	minRSAKeyBits    = 2048
	maxLeeway        = 2 * time.Minute
)

var (
	// ErrInvalidKey reports missing or malformed signing key material.
	ErrInvalidKey = errors.New("invalid signing key")
	// ErrInvalidConfig reports an unusable issuer configuration.
	ErrInvalidConfig = errors.New("invalid token issuer configuration")
)

// Config carries the key material and claim bindings for a [Manager].
//
// PrivateKeyPEM holds a PKCS#1 or PKCS#8 RSA private key. PublicKeyPEM is
// optional; when empty the public half of the private key verifies tokens.
type Config struct {
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	Leeway        time.Duration
	KeyID         string
	Now           func() time.Time
}

// Identity is the resolved user an access token is minted for.
type Identity struct {
	Subject  string
	Username string
	Email    string
}

// Claims is the access-token payload. ID carries the jti.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Manager signs and parses RS256 access tokens. It holds no mutable state and
// is safe for concurrent use.
type Manager struct {
	config    Config
	signKey   *rsa.PrivateKey
	verifyKey *rsa.PublicKey
}

// NewManager validates the configuration and parses the key material. It is
// meant to run once at startup; any error here is a configuration error.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.AccessTTL < 0 {
		return nil, fmt.Errorf("%w: access ttl must be > 0", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("%w: leeway must be within [0, %s]", ErrInvalidConfig, maxLeeway)
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrInvalidConfig)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if len(cfg.PrivateKeyPEM) == 0 {
		return nil, fmt.Errorf("%w: private key is not configured", ErrInvalidKey)
	}
	signKey, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if signKey.N.BitLen() < minRSAKeyBits {
		return nil, fmt.Errorf("%w: rsa key must be at least %d bits", ErrInvalidKey, minRSAKeyBits)
	}

	verifyKey := &signKey.PublicKey
	if len(cfg.PublicKeyPEM) > 0 {
		verifyKey, err = jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if !verifyKey.Equal(&signKey.PublicKey) {
			return nil, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
		}
	}

	return &Manager{config: cfg, signKey: signKey, verifyKey: verifyKey}, nil
}

// AccessTTL returns the lifetime stamped on issued tokens.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// Issue mints a signed access token for id with a fresh random jti.
func (m *Manager) Issue(id Identity) (string, error) {
	token, _, err := m.IssueClaims(id)
	return token, err
}

// IssueClaims is Issue that also returns the claims that were signed.
func (m *Manager) IssueClaims(id Identity) (string, *Claims, error) {
	jti, err := uuid.NewRandom()
	if err != nil {
		return "", nil, fmt.Errorf("generate jti: %w", err)
	}

	now := m.config.Now()
	claims := &Claims{
		Email: id.Email,
		Name:  id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{m.config.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies signature, algorithm, issuer, audience and expiry. It does
// not consult revocation state.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithAudience(m.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if m.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.verifyKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.ID == "" || claims.Name == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

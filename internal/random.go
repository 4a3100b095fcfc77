package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// MinSecretBytes is the smallest refresh secret the ledger will mint.
const MinSecretBytes = 64

// ErrMalformedSecret reports a presented refresh secret that could never
// have been minted by NewRefreshSecret.
var ErrMalformedSecret = errors.New("malformed refresh secret")

// NewRefreshSecret returns n random bytes encoded with standard base64.
func NewRefreshSecret(n int) (string, error) {
	if n < MinSecretBytes {
		return "", fmt.Errorf("refresh secret must be at least %d bytes", MinSecretBytes)
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// CheckRefreshSecret rejects strings that are not standard base64 of at
// least MinSecretBytes bytes.
func CheckRefreshSecret(secret string) error {
	if len(secret) < base64.StdEncoding.EncodedLen(MinSecretBytes) {
		return ErrMalformedSecret
	}
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(raw) < MinSecretBytes {
		return ErrMalformedSecret
	}
	return nil
}

// Fingerprint is the hex SHA-256 of secret. Caches key on it so raw
// secrets never leave the process.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

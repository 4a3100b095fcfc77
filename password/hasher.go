package password

import (
	"errors"
	"strings"
)

var (
	// ErrMalformedHash reports a stored hash that cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnsupportedHash reports a hash produced by an unknown scheme.
	ErrUnsupportedHash = errors.New("password: unsupported hash scheme")
	// ErrPasswordLength reports a plaintext outside the accepted length range.
	ErrPasswordLength = errors.New("password: length out of range")
)

// Hasher turns plaintext into a self-describing hash and checks plaintext
// against one. A false result with a nil error is a plain mismatch.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) (bool, error)
}

// Multi hashes with Primary and verifies with whichever scheme produced the
// stored hash: bcrypt for "$2a$", "$2b$" and "$2y$" hashes, Primary
// otherwise.
type Multi struct {
	Primary Hasher
	Legacy  *Bcrypt
}

// NewMulti returns a Multi that writes Argon2id hashes and still accepts
// bcrypt hashes created before the switch.
func NewMulti(primary Hasher, legacy *Bcrypt) *Multi {
	if legacy == nil {
		legacy = NewBcrypt(0)
	}
	return &Multi{Primary: primary, Legacy: legacy}
}

func (m *Multi) Hash(plaintext string) (string, error) {
	return m.Primary.Hash(plaintext)
}

func (m *Multi) Verify(plaintext, encoded string) (bool, error) {
	if IsBcrypt(encoded) {
		return m.Legacy.Verify(plaintext, encoded)
	}
	return m.Primary.Verify(plaintext, encoded)
}

// NeedsRehash is true for any hash the primary scheme did not produce with
// its current parameters.
func (m *Multi) NeedsRehash(encoded string) bool {
	if IsBcrypt(encoded) {
		return true
	}
	if a, ok := m.Primary.(*Argon2); ok {
		upgrade, err := a.NeedsUpgrade(encoded)
		return err != nil || upgrade
	}
	return false
}

// IsBcrypt reports whether encoded carries a bcrypt prefix.
func IsBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

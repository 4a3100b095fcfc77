package store

import (
	"strings"
	"time"
)

// Role is the closed set of user roles.
type Role int

const (
	// RolePharma is the default role.
	RolePharma Role = iota
	RoleDoctor
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleDoctor:
		return "Doctor"
	default:
		return "Pharma"
	}
}

// ParseRole maps a role name to a Role. Unknown names map to RolePharma and
// report false.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, true
	case "doctor":
		return RoleDoctor, true
	case "pharma":
		return RolePharma, true
	default:
		return RolePharma, false
	}
}

// User is the account a session belongs to.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         Role
}

// RefreshToken is one issued refresh secret. Revoked is set once and never
// cleared.
type RefreshToken struct {
	Token           string
	UserID          int64
	Created         time.Time
	Expires         time.Time
	Revoked         *time.Time
	ReplacedByToken string
}

// IsExpired reports whether the token has reached its expiry at now.
func (t RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.Expires)
}

// IsActive reports whether the token is neither revoked nor expired at now.
func (t RefreshToken) IsActive(now time.Time) bool {
	return t.Revoked == nil && !t.IsExpired(now)
}

// Clone returns a copy that shares no pointers with t.
func (t RefreshToken) Clone() RefreshToken {
	if t.Revoked != nil {
		at := *t.Revoked
		t.Revoked = &at
	}
	return t
}

// FoldName returns the case-insensitive key for a username or email.
func FoldName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Trimmed returns u with surrounding whitespace removed from Username and
// Email. Stores persist this form so FoldName lookups match the stored row.
func (u User) Trimmed() User {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.TrimSpace(u.Email)
	return u
}

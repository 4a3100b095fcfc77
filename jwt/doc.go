// Package jwt issues and verifies RS256 access tokens.
//
// Each token carries the user id as sub, the username as name, the email, and
// a random jti that the revocation tracker keys on. Parse enforces the same
// algorithm, issuer, audience and expiry rules that Issue stamps; it never
// consults revocation state.
//
// # What this package must NOT do
//
//   - Touch storage or caches.
//   - Accept a signing algorithm other than RS256.
//   - Start without usable key material.
package jwt

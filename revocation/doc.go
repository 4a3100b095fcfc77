// Package revocation tracks revoked access-token JTIs and refresh-token
// validity flags across two tiers: a fast Cache (process memory or Redis)
// and the authoritative store.Revocations layer.
//
// # Ordering
//
// Writes go to the authoritative layer first. If that fails the fast layer
// is left alone, so the cache never claims a revocation the store does not
// know about. Reads consult the fast layer and fall back to the store on a
// miss or error. The fast layer only ever holds positive JTI entries, which
// makes a successful AddRevokedJTI visible to every later IsJTIRevoked.
//
// # What this package must NOT do
//
//   - Decide whether a refresh token may be rotated; the ledger owns that.
//   - Store raw refresh secrets in the fast layer.
package revocation

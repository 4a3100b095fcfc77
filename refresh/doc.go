// Package refresh implements the refresh-token ledger: issuing opaque
// refresh secrets, rotating them one-for-one, and pruning what is no longer
// usable.
//
// # Token format
//
// A secret is 64 random bytes encoded with standard base64. The ledger
// persists it through a Repository and registers a validity flag through a
// Validity layer; the persisted Revoked and Expires fields stay the source of
// truth.
//
// # Rotation
//
// All mutations of one user's tokens run under a per-user lock. Rotation
// revokes the presented token (a conditional update, so exactly one caller
// wins), stores the successor, and prunes stale tokens before releasing the
// lock. A revoked token presented again fails with ErrReused. With
// Config.RevokeChainOnReuse the ledger also revokes every active successor of
// the replayed token.
//
// # What this package must NOT do
//
//   - Sign access tokens; the caller supplies an AccessMinter.
//   - Log refresh secrets.
//   - Hold a user's lock across calls to the validity layer.
package refresh

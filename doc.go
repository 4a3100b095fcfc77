// Package authcore is the session and trust core: RS256 access tokens,
// rotating opaque refresh tokens, and a two-tier revocation tracker guarded
// by circuit breakers.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types ([LoginResult], [TokenPair], [MetricsSnapshot]). Token
// issuance lives in jwt/, rotation in refresh/, revocation in revocation/,
// storage behind store/. Audit dispatch and metric storage live under
// internal/.
//
// # Error taxonomy
//
// Every Engine method returns one of [ErrUnauthorized], [ErrUnavailable] or
// [ErrInvariant] (or the caller's own context error). Construction returns
// errors wrapping [ErrConfig].
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Tell a caller why a credential was rejected.
//   - Import any sub-package that re-imports authcore (no import cycles).
//
// # Performance contract
//
// VerifyRequest is the hot path. With a warm fast layer it makes one cache
// round-trip and no store calls.
package authcore

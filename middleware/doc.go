// Package middleware adapts [authcore.Engine] to net/http.
//
// [Guard] reads the Authorization header, calls Engine.ValidateAccess, and
// stores the validated claims in the request context for [ClaimsFromContext].
// [LogoutHandler] revokes the access token that authenticated the request.
//
// # Status codes
//
//   - 401 with a Bearer challenge when the token is missing, malformed,
//     expired or revoked.
//   - 503 with Retry-After when revocation state cannot be read. Requests
//     are never let through on a backend failure.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis or the store.
//   - Tell the client why its token was rejected.
package middleware

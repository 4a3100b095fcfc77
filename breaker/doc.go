// Package breaker implements a consecutive-failure circuit breaker for guarding
// calls into a fallible dependency.
//
// # State machine
//
// A breaker starts Closed. FailureThreshold consecutive failures open it. While
// Open every call fails with [ErrOpen] without running the operation. Once the
// cooldown elapses the next call becomes the single Half-Open trial: success
// closes the breaker, failure reopens it with a fresh cooldown.
//
// # What this package must NOT do
//
//   - Retry operations. Callers decide whether a failure is worth repeating.
//   - Share state between breakers. Build one per protected dependency.
package breaker

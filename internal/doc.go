// Package internal holds helpers private to authcore: refresh secret
// generation and shape checks, and token fingerprints for logs.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - keylock: per-key mutexes for serializing rotations
//   - metrics: lock-free counters and the verify latency histogram
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Log or return raw refresh secrets.
package internal

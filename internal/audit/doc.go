// Package audit implements async event dispatching for login, refresh and
// logout outcomes.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//     Refresh reuse events always wait for room; drops are counted per event type.
//   - [Event]: structured audit record with timestamp, type, user, jti and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authcore or any sibling internal package.
//   - Record passwords or refresh-token secrets.
package audit

// Package prometheus renders authcore metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] reads [authcore.Engine.MetricsSnapshot] on every
// scrape. Counters are named authcore_*_total; the one histogram is
// authcore_verify_latency_seconds. authcore_breaker_state{breaker="store"}
// and {breaker="cache"} report 0 closed, 1 half-open, 2 open.
//
// # What this package must NOT do
//
//   - Register metrics in a global registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus

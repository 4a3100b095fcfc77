// Package otel binds authcore metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter,
// an Int64ObservableGauge per latency bucket and an authcore_breaker_state
// gauge with one point per breaker. One callback reads the engine once per
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel

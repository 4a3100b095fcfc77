package internaldefs

import (
	"github.com/medconnect/authcore/internal/metrics"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   metrics.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   metrics.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const AuditDroppedName = "authcore_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: metrics.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: metrics.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: metrics.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: metrics.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: metrics.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Presentations of an already rotated refresh token."},
	{ID: metrics.MetricLogout, Name: "authcore_logout_total", Help: "Access tokens revoked by logout."},
	{ID: metrics.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: metrics.MetricVerifyAllowed, Name: "authcore_verify_allowed_total", Help: "Requests whose access token was not revoked."},
	{ID: metrics.MetricVerifyRevoked, Name: "authcore_verify_revoked_total", Help: "Requests rejected for a revoked access token."},
	{ID: metrics.MetricUnavailable, Name: "authcore_unavailable_total", Help: "Operations failed because a backend was unavailable."},
	{ID: metrics.MetricRevocationCacheHit, Name: "authcore_revocation_cache_hit_total", Help: "Revocation checks answered by the fast layer."},
	{ID: metrics.MetricRevocationCacheError, Name: "authcore_revocation_cache_error_total", Help: "Fast layer errors that fell back to the store."},
	{ID: metrics.MetricBreakerOpened, Name: "authcore_breaker_opened_total", Help: "Circuit breaker transitions to open."},
	{ID: metrics.MetricPasswordRehashed, Name: "authcore_password_rehashed_total", Help: "Stored password hashes upgraded on login."},
	{ID: metrics.MetricRevocationSwept, Name: "authcore_revocation_swept_total", Help: "Expired revocation entries dropped by the background sweep."},
}

var HistogramDefs = []HistogramDef{
	{ID: metrics.MetricVerifyLatency, Name: "authcore_verify_latency_seconds", Help: "VerifyRequest latency."},
}

// HistogramBounds are the bucket upper bounds in seconds, in the order
// metrics.BucketIndex assigns them.
var HistogramBounds = [metrics.BucketCount]string{
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.005",
	"0.025",
	"0.1",
	"+Inf",
}

var HistogramBoundSuffix = [metrics.BucketCount]string{
	"0_0001",
	"0_00025",
	"0_0005",
	"0_001",
	"0_005",
	"0_025",
	"0_1",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, truncating or
// zero-padding as needed.
func NormalizeBuckets(raw []uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [metrics.BucketCount]uint64) [metrics.BucketCount]uint64 {
	var out [metrics.BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

package internaldefs

import (
	"github.com/medconnect/authcore/breaker"
	"github.com/medconnect/authcore/internal/metrics"
)

// Source is what the exporters read on every scrape. *authcore.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() metrics.Snapshot
	AuditDropped() uint64
	BreakerStates() (storeState, cacheState breaker.State)
}

const (
	BreakerStateName = "authcore_breaker_state"
	BreakerStateHelp = "Circuit breaker position: 0 closed, 1 half-open, 2 open."
	BreakerLabel     = "breaker"

	AuditDroppedHelp = "Audit events dropped under dispatcher backpressure."
)

// BreakerGauge is one labelled sample of BreakerStateName.
type BreakerGauge struct {
	Breaker string
	Value   int64
}

// BreakerGauges reads both breakers, store first.
func BreakerGauges(src Source) [2]BreakerGauge {
	storeState, cacheState := src.BreakerStates()
	return [2]BreakerGauge{
		{Breaker: "store", Value: BreakerStateValue(storeState)},
		{Breaker: "cache", Value: BreakerStateValue(cacheState)},
	}
}

// BreakerStateValue orders positions by severity so alerts can use "> 0".
func BreakerStateValue(s breaker.State) int64 {
	switch s {
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// LatencyBuckets returns the cumulative bucket counts for id, padded to
// metrics.BucketCount.
func LatencyBuckets(snap metrics.Snapshot, id metrics.MetricID) [metrics.BucketCount]uint64 {
	return CumulativeBuckets(NormalizeBuckets(snap.Histograms[id]))
}

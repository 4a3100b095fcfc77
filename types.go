package authcore

import (
	"io"

	internalaudit "github.com/medconnect/authcore/internal/audit"
	internalmetrics "github.com/medconnect/authcore/internal/metrics"
	"github.com/medconnect/authcore/store"
)

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Role         store.Role
}

// TokenPair is returned by [Engine.Refresh]. The presented refresh token is
// no longer usable once a pair is returned.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuditEvent is one recorded security outcome.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from a single dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events in a channel read through Events.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// Audit event types.
const (
	AuditLogin        = internalaudit.EventLogin
	AuditRefresh      = internalaudit.EventRefresh
	AuditRefreshReuse = internalaudit.EventRefreshReuse
	AuditLogout       = internalaudit.EventLogout
	AuditLogoutAll    = internalaudit.EventLogoutAll
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a counter or the verification latency histogram.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess         = internalmetrics.MetricLoginSuccess
	MetricLoginFailure         = internalmetrics.MetricLoginFailure
	MetricRefreshSuccess       = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure       = internalmetrics.MetricRefreshFailure
	MetricRefreshReuseDetected = internalmetrics.MetricRefreshReuseDetected
	MetricLogout               = internalmetrics.MetricLogout
	MetricLogoutAll            = internalmetrics.MetricLogoutAll
	MetricVerifyAllowed        = internalmetrics.MetricVerifyAllowed
	MetricVerifyRevoked        = internalmetrics.MetricVerifyRevoked
	MetricUnavailable          = internalmetrics.MetricUnavailable
	MetricRevocationCacheHit   = internalmetrics.MetricRevocationCacheHit
	MetricRevocationCacheError = internalmetrics.MetricRevocationCacheError
	MetricBreakerOpened        = internalmetrics.MetricBreakerOpened
	MetricPasswordRehashed     = internalmetrics.MetricPasswordRehashed
	MetricRevocationSwept      = internalmetrics.MetricRevocationSwept
	MetricVerifyLatency        = internalmetrics.MetricVerifyLatency
)

// Metrics holds atomic counters and the optional latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] configured by cfg. When Enabled is false
// every operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}

// trackerObserver forwards revocation fast-layer signals into Metrics.
type trackerObserver struct{ m *Metrics }

func (o trackerObserver) FastHit()   { o.m.Inc(MetricRevocationCacheHit) }
func (o trackerObserver) FastError() { o.m.Inc(MetricRevocationCacheError) }

package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/medconnect/authcore"
	"github.com/medconnect/authcore/internal/metrics"
	"github.com/medconnect/authcore/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// scrape is what one collection cycle reads from the source.
type scrape struct {
	snapshot metrics.Snapshot
	latency  map[metrics.MetricID][metrics.BucketCount]uint64
	dropped  uint64
	breakers [2]internaldefs.BreakerGauge
}

func newScrape(src internaldefs.Source) *scrape {
	s := &scrape{
		snapshot: src.MetricsSnapshot(),
		latency:  make(map[metrics.MetricID][metrics.BucketCount]uint64, len(internaldefs.HistogramDefs)),
		dropped:  src.AuditDropped(),
		breakers: internaldefs.BreakerGauges(src),
	}
	for _, def := range internaldefs.HistogramDefs {
		s.latency[def.ID] = internaldefs.LatencyBuckets(s.snapshot, def.ID)
	}
	return s
}

type observeFunc func(metric.Observer, *scrape)

// registrar creates instruments and remembers how each one is observed.
// The first creation error sticks.
type registrar struct {
	meter       metric.Meter
	observables []metric.Observable
	observers   []observeFunc
	err         error
}

func (r *registrar) counter(name, help string, value func(*scrape) int64) {
	if r.err != nil {
		return
	}
	ins, err := r.meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		r.err = fmt.Errorf("create observable counter %s: %w", name, err)
		return
	}
	r.observables = append(r.observables, ins)
	r.observers = append(r.observers, func(o metric.Observer, s *scrape) {
		o.ObserveInt64(ins, value(s))
	})
}

func (r *registrar) gauge(name, help string, value func(*scrape) int64) {
	if r.err != nil {
		return
	}
	ins, err := r.meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		r.err = fmt.Errorf("create observable gauge %s: %w", name, err)
		return
	}
	r.observables = append(r.observables, ins)
	r.observers = append(r.observers, func(o metric.Observer, s *scrape) {
		o.ObserveInt64(ins, value(s))
	})
}

// breakerStates is one gauge with a data point per breaker.
func (r *registrar) breakerStates() {
	if r.err != nil {
		return
	}
	ins, err := r.meter.Int64ObservableGauge(internaldefs.BreakerStateName, metric.WithDescription(internaldefs.BreakerStateHelp))
	if err != nil {
		r.err = fmt.Errorf("create observable gauge %s: %w", internaldefs.BreakerStateName, err)
		return
	}
	r.observables = append(r.observables, ins)
	r.observers = append(r.observers, func(o metric.Observer, s *scrape) {
		for _, g := range s.breakers {
			o.ObserveInt64(ins, g.Value, metric.WithAttributes(attribute.String(internaldefs.BreakerLabel, g.Breaker)))
		}
	})
}

// OTelExporter publishes engine metrics through observable instruments.
// Histogram buckets become cumulative gauges named <name>_bucket_le_<bound>.
type OTelExporter struct {
	registration metric.Registration
}

func NewOTelExporter(meter metric.Meter, engine *authcore.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source internaldefs.Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	r := &registrar{meter: meter}
	for _, def := range internaldefs.CounterDefs {
		r.counter(def.Name, def.Help, func(s *scrape) int64 { return int64(s.snapshot.Counters[def.ID]) })
	}
	for _, def := range internaldefs.HistogramDefs {
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			r.gauge(def.Name+"_bucket_le_"+suffix, "Cumulative histogram bucket count.", func(s *scrape) int64 {
				return int64(s.latency[def.ID][i])
			})
		}
		r.gauge(def.Name+"_count", "Histogram total sample count.", func(s *scrape) int64 {
			return int64(s.latency[def.ID][metrics.BucketCount-1])
		})
	}
	r.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, func(s *scrape) int64 { return int64(s.dropped) })
	r.breakerStates()
	if r.err != nil {
		return nil, r.err
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := newScrape(source)
		for _, observe := range r.observers {
			observe(o, s)
		}
		return nil
	}, r.observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return &OTelExporter{registration: registration}, nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

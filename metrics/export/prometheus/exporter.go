package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/medconnect/authcore"
	"github.com/medconnect/authcore/metrics/export/internaldefs"
)

// PrometheusExporter renders engine metrics in the Prometheus text
// exposition format.
type PrometheusExporter struct {
	source internaldefs.Source
}

func NewPrometheusExporter(engine *authcore.Engine) *PrometheusExporter {
	if engine == nil {
		return &PrometheusExporter{}
	}
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from any snapshot source, such as a
// test fake.
func NewPrometheusExporterFromSource(source internaldefs.Source) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render on every request.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics, or "" when metrics are disabled and
// nothing was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	w := &textWriter{}
	w.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		w.family(def.Name, def.Help, "counter")
		w.sample(def.Name, "", strconv.FormatUint(snapshot.Counters[def.ID], 10))
	}

	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.LatencyBuckets(snapshot, def.ID)
		w.family(def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			w.sample(def.Name+"_bucket", label("le", le), strconv.FormatUint(cumulative[i], 10))
		}
		w.sample(def.Name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
		// Snapshots carry no sum.
		w.sample(def.Name+"_sum", "", "0")
	}

	w.family(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, "counter")
	w.sample(internaldefs.AuditDroppedName, "", strconv.FormatUint(dropped, 10))

	w.family(internaldefs.BreakerStateName, internaldefs.BreakerStateHelp, "gauge")
	for _, g := range internaldefs.BreakerGauges(p.source) {
		w.sample(internaldefs.BreakerStateName, label(internaldefs.BreakerLabel, g.Breaker), strconv.FormatInt(g.Value, 10))
	}

	return w.String()
}

type textWriter struct {
	strings.Builder
}

func (w *textWriter) family(name, help, kind string) {
	w.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	w.WriteString("# TYPE " + name + " " + kind + "\n")
}

// sample writes one line; labels is either "" or a rendered {k="v"} set.
func (w *textWriter) sample(name, labels, value string) {
	w.WriteString(name)
	w.WriteString(labels)
	w.WriteByte(' ')
	w.WriteString(value)
	w.WriteByte('\n')
}

func label(key, value string) string {
	return "{" + key + `="` + escapeLabel(value) + `"}`
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}

func escapeLabel(v string) string {
	return strings.ReplaceAll(escapeHelp(v), `"`, `\"`)
}

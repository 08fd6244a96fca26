package prometheus

import (
	"net/http"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/MrEthical07/goAbuse/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() goAbuse.MetricsSnapshot
	AuditDropped() uint64
	BreakerState() string
}

// PrometheusExporter is a prometheus.Collector over an engine's in-process
// counters. Values are read on every scrape; nothing is cached.
type PrometheusExporter struct {
	source metricsSource

	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
	breakerOpen  *prometheus.Desc

	registry *prometheus.Registry
}

type counterDesc struct {
	id   goAbuse.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   goAbuse.MetricID
	desc *prometheus.Desc
}

// NewPrometheusExporter creates an exporter that reads from engine.
func NewPrometheusExporter(engine *goAbuse.Engine) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine)
}

// NewPrometheusExporterFromSource creates an exporter over any source with the
// engine's metric accessors.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{
		source:       source,
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
		breakerOpen:  prometheus.NewDesc(internaldefs.BreakerOpenName, internaldefs.BreakerOpenHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		p.counters = append(p.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		p.histograms = append(p.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}

	// Private registry; callers that already run one can Register the
	// exporter there instead of mounting Handler.
	p.registry = prometheus.NewRegistry()
	p.registry.MustRegister(p)
	return p
}

func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range p.counters {
		ch <- c.desc
	}
	for _, h := range p.histograms {
		ch <- h.desc
	}
	ch <- p.auditDropped
	ch <- p.breakerOpen
}

// Collect emits nothing while the engine's metrics are disabled.
func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if p == nil || p.source == nil {
		return
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for _, c := range p.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(snapshot.Counters[c.id]))
	}

	bounds := internaldefs.HistogramBounds()
	for _, h := range p.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(bounds))
		for i, le := range bounds {
			buckets[le] = cumulative[i]
		}
		// The engine does not track a sum.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(p.auditDropped, prometheus.CounterValue, float64(dropped))
	ch <- prometheus.MustNewConstMetric(p.breakerOpen, prometheus.GaugeValue, internaldefs.BreakerValue(p.source.BreakerState()))
}

// Handler serves the exporter's private registry in the Prometheus
// exposition format.
func (p *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the private registry, for tests and push gateways.
func (p *PrometheusExporter) Gatherer() prometheus.Gatherer {
	return p.registry
}

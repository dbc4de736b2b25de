package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "idf"

// Metrics holds the collectors of one process on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	DecodeFailures   *prometheus.CounterVec
	Exports          *prometheus.CounterVec
	ExportDuration   prometheus.Histogram
	ExportPages      prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	Drafts           prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "generate", Name: "calls_total",
			Help: "LLM provider calls by provider, operation and outcome.",
		}, []string{"provider", "op", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "generate", Name: "call_duration_seconds",
			Help:    "LLM provider call latency.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"provider", "op"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "failures_total",
			Help: "Model responses that could not be decoded, by shape.",
		}, []string{"shape"}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "total",
			Help: "Exports by format and outcome.",
		}, []string{"format", "outcome"}),
		ExportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "export", Name: "duration_seconds",
			Help:    "Time to lay out and render a PDF.",
			Buckets: prometheus.DefBuckets,
		}),
		ExportPages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "export", Name: "pages",
			Help:    "Pages per exported document.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		Drafts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "drafts", Name: "open",
			Help: "Drafts currently held in memory.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ProviderCalls, m.ProviderDuration, m.DecodeFailures,
		m.Exports, m.ExportDuration, m.ExportPages,
		m.HTTPRequests, m.HTTPDuration, m.Drafts,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveProvider records one provider call. A nil receiver is a no-op.
func (m *Metrics) ObserveProvider(provider, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ProviderCalls.WithLabelValues(provider, op, outcome).Inc()
	m.ProviderDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveDecodeFailure(shape string) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(shape).Inc()
}

func (m *Metrics) ObserveExport(format string, start time.Time, pages int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Exports.WithLabelValues(format, outcome).Inc()
	if err == nil && format == "pdf" {
		m.ExportDuration.Observe(time.Since(start).Seconds())
		m.ExportPages.Observe(float64(pages))
	}
}

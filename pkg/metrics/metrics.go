package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for RequestsTotal.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalidInput = "invalid_input"
	OutcomeFetchFailed  = "fetch_failed"
	OutcomeError        = "error"
)

// Metrics holds the proxy's collectors. Each instance owns its registry so
// several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	ResponseBytes    prometheus.Histogram
	RewriteWarnings  prometheus.Counter
	ContentKindTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageproxy_requests_total",
				Help: "Total number of proxy requests by outcome",
			},
			[]string{"outcome"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pageproxy_fetch_duration_seconds",
				Help:    "Upstream fetch latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		ResponseBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pageproxy_upstream_response_bytes",
				Help:    "Size of upstream response bodies",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
		),
		RewriteWarnings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pageproxy_rewrite_warnings_total",
				Help: "Attributes skipped because their URL could not be resolved",
			},
		),
		ContentKindTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageproxy_content_total",
				Help: "Rendered responses by content kind",
			},
			[]string{"kind"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors on a private registry.
type Metrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight          prometheus.Gauge
	reqTotal          *prometheus.CounterVec
	reqDur            *prometheus.HistogramVec
	panicTotal        prometheus.Counter
	rateLimited       prometheus.Counter
	rateLimitFailures prometheus.Counter
	rejections        *prometheus.CounterVec
	authAttempts      *prometheus.CounterVec
}

// NewMetrics returns a fresh registry with Go/process collectors and the
// gateway metrics. Labels are kept to bounded sets (route patterns, not paths).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auth_http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_http_panics_total",
			Help: "Total number of recovered handler panics",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_ratelimit_rejected_total",
			Help: "Total requests rejected by the rate limiter",
		}),
		rateLimitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_ratelimit_store_errors_total",
			Help: "Total rate limit store failures (requests failed closed)",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_pipeline_rejections_total",
			Help: "Requests rejected by a pipeline stage, by stage and error kind",
		}, []string{"stage", "kind"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Strategy invocations by strategy and outcome",
		}, []string{"strategy", "outcome"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.panicTotal,
		m.rateLimited,
		m.rateLimitFailures,
		m.rejections,
		m.authAttempts,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

// Handler serves the exposition format
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the underlying registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) IncPanic() {
	m.panicTotal.Inc()
}

func (m *Metrics) IncRateLimited() {
	m.rateLimited.Inc()
}

func (m *Metrics) IncRateLimitStoreError() {
	m.rateLimitFailures.Inc()
}

func (m *Metrics) IncRejection(stage, kind string) {
	m.rejections.WithLabelValues(stage, kind).Inc()
}

func (m *Metrics) IncAuthAttempt(strategy, outcome string) {
	m.authAttempts.WithLabelValues(strategy, outcome).Inc()
}

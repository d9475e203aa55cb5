// Package metrics exposes Prometheus collectors for the service. Collectors
// live on their own registry so tests and embedders never collide with the
// default one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service collectors. It implements transport.Observer for
// the fetch path.
type Metrics struct {
	reg *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	retriesTotal  prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New builds a Metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedscope_fetch_total",
			Help: "Page fetch attempts partitioned by status class.",
		}, []string{"status_class"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedscope_fetch_duration_seconds",
			Help:    "Fetch attempt latency partitioned by status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"status_class"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedscope_fetch_retries_total",
			Help: "Fetch attempts that were retried.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedscope_http_requests_total",
			Help: "API requests partitioned by method and code.",
		}, []string{"method", "code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedscope_http_request_duration_seconds",
			Help:    "API request latency partitioned by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetchTotal,
		m.fetchDuration,
		m.retriesTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// Registry returns the backing registry, for registering extra collectors
// such as the progress sink.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveFetch records one fetch attempt. Implements transport.Observer.
func (m *Metrics) ObserveFetch(statusClass string, d time.Duration) {
	m.fetchTotal.WithLabelValues(statusClass).Inc()
	if d > 0 {
		m.fetchDuration.WithLabelValues(statusClass).Observe(d.Seconds())
	}
}

// ObserveRetry records a retried fetch attempt. Implements
// transport.Observer.
func (m *Metrics) ObserveRetry() {
	m.retriesTotal.Inc()
}

// Middleware instruments API requests with count and latency, labeled by
// the chi route pattern rather than the raw path.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

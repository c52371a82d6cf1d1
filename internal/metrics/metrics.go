// Package metrics exposes Prometheus counters for HTTP traffic and
// prediction outcomes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	gatherer        prometheus.Gatherer
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	predictions     *prometheus.CounterVec
	failures        *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		gatherer: reg,
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"path", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"path"},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictions_total",
				Help: "Successful predictions by class label",
			}, []string{"label"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_failures_total",
				Help: "Failed predictions by error kind",
			}, []string{"kind"},
		),
	}

	reg.MustRegister(m.requestCount, m.requestDuration, m.predictions, m.failures)
	return m
}

func (m *Metrics) ObservePrediction(label string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

// unmatchedPath labels requests that hit no route. Raw paths from scanners
// must never become label values.
const unmatchedPath = "unmatched"

// Middleware records request counts and latencies keyed by chi route
// pattern, so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := unmatchedPath
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requestCount.WithLabelValues(path, r.Method, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

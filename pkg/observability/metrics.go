package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Compile metrics
	CompileTotal         *prometheus.CounterVec
	CompileErrorsTotal   *prometheus.CounterVec
	CompilePhaseDuration *prometheus.HistogramVec
	TransformsInFlight   prometheus.Gauge

	// Cache metrics
	CacheInvalidationsTotal *prometheus.CounterVec
	DroppedSourcesTotal     prometheus.Counter
	CleanupRemovedTotal     prometheus.Counter

	// Lock metrics
	LockWaitDuration prometheus.Histogram

	// Variant catalogue
	VariantsTotal prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canopy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canopy_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		CompileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_compile_total",
				Help: "Total number of compile requests by variant and outcome",
			},
			[]string{"variant", "status"},
		),
		CompileErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_compile_errors_total",
				Help: "Total number of failed compile requests by error code",
			},
			[]string{"code"},
		),
		CompilePhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canopy_compile_duration_seconds",
				Help:    "Duration of each compile phase in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"phase"},
		),
		TransformsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "canopy_transforms_in_flight",
				Help: "Number of transforms currently running",
			},
		),

		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_cache_invalidations_total",
				Help: "Total number of invalid cache descriptors by reason",
			},
			[]string{"reason"},
		),
		DroppedSourcesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "canopy_cache_dropped_sources_total",
				Help: "Total number of reported sources missing from disk at write time",
			},
		),
		CleanupRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "canopy_cleanup_removed_total",
				Help: "Total number of artifacts removed by the cleanup sweeper",
			},
		),

		LockWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "canopy_lock_wait_seconds",
				Help:    "Time spent waiting for artifact locks in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),

		VariantsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "canopy_variants_total",
				Help: "Number of compile variants served",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.CompileTotal,
		m.CompileErrorsTotal,
		m.CompilePhaseDuration,
		m.TransformsInFlight,
		m.CacheInvalidationsTotal,
		m.DroppedSourcesTotal,
		m.CleanupRemovedTotal,
		m.LockWaitDuration,
		m.VariantsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the matched route template so module paths do not explode
// label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
		if prefix, err := route.GetPathRegexp(); err == nil {
			return prefix
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Package metrics provides Prometheus metrics for the mirror daemon
// and the lookup server.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	rateLimited      prometheus.Counter
	datasetRows      prometheus.Gauge

	syncCycles  *prometheus.CounterVec
	installs    *prometheus.CounterVec
	lastInstall prometheus.Gauge
	servingUp   prometheus.Gauge
}

var globalMetrics *Metrics

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	globalMetrics = &Metrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anilyzer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anilyzer_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "anilyzer_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		cacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "anilyzer_lookup_cache_hits_total",
				Help: "Total number of lookup cache hits",
			},
		),
		cacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "anilyzer_lookup_cache_misses_total",
				Help: "Total number of lookup cache misses",
			},
		),
		rateLimited: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "anilyzer_lookup_rate_limited_total",
				Help: "Total number of lookup requests rejected by the rate limiter",
			},
		),
		datasetRows: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "anilyzer_dataset_rows",
				Help: "Number of series rows in the installed dataset",
			},
		),
		syncCycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anilyzer_sync_cycles_total",
				Help: "Total number of sync cycles by result",
			},
			[]string{"result"},
		),
		installs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anilyzer_dataset_installs_total",
				Help: "Total number of dataset installs by result",
			},
			[]string{"result"},
		),
		lastInstall: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "anilyzer_dataset_last_install_timestamp_seconds",
				Help: "Unix timestamp of the last successful dataset install",
			},
		),
		servingUp: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "anilyzer_serving_process_up",
				Help: "Whether a lookup serving process is live (1 = up, 0 = down)",
			},
		),
	}

	return globalMetrics
}

// RecordHTTPRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
	m.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests gauge.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests gauge.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// RecordCacheHit counts n lookup identifiers resolved from cache.
func (m *Metrics) RecordCacheHit(n int) {
	m.cacheHits.Add(float64(n))
}

// RecordCacheMiss counts n lookup identifiers requiring a dataset read.
func (m *Metrics) RecordCacheMiss(n int) {
	m.cacheMisses.Add(float64(n))
}

// RecordRateLimited counts a rejected lookup request.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// SetDatasetRows records the installed dataset row count.
func (m *Metrics) SetDatasetRows(n int64) {
	m.datasetRows.Set(float64(n))
}

// RecordSyncCycle records the outcome of a sync tick.
func (m *Metrics) RecordSyncCycle(result string) {
	m.syncCycles.WithLabelValues(result).Inc()
}

// RecordInstall records the outcome of a dataset install.
func (m *Metrics) RecordInstall(result string) {
	m.installs.WithLabelValues(result).Inc()
	if result == "success" {
		m.lastInstall.SetToCurrentTime()
	}
}

// SetServingUp records whether the serving process is live.
func (m *Metrics) SetServingUp(up bool) {
	if up {
		m.servingUp.Set(1)
	} else {
		m.servingUp.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		logger: logger,
	}
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Middleware creates middleware that records HTTP metrics.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncRequestsInFlight()
			defer m.DecRequestsInFlight()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

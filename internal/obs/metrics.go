package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Tenant-context metrics.
var (
	contextInitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_context_init_total",
			Help: "Tenant context initializations by outcome.",
		},
		[]string{"outcome"},
	)

	tenantSelectionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_selection_total",
			Help: "Organization selection attempts by result.",
		},
		[]string{"result"},
	)

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenant_sessions_active",
		Help: "Live tenant sessions held by the registry.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		contextInitTotal, tenantSelectionTotal, sessionsActive,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveContextInit records the outcome of one init run
// (ready, unauthenticated, failed).
func ObserveContextInit(outcome string) {
	contextInitTotal.WithLabelValues(outcome).Inc()
}

// ObserveSelection records one selection attempt (switched, rejected,
// persist_failed).
func ObserveSelection(result string) {
	tenantSelectionTotal.WithLabelValues(result).Inc()
}

// SetActiveSessions publishes the current registry size.
func SetActiveSessions(n int) {
	sessionsActive.Set(float64(n))
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps the wrapped writer usable for SSE responses.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

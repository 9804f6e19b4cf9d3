package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	incidentsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidents_created_total",
		Help: "Incidents created.",
	})

	idempotentReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idempotent_replays_total",
		Help: "Incident creates answered from an existing idempotency key.",
	})

	versionConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "version_conflicts_total",
		Help: "Agent config updates rejected on a stale version.",
	})

	authFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Rejected credentials (any cause).",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		incidentsCreatedTotal, idempotentReplaysTotal, versionConflictsTotal,
		authFailuresTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncIncidentCreated()  { incidentsCreatedTotal.Inc() }
func IncIdempotentReplay() { idempotentReplaysTotal.Inc() }
func IncVersionConflict()  { versionConflictsTotal.Inc() }
func IncAuthFailure()      { authFailuresTotal.Inc() }

// Instrument measures RPS, latency and in-flight count per request.
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

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

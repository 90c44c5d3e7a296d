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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready, 0 otherwise.",
	})
)

// Compliance domain metrics.
var (
	AdoptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_adoptions_total",
			Help: "Framework adoptions attempted, by outcome.",
		},
		[]string{"outcome"},
	)

	RollupRecomputesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "compliance_rollup_recomputes_total",
		Help: "Status rollup recomputations triggered by artifact changes.",
	})

	FixorgRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixorg_runs_total",
			Help: "Per-organization reconciliation runs, by outcome.",
		},
		[]string{"outcome"},
	)

	FixorgRepairedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixorg_repaired_entities_total",
			Help: "Entities created by the reconciliation job, by class.",
		},
		[]string{"class"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		AdoptionsTotal, RollupRecomputesTotal, FixorgRunsTotal, FixorgRepairedTotal,
	)
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
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

// statusWriter captures the response code written downstream.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

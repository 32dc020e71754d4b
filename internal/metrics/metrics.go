package metrics

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procsync",
		Name:      "http_requests_total",
		Help:      "Upstream API requests by pipeline and status class (2xx, 4xx, 5xx, error).",
	}, []string{"pipeline", "class"})
	FetchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procsync",
		Name:      "fetch_retries_total",
		Help:      "Retried upstream requests after transient failures.",
	}, []string{"pipeline"})
	Throttled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procsync",
		Name:      "fetch_throttled_total",
		Help:      "Upstream 429 responses.",
	}, []string{"pipeline"})
	FetchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "procsync",
		Name:      "fetch_latency_seconds",
		Help:      "Upstream request latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"pipeline"})
	RecordsUpserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procsync",
		Name:      "records_upserted_total",
		Help:      "Reconciled records by entity and outcome (created, updated, skipped).",
	}, []string{"entity", "outcome"})
	LockSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procsync",
		Name:      "lock_skips_total",
		Help:      "Runs skipped because another run held the resource lock.",
	}, []string{"scope"})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(HTTPRequests, FetchRetries, Throttled, FetchLatency, RecordsUpserted, LockSkips)
}

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Non-blocking when run in goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// AddrFromEnv returns listen address from METRICS_ADDR or default ":9090".
func AddrFromEnv() string {
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}

// StatusClass buckets an HTTP status for the HTTPRequests label.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

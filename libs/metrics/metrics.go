// Package metrics holds the HTTP request instrumentation shared by every
// kora binary, plus the promhttp endpoint handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kora",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kora",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds, by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Register attaches the shared HTTP collectors to the service registry.
// Component-specific collectors (ledger, settle, kafka) register themselves.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(HTTPRequestsTotal, HTTPRequestDuration)
}

// Handler serves the registry on the configured metrics path.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

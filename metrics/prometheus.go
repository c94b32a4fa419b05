package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoserve_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"category", "method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoserve_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoserve_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)

	wpsExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoserve_wps_executions_total",
			Help: "Total number of WPS process executions",
		},
		[]string{"process", "status"},
	)

	wpsExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoserve_wps_execution_duration_seconds",
			Help:    "WPS process execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"process"},
	)

	catalogObjects = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geoserve_catalog_objects",
			Help: "Number of catalog objects by kind",
		},
		[]string{"kind"},
	)

	rateLimitRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoserve_rate_limit_rejects_total",
			Help: "Total number of requests rejected due to rate limiting",
		},
	)

	panicRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoserve_panic_recoveries_total",
			Help: "Total number of panics recovered in HTTP handlers",
		},
	)
)

// ObserveExecution records a finished WPS execution.
func ObserveExecution(process, status string, seconds float64) {
	wpsExecutionsTotal.WithLabelValues(process, status).Inc()
	wpsExecutionDuration.WithLabelValues(process).Observe(seconds)
}

func SetCatalogObjects(kind string, n int) {
	catalogObjects.WithLabelValues(kind).Set(float64(n))
}

func RateLimitRejected() {
	rateLimitRejects.Inc()
}

func PanicRecovered() {
	panicRecoveries.Inc()
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pin synchronizer metrics
	PinsCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_pins_current",
			Help: "Number of recursive pin roots observed in the last refresh",
		},
	)

	PinRefreshSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_pin_refresh_success",
			Help: "Whether the last pin refresh succeeded (1 = success, 0 = failure)",
		},
	)

	PinRefreshTimestampMs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_pin_refresh_timestamp_ms",
			Help: "Unix milliseconds of the last pin refresh attempt",
		},
	)

	PinRefreshDurationMs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_pin_refresh_duration_ms",
			Help: "Duration of the last pin refresh in milliseconds",
		},
	)

	// Type crawler metrics
	TypesIndexedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_types_indexed_total",
			Help: "Total number of CIDs that completed type detection",
		},
	)

	// Directory expander metrics
	DirsExpandedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_dirs_expanded_total",
			Help: "Total number of directories expanded",
		},
	)

	DirExpandErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_dir_expand_errors_total",
			Help: "Total number of directory expansion errors",
		},
	)

	// Gateway metrics
	RangeIgnoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_ipfs_range_ignored_total",
			Help: "Total number of range requests the gateway answered with a full body",
		},
	)

	// HTTP read-server metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_http_requests_total",
			Help: "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PinsCurrent)
	prometheus.MustRegister(PinRefreshSuccess)
	prometheus.MustRegister(PinRefreshTimestampMs)
	prometheus.MustRegister(PinRefreshDurationMs)
	prometheus.MustRegister(TypesIndexedTotal)
	prometheus.MustRegister(DirsExpandedTotal)
	prometheus.MustRegister(DirExpandErrorsTotal)
	prometheus.MustRegister(RangeIgnoredTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPDurations)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

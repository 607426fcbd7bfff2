package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPDurations tracks per-route request durations in milliseconds and
// exposes them as three metric families:
//
//	indexer_http_request_duration_ms_sum{method,path}
//	indexer_http_request_duration_ms_count{method,path}
//	indexer_http_request_duration_ms_max{method,path}
//
// A plain Summary cannot report a max, so this is a small custom collector.
var HTTPDurations = NewDurationTracker()

var (
	durationSumDesc = prometheus.NewDesc(
		"indexer_http_request_duration_ms_sum",
		"Cumulative HTTP request duration in milliseconds",
		[]string{"method", "path"}, nil,
	)
	durationCountDesc = prometheus.NewDesc(
		"indexer_http_request_duration_ms_count",
		"Number of HTTP requests observed",
		[]string{"method", "path"}, nil,
	)
	durationMaxDesc = prometheus.NewDesc(
		"indexer_http_request_duration_ms_max",
		"Maximum observed HTTP request duration in milliseconds",
		[]string{"method", "path"}, nil,
	)
)

type routeKey struct {
	method string
	path   string
}

type routeStats struct {
	sum   float64
	count float64
	max   float64
}

// DurationTracker accumulates sum/count/max per (method, path).
type DurationTracker struct {
	mu     sync.Mutex
	routes map[routeKey]*routeStats
}

// NewDurationTracker creates an empty tracker.
func NewDurationTracker() *DurationTracker {
	return &DurationTracker{routes: make(map[routeKey]*routeStats)}
}

// Observe records one request duration in milliseconds.
func (t *DurationTracker) Observe(method, path string, ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := routeKey{method: method, path: path}
	stats, ok := t.routes[key]
	if !ok {
		stats = &routeStats{}
		t.routes[key] = stats
	}
	stats.sum += ms
	stats.count++
	if ms > stats.max {
		stats.max = ms
	}
}

// Describe implements prometheus.Collector.
func (t *DurationTracker) Describe(ch chan<- *prometheus.Desc) {
	ch <- durationSumDesc
	ch <- durationCountDesc
	ch <- durationMaxDesc
}

// Collect implements prometheus.Collector.
func (t *DurationTracker) Collect(ch chan<- prometheus.Metric) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, stats := range t.routes {
		ch <- prometheus.MustNewConstMetric(durationSumDesc, prometheus.UntypedValue, stats.sum, key.method, key.path)
		ch <- prometheus.MustNewConstMetric(durationCountDesc, prometheus.UntypedValue, stats.count, key.method, key.path)
		ch <- prometheus.MustNewConstMetric(durationMaxDesc, prometheus.UntypedValue, stats.max, key.method, key.path)
	}
}

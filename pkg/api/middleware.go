package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/pindex/pkg/metrics"
)

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps the mux with request counting and per-route duration
// tracking. Paths are normalized so CID values do not explode label
// cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := normalizePath(r.URL.Path)
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDurations.Observe(r.Method, route, elapsed)
	})
}

// normalizePath collapses parameterized segments to their route template.
func normalizePath(p string) string {
	switch {
	case strings.HasPrefix(p, "/cid/"):
		return "/cid/:cid"
	case strings.HasPrefix(p, "/children/"):
		return "/children/:cid"
	case strings.HasPrefix(p, "/parents/"):
		return "/parents/:cid"
	default:
		return p
	}
}

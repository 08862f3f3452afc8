// Package metrics exposes Prometheus collectors for index builds, content assembly and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultAccepted = "accepted"
	resultRejected = "already_building"
)

var (
	// Index build metrics
	indexBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxserve_index_builds_total",
			Help: "Total number of completed index builds",
		},
		[]string{"result"},
	)

	indexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ctxserve_index_build_duration_seconds",
			Help:    "Time to walk the project root into a snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	indexNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctxserve_index_nodes",
			Help: "Number of entries in the current snapshot",
		},
		[]string{"kind"},
	)

	indexBuilding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ctxserve_index_building",
			Help: "1 while an index build is in flight",
		},
	)

	rebuildRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxserve_rebuild_requests_total",
			Help: "Forced rebuild requests by outcome",
		},
		[]string{"result"},
	)

	// Content assembly metrics
	assembledFilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctxserve_assembled_files_total",
			Help: "Files included in assembled bundles",
		},
	)

	skippedFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxserve_skipped_files_total",
			Help: "Files left out of assembled bundles",
		},
		[]string{"reason"},
	)

	assembledBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctxserve_assembled_bytes_total",
			Help: "Content bytes included in assembled bundles",
		},
	)

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxserve_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctxserve_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordIndexBuild records the outcome of one build. Node counts are only updated on success.
func RecordIndexBuild(duration time.Duration, files int, directories int, err error) {
	indexBuildDuration.Observe(duration.Seconds())
	if err != nil {
		indexBuildsTotal.WithLabelValues(resultFailure).Inc()
		return
	}
	indexBuildsTotal.WithLabelValues(resultSuccess).Inc()
	indexNodes.WithLabelValues("file").Set(float64(files))
	indexNodes.WithLabelValues("directory").Set(float64(directories))
}

// SetIndexBuilding flags whether a build is in flight.
func SetIndexBuilding(building bool) {
	if building {
		indexBuilding.Set(1)
		return
	}
	indexBuilding.Set(0)
}

// RecordRebuildRequest counts forced rebuild requests.
func RecordRebuildRequest(accepted bool) {
	if accepted {
		rebuildRequestsTotal.WithLabelValues(resultAccepted).Inc()
		return
	}
	rebuildRequestsTotal.WithLabelValues(resultRejected).Inc()
}

// RecordAssembly counts the files and bytes of one assembled bundle.
func RecordAssembly(files int, bytes int64, skippedByReason map[string]int) {
	assembledFilesTotal.Add(float64(files))
	assembledBytesTotal.Add(float64(bytes))
	for reason, count := range skippedByReason {
		skippedFilesTotal.WithLabelValues(reason).Add(float64(count))
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request counts and latency. pathLabel maps a request to a bounded label.
func Middleware(pathLabel func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, pathLabel(r), rw.statusCode, time.Since(start))
	})
}

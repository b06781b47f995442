// Package metrics provides Prometheus metrics for the driveindex server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels shared by the counters below.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// Token exchange
	tokenExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driveindex_token_exchanges_total",
			Help: "Token exchanges against the OAuth endpoint",
		},
		[]string{"kind", "result"},
	)

	tokenCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driveindex_token_cache_hits_total",
			Help: "Bearer tokens served from the in-memory cache",
		},
	)

	// Remote store
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driveindex_remote_requests_total",
			Help: "HTTP requests sent to the Drive API",
		},
		[]string{"status"},
	)

	remoteRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driveindex_remote_request_duration_seconds",
			Help:    "Drive API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Path resolution
	pathCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driveindex_path_cache_lookups_total",
			Help: "Path cache lookups",
		},
		[]string{"result"},
	)

	// Capabilities
	capabilityVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driveindex_capability_verifications_total",
			Help: "Capability link and session verifications",
		},
		[]string{"kind", "result"},
	)

	linksMintedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driveindex_links_minted_total",
			Help: "Download links minted",
		},
	)

	// HTTP boundary
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driveindex_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driveindex_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	downloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driveindex_download_bytes_total",
			Help: "Bytes streamed to clients from the download endpoint",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}

	return ResultError
}

// RecordTokenExchange records one exchange for a credential kind.
func RecordTokenExchange(kind string, success bool) {
	tokenExchangesTotal.WithLabelValues(kind, result(success)).Inc()
}

// RecordTokenCacheHit records a token served without an exchange.
func RecordTokenCacheHit() {
	tokenCacheHitsTotal.Inc()
}

// RecordRemoteRequest records a single Drive API attempt. Status 0 means the
// request never got a response.
func RecordRemoteRequest(status int, duration time.Duration) {
	label := "network_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}

	remoteRequestsTotal.WithLabelValues(label).Inc()
	remoteRequestDuration.Observe(duration.Seconds())
}

// RecordPathCache records a path cache lookup.
func RecordPathCache(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}

	pathCacheTotal.WithLabelValues(label).Inc()
}

// RecordCapabilityVerification records a link or session verification.
func RecordCapabilityVerification(kind string, valid bool) {
	label := "valid"
	if !valid {
		label = "invalid"
	}

	capabilityVerificationsTotal.WithLabelValues(kind, label).Inc()
}

// RecordLinkMinted records a freshly minted download link.
func RecordLinkMinted() {
	linksMintedTotal.Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDownloadBytes adds streamed download bytes.
func RecordDownloadBytes(n int64) {
	downloadBytesTotal.Add(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. route maps
// a request to a low-cardinality label; raw paths carry user data and must not
// be used directly.
func Middleware(route func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, route(r), rw.statusCode, time.Since(start))
	})
}

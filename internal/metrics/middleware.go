package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds HTTP-related Prometheus metrics.
type HTTPMetrics struct {
	requestsTotal     prometheus.CounterVec
	requestDuration   prometheus.HistogramVec
	responseSizeBytes prometheus.HistogramVec
}

// NewHTTPMetrics creates new HTTP metrics.
func NewHTTPMetrics(registry prometheus.Registerer) *HTTPMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &HTTPMetrics{
		requestsTotal: *promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shelly_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		requestDuration: *promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shelly_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		responseSizeBytes: *promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shelly_http_response_size_bytes",
				Help:    "Size of HTTP responses",
				Buckets: prometheus.ExponentialBuckets(100, 10, 5),
			},
			[]string{"method", "path"},
		),
	}
}

// responseWriter wraps http.ResponseWriter to capture response metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += size
	return size, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// HTTPMiddleware creates HTTP metrics middleware.
func (hm *HTTPMetrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			method := r.Method
			path := r.URL.Path
			statusCode := strconv.Itoa(wrapped.statusCode)

			hm.requestsTotal.WithLabelValues(method, path, statusCode).Inc()
			hm.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
			hm.responseSizeBytes.WithLabelValues(method, path).Observe(float64(wrapped.size))
		})
	}
}

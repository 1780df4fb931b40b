package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Provider metrics
	ProviderLatency  *prometheus.HistogramVec
	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec

	// Generation metrics
	GenerationsTotal   *prometheus.CounterVec
	QuotaBlocked       prometheus.Counter
	CredentialsDemoted prometheus.Counter

	// Rate limiting metrics
	RateLimitHits prometheus.Counter

	// Storage metrics
	StorageUploads   *prometheus.CounterVec
	StorageFallbacks prometheus.Counter
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		ProviderLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_latency_seconds",
				Help:    "Image provider response latency in seconds",
				Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60, 90},
			},
			[]string{"model"},
		),
		ProviderRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_requests_total",
				Help: "Total number of requests to the image provider",
			},
			[]string{"model", "status"},
		),
		ProviderErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_errors_total",
				Help: "Total number of errors from the image provider",
			},
			[]string{"model", "error_type"},
		),

		GenerationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generations_total",
				Help: "Total number of generation requests",
			},
			[]string{"source", "status"},
		),
		QuotaBlocked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quota_blocked_total",
				Help: "Requests rejected because the daily free quota was exhausted",
			},
		),
		CredentialsDemoted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credentials_demoted_total",
				Help: "User credentials cleared after provider rejection",
			},
		),

		RateLimitHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
		),

		StorageUploads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_uploads_total",
				Help: "Total number of durable image uploads",
			},
			[]string{"status"},
		),
		StorageFallbacks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storage_inline_fallbacks_total",
				Help: "Generations stored inline after a failed upload",
			},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordProviderLatency records image provider latency
func RecordProviderLatency(model string, duration time.Duration) {
	Get().ProviderLatency.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordProviderRequest records an image provider request
func RecordProviderRequest(model, status string) {
	Get().ProviderRequests.WithLabelValues(model, status).Inc()
}

// RecordProviderError records an image provider error
func RecordProviderError(model, errorType string) {
	Get().ProviderErrors.WithLabelValues(model, errorType).Inc()
}

// RecordGeneration records a completed or failed generation
func RecordGeneration(source, status string) {
	Get().GenerationsTotal.WithLabelValues(source, status).Inc()
}

// RecordStorageUpload records a durable upload attempt
func RecordStorageUpload(status string) {
	Get().StorageUploads.WithLabelValues(status).Inc()
}

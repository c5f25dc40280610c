package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	proctorSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_sessions_active",
		Help: "Number of live proctored sessions.",
	})

	proctorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	proctorRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proctor_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	proctorEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_events_total",
		Help: "Total detection events processed by type.",
	}, []string{"type"})

	proctorWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proctor_warnings_total",
		Help: "Total warnings issued to candidates.",
	})

	proctorTerminationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proctor_terminations_total",
		Help: "Total sessions force-terminated.",
	})

	proctorWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		proctorRequestsTotal.WithLabelValues(method, path, status).Inc()
		proctorRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// SetActiveSessions sets the live-session gauge.
func SetActiveSessions(n int) {
	proctorSessionsActive.Set(float64(n))
}

// RecordEvent counts one processed detection event.
func RecordEvent(eventType string) {
	proctorEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordWarning counts one issued warning.
func RecordWarning() {
	proctorWarningsTotal.Inc()
}

// RecordTermination counts one terminate decision.
func RecordTermination() {
	proctorTerminationsTotal.Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		proctorWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		proctorWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

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
	sonicRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonic_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	sonicRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sonic_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	sonicTransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonic_transfers_total",
		Help: "Total token transfers by rail and outcome.",
	}, []string{"rail", "status"})

	sonicAuditEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonic_audit_entries_total",
		Help: "Total audit chain entries appended by event type.",
	}, []string{"event_type"})

	sonicAuditFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonic_audit_failures_total",
		Help: "Audit appends that failed after the audited action took effect.",
	}, []string{"event_type"})

	sonicRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonic_rate_limited_total",
		Help: "Requests rejected by a rate limiter, by limiter scope.",
	}, []string{"scope"})

	sonicAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sonic_alerts_total",
		Help: "Total risk alerts raised by the monitoring agent.",
	})

	sonicAlertsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sonic_alerts_open",
		Help: "Alerts currently held by the monitoring agent.",
	})

	sonicBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sonic_account_balance",
		Help: "Last sampled account balance by account and token.",
	}, []string{"account", "token"})
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
			path = "unmatched"
		}

		sonicRequestsTotal.WithLabelValues(method, path, status).Inc()
		sonicRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordTransfer records a transfer attempt on rail.
func RecordTransfer(rail string, success bool) {
	if success {
		sonicTransfersTotal.WithLabelValues(rail, "completed").Inc()
	} else {
		sonicTransfersTotal.WithLabelValues(rail, "failed").Inc()
	}
}

// RecordAuditAppend records an audit chain append.
func RecordAuditAppend(eventType string) {
	sonicAuditEntriesTotal.WithLabelValues(eventType).Inc()
}

// RecordAuditFailure records an audit append that failed after the audited
// action had already taken effect.
func RecordAuditFailure(eventType string) {
	sonicAuditFailuresTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimited records a request rejected by the limiter of scope.
func RecordRateLimited(scope string) {
	sonicRateLimitedTotal.WithLabelValues(scope).Inc()
}

// RecordAlert records a new risk alert.
func RecordAlert() {
	sonicAlertsTotal.Inc()
}

// SetAlertsGauge sets the open alerts gauge.
func SetAlertsGauge(count int) {
	sonicAlertsOpen.Set(float64(count))
}

// SetBalanceGauge sets the balance gauge of account in token.
func SetBalanceGauge(account, token string, amount float64) {
	sonicBalance.WithLabelValues(account, token).Set(amount)
}

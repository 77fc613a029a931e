package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	sessionsStartedTotal   *prometheus.CounterVec
	sessionsFinalizedTotal *prometheus.CounterVec
	finalizeFailuresTotal  *prometheus.CounterVec
	sessionsExpiredTotal   prometheus.Counter
	sessionsCleanedTotal   prometheus.Counter
	activeSessions         prometheus.Gauge

	captureDuration prometheus.Histogram

	webhookDeliveriesTotal  *prometheus.CounterVec
	webhookDeliveryDuration prometheus.Histogram

	providerRequestsTotal *prometheus.CounterVec

	dependencyUp *prometheus.GaugeVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			sessionsStartedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sessions_started_total",
					Help: "Total capture sessions started by status.",
				},
				[]string{"status"},
			),
			sessionsFinalizedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sessions_finalized_total",
					Help: "Total sessions finalized by outcome.",
				},
				[]string{"outcome"},
			),
			finalizeFailuresTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "finalize_failures_total",
					Help: "Total finalize rejections and failures by kind.",
				},
				[]string{"kind"},
			),
			sessionsExpiredTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_expired_total",
					Help: "Total sessions marked expired by the janitor.",
				},
			),
			sessionsCleanedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_cleaned_total",
					Help: "Total terminal session records removed by the janitor.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current sessions awaiting login.",
				},
			),
			captureDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "capture_duration_seconds",
					Help:    "Artifact extraction duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			webhookDeliveriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "webhook_deliveries_total",
					Help: "Total webhook deliveries by status.",
				},
				[]string{"status"},
			),
			webhookDeliveryDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "webhook_delivery_duration_seconds",
					Help:    "Webhook delivery duration in seconds including retries.",
					Buckets: prometheus.DefBuckets,
				},
			),
			providerRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_requests_total",
					Help: "Total browser provider API requests by operation and status.",
				},
				[]string{"operation", "status"},
			),
			dependencyUp: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "dependency_up",
					Help: "Dependency health (1 up, 0 down).",
				},
				[]string{"dependency"},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total HTTP requests by path, method and status code.",
				},
				[]string{"path", "method", "status"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request duration in seconds by path.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"path"},
			),
		}

		prometheus.MustRegister(
			m.sessionsStartedTotal,
			m.sessionsFinalizedTotal,
			m.finalizeFailuresTotal,
			m.sessionsExpiredTotal,
			m.sessionsCleanedTotal,
			m.activeSessions,
			m.captureDuration,
			m.webhookDeliveriesTotal,
			m.webhookDeliveryDuration,
			m.providerRequestsTotal,
			m.dependencyUp,
			m.httpRequestsTotal,
			m.httpRequestDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordSessionStart(success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.sessionsStartedTotal.WithLabelValues(status).Inc()
}

func RecordSessionFinalized(outcome string) {
	m := getMetrics()
	m.sessionsFinalizedTotal.WithLabelValues(outcome).Inc()
}

func RecordFinalizeFailure(kind string) {
	m := getMetrics()
	m.finalizeFailuresTotal.WithLabelValues(kind).Inc()
}

func RecordSessionsExpired(count int) {
	m := getMetrics()
	m.sessionsExpiredTotal.Add(float64(count))
}

func RecordSessionsCleaned(count int) {
	m := getMetrics()
	m.sessionsCleanedTotal.Add(float64(count))
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordCapture(duration time.Duration) {
	m := getMetrics()
	m.captureDuration.Observe(duration.Seconds())
}

func RecordWebhookDelivery(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.webhookDeliveriesTotal.WithLabelValues(status).Inc()
	m.webhookDeliveryDuration.Observe(duration.Seconds())
}

func RecordProviderRequest(operation string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.providerRequestsTotal.WithLabelValues(operation, status).Inc()
}

func SetDependencyUp(dependency string, up bool) {
	m := getMetrics()
	value := 0.0
	if up {
		value = 1.0
	}
	m.dependencyUp.WithLabelValues(dependency).Set(value)
}

func RecordHTTPRequest(path, method string, statusCode int, duration time.Duration) {
	m := getMetrics()
	m.httpRequestsTotal.WithLabelValues(path, method, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

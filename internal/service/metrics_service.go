package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess  = "success"
	OutcomeReplayed = "replayed"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeDropped  = "dropped"
)

// MetricsService encapsulates Prometheus instrumentation. All methods are
// safe on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	sosActions      *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	rotations       *prometheus.CounterVec
	breaches        prometheus.Counter
	tokensSwept     prometheus.Counter
	jobsDropped     *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	sosActions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sos_actions_total",
		Help: "SOS trigger, cancel and resolve attempts by outcome",
	}, []string{"action", "outcome"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Circle notification deliveries by outcome",
	}, []string{"outcome"})

	rotations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_rotations_total",
		Help: "Refresh token rotations by outcome",
	}, []string{"outcome"})

	breaches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refresh_token_breaches_total",
		Help: "Refresh token families revoked after reuse of a rotated token",
	})

	tokensSwept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refresh_tokens_swept_total",
		Help: "Expired or revoked refresh tokens deleted by the sweeper",
	})

	jobsDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "background_jobs_dropped_total",
		Help: "Background jobs rejected because the queue was full or closed",
	}, []string{"queue"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, sosActions, notifications, rotations, breaches, tokensSwept, jobsDropped, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		sosActions:      sosActions,
		notifications:   notifications,
		rotations:       rotations,
		breaches:        breaches,
		tokensSwept:     tokensSwept,
		jobsDropped:     jobsDropped,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordSOSAction counts a lifecycle action.
func (m *MetricsService) RecordSOSAction(action, outcome string) {
	if m == nil {
		return
	}
	m.sosActions.WithLabelValues(action, outcome).Inc()
}

// RecordNotification counts a fan-out delivery attempt.
func (m *MetricsService) RecordNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// RecordRotation counts a refresh rotation attempt.
func (m *MetricsService) RecordRotation(outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
}

// RecordBreach counts a family revocation caused by token reuse.
func (m *MetricsService) RecordBreach() {
	if m == nil {
		return
	}
	m.breaches.Inc()
}

// RecordTokensSwept adds n deleted tokens.
func (m *MetricsService) RecordTokensSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensSwept.Add(float64(n))
}

// RecordJobDropped counts a job that never reached a worker.
func (m *MetricsService) RecordJobDropped(queue string) {
	if m == nil {
		return
	}
	m.jobsDropped.WithLabelValues(queue).Inc()
}

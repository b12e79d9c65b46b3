package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation on a private registry.
// All methods are no-ops on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	loginAttempts   *prometheus.CounterVec
	tokenOps        *prometheus.CounterVec
	alertsRaised    *prometheus.CounterVec
	auditFailures   *prometheus.CounterVec
	accessDecisions *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache set operations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		dbQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by surface and outcome",
		}, []string{"surface", "outcome"}),
		tokenOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_token_operations_total",
			Help: "Refresh token operations by principal kind, operation and outcome",
		}, []string{"kind", "op", "outcome"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "security_alerts_raised_total",
			Help: "Security alerts raised by reason",
		}, []string{"reason"}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit and activity writes that failed inline",
		}, []string{"kind"}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinical_access_decisions_total",
			Help: "Clinical access gate decisions by permission and result",
		}, []string{"permission", "result"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal,
		m.cacheLatency, m.cacheWrite, m.cacheLookups,
		m.dbQueryDuration,
		m.loginAttempts, m.tokenOps, m.alertsRaised, m.auditFailures, m.accessDecisions,
		goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
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

// RecordCacheOperation records a cache lookup and its latency.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordLogin counts a login attempt.
func (m *MetricsService) RecordLogin(surface, outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(surface, outcome).Inc()
}

// RecordTokenOperation counts a refresh token operation.
func (m *MetricsService) RecordTokenOperation(kind, op, outcome string) {
	if m == nil {
		return
	}
	m.tokenOps.WithLabelValues(kind, op, outcome).Inc()
}

// RecordAlertRaised counts a newly raised security alert.
func (m *MetricsService) RecordAlertRaised(reason string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(reason).Inc()
}

// RecordAuditFailure counts an audit write that did not land inline.
func (m *MetricsService) RecordAuditFailure(kind string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(kind).Inc()
}

// RecordAccessDecision counts a clinical access gate decision.
func (m *MetricsService) RecordAccessDecision(permission string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.accessDecisions.WithLabelValues(permission, result).Inc()
}

package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// approval workflow engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	workflowStarted   prometheus.Counter
	workflowFinalized *prometheus.CounterVec
	decisionTotal     *prometheus.CounterVec
	legacyFetchTotal  *prometheus.CounterVec
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

	workflowStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approval_workflows_started_total",
		Help: "Approval cycles started",
	})

	workflowFinalized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_workflows_finalized_total",
		Help: "Approval cycles reaching a terminal status",
	}, []string{"status"})

	decisionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_decisions_total",
		Help: "Recorded approval decisions",
	}, []string{"decision"})

	legacyFetchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_fetch_total",
		Help: "Legacy request-list fetch attempts",
	}, []string{"outcome"})

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requestDuration,
		requestTotal,
		workflowStarted,
		workflowFinalized,
		decisionTotal,
		legacyFetchTotal,
	)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		workflowStarted:   workflowStarted,
		workflowFinalized: workflowFinalized,
		decisionTotal:     decisionTotal,
		legacyFetchTotal:  legacyFetchTotal,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if s == nil {
		return
	}
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveWorkflowStarted counts a new approval cycle.
func (s *MetricsService) ObserveWorkflowStarted() {
	if s == nil {
		return
	}
	s.workflowStarted.Inc()
}

// ObserveWorkflowFinalized counts a terminal outcome.
func (s *MetricsService) ObserveWorkflowFinalized(status string) {
	if s == nil {
		return
	}
	s.workflowFinalized.WithLabelValues(status).Inc()
}

// ObserveDecision counts one recorded decision.
func (s *MetricsService) ObserveDecision(decision string) {
	if s == nil {
		return
	}
	s.decisionTotal.WithLabelValues(decision).Inc()
}

// ObserveLegacyFetch counts legacy source fetches by outcome.
func (s *MetricsService) ObserveLegacyFetch(ok bool) {
	if s == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	s.legacyFetchTotal.WithLabelValues(outcome).Inc()
}

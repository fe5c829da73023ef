// Package metrics exposes Prometheus collectors for the API and the workflow
// worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	procedureCalls  *prometheus.CounterVec
	workflowRuns    *prometheus.CounterVec
	workflowSteps   *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	rateLimitDenied prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtube",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vidtube",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		procedureCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtube",
			Name:      "procedure_calls_total",
			Help:      "Procedure calls by name and result code.",
		}, []string{"procedure", "code"}),
		workflowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtube",
			Name:      "workflow_runs_total",
			Help:      "Workflow runs by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		workflowSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtube",
			Name:      "workflow_steps_total",
			Help:      "Workflow steps by workflow, step and whether the result was replayed.",
		}, []string{"workflow", "step", "replayed"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtube",
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by source and type.",
		}, []string{"source", "type"}),
		rateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vidtube",
			Name:      "rate_limit_denied_total",
			Help:      "Protected calls rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.procedureCalls,
		m.workflowRuns,
		m.workflowSteps,
		m.webhookEvents,
		m.rateLimitDenied,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The observers below accept a nil receiver so callers that run without
// metrics need no guards.

func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveProcedure(procedure, code string) {
	if m == nil {
		return
	}
	m.procedureCalls.WithLabelValues(procedure, code).Inc()
}

func (m *Metrics) ObserveWorkflowRun(workflow, outcome string) {
	if m == nil {
		return
	}
	m.workflowRuns.WithLabelValues(workflow, outcome).Inc()
}

func (m *Metrics) ObserveWorkflowStep(workflow, step string, replayed bool) {
	if m == nil {
		return
	}
	m.workflowSteps.WithLabelValues(workflow, step, strconv.FormatBool(replayed)).Inc()
}

func (m *Metrics) ObserveWebhook(source, eventType string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(source, eventType).Inc()
}

func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitDenied.Inc()
}

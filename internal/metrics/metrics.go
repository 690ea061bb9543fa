// Package metrics defines the Prometheus collectors for conversation runs,
// tool calls, speech synthesis and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	rounds        prometheus.Histogram
	toolCalls     *prometheus.CounterVec
	decisions     *prometheus.HistogramVec
	synthesis     *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	auditMessages *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiquery_conversation_runs_total",
				Help: "Total number of orchestration runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aiquery_conversation_run_duration_seconds",
				Help:    "Duration of complete orchestration runs",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		rounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aiquery_conversation_tool_rounds",
				Help:    "Number of tool rounds per run",
				Buckets: []float64{0, 1, 2, 3, 4, 6, 8},
			},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiquery_tool_calls_total",
				Help: "Total number of primitive invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		decisions: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "aiquery_decision_duration_seconds",
				Help: "Duration of decision engine calls",
			},
			[]string{"backend", "outcome"},
		),
		synthesis: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiquery_speech_synthesis_total",
				Help: "Total number of speech synthesis attempts by outcome",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiquery_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "aiquery_http_request_duration_seconds",
				Help: "Duration of HTTP requests",
			},
			[]string{"method", "route"},
		),
		auditMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aiquery_audit_messages_total",
				Help: "Audit events published or consumed, by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.runs, m.runDuration, m.rounds, m.toolCalls, m.decisions,
		m.synthesis, m.httpRequests, m.httpDuration, m.auditMessages,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRun records a finished orchestration run.
func (m *Metrics) ObserveRun(d time.Duration, rounds int, err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome(err)).Inc()
	m.runDuration.Observe(d.Seconds())
	m.rounds.Observe(float64(rounds))
}

// ObserveToolCall records one primitive invocation.
func (m *Metrics) ObserveToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

// ObserveDecision records one decision engine call.
func (m *Metrics) ObserveDecision(backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(backend, outcome(err)).Observe(d.Seconds())
}

// ObserveSynthesis records one speech synthesis attempt.
func (m *Metrics) ObserveSynthesis(err error) {
	if m == nil {
		return
	}
	m.synthesis.WithLabelValues(outcome(err)).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveAudit records an audit event publish or consume.
func (m *Metrics) ObserveAudit(direction string, err error) {
	if m == nil {
		return
	}
	m.auditMessages.WithLabelValues(direction, outcome(err)).Inc()
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/interventions/internal/logger"
)

const namespace = "interventions"

// Metrics holds the service collectors. A nil *Metrics records nothing so
// components can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	ruleEvaluations    *prometheus.CounterVec
	messagesDispatched *prometheus.CounterVec
	messagesReceived   *prometheus.CounterVec
	phaseFailures      *prometheus.CounterVec
	cycleSeconds       *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry together with the Go
// runtime collectors and the logger counters
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ruleEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by result (matched, not_matched, failed).",
		}, []string{"result"}),
		messagesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dispatched_total",
			Help:      "Outgoing dialog message dispatch attempts by result.",
		}, []string{"result"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Received messages by outcome.",
		}, []string{"outcome"}),
		phaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_phase_failures_total",
			Help:      "Failed worker phases.",
		}, []string{"worker", "phase"}),
		cycleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_cycle_seconds",
			Help:      "Duration of worker cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"worker"}),
	}

	m.registry.MustRegister(
		m.ruleEvaluations,
		m.messagesDispatched,
		m.messagesReceived,
		m.phaseFailures,
		m.cycleSeconds,
		collectors.NewGoCollector(),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Errors reported through the logger, including sampled-out ones.",
		}, func() float64 { return float64(logger.TotalErrors.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_warnings_total",
			Help:      "Warnings reported through the logger, including sampled-out ones.",
		}, func() float64 { return float64(logger.TotalWarnings.Load()) }),
	)
	return m
}

// Registry returns the registry the collectors are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RuleEvaluated counts one rule evaluation
func (m *Metrics) RuleEvaluated(matched, successful bool) {
	if m == nil {
		return
	}
	switch {
	case !successful:
		m.ruleEvaluations.WithLabelValues("failed").Inc()
	case matched:
		m.ruleEvaluations.WithLabelValues("matched").Inc()
	default:
		m.ruleEvaluations.WithLabelValues("not_matched").Inc()
	}
}

// MessageDispatched counts a dispatch attempt; result is sent, failed or skipped
func (m *Metrics) MessageDispatched(result string) {
	if m == nil {
		return
	}
	m.messagesDispatched.WithLabelValues(result).Inc()
}

// MessageReceived counts a received message by what happened to it
func (m *Metrics) MessageReceived(outcome string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(outcome).Inc()
}

// PhaseFailed counts a failed worker phase
func (m *Metrics) PhaseFailed(worker, phase string) {
	if m == nil {
		return
	}
	m.phaseFailures.WithLabelValues(worker, phase).Inc()
}

// CycleCompleted observes the duration of a worker cycle
func (m *Metrics) CycleCompleted(worker string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleSeconds.WithLabelValues(worker).Observe(d.Seconds())
}

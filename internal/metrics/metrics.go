// Package metrics exports engine and provider metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrz1836/storyloom/internal/constants"
)

const namespace = "storyloom"

// Prometheus records session, task, evaluation and provider metrics. Labels
// are kept to bounded sets (categories, statuses, provider ids); session ids
// are never used as labels.
type Prometheus struct {
	registry *prometheus.Registry

	activeSessions   prometheus.Gauge
	sessionsFinished *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	tasksStarted     *prometheus.CounterVec
	tasksFinished    *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	evaluations      *prometheus.CounterVec
	scores           *prometheus.HistogramVec
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Prometheus {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions with a running execution loop.",
		}),
		sessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions that reached a terminal status.",
		}, []string{"status"}),
		sessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time from session start to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(10, 3, 8),
		}, []string{"status"}),
		tasksStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_started_total",
			Help:      "Tasks moved to running.",
		}, []string{"category"}),
		tasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that left running, by resulting status.",
		}, []string{"category", "status"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time a task spent running, rewrites included.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"category"}),
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluated attempts by outcome.",
		}, []string{"category", "passed"}),
		scores: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_score",
			Help:      "Distribution of aggregate evaluation scores.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"category"}),
		providerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls by outcome.",
		}, []string{"provider", "outcome"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of single provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
	}
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// SessionStarted implements engine.Metrics.
func (p *Prometheus) SessionStarted(string) {
	p.activeSessions.Inc()
}

// SessionFinished implements engine.Metrics.
func (p *Prometheus) SessionFinished(_ string, status constants.SessionStatus, duration time.Duration) {
	p.activeSessions.Dec()
	p.sessionsFinished.WithLabelValues(string(status)).Inc()
	p.sessionDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// TaskStarted implements engine.Metrics.
func (p *Prometheus) TaskStarted(_ string, category constants.TaskCategory) {
	p.tasksStarted.WithLabelValues(string(category)).Inc()
}

// TaskFinished implements engine.Metrics.
func (p *Prometheus) TaskFinished(_ string, category constants.TaskCategory, status constants.TaskStatus, duration time.Duration) {
	p.tasksFinished.WithLabelValues(string(category), string(status)).Inc()
	p.taskDuration.WithLabelValues(string(category)).Observe(duration.Seconds())
}

// AttemptEvaluated implements engine.Metrics.
func (p *Prometheus) AttemptEvaluated(_ string, category constants.TaskCategory, score float64, passed bool) {
	label := "false"
	if passed {
		label = "true"
	}
	p.evaluations.WithLabelValues(string(category), label).Inc()
	p.scores.WithLabelValues(string(category)).Observe(score)
}

// ProviderCall implements provider.CallObserver.
func (p *Prometheus) ProviderCall(providerID, outcome string, duration time.Duration) {
	p.providerCalls.WithLabelValues(providerID, outcome).Inc()
	p.providerDuration.WithLabelValues(providerID).Observe(duration.Seconds())
}

package engine

import (
	"time"

	"github.com/mrz1836/storyloom/internal/constants"
)

// Metrics collects metrics about sessions, tasks and evaluations.
// Implementations can send these to monitoring systems like Prometheus.
type Metrics interface {
	// SessionStarted is called when a loop begins running.
	SessionStarted(sessionID string)

	// SessionFinished is called once when a session reaches a terminal status.
	SessionFinished(sessionID string, status constants.SessionStatus, duration time.Duration)

	// TaskStarted is called when a task moves to running.
	TaskStarted(sessionID string, category constants.TaskCategory)

	// TaskFinished is called when a task leaves running.
	TaskFinished(sessionID string, category constants.TaskCategory, status constants.TaskStatus, duration time.Duration)

	// AttemptEvaluated is called after every evaluated attempt.
	AttemptEvaluated(sessionID string, category constants.TaskCategory, score float64, passed bool)
}

// NoopMetrics is a no-op implementation of Metrics for default behavior.
type NoopMetrics struct{}

// Ensure NoopMetrics implements Metrics interface.
var _ Metrics = (*NoopMetrics)(nil)

// SessionStarted implements Metrics.
func (NoopMetrics) SessionStarted(string) {}

// SessionFinished implements Metrics.
func (NoopMetrics) SessionFinished(string, constants.SessionStatus, time.Duration) {}

// TaskStarted implements Metrics.
func (NoopMetrics) TaskStarted(string, constants.TaskCategory) {}

// TaskFinished implements Metrics.
func (NoopMetrics) TaskFinished(string, constants.TaskCategory, constants.TaskStatus, time.Duration) {}

// AttemptEvaluated implements Metrics.
func (NoopMetrics) AttemptEvaluated(string, constants.TaskCategory, float64, bool) {}

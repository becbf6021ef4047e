// Package domain provides shared domain types for the storyloom orchestration engine.
// These types are used across all internal packages to ensure consistent data structures.
//
// This package follows strict import rules:
//   - CAN import: internal/constants, internal/errors, standard library
//   - MUST NOT import: any other internal packages
//
// All JSON field names use snake_case.
package domain

import (
	"time"

	"github.com/mrz1836/storyloom/internal/constants"
)

// Task represents one atomic unit of generation work in a session's task graph.
//
// Example JSON representation:
//
//	{
//	    "id": "chapter-001-content",
//	    "category": "chapter_content",
//	    "description": "Write chapter 1",
//	    "depends_on": ["chapter-001-outline"],
//	    "status": "completed",
//	    "attempt_count": 2,
//	    "max_attempts": 3,
//	    "is_foundational": false,
//	    "chapter_index": 1,
//	    "result": {...}
//	}
type Task struct {
	// ID is the unique, deterministic identifier of the task within its session.
	ID string `json:"id"`

	// Category is the creative sub-step the task performs.
	Category constants.TaskCategory `json:"category"`

	// Description is a human-readable summary of what the task produces.
	Description string `json:"description"`

	// DependsOn lists the task ids that must be completed or skipped first.
	DependsOn []string `json:"depends_on,omitempty"`

	// Status is the current state in the task lifecycle.
	Status constants.TaskStatus `json:"status"`

	// AttemptCount is the number of generation attempts made so far.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts bounds AttemptCount before the task fails or waits for approval.
	MaxAttempts int `json:"max_attempts"`

	// IsFoundational marks tasks whose output is kept in long-term context.
	IsFoundational bool `json:"is_foundational"`

	// ChapterIndex is the 1-based chapter number for per-chapter tasks.
	ChapterIndex int `json:"chapter_index,omitempty"`

	// Contributor names the capability that contributed this task, if any.
	Contributor string `json:"contributor,omitempty"`

	// Sequence is the creation order of the task inside the graph.
	Sequence int `json:"sequence"`

	// Rank is the topological rank (longest distance from a root task).
	Rank int `json:"rank"`

	// Result is the most recent attempt's output.
	Result *TaskResult `json:"result,omitempty"`

	// Attempts holds every attempt in order. Entries are never modified
	// once appended.
	Attempts []TaskResult `json:"attempts,omitempty"`

	// Transitions records every status change.
	Transitions []Transition `json:"transitions,omitempty"`

	// FailureReason explains why the task failed or is waiting for approval.
	FailureReason string `json:"failure_reason,omitempty"`

	// CreatedAt is when the task was planned.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition records a single status change of a task.
type Transition struct {
	FromStatus constants.TaskStatus `json:"from_status"`
	ToStatus   constants.TaskStatus `json:"to_status"`
	Timestamp  time.Time            `json:"timestamp"`
	Reason     string               `json:"reason,omitempty"`
}

// TaskResult is the payload of one generation attempt.
type TaskResult struct {
	// Attempt is the 1-based attempt number that produced this result.
	Attempt int `json:"attempt"`

	// Content is the generated artifact.
	Content string `json:"content"`

	// Evaluation is the score this content received. Nil when generation
	// failed before evaluation.
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`

	// Provider is the provider id that produced the content.
	Provider string `json:"provider"`

	// PromptHash identifies the prompt the content was generated from.
	PromptHash string `json:"prompt_hash,omitempty"`

	// Model is the model name reported by the provider.
	Model string `json:"model,omitempty"`

	// Usage is the token telemetry of the attempt, summed over provider retries.
	Usage TokenUsage `json:"usage"`

	// CostUSD is the estimated cost of the attempt.
	CostUSD float64 `json:"cost_usd,omitempty"`

	// ProviderCalls counts every provider call made for this attempt, retries included.
	ProviderCalls int `json:"provider_calls"`

	// Feedback carries the human feedback that triggered this attempt, if any.
	Feedback string `json:"feedback,omitempty"`

	// Error is the provider error message when the attempt produced no content.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// TokenUsage is the token telemetry reported by a provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Clone returns a deep copy of the task so it can leave the owning loop
// (events, persistence) without sharing mutable state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Transitions = append([]Transition(nil), t.Transitions...)
	if t.Attempts != nil {
		c.Attempts = make([]TaskResult, len(t.Attempts))
		copy(c.Attempts, t.Attempts)
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}

// LatestContent returns the content of the latest attempt, or "".
func (t *Task) LatestContent() string {
	if t == nil || t.Result == nil {
		return ""
	}
	return t.Result.Content
}

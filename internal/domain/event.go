package domain

import (
	"time"

	"github.com/mrz1836/storyloom/internal/constants"
)

// Event is an outbound lifecycle notification about a session.
type Event struct {
	Type      constants.EventType `json:"type"`
	SessionID string              `json:"session_id"`
	Timestamp time.Time           `json:"timestamp"`

	// Task is set on task_* events. It is a copy owned by the receiver.
	Task *Task `json:"task,omitempty"`

	// Progress is set on progress events.
	Progress *Progress `json:"progress,omitempty"`

	// Stats is set on completed, failed and stopped events.
	Stats *SessionStats `json:"stats,omitempty"`

	// Error is set on failed and task_fail events.
	Error string `json:"error,omitempty"`
}

// Command is an inbound control request for the session registry.
type Command struct {
	Type      constants.CommandType `json:"type"`
	SessionID string                `json:"session_id,omitempty"`
	TaskID    string                `json:"task_id,omitempty"`
	Message   string                `json:"message,omitempty"`

	// Goal and Options are used by start commands.
	Goal    *Goal           `json:"goal,omitempty"`
	Options *SessionOptions `json:"options,omitempty"`
}

// SessionOptions overrides engine defaults for one session.
type SessionOptions struct {
	ApprovalMode  *bool    `json:"approval_mode,omitempty"`
	PassThreshold *float64 `json:"pass_threshold,omitempty"`
	MaxAttempts   *int     `json:"max_attempts,omitempty"`
}

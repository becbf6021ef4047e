package domain

import (
	"time"

	"github.com/mrz1836/storyloom/internal/constants"
)

// Session is the aggregate root of one creative project.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`

	// Goal is the brief the task graph was planned from.
	Goal Goal `json:"goal"`

	// Status is the execution status.
	Status constants.SessionStatus `json:"status"`

	// ApprovalMode requires explicit sign-off before a task counts as completed.
	ApprovalMode bool `json:"approval_mode"`

	// PassThreshold is the evaluation pass mark for this session.
	PassThreshold float64 `json:"pass_threshold"`

	// MaxAttempts is the default attempt budget of each task.
	MaxAttempts int `json:"max_attempts"`

	// Capabilities lists the capabilities enabled when the session started.
	Capabilities []string `json:"capabilities,omitempty"`

	// Stats holds the aggregate counters.
	Stats SessionStats `json:"stats"`

	// Tasks is a snapshot of the task graph in creation order.
	Tasks []*Task `json:"tasks,omitempty"`

	// Error is the failure diagnostic of a failed session.
	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// SchemaVersion enables forward-compatible migrations.
	SchemaVersion string `json:"schema_version"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Goal.Requirements = append([]string(nil), s.Goal.Requirements...)
	c.Capabilities = append([]string(nil), s.Capabilities...)
	if s.Tasks != nil {
		c.Tasks = make([]*Task, len(s.Tasks))
		for i, t := range s.Tasks {
			c.Tasks[i] = t.Clone()
		}
	}
	if s.FinishedAt != nil {
		f := *s.FinishedAt
		c.FinishedAt = &f
	}
	return &c
}

// SessionStats holds a session's aggregate counters.
type SessionStats struct {
	TotalTasks      int        `json:"total_tasks"`
	CompletedTasks  int        `json:"completed_tasks"`
	FailedTasks     int        `json:"failed_tasks"`
	SkippedTasks    int        `json:"skipped_tasks"`
	PendingApproval int        `json:"pending_approval"`
	ProviderCalls   int        `json:"provider_calls"`
	Usage           TokenUsage `json:"usage"`
	CostUSD         float64    `json:"cost_usd"`
}

// Progress is a cheap snapshot of graph completion.
type Progress struct {
	Total           int     `json:"total"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Skipped         int     `json:"skipped"`
	PendingApproval int     `json:"pending_approval"`
	Percentage      float64 `json:"percentage"`

	// CurrentTaskID is the task in flight when the snapshot was taken.
	CurrentTaskID string `json:"current_task_id,omitempty"`
}

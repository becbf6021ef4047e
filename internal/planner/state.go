package planner

import (
	"time"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// ValidTransitions defines all allowed task status transitions.
// Format: from_status -> []to_statuses
//
//	Pending → Ready, Skipped
//	Ready → Running, Skipped
//	Running → Completed, Failed, PendingApproval, Skipped
//	PendingApproval → Completed, Running, Skipped, Failed
//	Failed → Skipped
//
//nolint:gochecknoglobals // Exported for testing and read-only lookup table
var ValidTransitions = map[constants.TaskStatus][]constants.TaskStatus{
	constants.TaskStatusPending: {constants.TaskStatusReady, constants.TaskStatusSkipped},
	constants.TaskStatusReady:   {constants.TaskStatusRunning, constants.TaskStatusSkipped},
	constants.TaskStatusRunning: {
		constants.TaskStatusCompleted,
		constants.TaskStatusFailed,
		constants.TaskStatusPendingApproval,
		constants.TaskStatusSkipped,
	},
	constants.TaskStatusPendingApproval: {
		constants.TaskStatusCompleted,
		constants.TaskStatusRunning, // feedback re-enters the rewrite path
		constants.TaskStatusSkipped,
		constants.TaskStatusFailed,
	},
	constants.TaskStatusFailed: {constants.TaskStatusSkipped},
}

// terminalStatuses are the statuses a repeated update is a no-op for.
// Failed is terminal for execution but can still be skipped by an external decision.
//
//nolint:gochecknoglobals // Read-only lookup table
var terminalStatuses = map[constants.TaskStatus]bool{
	constants.TaskStatusCompleted: true,
	constants.TaskStatusFailed:    true,
	constants.TaskStatusSkipped:   true,
}

// IsValidTransition checks if a transition from one status to another is allowed.
// Returns false for the same status and for unknown statuses.
func IsValidTransition(from, to constants.TaskStatus) bool {
	if from == to {
		return false
	}
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a task in this status will not run again.
func IsTerminalStatus(status constants.TaskStatus) bool {
	return terminalStatuses[status]
}

// transition validates and applies a status change, recording it in the
// task's history. The caller owns the task.
func transition(task *domain.Task, to constants.TaskStatus, reason string, now time.Time) error {
	from := task.Status
	if !IsValidTransition(from, to) {
		return &slerrors.TransitionError{TaskID: task.ID, From: from.String(), To: to.String()}
	}

	task.Transitions = append(task.Transitions, domain.Transition{
		FromStatus: from,
		ToStatus:   to,
		Timestamp:  now,
		Reason:     reason,
	})
	task.Status = to
	task.UpdatedAt = now

	switch to {
	case constants.TaskStatusFailed, constants.TaskStatusPendingApproval:
		if reason != "" {
			task.FailureReason = reason
		}
	case constants.TaskStatusCompleted, constants.TaskStatusRunning:
		task.FailureReason = ""
	case constants.TaskStatusPending, constants.TaskStatusReady, constants.TaskStatusSkipped:
	}
	return nil
}

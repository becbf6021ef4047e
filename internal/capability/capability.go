// Package capability hosts pluggable domain-consistency modules and the
// hook pipeline that invokes them around task execution.
//
// A capability implements Capability plus any subset of the optional hook
// interfaces below. The pipeline calls only the hooks a capability declares,
// in descending priority with registration order breaking ties.
package capability

import (
	"context"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/planner"
)

// Capability is the mandatory part of every capability.
type Capability interface {
	Name() string
	// Priority is the default priority in [0,100]; higher runs first.
	Priority() int
}

// SessionInfo describes the session a pipeline runs for.
type SessionInfo struct {
	SessionID string
	Goal      domain.Goal
}

// TaskInput is what hooks see of the task about to run or just finished.
type TaskInput struct {
	SessionID string
	Goal      domain.Goal
	// Task is a copy; hooks cannot change the graph through it.
	Task *domain.Task
	// DependencyOutputs maps each completed direct dependency to its content.
	DependencyOutputs map[string]string
	// Foundational maps each completed foundational task to its content.
	Foundational map[string]string
	// Skipped holds the ids of skipped tasks in the session.
	Skipped map[string]bool
	// Facts are memory facts relevant to the task.
	Facts []domain.Fact
}

// Enrichment is context a before-task hook adds to the generation prompt.
type Enrichment struct {
	Source string
	Text   string
}

// Initializer runs once when a session starts.
type Initializer interface {
	Initialize(ctx context.Context, info SessionInfo) error
}

// Validator checks preconditions before a task runs. Returning a
// *errors.VetoError fails the task without calling a provider.
type Validator interface {
	Validate(ctx context.Context, in TaskInput) error
}

// BeforeTaskHook enriches the generation context of a task. Returning a
// *errors.VetoError fails the task without calling a provider.
type BeforeTaskHook interface {
	BeforeTask(ctx context.Context, in TaskInput) ([]Enrichment, error)
}

// AfterTaskHook extracts facts from accepted content.
type AfterTaskHook interface {
	AfterTask(ctx context.Context, in TaskInput, content string) ([]domain.Fact, error)
}

// Finalizer runs once when a session reaches a terminal status.
type Finalizer interface {
	Finalize(ctx context.Context, info SessionInfo, status constants.SessionStatus, stats domain.SessionStats) error
}

// TaskContributor declares extra tasks for the planned graph.
type TaskContributor interface {
	Contribute(goal domain.Goal) []planner.Contribution
}

// hookNames lists the hooks c implements.
func hookNames(c Capability) []string {
	var hooks []string
	if _, ok := c.(Initializer); ok {
		hooks = append(hooks, "initialize")
	}
	if _, ok := c.(Validator); ok {
		hooks = append(hooks, "validate")
	}
	if _, ok := c.(BeforeTaskHook); ok {
		hooks = append(hooks, "before_task")
	}
	if _, ok := c.(AfterTaskHook); ok {
		hooks = append(hooks, "after_task")
	}
	if _, ok := c.(Finalizer); ok {
		hooks = append(hooks, "finalize")
	}
	if _, ok := c.(TaskContributor); ok {
		hooks = append(hooks, "contribute")
	}
	return hooks
}

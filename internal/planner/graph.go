package planner

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mrz1836/storyloom/internal/clock"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// Graph is an installed, validated task graph.
type Graph struct {
	tasks      map[string]*domain.Task
	order      []*domain.Task      // creation order
	dependents map[string][]string // task id -> tasks that depend on it
	clock      clock.Clock
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithClock sets the clock used to stamp transitions.
func WithClock(c clock.Clock) GraphOption {
	return func(g *Graph) {
		g.clock = c
	}
}

// NewGraph validates tasks and installs them as a graph. On any structural
// problem a *PlanningError is returned and nothing is installed. Ranks are
// computed as the longest distance from a root task.
func NewGraph(tasks []*domain.Task, opts ...GraphOption) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*domain.Task, len(tasks)),
		order:      make([]*domain.Task, 0, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
		clock:      clock.RealClock{},
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, t := range tasks {
		if t == nil || t.ID == "" {
			return nil, slerrors.NewPlanningError(slerrors.ErrEmptyValue, "task without id")
		}
		if _, dup := g.tasks[t.ID]; dup {
			return nil, slerrors.NewPlanningError(slerrors.ErrDuplicateTask, "task id declared twice", t.ID)
		}
		g.tasks[t.ID] = t
		g.order = append(g.order, t)
	}

	inDegree := make(map[string]int, len(tasks))
	for _, t := range g.order {
		inDegree[t.ID] += 0
		for _, dep := range t.DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return nil, slerrors.NewPlanningError(slerrors.ErrDanglingDependency,
					fmt.Sprintf("task %s depends on %s", t.ID, dep), t.ID, dep)
			}
			if dep == t.ID {
				return nil, slerrors.NewPlanningError(slerrors.ErrCyclicDependency, "task depends on itself", t.ID)
			}
			inDegree[t.ID]++
			g.dependents[dep] = append(g.dependents[dep], t.ID)
		}
	}

	ranks, err := g.rank(inDegree)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	for _, t := range g.order {
		t.Rank = ranks[t.ID]
		if t.Status == "" {
			t.Status = constants.TaskStatusPending
		}
		if t.MaxAttempts <= 0 {
			t.MaxAttempts = constants.DefaultMaxAttempts
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
	}
	return g, nil
}

// rank runs Kahn's algorithm over the graph. Tasks left unprocessed sit on
// or behind a cycle.
func (g *Graph) rank(inDegree map[string]int) (map[string]int, error) {
	remaining := make(map[string]int, len(inDegree))
	for id, deg := range inDegree {
		remaining[id] = deg
	}

	ranks := make(map[string]int, len(inDegree))
	var queue []string
	for _, t := range g.order {
		if remaining[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, depID := range g.dependents[id] {
			if ranks[id]+1 > ranks[depID] {
				ranks[depID] = ranks[id] + 1
			}
			remaining[depID]--
			if remaining[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if processed != len(g.order) {
		var stuck []string
		for _, t := range g.order {
			if remaining[t.ID] > 0 {
				stuck = append(stuck, t.ID)
			}
		}
		return nil, slerrors.NewPlanningError(slerrors.ErrCyclicDependency,
			fmt.Sprintf("%d tasks could not be ordered", len(stuck)), stuck...)
	}
	return ranks, nil
}

// Task returns the task with the given id.
func (g *Graph) Task(id string) (*domain.Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns every task in creation order.
func (g *Graph) Tasks() []*domain.Task {
	out := make([]*domain.Task, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.order)
}

// depsSatisfied reports whether every dependency of t is completed or skipped.
func (g *Graph) depsSatisfied(t *domain.Task) bool {
	for _, dep := range t.DependsOn {
		if !g.tasks[dep].Status.Satisfies() {
			return false
		}
	}
	return true
}

// NextReady returns the next task to execute, moving it from pending to
// ready. Among pending tasks whose dependencies are satisfied, the one with
// the lowest rank wins; ties go to creation order. A task already in ready
// status is returned first.
//
// NextReady returns (nil, nil) when the graph is complete or when it is
// waiting on running or pending_approval tasks. When nothing can ever become
// ready it returns ErrGraphBlocked with a diagnostic.
func (g *Graph) NextReady() (*domain.Task, error) {
	var best *domain.Task
	for _, t := range g.order {
		switch t.Status {
		case constants.TaskStatusReady:
			return t, nil
		case constants.TaskStatusPending:
			if !g.depsSatisfied(t) {
				continue
			}
			if best == nil || t.Rank < best.Rank || (t.Rank == best.Rank && t.Sequence < best.Sequence) {
				best = t
			}
		case constants.TaskStatusRunning, constants.TaskStatusCompleted, constants.TaskStatusFailed,
			constants.TaskStatusPendingApproval, constants.TaskStatusSkipped:
		}
	}

	if best != nil {
		if err := transition(best, constants.TaskStatusReady, "dependencies satisfied", g.clock.Now()); err != nil {
			return nil, err
		}
		return best, nil
	}

	if g.IsComplete() || g.waiting() {
		return nil, nil //nolint:nilnil // no ready task is a normal outcome
	}
	return nil, fmt.Errorf("%w: %s", slerrors.ErrGraphBlocked, g.blockedDiagnostic())
}

// waiting reports whether some task may still settle and unblock others.
func (g *Graph) waiting() bool {
	for _, t := range g.order {
		switch t.Status {
		case constants.TaskStatusReady, constants.TaskStatusRunning, constants.TaskStatusPendingApproval:
			return true
		case constants.TaskStatusPending, constants.TaskStatusCompleted, constants.TaskStatusFailed,
			constants.TaskStatusSkipped:
		}
	}
	return false
}

func (g *Graph) blockedDiagnostic() string {
	var failed, blocked []string
	for _, t := range g.order {
		switch t.Status {
		case constants.TaskStatusFailed:
			failed = append(failed, t.ID)
		case constants.TaskStatusPending:
			blocked = append(blocked, t.ID)
		case constants.TaskStatusReady, constants.TaskStatusRunning, constants.TaskStatusCompleted,
			constants.TaskStatusPendingApproval, constants.TaskStatusSkipped:
		}
	}
	sort.Strings(failed)
	return fmt.Sprintf("failed tasks [%s] block %d pending task(s) [%s]",
		strings.Join(failed, ", "), len(blocked), strings.Join(blocked, ", "))
}

// IsComplete reports whether every task is completed or skipped.
func (g *Graph) IsComplete() bool {
	for _, t := range g.order {
		if !t.Status.Satisfies() {
			return false
		}
	}
	return true
}

// PendingApproval returns the ids of tasks waiting for a decision.
func (g *Graph) PendingApproval() []string {
	var ids []string
	for _, t := range g.order {
		if t.Status == constants.TaskStatusPendingApproval {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// UpdateStatus validates and applies a status change. When result is not
// nil it becomes the task's latest result and is appended to the attempt
// history if it is a new attempt. Repeating the current terminal status is
// a no-op. Moving to running requires every dependency to be completed or
// skipped.
func (g *Graph) UpdateStatus(id string, to constants.TaskStatus, result *domain.TaskResult, reason string) error {
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", slerrors.ErrTaskNotFound, id)
	}

	if t.Status == to && IsTerminalStatus(to) {
		return nil
	}

	if to == constants.TaskStatusRunning && !g.depsSatisfied(t) {
		return fmt.Errorf("%w: dependencies of %s are not satisfied",
			&slerrors.TransitionError{TaskID: id, From: t.Status.String(), To: to.String()},
			id)
	}

	if err := transition(t, to, reason, g.clock.Now()); err != nil {
		return err
	}
	if result != nil {
		g.recordResult(t, *result)
	}
	return nil
}

// RecordAttempt stores the result of an attempt without changing status.
func (g *Graph) RecordAttempt(id string, result domain.TaskResult) error {
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", slerrors.ErrTaskNotFound, id)
	}
	g.recordResult(t, result)
	t.UpdatedAt = g.clock.Now()
	return nil
}

func (g *Graph) recordResult(t *domain.Task, result domain.TaskResult) {
	n := len(t.Attempts)
	if n > 0 && t.Attempts[n-1].Attempt == result.Attempt && t.Attempts[n-1].CompletedAt.Equal(result.CompletedAt) {
		t.Result = &t.Attempts[n-1]
		return
	}
	t.Attempts = append(t.Attempts, result)
	t.Result = &t.Attempts[len(t.Attempts)-1]
}

// BeginAttempt increments the attempt counter of a running task and returns
// the new attempt number. It refuses to go past MaxAttempts.
func (g *Graph) BeginAttempt(id string) (int, error) {
	t, ok := g.tasks[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", slerrors.ErrTaskNotFound, id)
	}
	if t.Status != constants.TaskStatusRunning {
		return 0, &slerrors.TransitionError{TaskID: id, From: t.Status.String(), To: "attempt"}
	}
	if t.AttemptCount >= t.MaxAttempts {
		return 0, fmt.Errorf("%w: %s used %d of %d", slerrors.ErrAttemptsExhausted, id, t.AttemptCount, t.MaxAttempts)
	}
	t.AttemptCount++
	t.UpdatedAt = g.clock.Now()
	return t.AttemptCount, nil
}

// ExtendAttempts raises a task's attempt budget by n.
func (g *Graph) ExtendAttempts(id string, n int) error {
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", slerrors.ErrTaskNotFound, id)
	}
	t.MaxAttempts += n
	return nil
}

// Progress returns a snapshot of graph completion. Percentage counts
// completed and skipped tasks.
func (g *Graph) Progress() domain.Progress {
	p := domain.Progress{Total: len(g.order)}
	for _, t := range g.order {
		switch t.Status {
		case constants.TaskStatusCompleted:
			p.Completed++
		case constants.TaskStatusFailed:
			p.Failed++
		case constants.TaskStatusSkipped:
			p.Skipped++
		case constants.TaskStatusPendingApproval:
			p.PendingApproval++
		case constants.TaskStatusPending, constants.TaskStatusReady, constants.TaskStatusRunning:
		}
	}
	if p.Total > 0 {
		pct := float64(p.Completed+p.Skipped) / float64(p.Total) * 100
		p.Percentage = math.Round(pct*100) / 100
	}
	return p
}

// Snapshot returns deep copies of every task in creation order.
func (g *Graph) Snapshot() []*domain.Task {
	out := make([]*domain.Task, len(g.order))
	for i, t := range g.order {
		out[i] = t.Clone()
	}
	return out
}

// Package engine runs the execution loop of one session.
//
// A Loop owns its task graph. It pulls ready tasks from the planner, runs
// capability hooks, generates through the provider router, evaluates each
// attempt and rewrites within the attempt budget. Control operations are
// safe to call from any goroutine: they set flags or queue decisions that
// the loop applies at its next checkpoint between tasks.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/planner"
)

// decision is an external approval-gate command waiting for a checkpoint.
type decision struct {
	kind    constants.CommandType
	taskID  string
	message string
}

// taskView is the part of a task the control operations validate against.
type taskView struct {
	status       constants.TaskStatus
	attemptCount int
	maxAttempts  int
	decided      bool
}

// Loop executes one session.
type Loop struct {
	id     string
	cfg    Config
	deps   Deps
	graph  *planner.Graph
	logger zerolog.Logger

	goal         domain.Goal
	approvalMode bool
	threshold    float64

	// Owned by the Run goroutine.
	startedAt map[string]time.Time
	current   string

	mu         sync.Mutex
	session    *domain.Session
	stats      domain.SessionStats
	paused     bool
	stopped    bool
	started    bool
	finished   bool
	finishedAt time.Time
	decisions  []decision
	views      map[string]taskView

	wake chan struct{}
	done chan struct{}
}

// New creates a loop for a planned session. The loop takes ownership of
// graph; callers must not touch it afterwards.
func New(session *domain.Session, graph *planner.Graph, cfg Config, deps Deps) *Loop {
	deps = deps.withDefaults()
	s := session.Clone()
	s.Tasks = graph.Snapshot()
	if s.Status == "" {
		s.Status = constants.SessionStatusCreated
	}

	l := &Loop{
		id:           s.ID,
		cfg:          cfg.normalized(),
		deps:         deps,
		graph:        graph,
		goal:         s.Goal,
		approvalMode: s.ApprovalMode,
		threshold:    s.PassThreshold,
		logger:       deps.Logger.With().Str("session_id", s.ID).Logger(),
		startedAt:    make(map[string]time.Time),
		session:      s,
		views:        make(map[string]taskView, graph.Len()),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, t := range graph.Tasks() {
		l.views[t.ID] = viewOf(t)
	}
	l.stats = l.statsFrom(graph.Progress())
	s.Stats = l.stats
	return l
}

// ID returns the session id.
func (l *Loop) ID() string {
	return l.id
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Status returns the current session status.
func (l *Loop) Status() constants.SessionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Status
}

// FinishedAt returns when the session reached a terminal status.
func (l *Loop) FinishedAt() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finishedAt, l.finished
}

// Snapshot returns a deep copy of the session as of the last transition.
func (l *Loop) Snapshot() *domain.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Clone()
}

// Pause asks the loop to block before its next task. The task in flight
// finishes first. Pausing a paused session is a no-op.
func (l *Loop) Pause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished || l.stopped {
		return fmt.Errorf("pause %s: %w", l.id, slerrors.ErrSessionTerminal)
	}
	l.paused = true
	l.signal()
	return nil
}

// Resume lets a paused loop continue. Resuming a running session is a no-op.
func (l *Loop) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished || l.stopped {
		return fmt.Errorf("resume %s: %w", l.id, slerrors.ErrSessionTerminal)
	}
	l.paused = false
	l.signal()
	return nil
}

// Stop asks the loop to end after the task in flight. It is always
// accepted and idempotent.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	l.signal()
	return nil
}

// ApproveTask accepts the latest result of a task awaiting approval.
func (l *Loop) ApproveTask(taskID string) error {
	return l.enqueue(decision{kind: constants.CommandApproveTask, taskID: taskID})
}

// Feedback sends a task awaiting approval back for a rewrite guided by message.
func (l *Loop) Feedback(taskID, message string) error {
	return l.enqueue(decision{kind: constants.CommandFeedback, taskID: taskID, message: message})
}

// SkipTask marks a task skipped so its dependents can proceed. Only tasks
// that are not running and not yet completed can be skipped.
func (l *Loop) SkipTask(taskID string) error {
	return l.enqueue(decision{kind: constants.CommandSkipTask, taskID: taskID})
}

func (l *Loop) enqueue(d decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished || l.stopped {
		return fmt.Errorf("%s %s: %w", d.kind, l.id, slerrors.ErrSessionTerminal)
	}
	v, ok := l.views[d.taskID]
	if !ok {
		return fmt.Errorf("%w: %s", slerrors.ErrTaskNotFound, d.taskID)
	}
	if err := l.checkDecision(d, v); err != nil {
		return err
	}
	v.decided = true
	l.views[d.taskID] = v
	l.decisions = append(l.decisions, d)
	l.signal()
	return nil
}

func (l *Loop) checkDecision(d decision, v taskView) error {
	switch d.kind {
	case constants.CommandApproveTask, constants.CommandFeedback:
		if v.status != constants.TaskStatusPendingApproval || v.decided {
			return fmt.Errorf("%w: %s is %s", slerrors.ErrTaskNotAwaitingApproval, d.taskID, v.status)
		}
		if d.kind == constants.CommandFeedback &&
			l.cfg.FeedbackAttempts == constants.FeedbackIncrement &&
			l.cfg.ApprovalPrecedence == constants.PrecedenceCap &&
			v.attemptCount >= v.maxAttempts {
			return fmt.Errorf("%w: %s used %d of %d", slerrors.ErrAttemptsExhausted, d.taskID, v.attemptCount, v.maxAttempts)
		}
	case constants.CommandSkipTask:
		switch v.status {
		case constants.TaskStatusPending, constants.TaskStatusReady, constants.TaskStatusFailed,
			constants.TaskStatusPendingApproval:
			if v.decided {
				return fmt.Errorf("%s: decision already queued: %w", d.taskID,
					&slerrors.TransitionError{TaskID: d.taskID, From: v.status.String(), To: constants.TaskStatusSkipped.String()})
			}
		case constants.TaskStatusRunning, constants.TaskStatusCompleted, constants.TaskStatusSkipped:
			return &slerrors.TransitionError{TaskID: d.taskID, From: v.status.String(), To: constants.TaskStatusSkipped.String()}
		}
	default:
		return fmt.Errorf("%w: %s", slerrors.ErrUnknownCommand, d.kind)
	}
	return nil
}

// signal wakes the loop. Callers hold l.mu.
func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func viewOf(t *domain.Task) taskView {
	return taskView{status: t.Status, attemptCount: t.AttemptCount, maxAttempts: t.MaxAttempts}
}

func (l *Loop) statsFrom(p domain.Progress) domain.SessionStats {
	s := l.stats
	s.TotalTasks = p.Total
	s.CompletedTasks = p.Completed
	s.FailedTasks = p.Failed
	s.SkippedTasks = p.Skipped
	s.PendingApproval = p.PendingApproval
	return s
}

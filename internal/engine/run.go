package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/capability"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/evaluation"
	"github.com/mrz1836/storyloom/internal/provider"
)

// taskContext is the generation context assembled once per task run.
type taskContext struct {
	input        capability.TaskInput
	related      []domain.Fact
	foundational map[constants.TaskCategory][]string
	enrichments  []capability.Enrichment

	// steps is the dependency output quoted under "Previous steps". It
	// leaves out foundational dependencies already quoted as foundational
	// context.
	steps map[string]string
}

// Run executes the session until its graph completes, a task blocks it, it
// is stopped or ctx is canceled. Run may be called once. The session's
// outcome is reported through its status and events; the returned error is
// non-nil only when the loop hit a broken invariant.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return fmt.Errorf("run %s: %w", l.id, slerrors.ErrSessionExists)
	}
	l.started = true
	l.mu.Unlock()
	defer close(l.done)

	ctx = l.logger.WithContext(ctx)
	start := l.deps.Clock.Now()
	l.deps.Metrics.SessionStarted(l.id)
	l.deps.Pipeline.Initialize(ctx, l.info())

	l.logger.Info().
		Int("tasks", l.graph.Len()).
		Bool("approval_mode", l.approvalMode).
		Float64("pass_threshold", l.threshold).
		Msg("session started")
	l.setStatus(ctx, constants.SessionStatusRunning)
	l.emit(ctx, domain.Event{Type: constants.EventStarted})
	l.emitProgress(ctx)

	status, reason, err := l.loop(ctx)
	l.finish(ctx, status, reason, start)
	return err
}

func (l *Loop) loop(ctx context.Context) (constants.SessionStatus, string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return constants.SessionStatusStopped, "interrupted: " + err.Error(), nil
		}
		if l.isStopped() {
			return constants.SessionStatusStopped, "", nil
		}

		if l.isPaused() {
			l.waitWhilePaused(ctx)
			continue
		}

		applied, err := l.applyDecision(ctx)
		if err != nil {
			return constants.SessionStatusFailed, err.Error(), err
		}
		if applied {
			continue
		}

		task, err := l.graph.NextReady()
		if errors.Is(err, slerrors.ErrGraphBlocked) {
			l.logger.Error().Err(err).Msg("task graph blocked")
			return constants.SessionStatusFailed, err.Error(), nil
		}
		if err != nil {
			return constants.SessionStatusFailed, err.Error(), err
		}
		if task == nil {
			if l.graph.IsComplete() {
				return constants.SessionStatusCompleted, "", nil
			}
			l.idle(ctx)
			continue
		}

		l.transitioned(ctx, task, "")
		if err := l.execute(ctx, task); err != nil {
			return constants.SessionStatusFailed, err.Error(), err
		}
	}
}

// waitWhilePaused blocks until the loop is resumed, stopped or canceled.
func (l *Loop) waitWhilePaused(ctx context.Context) {
	l.setStatus(ctx, constants.SessionStatusPaused)
	l.emit(ctx, domain.Event{Type: constants.EventPaused})
	l.logger.Info().Msg("session paused")

	for l.isPaused() && !l.isStopped() {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
	if l.isStopped() {
		return
	}

	l.setStatus(ctx, constants.SessionStatusRunning)
	l.emit(ctx, domain.Event{Type: constants.EventResumed})
	l.logger.Info().Msg("session resumed")
}

// idle waits for a control signal or the poll interval.
func (l *Loop) idle(ctx context.Context) {
	timer := time.NewTimer(l.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-l.wake:
	case <-timer.C:
	}
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) isPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// execute runs a ready task to a settled status.
func (l *Loop) execute(ctx context.Context, t *domain.Task) error {
	if err := l.graph.UpdateStatus(t.ID, constants.TaskStatusRunning, nil, "started"); err != nil {
		return err
	}
	l.startedAt[t.ID] = l.deps.Clock.Now()
	l.deps.Metrics.TaskStarted(l.id, t.Category)
	zerolog.Ctx(ctx).Info().
		Str("task_id", t.ID).
		Str("category", t.Category.String()).
		Int("max_attempts", t.MaxAttempts).
		Msg("task started")
	l.transitioned(ctx, t, constants.EventTaskStart)
	return l.work(ctx, t, "", false)
}

// work runs the generate, evaluate and rewrite cycle of a running task.
// When feedback is set the first attempt is a reviewer-guided rewrite; with
// reuse it keeps the current attempt number instead of starting a new one.
func (l *Loop) work(ctx context.Context, t *domain.Task, feedback string, reuse bool) error {
	logger := zerolog.Ctx(ctx).With().Str("task_id", t.ID).Str("category", t.Category.String()).Logger()
	tc := l.prepare(ctx, t)

	enrichments, err := l.deps.Pipeline.BeforeTask(ctx, tc.input)
	if err != nil {
		logger.Warn().Err(err).Msg("task vetoed by capability")
		return l.fail(ctx, t, err.Error())
	}
	tc.enrichments = enrichments

	previous := latestResult(t)
	reuse = reuse && feedback != "" && t.AttemptCount > 0
	for {
		if err := ctx.Err(); err != nil {
			return l.fail(ctx, t, "interrupted: "+err.Error())
		}

		number := t.AttemptCount
		if !reuse {
			n, err := l.graph.BeginAttempt(t.ID)
			if errors.Is(err, slerrors.ErrAttemptsExhausted) {
				return l.exhausted(ctx, t)
			}
			if err != nil {
				return err
			}
			number = n
		}
		reuse = false

		result, err := l.attempt(ctx, t, number, tc, previous, feedback)
		feedback = ""
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return l.fail(ctx, t, "interrupted: "+ctxErr.Error())
			}
			logger.Error().Err(err).Int("attempt", number).Msg("attempt failed")
			return l.fail(ctx, t, err.Error())
		}

		if result.Evaluation.Passed {
			logger.Info().Int("attempt", number).Float64("score", result.Evaluation.Score).Msg("attempt passed evaluation")
			return l.accept(ctx, t, tc.input)
		}
		logger.Info().
			Int("attempt", number).
			Int("max_attempts", t.MaxAttempts).
			Float64("score", result.Evaluation.Score).
			Float64("threshold", result.Evaluation.Threshold).
			Msg(slerrors.ErrEvaluationThresholdNotMet.Error())
		previous = result

		if l.isStopped() {
			return l.fail(ctx, t, fmt.Sprintf("stopped after attempt %d", number))
		}
	}
}

// attempt generates and evaluates one draft and records it on the task.
func (l *Loop) attempt(ctx context.Context, t *domain.Task, number int, tc taskContext,
	previous *domain.TaskResult, feedback string,
) (*domain.TaskResult, error) {
	prompt, evalContext := buildPrompt(promptInput{
		goal:         l.goal,
		task:         t,
		attempt:      number,
		foundational: tc.foundational,
		dependencies: tc.steps,
		facts:        tc.related,
		enrichments:  tc.enrichments,
		previous:     previous,
		feedback:     feedback,
	})

	result := domain.TaskResult{
		Attempt:    number,
		PromptHash: promptHash(prompt),
		Feedback:   feedback,
		StartedAt:  l.deps.Clock.Now(),
	}

	outcome, err := l.deps.Generator.Generate(ctx, t.Category, prompt, provider.Parameters{})
	if outcome != nil {
		l.account(outcome)
		result.ProviderCalls = outcome.Calls
		result.Usage = outcome.Usage
		result.CostUSD = outcome.CostUSD
		result.Provider = outcome.ProviderID
	}
	if err != nil {
		result.Error = err.Error()
		result.CompletedAt = l.deps.Clock.Now()
		l.record(ctx, t, result)
		return nil, fmt.Errorf("generate %s attempt %d: %w", t.ID, number, err)
	}
	result.Content = outcome.Generation.Content
	result.Model = outcome.Generation.Model

	ev, err := l.deps.Evaluator.Evaluate(ctx, evaluation.Request{
		Category: t.Category,
		Content:  result.Content,
		Context:  evalContext,
		Goal:     l.goal,
	}, l.threshold)
	if err != nil {
		result.Error = err.Error()
		result.CompletedAt = l.deps.Clock.Now()
		l.record(ctx, t, result)
		return nil, fmt.Errorf("evaluate %s attempt %d: %w", t.ID, number, err)
	}
	result.Evaluation = ev
	result.CompletedAt = l.deps.Clock.Now()

	l.record(ctx, t, result)
	l.deps.Metrics.AttemptEvaluated(l.id, t.Category, ev.Score, ev.Passed)
	return &result, nil
}

// accept settles a task whose latest attempt passed evaluation.
func (l *Loop) accept(ctx context.Context, t *domain.Task, in capability.TaskInput) error {
	if !l.approvalMode {
		return l.complete(ctx, t, in, "evaluation passed")
	}
	return l.awaitApproval(ctx, t, "evaluation passed, awaiting approval")
}

// exhausted settles a task that used every attempt without passing.
func (l *Loop) exhausted(ctx context.Context, t *domain.Task) error {
	reason := fmt.Sprintf("%s after %d attempt(s)", slerrors.ErrEvaluationThresholdNotMet, t.AttemptCount)
	if ev := latestEvaluation(t); ev != nil {
		reason = fmt.Sprintf("%s: last score %.2f below %.2f", reason, ev.Score, ev.Threshold)
	}
	if !l.approvalMode {
		return l.fail(ctx, t, reason)
	}
	l.emit(ctx, domain.Event{Type: constants.EventTaskFail, Task: t.Clone(), Error: reason})
	return l.awaitApproval(ctx, t, reason)
}

func (l *Loop) awaitApproval(ctx context.Context, t *domain.Task, reason string) error {
	if err := l.graph.UpdateStatus(t.ID, constants.TaskStatusPendingApproval, nil, reason); err != nil {
		return err
	}
	l.taskFinished(t)
	zerolog.Ctx(ctx).Info().Str("task_id", t.ID).Str("reason", reason).Msg("task awaiting approval")
	l.transitioned(ctx, t, constants.EventTaskApprovalNeeded)
	return nil
}

// complete runs the after-task hooks, records the extracted facts and marks
// the task completed.
func (l *Loop) complete(ctx context.Context, t *domain.Task, in capability.TaskInput, reason string) error {
	content := t.LatestContent()
	in.Task = t.Clone()
	facts := l.deps.Pipeline.AfterTask(ctx, in, content)
	if t.IsFoundational && content != "" {
		facts = append(facts, domain.Fact{
			Kind:    domain.FactFoundational,
			Subject: t.Category.String(),
			Text:    quote(content),
			Source:  "engine",
		})
	}
	l.remember(ctx, t, facts)

	if err := l.graph.UpdateStatus(t.ID, constants.TaskStatusCompleted, nil, reason); err != nil {
		return err
	}
	l.taskFinished(t)
	zerolog.Ctx(ctx).Info().
		Str("task_id", t.ID).
		Int("attempts", t.AttemptCount).
		Int("facts", len(facts)).
		Msg("task completed")
	l.transitioned(ctx, t, constants.EventTaskComplete)
	return nil
}

// fail marks a task failed. Its dependents stay blocked.
func (l *Loop) fail(ctx context.Context, t *domain.Task, reason string) error {
	if err := l.graph.UpdateStatus(t.ID, constants.TaskStatusFailed, nil, reason); err != nil {
		return err
	}
	l.taskFinished(t)
	zerolog.Ctx(ctx).Warn().Str("task_id", t.ID).Str("reason", reason).Msg("task failed")
	l.transitioned(ctx, t, constants.EventTaskFail)
	return nil
}

func (l *Loop) remember(ctx context.Context, t *domain.Task, facts []domain.Fact) {
	if l.deps.Memory == nil || len(facts) == 0 {
		return
	}
	now := l.deps.Clock.Now()
	for i := range facts {
		facts[i].SessionID = l.id
		facts[i].TaskID = t.ID
		if facts[i].CreatedAt.IsZero() {
			facts[i].CreatedAt = now
		}
	}
	if err := l.deps.Memory.Record(ctx, facts); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("task_id", t.ID).Msg("recording facts failed")
	}
}

// applyDecision applies the oldest queued approval-gate decision.
func (l *Loop) applyDecision(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if len(l.decisions) == 0 {
		l.mu.Unlock()
		return false, nil
	}
	d := l.decisions[0]
	l.decisions = l.decisions[1:]
	l.mu.Unlock()

	t, ok := l.graph.Task(d.taskID)
	if !ok {
		return true, fmt.Errorf("%w: %s", slerrors.ErrTaskNotFound, d.taskID)
	}
	logger := zerolog.Ctx(ctx).With().Str("task_id", t.ID).Str("decision", d.kind.String()).Logger()

	switch d.kind {
	case constants.CommandApproveTask:
		if t.Status != constants.TaskStatusPendingApproval {
			logger.Warn().Str("status", t.Status.String()).Msg("dropping approval for task no longer awaiting it")
			l.refreshView(t)
			return true, nil
		}
		logger.Info().Msg("task approved")
		return true, l.complete(ctx, t, l.prepare(ctx, t).input, "approved")

	case constants.CommandSkipTask:
		if err := l.graph.UpdateStatus(t.ID, constants.TaskStatusSkipped, nil, "skipped by request"); err != nil {
			logger.Warn().Err(err).Msg("dropping skip")
			l.refreshView(t)
			return true, nil
		}
		logger.Info().Msg("task skipped")
		l.transitioned(ctx, t, "")
		return true, nil

	case constants.CommandFeedback:
		if t.Status != constants.TaskStatusPendingApproval {
			logger.Warn().Str("status", t.Status.String()).Msg("dropping feedback for task no longer awaiting it")
			l.refreshView(t)
			return true, nil
		}
		preserve := l.cfg.FeedbackAttempts == constants.FeedbackPreserve
		if !preserve && t.AttemptCount >= t.MaxAttempts {
			if l.cfg.ApprovalPrecedence == constants.PrecedenceCap {
				logger.Warn().Msg("dropping feedback for task with no attempts left")
				l.refreshView(t)
				return true, nil
			}
			if err := l.graph.ExtendAttempts(t.ID, 1); err != nil {
				return true, err
			}
		}
		if err := l.graph.UpdateStatus(t.ID, constants.TaskStatusRunning, nil, "feedback: "+d.message); err != nil {
			return true, err
		}
		l.startedAt[t.ID] = l.deps.Clock.Now()
		l.deps.Metrics.TaskStarted(l.id, t.Category)
		logger.Info().Bool("preserve_attempts", preserve).Msg("rewriting task with feedback")
		l.transitioned(ctx, t, constants.EventTaskStart)
		return true, l.work(ctx, t, d.message, preserve)

	case constants.CommandStart, constants.CommandPause, constants.CommandResume, constants.CommandStop:
	}
	return true, fmt.Errorf("%w: %s", slerrors.ErrUnknownCommand, d.kind)
}

// prepare assembles the hook input and retrieval context of a task.
func (l *Loop) prepare(ctx context.Context, t *domain.Task) taskContext {
	in := capability.TaskInput{
		SessionID:         l.id,
		Goal:              l.goal,
		Task:              t.Clone(),
		DependencyOutputs: make(map[string]string),
		Foundational:      make(map[string]string),
		Skipped:           make(map[string]bool),
	}
	for _, dep := range t.DependsOn {
		if d, ok := l.graph.Task(dep); ok && d.Status == constants.TaskStatusCompleted {
			in.DependencyOutputs[dep] = d.LatestContent()
		}
	}
	for _, other := range l.graph.Tasks() {
		switch {
		case other.Status == constants.TaskStatusSkipped:
			in.Skipped[other.ID] = true
		case other.IsFoundational && other.Status == constants.TaskStatusCompleted:
			in.Foundational[other.ID] = other.LatestContent()
		}
	}

	related, byKind := l.recall(ctx, t)
	in.Facts = byKind
	foundational := l.foundationalFor(ctx, t)
	steps := make(map[string]string, len(in.DependencyOutputs))
	for id, content := range in.DependencyOutputs {
		if d, ok := l.graph.Task(id); ok && d.IsFoundational {
			if _, quoted := foundational[d.Category]; quoted {
				continue
			}
		}
		steps[id] = content
	}
	return taskContext{
		input:        in,
		related:      related,
		foundational: foundational,
		steps:        steps,
	}
}

// record stores an attempt on the task and persists it.
func (l *Loop) record(ctx context.Context, t *domain.Task, result domain.TaskResult) {
	if err := l.graph.RecordAttempt(t.ID, result); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("task_id", t.ID).Msg("recording attempt failed")
		return
	}
	l.persistTask(ctx, t)
	l.refreshView(t)
	l.publishSession()
	l.emit(ctx, domain.Event{Type: constants.EventTaskAttempt, Task: t.Clone(), Error: result.Error})
}

// transitioned persists a task after a status change, refreshes the
// published snapshot and emits the task event (when set) plus progress.
func (l *Loop) transitioned(ctx context.Context, t *domain.Task, event constants.EventType) {
	l.persistTask(ctx, t)
	l.refreshView(t)
	stats := l.publishSession()
	if err := l.deps.Store.UpdateSessionCounters(ctx, l.id, stats); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("updating session counters failed")
	}
	if event != "" {
		ev := domain.Event{Type: event, Task: t.Clone()}
		if event == constants.EventTaskFail {
			ev.Error = t.FailureReason
		}
		l.emit(ctx, ev)
	}
	l.current = ""
	if t.Status == constants.TaskStatusRunning || t.Status == constants.TaskStatusReady {
		l.current = t.ID
	}
	l.emitProgress(ctx)
}

func (l *Loop) persistTask(ctx context.Context, t *domain.Task) {
	if err := l.deps.Store.SaveTaskResult(ctx, l.id, t.Clone()); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("task_id", t.ID).Msg("saving task failed")
	}
}

func (l *Loop) refreshView(t *domain.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.views[t.ID] = viewOf(t)
}

// publishSession rebuilds the snapshot returned by Snapshot and returns the
// current counters.
func (l *Loop) publishSession() domain.SessionStats {
	tasks := l.graph.Snapshot()
	progress := l.graph.Progress()
	now := l.deps.Clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = l.statsFrom(progress)
	l.session.Tasks = tasks
	l.session.Stats = l.stats
	l.session.UpdatedAt = now
	return l.stats
}

// account adds provider usage to the session counters.
func (l *Loop) account(o *provider.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.ProviderCalls += o.Calls
	l.stats.Usage = l.stats.Usage.Add(o.Usage)
	l.stats.CostUSD += o.CostUSD
	l.session.Stats = l.stats
}

func (l *Loop) taskFinished(t *domain.Task) {
	var d time.Duration
	if started, ok := l.startedAt[t.ID]; ok {
		d = l.deps.Clock.Now().Sub(started)
		delete(l.startedAt, t.ID)
	}
	l.deps.Metrics.TaskFinished(l.id, t.Category, t.Status, d)
}

// setStatus changes the session status and persists the session record.
func (l *Loop) setStatus(ctx context.Context, status constants.SessionStatus) {
	l.mu.Lock()
	l.session.Status = status
	l.session.UpdatedAt = l.deps.Clock.Now()
	snapshot := l.session.Clone()
	l.mu.Unlock()

	if err := l.deps.Store.SaveSession(ctx, snapshot); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("status", status.String()).Msg("saving session failed")
	}
}

// finish moves the session to its terminal status. It persists and emits
// even when ctx is already canceled.
func (l *Loop) finish(ctx context.Context, status constants.SessionStatus, reason string, start time.Time) {
	ctx = context.WithoutCancel(ctx)
	l.current = ""
	stats := l.publishSession()
	now := l.deps.Clock.Now()

	l.mu.Lock()
	l.session.Status = status
	l.session.Error = reason
	l.session.UpdatedAt = now
	l.session.FinishedAt = &now
	l.finished = true
	l.finishedAt = now
	l.decisions = nil
	snapshot := l.session.Clone()
	l.mu.Unlock()

	l.deps.Pipeline.Finalize(ctx, l.info(), status, stats)

	if err := l.deps.Store.SaveSession(ctx, snapshot); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("saving final session failed")
	}
	if err := l.deps.Store.UpdateSessionCounters(ctx, l.id, stats); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("updating session counters failed")
	}

	ev := domain.Event{Stats: &stats, Error: reason}
	switch status {
	case constants.SessionStatusCompleted:
		ev.Type = constants.EventCompleted
	case constants.SessionStatusFailed:
		ev.Type = constants.EventFailed
	case constants.SessionStatusCreated, constants.SessionStatusRunning,
		constants.SessionStatusPaused, constants.SessionStatusStopped:
		ev.Type = constants.EventStopped
	}
	l.emitProgress(ctx)
	l.emit(ctx, ev)

	duration := now.Sub(start)
	l.deps.Metrics.SessionFinished(l.id, status, duration)
	event := l.logger.Info()
	if status == constants.SessionStatusFailed {
		event = l.logger.Error()
	}
	event.
		Str("status", status.String()).
		Int("completed_tasks", stats.CompletedTasks).
		Int("total_tasks", stats.TotalTasks).
		Int("provider_calls", stats.ProviderCalls).
		Dur("duration", duration).
		Str("reason", reason).
		Msg("session finished")
}

func (l *Loop) emitProgress(ctx context.Context) {
	p := l.graph.Progress()
	p.CurrentTaskID = l.current
	l.emit(ctx, domain.Event{Type: constants.EventProgress, Progress: &p})
}

func (l *Loop) emit(ctx context.Context, ev domain.Event) {
	ev.SessionID = l.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.deps.Clock.Now()
	}
	if err := l.deps.Events.Publish(ctx, ev); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", ev.Type.String()).Msg("publishing event failed")
	}
}

func (l *Loop) info() capability.SessionInfo {
	return capability.SessionInfo{SessionID: l.id, Goal: l.goal}
}

func latestResult(t *domain.Task) *domain.TaskResult {
	if t.Result == nil {
		return nil
	}
	r := *t.Result
	return &r
}

func latestEvaluation(t *domain.Task) *domain.EvaluationResult {
	if t.Result == nil {
		return nil
	}
	return t.Result.Evaluation
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:8])
}

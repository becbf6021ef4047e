// Package session provides the process-wide registry of running sessions.
// This file implements the Registry which starts execution loops, routes
// control commands to them and sweeps finished ones.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/storyloom/internal/capability"
	"github.com/mrz1836/storyloom/internal/clock"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/engine"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/events"
	"github.com/mrz1836/storyloom/internal/planner"
	"github.com/mrz1836/storyloom/internal/store"
)

// Config holds registry-wide session defaults.
type Config struct {
	// Engine tunes every execution loop.
	Engine engine.Config
	// MaxAttempts is the default attempt budget of each task.
	MaxAttempts int
	// PassThreshold is the default evaluation pass mark.
	PassThreshold float64
	// ApprovalMode is the default approval-gate setting.
	ApprovalMode bool
	// SweepInterval is how often RunSweeper removes finished sessions.
	SweepInterval time.Duration
	// GracePeriod is how long a finished session stays registered.
	GracePeriod time.Duration
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		Engine:        engine.DefaultConfig(),
		MaxAttempts:   constants.DefaultMaxAttempts,
		PassThreshold: constants.DefaultPassThreshold,
		SweepInterval: constants.DefaultSweepInterval,
		GracePeriod:   constants.DefaultGracePeriod,
	}
}

// Deps are the collaborators shared by every session. Generator, Evaluator
// and Store are required.
type Deps struct {
	Generator    engine.Generator
	Evaluator    engine.Evaluator
	Store        store.Store
	Memory       engine.Memory
	Events       events.Publisher
	Capabilities *capability.Registry
	Metrics      engine.Metrics
	Clock        clock.Clock
	Logger       zerolog.Logger
}

// forgetter is implemented by memories that can drop a session's facts.
type forgetter interface {
	Forget(sessionID string) error
}

// Registry maps session ids to their execution loops. A single mutex guards
// every registration and control dispatch.
type Registry struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	// base outlives request contexts; Shutdown cancels it.
	base   context.Context //nolint:containedctx // lifetime of every loop
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	loops  map[string]*engine.Loop
	closed bool
}

// NewRegistry creates a registry.
func NewRegistry(cfg Config, deps Deps) *Registry {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str("component", "session_registry").Logger(),
		base:   base,
		cancel: cancel,
		loops:  make(map[string]*engine.Loop),
	}
}

// Start plans a goal and launches its execution loop. A planning failure
// persists the session as failed, emits a failed event and returns the
// *errors.PlanningError.
func (r *Registry) Start(ctx context.Context, goal domain.Goal, opts *domain.SessionOptions) (*domain.Session, error) {
	if r.isClosed() {
		return nil, slerrors.ErrRegistryClosed
	}
	session, err := r.newSession(goal, opts)
	if err != nil {
		return nil, err
	}
	logger := r.logger.With().Str("session_id", session.ID).Logger()

	pipeline := r.pipeline()
	session.Capabilities = pipeline.Names()
	contributions := pipeline.Contributions(logger.WithContext(ctx), goal)

	graph, err := r.plan(goal, session.MaxAttempts, contributions)
	if err != nil {
		r.planningFailed(ctx, session, err)
		return nil, err
	}
	session.Tasks = graph.Snapshot()
	if err := r.deps.Store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session %s: %w", session.ID, err)
	}

	loop := engine.New(session, graph, r.cfg.Engine, engine.Deps{
		Generator: r.deps.Generator,
		Evaluator: r.deps.Evaluator,
		Store:     r.deps.Store,
		Memory:    r.deps.Memory,
		Events:    r.deps.Events,
		Pipeline:  pipeline,
		Metrics:   r.deps.Metrics,
		Clock:     r.deps.Clock,
		Logger:    r.deps.Logger,
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, slerrors.ErrRegistryClosed
	}
	if _, exists := r.loops[session.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", slerrors.ErrSessionExists, session.ID)
	}
	r.loops[session.ID] = loop
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if err := loop.Run(r.base); err != nil {
			logger.Error().Err(err).Msg("execution loop aborted")
		}
	}()

	logger.Info().
		Str("genre", goal.Genre).
		Int("chapters", goal.Chapters).
		Int("tasks", len(session.Tasks)).
		Msg("session registered")
	return loop.Snapshot(), nil
}

func (r *Registry) newSession(goal domain.Goal, opts *domain.SessionOptions) (*domain.Session, error) {
	now := r.deps.Clock.Now()
	s := &domain.Session{
		ID:            uuid.NewString(),
		Goal:          goal,
		Status:        constants.SessionStatusCreated,
		ApprovalMode:  r.cfg.ApprovalMode,
		PassThreshold: r.cfg.PassThreshold,
		MaxAttempts:   r.cfg.MaxAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: constants.SessionSchemaVersion,
	}
	if opts != nil {
		if opts.ApprovalMode != nil {
			s.ApprovalMode = *opts.ApprovalMode
		}
		if opts.PassThreshold != nil {
			s.PassThreshold = *opts.PassThreshold
		}
		if opts.MaxAttempts != nil {
			s.MaxAttempts = *opts.MaxAttempts
		}
	}
	if s.PassThreshold < 0 || s.PassThreshold > 1 {
		return nil, fmt.Errorf("%w: pass threshold %.2f outside [0,1]", slerrors.ErrConfigInvalidEngine, s.PassThreshold)
	}
	if s.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", slerrors.ErrConfigInvalidEngine, s.MaxAttempts)
	}
	return s, nil
}

func (r *Registry) pipeline() *capability.Pipeline {
	if r.deps.Capabilities == nil {
		return &capability.Pipeline{}
	}
	return r.deps.Capabilities.Snapshot()
}

func (r *Registry) plan(goal domain.Goal, maxAttempts int, contributions []planner.Contribution) (*planner.Graph, error) {
	tasks, err := planner.Plan(goal, planner.Config{MaxAttempts: maxAttempts}, contributions...)
	if err != nil {
		return nil, err
	}
	return planner.NewGraph(tasks, planner.WithClock(r.deps.Clock))
}

// planningFailed records a session that never got a graph.
func (r *Registry) planningFailed(ctx context.Context, session *domain.Session, err error) {
	now := r.deps.Clock.Now()
	session.Status = constants.SessionStatusFailed
	session.Error = err.Error()
	session.FinishedAt = &now
	session.UpdatedAt = now

	logger := r.logger.With().Str("session_id", session.ID).Logger()
	logger.Error().Err(err).Msg("planning failed")
	if saveErr := r.deps.Store.SaveSession(ctx, session); saveErr != nil {
		logger.Warn().Err(saveErr).Msg("saving failed session")
	}
	if pubErr := r.deps.Events.Publish(ctx, domain.Event{
		Type:      constants.EventFailed,
		SessionID: session.ID,
		Timestamp: now,
		Error:     session.Error,
	}); pubErr != nil {
		logger.Warn().Err(pubErr).Msg("publishing failed event")
	}
}

// Pause asks a session to pause before its next task.
func (r *Registry) Pause(sessionID string) error {
	return r.control(sessionID, (*engine.Loop).Pause)
}

// Resume continues a paused session.
func (r *Registry) Resume(sessionID string) error {
	return r.control(sessionID, (*engine.Loop).Resume)
}

// Stop asks a session to stop after its task in flight.
func (r *Registry) Stop(sessionID string) error {
	return r.control(sessionID, (*engine.Loop).Stop)
}

// ApproveTask accepts a task awaiting approval.
func (r *Registry) ApproveTask(sessionID, taskID string) error {
	return r.control(sessionID, func(l *engine.Loop) error {
		return l.ApproveTask(taskID)
	})
}

// Feedback sends a task awaiting approval back for a guided rewrite.
func (r *Registry) Feedback(sessionID, taskID, message string) error {
	return r.control(sessionID, func(l *engine.Loop) error {
		return l.Feedback(taskID, message)
	})
}

// SkipTask skips a task so its dependents can proceed.
func (r *Registry) SkipTask(sessionID, taskID string) error {
	return r.control(sessionID, func(l *engine.Loop) error {
		return l.SkipTask(taskID)
	})
}

func (r *Registry) control(sessionID string, op func(*engine.Loop) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	loop, ok := r.loops[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", slerrors.ErrSessionNotFound, sessionID)
	}
	return op(loop)
}

// Get returns a session. Registered sessions are read live; others are
// loaded from the store.
func (r *Registry) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	loop, ok := r.loops[sessionID]
	r.mu.Unlock()
	if ok {
		return loop.Snapshot(), nil
	}
	return r.deps.Store.LoadSession(ctx, sessionID)
}

// List returns every known session without tasks, newest first.
func (r *Registry) List(ctx context.Context) ([]*domain.Session, error) {
	stored, err := r.deps.Store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Session, len(stored))
	for _, s := range stored {
		byID[s.ID] = s
	}
	r.mu.Lock()
	for id, loop := range r.loops {
		s := loop.Snapshot()
		s.Tasks = nil
		byID[id] = s
	}
	r.mu.Unlock()

	out := make([]*domain.Session, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loops)
}

// Dispatch applies an inbound control command and returns the id of the
// session it acted on.
func (r *Registry) Dispatch(ctx context.Context, cmd domain.Command) (string, error) {
	if cmd.Type == constants.CommandStart {
		if cmd.Goal == nil {
			return "", fmt.Errorf("%w: start requires a goal", slerrors.ErrMalformedCommand)
		}
		s, err := r.Start(ctx, *cmd.Goal, cmd.Options)
		if err != nil {
			return "", err
		}
		return s.ID, nil
	}

	if cmd.SessionID == "" {
		return "", fmt.Errorf("%w: %s requires session_id", slerrors.ErrMalformedCommand, cmd.Type)
	}
	needsTask := cmd.Type == constants.CommandApproveTask ||
		cmd.Type == constants.CommandFeedback ||
		cmd.Type == constants.CommandSkipTask
	if needsTask && cmd.TaskID == "" {
		return "", fmt.Errorf("%w: %s requires task_id", slerrors.ErrMalformedCommand, cmd.Type)
	}

	var err error
	switch cmd.Type {
	case constants.CommandPause:
		err = r.Pause(cmd.SessionID)
	case constants.CommandResume:
		err = r.Resume(cmd.SessionID)
	case constants.CommandStop:
		err = r.Stop(cmd.SessionID)
	case constants.CommandApproveTask:
		err = r.ApproveTask(cmd.SessionID, cmd.TaskID)
	case constants.CommandFeedback:
		err = r.Feedback(cmd.SessionID, cmd.TaskID, cmd.Message)
	case constants.CommandSkipTask:
		err = r.SkipTask(cmd.SessionID, cmd.TaskID)
	default:
		err = fmt.Errorf("%w: %q", slerrors.ErrUnknownCommand, cmd.Type)
	}
	if err != nil {
		return cmd.SessionID, err
	}
	r.logger.Debug().Str("session_id", cmd.SessionID).Str("command", cmd.Type.String()).Msg("command dispatched")
	return cmd.SessionID, nil
}

// Sweep unregisters sessions that finished at least the grace period
// before now and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var removed []string
	for id, loop := range r.loops {
		finishedAt, finished := loop.FinishedAt()
		if finished && now.Sub(finishedAt) >= r.cfg.GracePeriod {
			delete(r.loops, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	if f, ok := r.deps.Memory.(forgetter); ok {
		for _, id := range removed {
			if err := f.Forget(id); err != nil {
				r.logger.Warn().Err(err).Str("session_id", id).Msg("dropping session memory failed")
			}
		}
	}
	if len(removed) > 0 {
		r.logger.Debug().Strs("session_ids", removed).Msg("swept finished sessions")
	}
	return len(removed)
}

// RunSweeper calls Sweep every sweep interval until ctx is canceled.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.deps.Clock.Now())
		}
	}
}

// Shutdown refuses new sessions, stops every registered session and waits
// for the loops to drain. If ctx ends first, in-flight work is canceled and
// the context error is returned.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	loops := make([]*engine.Loop, 0, len(r.loops))
	for _, loop := range r.loops {
		loops = append(loops, loop)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, loop := range loops {
		g.Go(func() error {
			_ = loop.Stop()
			select {
			case <-loop.Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("drain session %s: %w", loop.ID(), ctx.Err())
			}
		})
	}
	err := g.Wait()

	r.cancel()
	r.wg.Wait()
	if err != nil {
		r.logger.Warn().Err(err).Msg("sessions canceled before draining")
	} else {
		r.logger.Info().Int("sessions", len(loops)).Msg("all sessions drained")
	}
	return err
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/capability"
	"github.com/mrz1836/storyloom/internal/clock"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/evaluation"
	"github.com/mrz1836/storyloom/internal/events"
	"github.com/mrz1836/storyloom/internal/provider"
	"github.com/mrz1836/storyloom/internal/store"
)

// Config tunes loop behavior shared by every session. Per-session settings
// (approval mode, pass threshold, attempt budget) live on the Session.
type Config struct {
	// FeedbackAttempts decides whether a feedback revision consumes an attempt.
	FeedbackAttempts constants.FeedbackAttempts
	// ApprovalPrecedence decides whether feedback on an exhausted task is
	// granted an extra attempt or refused.
	ApprovalPrecedence constants.ApprovalPrecedence
	// PollInterval bounds how long the loop idles before re-checking its flags.
	PollInterval time.Duration
	// MemoryTopK is how many related facts are pulled into each prompt.
	MemoryTopK int
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		FeedbackAttempts:   constants.FeedbackIncrement,
		ApprovalPrecedence: constants.PrecedenceApproval,
		PollInterval:       constants.DefaultPollInterval,
		MemoryTopK:         constants.DefaultMemoryTopK,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.FeedbackAttempts == "" {
		c.FeedbackAttempts = def.FeedbackAttempts
	}
	if c.ApprovalPrecedence == "" {
		c.ApprovalPrecedence = def.ApprovalPrecedence
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MemoryTopK < 0 {
		c.MemoryTopK = 0
	}
	return c
}

// Generator produces content for a task category. *provider.Invoker
// implements it.
type Generator interface {
	Generate(ctx context.Context, category constants.TaskCategory, prompt string, params provider.Parameters) (*provider.Outcome, error)
}

// Evaluator scores generated content. *evaluation.Engine implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluation.Request, threshold float64) (*domain.EvaluationResult, error)
}

// Memory is the semantic memory the loop records facts into and recalls
// them from. *memory.Store implements it.
type Memory interface {
	Record(ctx context.Context, facts []domain.Fact) error
	Search(ctx context.Context, sessionID, query string, k int) ([]domain.Fact, error)
	SearchKind(ctx context.Context, sessionID, kind, query string, k int) ([]domain.Fact, error)
}

// Deps are the collaborators of a Loop. Generator, Evaluator and Store are
// required; the rest default to no-ops.
type Deps struct {
	Generator Generator
	Evaluator Evaluator
	Store     store.Store
	Memory    Memory
	Events    events.Publisher
	Pipeline  *capability.Pipeline
	Metrics   Metrics
	Clock     clock.Clock
	Logger    zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Pipeline == nil {
		d.Pipeline = &capability.Pipeline{}
	}
	if d.Metrics == nil {
		d.Metrics = NoopMetrics{}
	}
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	return d
}

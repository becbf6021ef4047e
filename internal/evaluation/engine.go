package evaluation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/clock"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
)

// Request is the input of one evaluation.
type Request struct {
	Category constants.TaskCategory
	Content  string
	// Context is the generation context the content was produced from.
	Context string
	Goal    domain.Goal
}

// Judgment holds a judge's raw per-dimension scores.
type Judgment struct {
	Scores      map[string]float64
	Reasons     map[string]string
	Suggestions []string
}

// Judge produces raw scores for a criteria set.
type Judge interface {
	Name() string
	Judge(ctx context.Context, req Request, set CriteriaSet) (*Judgment, error)
}

// Engine evaluates content with a primary judge, falling back to a
// secondary judge when the primary one errors.
type Engine struct {
	judge    Judge
	fallback Judge
	clock    clock.Clock
	logger   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithFallback sets the judge used when the primary judge fails.
func WithFallback(j Judge) Option {
	return func(e *Engine) {
		e.fallback = j
	}
}

// WithClock sets the clock used to stamp results.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// NewEngine creates an evaluation engine.
func NewEngine(judge Judge, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		judge:  judge,
		clock:  clock.RealClock{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores content for a category and compares it with threshold.
func (e *Engine) Evaluate(ctx context.Context, req Request, threshold float64) (*domain.EvaluationResult, error) {
	set := CriteriaFor(req.Category)

	judge := e.judge
	judgment, err := judge.Judge(ctx, req, set)
	if err != nil {
		if e.fallback == nil || ctx.Err() != nil {
			return nil, fmt.Errorf("judge %s: %w", judge.Name(), err)
		}
		e.logger.Warn().Err(err).
			Str("judge", judge.Name()).
			Str("fallback", e.fallback.Name()).
			Str("category", req.Category.String()).
			Msg("judge failed, using fallback")
		judge = e.fallback
		judgment, err = judge.Judge(ctx, req, set)
		if err != nil {
			return nil, fmt.Errorf("judge %s: %w", judge.Name(), err)
		}
	}

	result := Aggregate(set, judgment, threshold)
	result.Judge = judge.Name()
	result.EvaluatedAt = e.clock.Now()
	return result, nil
}

// Aggregate folds a judgment into an EvaluationResult. Each dimension is
// clamped to [0,1], the weighted sum is normalized by total weight and
// rounded to four decimals, and Passed is score >= threshold. Missing
// dimensions score zero.
func Aggregate(set CriteriaSet, j *Judgment, threshold float64) *domain.EvaluationResult {
	if j == nil {
		j = &Judgment{}
	}
	result := &domain.EvaluationResult{
		Threshold:  threshold,
		Criteria:   set.Name,
		Dimensions: make([]domain.DimensionScore, 0, len(set.Criteria)),
	}

	var weighted float64
	for _, c := range set.Criteria {
		raw, ok := j.Scores[c.Name]
		reason := j.Reasons[c.Name]
		if !ok {
			reason = "not scored by judge"
		}
		score := round4(clamp01(raw))
		weighted += score * c.Weight
		result.Dimensions = append(result.Dimensions, domain.DimensionScore{
			Name:   c.Name,
			Weight: c.Weight,
			Score:  score,
			Reason: reason,
		})
		if reason != "" {
			result.Reasons = append(result.Reasons, fmt.Sprintf("%s: %s", c.Name, reason))
		}
	}

	if total := set.TotalWeight(); total > 0 {
		result.Score = round4(weighted / total)
	}
	result.Passed = result.Score >= threshold

	result.Suggestions = append(result.Suggestions, j.Suggestions...)
	if !result.Passed {
		result.Suggestions = append(result.Suggestions, weakestSuggestions(set, result.Dimensions, threshold)...)
	}
	return result
}

// weakestSuggestions names the dimensions that dragged the score below the
// threshold, lowest first.
func weakestSuggestions(set CriteriaSet, dims []domain.DimensionScore, threshold float64) []string {
	descriptions := make(map[string]string, len(set.Criteria))
	for _, c := range set.Criteria {
		descriptions[c.Name] = c.Description
	}
	weak := make([]domain.DimensionScore, 0, len(dims))
	for _, d := range dims {
		if d.Score < threshold {
			weak = append(weak, d)
		}
	}
	sort.SliceStable(weak, func(a, b int) bool { return weak[a].Score < weak[b].Score })

	out := make([]string, 0, len(weak))
	for _, d := range weak {
		out = append(out, fmt.Sprintf("Improve %s (%.2f): %s", d.Name, d.Score, descriptions[d.Name]))
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

package evaluation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/storyloom/internal/clock"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

var errJudgeDown = errors.New("judge unavailable")

type fixedJudge struct {
	name     string
	judgment *Judgment
	err      error

	mu    sync.Mutex
	calls int
}

func (f *fixedJudge) Name() string { return f.name }

func (f *fixedJudge) Judge(_ context.Context, _ Request, _ CriteriaSet) (*Judgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.judgment, f.err
}

type stubCompleter struct {
	answer string
	err    error

	mu       sync.Mutex
	category constants.TaskCategory
	prompt   string
}

func (s *stubCompleter) Complete(_ context.Context, category constants.TaskCategory, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.category = category
	s.prompt = prompt
	return s.answer, s.err
}

func TestCriteriaFor(t *testing.T) {
	t.Parallel()

	content := CriteriaFor(constants.CategoryChapterContent)
	assert.Equal(t, "content", content.Name)
	assert.InDelta(t, 1.0, content.TotalWeight(), 1e-9)
	assert.Len(t, content.Criteria, 4)

	structural := CriteriaFor(constants.CategoryOutline)
	assert.Equal(t, "structural", structural.Name)
	assert.InDelta(t, 1.0, structural.TotalWeight(), 1e-9)

	assert.Equal(t, "content", CriteriaFor(constants.CategoryChapterPolish).Name)
	assert.Equal(t, "structural", CriteriaFor(constants.CategoryChapterOutline).Name)
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	set := CriteriaFor(constants.CategoryChapterContent)

	t.Run("weighted sum", func(t *testing.T) {
		t.Parallel()
		res := Aggregate(set, &Judgment{Scores: map[string]float64{
			DimCoherence: 1, DimCreativity: 0.6, DimConsistency: 0.8, DimGoalAlignment: 0.5,
		}}, 0.7)
		// 0.3 + 0.15 + 0.2 + 0.1
		assert.InDelta(t, 0.75, res.Score, 1e-9)
		assert.True(t, res.Passed)
		assert.Equal(t, "content", res.Criteria)
		assert.Len(t, res.Dimensions, 4)
	})

	t.Run("threshold boundary passes", func(t *testing.T) {
		t.Parallel()
		res := Aggregate(set, &Judgment{Scores: map[string]float64{
			DimCoherence: 0.7, DimCreativity: 0.7, DimConsistency: 0.7, DimGoalAlignment: 0.7,
		}}, 0.7)
		assert.InDelta(t, 0.7, res.Score, 1e-9)
		assert.True(t, res.Passed)
	})

	t.Run("clamps and missing dimensions", func(t *testing.T) {
		t.Parallel()
		res := Aggregate(set, &Judgment{Scores: map[string]float64{
			DimCoherence: 4, DimCreativity: -1,
		}}, 0.7)
		assert.InDelta(t, 0.3, res.Score, 1e-9)
		assert.False(t, res.Passed)
		d, ok := res.Dimension(DimConsistency)
		require.True(t, ok)
		assert.Equal(t, "not scored by judge", d.Reason)
		require.NotEmpty(t, res.Suggestions)
		assert.True(t, strings.HasPrefix(res.Suggestions[0], "Improve creativity"))
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		j := &Judgment{Scores: map[string]float64{
			DimCoherence: 0.33333, DimCreativity: 0.66667, DimConsistency: 0.1, DimGoalAlignment: 0.9,
		}}
		assert.Equal(t, Aggregate(set, j, 0.7), Aggregate(set, j, 0.7))
	})
}

func TestEngine_FallsBackWhenJudgeFails(t *testing.T) {
	t.Parallel()

	primary := &fixedJudge{name: "primary", err: errJudgeDown}
	backup := &fixedJudge{name: "backup", judgment: &Judgment{Scores: map[string]float64{
		DimCoverage: 1, DimInternalConsistency: 1,
	}}}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	e := NewEngine(primary, zerolog.Nop(), WithFallback(backup), WithClock(clock.NewManual(now)))

	res, err := e.Evaluate(context.Background(), Request{Category: constants.CategoryOutline}, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "backup", res.Judge)
	assert.Equal(t, now, res.EvaluatedAt)
	assert.InDelta(t, 1.0, res.Score, 1e-9)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestEngine_NoFallbackReturnsError(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fixedJudge{name: "primary", err: errJudgeDown}, zerolog.Nop())
	_, err := e.Evaluate(context.Background(), Request{Category: constants.CategoryOutline}, 0.7)
	require.ErrorIs(t, err, errJudgeDown)
}

func TestHeuristicJudge(t *testing.T) {
	t.Parallel()

	goal := domain.Goal{
		Genre:        "mystery",
		Mode:         constants.ModeNovel,
		Chapters:     1,
		Requirements: []string{"a lighthouse keeper narrates", "storm"},
	}
	e := NewEngine(HeuristicJudge{}, zerolog.Nop())

	t.Run("empty content fails", func(t *testing.T) {
		t.Parallel()
		res, err := e.Evaluate(context.Background(), Request{
			Category: constants.CategoryChapterContent, Goal: goal,
		}, 0.7)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, res.Score, 1e-9)
		assert.False(t, res.Passed)
	})

	t.Run("repetitive content scores low", func(t *testing.T) {
		t.Parallel()
		res, err := e.Evaluate(context.Background(), Request{
			Category: constants.CategoryChapterContent,
			Content:  strings.Repeat("the same words again ", 100),
			Goal:     goal,
		}, 0.7)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		d, ok := res.Dimension(DimGoalAlignment)
		require.True(t, ok)
		assert.InDelta(t, 0.0, d.Score, 1e-9)
	})

	t.Run("same input same score", func(t *testing.T) {
		t.Parallel()
		req := Request{
			Category: constants.CategoryOutline,
			Content:  "Mara the lighthouse keeper hides a ledger during the storm. Her brother Tomas arrives.",
			Context:  "Mara keeps the light. Tomas returns. Mara and Tomas argue.",
			Goal:     goal,
		}
		a, err := e.Evaluate(context.Background(), req, 0.7)
		require.NoError(t, err)
		b, err := e.Evaluate(context.Background(), req, 0.7)
		require.NoError(t, err)
		assert.InDelta(t, a.Score, b.Score, 1e-12)
		d, ok := a.Dimension(DimCoverage)
		require.True(t, ok)
		assert.Greater(t, d.Score, 0.0)
	})
}

func TestTopNames(t *testing.T) {
	t.Parallel()

	names := topNames("Mara went north. Mara met Ilse. Ilse laughed. The Road. The Road.", 5)
	assert.Equal(t, []string{"Ilse", "Mara", "Road"}, names)
}

func TestProviderJudge(t *testing.T) {
	t.Parallel()

	t.Run("parses fenced JSON", func(t *testing.T) {
		t.Parallel()
		c := &stubCompleter{answer: "Here you go:\n```json\n" +
			`{"scores": {"coverage": 0.9, "internal_consistency": 0.7}, "reasons": {"coverage": "thorough"}, "suggestions": ["tighten act two"]}` +
			"\n```"}
		e := NewEngine(NewProviderJudge(c), zerolog.Nop())
		res, err := e.Evaluate(context.Background(), Request{
			Category: constants.CategoryOutline,
			Content:  "Act one...",
			Goal:     domain.Goal{Genre: "noir"},
		}, 0.7)
		require.NoError(t, err)
		assert.InDelta(t, 0.8, res.Score, 1e-9)
		assert.Equal(t, "provider", res.Judge)
		assert.Contains(t, res.Suggestions, "tighten act two")
		assert.Equal(t, constants.CategoryEvaluation, c.category)
		assert.Contains(t, c.prompt, "internal_consistency")
	})

	t.Run("malformed answer falls back to heuristic", func(t *testing.T) {
		t.Parallel()
		e := NewEngine(NewProviderJudge(&stubCompleter{answer: "looks great!"}), zerolog.Nop(),
			WithFallback(HeuristicJudge{}))
		res, err := e.Evaluate(context.Background(), Request{
			Category: constants.CategoryOutline,
			Content:  "Act one. Act two. Act three.",
		}, 0.7)
		require.NoError(t, err)
		assert.Equal(t, "heuristic", res.Judge)
	})

	t.Run("parse errors are classified", func(t *testing.T) {
		t.Parallel()
		_, err := parseJudgment(`{"scores": {}}`)
		require.ErrorIs(t, err, slerrors.ErrJudgeResponse)
		_, err = parseJudgment(`{"scores": [1,2]}`)
		require.ErrorIs(t, err, slerrors.ErrJudgeResponse)
	})
}

func TestTargetWords(t *testing.T) {
	t.Parallel()

	goal := domain.Goal{Genre: "fantasy", Mode: constants.ModeNovel, Chapters: 4, TargetWords: 8000}
	assert.Equal(t, 2000, TargetWords(constants.CategoryChapterContent, goal))
	assert.Equal(t, 2000, TargetWords(constants.CategoryChapterPolish, goal))
	assert.Equal(t, defaultStructuralWords, TargetWords(constants.CategoryOutline, goal))
	assert.Equal(t, defaultContentWords, TargetWords(constants.CategoryChapterContent, domain.Goal{Chapters: 1}))
}

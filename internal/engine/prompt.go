package engine

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mrz1836/storyloom/internal/capability"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/evaluation"
	"github.com/mrz1836/storyloom/internal/prompts"
)

// maxQuotedChars bounds how much of an earlier draft is quoted into a prompt.
const maxQuotedChars = 6000

// promptInput is everything one attempt's prompt is assembled from.
type promptInput struct {
	goal         domain.Goal
	task         *domain.Task
	attempt      int
	foundational map[constants.TaskCategory][]string
	dependencies map[string]string
	facts        []domain.Fact
	enrichments  []capability.Enrichment
	previous     *domain.TaskResult
	feedback     string
}

// buildPrompt renders the generation prompt and the context text the
// evaluator checks consistency against.
func buildPrompt(in promptInput) (prompt, evalContext string) {
	var ec strings.Builder
	data := prompts.GenerateData{
		Brief:       in.goal.Summary(),
		Category:    string(in.task.Category),
		Description: in.task.Description,
		TargetWords: evaluation.TargetWords(in.task.Category, in.goal),
	}

	cats := make([]string, 0, len(in.foundational))
	for c := range in.foundational {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	for _, c := range cats {
		for _, content := range in.foundational[constants.TaskCategory(c)] {
			data.Foundational = append(data.Foundational, prompts.Section{Title: c, Body: quote(content)})
			ec.WriteString(content)
			ec.WriteString("\n")
		}
	}

	ids := make([]string, 0, len(in.dependencies))
	for id := range in.dependencies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		data.Dependencies = append(data.Dependencies, prompts.Section{Title: id, Body: quote(in.dependencies[id])})
		ec.WriteString(in.dependencies[id])
		ec.WriteString("\n")
	}

	for _, f := range in.facts {
		data.Notes = append(data.Notes, f.Text)
		ec.WriteString(f.Text)
		ec.WriteString("\n")
	}

	for _, e := range in.enrichments {
		data.Guidance = append(data.Guidance, prompts.Section{Title: e.Source, Body: e.Text})
		ec.WriteString(e.Text)
		ec.WriteString("\n")
	}

	if in.previous != nil || in.feedback != "" {
		data.Revision = in.revision()
	}

	return prompts.MustRender(prompts.Generate, data), ec.String()
}

func (in promptInput) revision() *prompts.RevisionData {
	rev := &prompts.RevisionData{Attempt: in.attempt, Feedback: in.feedback}
	if in.previous == nil {
		return rev
	}
	rev.PreviousDraft = quote(in.previous.Content)
	if ev := in.previous.Evaluation; ev != nil {
		rev.Scored = true
		rev.Score = ev.Score
		rev.Threshold = ev.Threshold
		rev.Suggestions = ev.Suggestions
		for _, d := range ev.Dimensions {
			if d.Reason != "" {
				rev.Dimensions = append(rev.Dimensions, prompts.DimensionNote{Name: d.Name, Score: d.Score, Reason: d.Reason})
			}
		}
	}
	return rev
}

func quote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxQuotedChars {
		return s
	}
	n := maxQuotedChars
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n[...]"
}

// recall gathers memory facts for a task: the closest facts overall plus the
// closest facts of every kind the built-in capabilities read.
func (l *Loop) recall(ctx context.Context, t *domain.Task) (related, byKind []domain.Fact) {
	k := l.cfg.MemoryTopK
	if l.deps.Memory == nil || k == 0 {
		return nil, nil
	}
	query := t.Description
	if query == "" {
		query = string(t.Category)
	}
	logger := l.logger.With().Str("task_id", t.ID).Logger()

	related, err := l.deps.Memory.Search(ctx, l.id, query, k)
	if err != nil {
		logger.Warn().Err(err).Msg("memory search failed")
	}

	seen := make(map[string]bool)
	for _, f := range related {
		seen[f.ID] = true
	}
	byKind = append(byKind, related...)
	for _, kind := range []string{
		domain.FactCharacter, domain.FactWorldRule, domain.FactTimeline,
		domain.FactForeshadow, domain.FactVoice,
	} {
		facts, err := l.deps.Memory.SearchKind(ctx, l.id, kind, query, k)
		if err != nil {
			logger.Warn().Err(err).Str("kind", kind).Msg("memory search failed")
			continue
		}
		for _, f := range facts {
			if !seen[f.ID] {
				seen[f.ID] = true
				byKind = append(byKind, f)
			}
		}
	}
	return related, byKind
}

// foundationalFor loads stored context for the foundational tasks t
// directly depends on.
func (l *Loop) foundationalFor(ctx context.Context, t *domain.Task) map[constants.TaskCategory][]string {
	out := make(map[constants.TaskCategory][]string)
	for _, dep := range t.DependsOn {
		d, ok := l.graph.Task(dep)
		if !ok || !d.IsFoundational || d.Status != constants.TaskStatusCompleted {
			continue
		}
		if _, loaded := out[d.Category]; loaded {
			continue
		}
		content, err := l.deps.Store.LoadFoundationalContext(ctx, l.id, d.Category)
		if err != nil {
			l.logger.Warn().Err(err).Str("task_id", t.ID).Str("category", d.Category.String()).
				Msg("loading foundational context failed, using in-memory result")
			content = []string{d.LatestContent()}
		}
		if len(content) > 0 {
			out[d.Category] = content
		}
	}
	return out
}

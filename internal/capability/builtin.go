package capability

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/planner"
)

// Built-in capability names.
const (
	NameCharacterContinuity = "character-continuity"
	NameWorldRules          = "world-rules"
	NameTimeline            = "timeline"
	NameForeshadow          = "foreshadow"
	NameSceneAtmosphere     = "scene-atmosphere"
	NameDialogueVoice       = "dialogue-voice"
)

// maxFactsPerHook bounds how many facts a hook quotes back into a prompt.
const maxFactsPerHook = 12

// Builtins returns the built-in capabilities in registration order.
func Builtins(opts ...BuiltinOption) []Capability {
	var o builtinOptions
	for _, opt := range opts {
		opt(&o)
	}
	return []Capability{
		CharacterContinuity{},
		WorldRules{},
		Timeline{AllowGaps: o.timelineAllowGaps},
		Foreshadow{},
		SceneAtmosphere{},
		DialogueVoice{},
	}
}

// RegisterBuiltins registers every built-in capability.
func RegisterBuiltins(r *Registry, opts ...BuiltinOption) error {
	for _, c := range Builtins(opts...) {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

type builtinOptions struct {
	timelineAllowGaps bool
}

// BuiltinOption configures the built-in capabilities.
type BuiltinOption func(*builtinOptions)

// WithTimelineGaps lets the timeline capability accept a chapter that
// follows a skipped chapter.
func WithTimelineGaps(allow bool) BuiltinOption {
	return func(o *builtinOptions) {
		o.timelineAllowGaps = allow
	}
}

// CharacterContinuity keeps character facts in front of every chapter task.
type CharacterContinuity struct{}

func (CharacterContinuity) Name() string  { return NameCharacterContinuity }
func (CharacterContinuity) Priority() int { return 90 }

// BeforeTask lists the established character facts for chapter tasks.
func (CharacterContinuity) BeforeTask(_ context.Context, in TaskInput) ([]Enrichment, error) {
	if !in.Task.Category.IsChapter() {
		return nil, nil
	}
	return factsEnrichment("Established characters", domain.FilterFacts(in.Facts, domain.FactCharacter)), nil
}

// AfterTask extracts one fact per recurring character name.
func (CharacterContinuity) AfterTask(_ context.Context, in TaskInput, content string) ([]domain.Fact, error) {
	switch in.Task.Category {
	case constants.CategoryCharacterDesign, constants.CategoryChapterContent:
	default:
		return nil, nil
	}
	var facts []domain.Fact
	for _, name := range recurringNames(content, 2) {
		facts = append(facts, domain.Fact{
			Kind:    domain.FactCharacter,
			Subject: name,
			Text:    firstSentenceWith(content, name),
		})
	}
	return facts, nil
}

// WorldRules records the setting's rules and restates them for chapters.
type WorldRules struct{}

func (WorldRules) Name() string  { return NameWorldRules }
func (WorldRules) Priority() int { return 85 }

// Validate refuses chapter content when the world rules step produced nothing
// and was not deliberately skipped.
func (WorldRules) Validate(_ context.Context, in TaskInput) error {
	if in.Task.Category != constants.CategoryChapterContent {
		return nil
	}
	if in.Skipped["world_rules"] {
		return nil
	}
	if strings.TrimSpace(in.Foundational["world_rules"]) == "" {
		return slerrors.NewVeto(NameWorldRules, "world rules are empty")
	}
	return nil
}

// BeforeTask restates the world rules for chapter tasks.
func (WorldRules) BeforeTask(_ context.Context, in TaskInput) ([]Enrichment, error) {
	if !in.Task.Category.IsChapter() {
		return nil, nil
	}
	return factsEnrichment("World rules to respect", domain.FilterFacts(in.Facts, domain.FactWorldRule)), nil
}

// AfterTask extracts list items of the world rules step as facts.
func (WorldRules) AfterTask(_ context.Context, in TaskInput, content string) ([]domain.Fact, error) {
	if in.Task.Category != constants.CategoryWorldRules {
		return nil, nil
	}
	return listFacts(content, domain.FactWorldRule), nil
}

// Timeline keeps chapters in order and summarizes what already happened.
type Timeline struct {
	// AllowGaps lets a chapter follow a skipped chapter.
	AllowGaps bool
}

func (Timeline) Name() string  { return NameTimeline }
func (Timeline) Priority() int { return 70 }

// Validate refuses a chapter outline that would follow a skipped chapter.
func (t Timeline) Validate(_ context.Context, in TaskInput) error {
	if t.AllowGaps || in.Task.Category != constants.CategoryChapterOutline || in.Task.ChapterIndex <= 1 {
		return nil
	}
	prev := planner.ChapterTaskID(in.Task.ChapterIndex-1, constants.CategoryChapterPolish)
	if in.Skipped[prev] {
		return slerrors.NewVeto(NameTimeline,
			fmt.Sprintf("chapter %d would follow a chapter with no text", in.Task.ChapterIndex))
	}
	return nil
}

// BeforeTask lists summaries of earlier chapters.
func (Timeline) BeforeTask(_ context.Context, in TaskInput) ([]Enrichment, error) {
	if !in.Task.Category.IsChapter() || in.Task.ChapterIndex <= 1 {
		return nil, nil
	}
	return factsEnrichment("Story so far", domain.FilterFacts(in.Facts, domain.FactTimeline)), nil
}

// AfterTask records a one-line summary of a polished chapter.
func (Timeline) AfterTask(_ context.Context, in TaskInput, content string) ([]domain.Fact, error) {
	if in.Task.Category != constants.CategoryChapterPolish {
		return nil, nil
	}
	summary := firstSentence(content)
	if summary == "" {
		return nil, nil
	}
	return []domain.Fact{{
		Kind:    domain.FactTimeline,
		Subject: fmt.Sprintf("chapter %d", in.Task.ChapterIndex),
		Text:    fmt.Sprintf("Chapter %d: %s", in.Task.ChapterIndex, summary),
	}}, nil
}

// Foreshadow plans plants and payoffs across chapters.
type Foreshadow struct{}

func (Foreshadow) Name() string  { return NameForeshadow }
func (Foreshadow) Priority() int { return 60 }

// ForeshadowTaskID is the id of the contributed planning task.
const ForeshadowTaskID = "foreshadow_plan"

// Contribute adds a foreshadow planning task that chapter outlines wait for.
func (Foreshadow) Contribute(goal domain.Goal) []planner.Contribution {
	if goal.Mode != constants.ModeNovel || goal.Chapters < 2 {
		return nil
	}
	return []planner.Contribution{{
		ID:             ForeshadowTaskID,
		Category:       constants.CategoryForeshadowPlan,
		Description:    "Plan foreshadowing plants and their payoffs across chapters",
		DependsOn:      []string{"outline"},
		IsFoundational: true,
		Gates:          []constants.TaskCategory{constants.CategoryChapterOutline},
	}}
}

// BeforeTask reminds chapter outlines of open plants.
func (Foreshadow) BeforeTask(_ context.Context, in TaskInput) ([]Enrichment, error) {
	if in.Task.Category != constants.CategoryChapterOutline {
		return nil, nil
	}
	return factsEnrichment("Plants and payoffs to honor", domain.FilterFacts(in.Facts, domain.FactForeshadow)), nil
}

// AfterTask extracts the planned plants.
func (Foreshadow) AfterTask(_ context.Context, in TaskInput, content string) ([]domain.Fact, error) {
	if in.Task.Category != constants.CategoryForeshadowPlan {
		return nil, nil
	}
	return listFacts(content, domain.FactForeshadow), nil
}

// SceneAtmosphere asks prose tasks to keep the goal's tone.
type SceneAtmosphere struct{}

func (SceneAtmosphere) Name() string  { return NameSceneAtmosphere }
func (SceneAtmosphere) Priority() int { return 40 }

// BeforeTask adds tone guidance for prose tasks.
func (SceneAtmosphere) BeforeTask(_ context.Context, in TaskInput) ([]Enrichment, error) {
	if !in.Task.Category.IsContent() {
		return nil, nil
	}
	tone := in.Goal.Style
	if tone == "" {
		tone = "consistent with the genre"
	}
	return []Enrichment{{
		Text: fmt.Sprintf("Ground each scene in sensory detail; keep the atmosphere of a %s story, tone %s.",
			in.Goal.Genre, tone),
	}}, nil
}

// DialogueVoice keeps each character's speech patterns stable.
type DialogueVoice struct{}

func (DialogueVoice) Name() string  { return NameDialogueVoice }
func (DialogueVoice) Priority() int { return 30 }

// BeforeTask restates voice notes for prose tasks.
func (DialogueVoice) BeforeTask(_ context.Context, in TaskInput) ([]Enrichment, error) {
	if !in.Task.Category.IsContent() {
		return nil, nil
	}
	return factsEnrichment("Character voices", domain.FilterFacts(in.Facts, domain.FactVoice)), nil
}

// AfterTask extracts sentences describing how characters speak.
func (DialogueVoice) AfterTask(_ context.Context, in TaskInput, content string) ([]domain.Fact, error) {
	if in.Task.Category != constants.CategoryCharacterDesign {
		return nil, nil
	}
	var facts []domain.Fact
	for _, s := range sentences(content) {
		lower := strings.ToLower(s)
		if strings.Contains(lower, "voice") || strings.Contains(lower, "speaks") || strings.Contains(lower, "says") {
			facts = append(facts, domain.Fact{Kind: domain.FactVoice, Text: s})
		}
	}
	return facts, nil
}

func factsEnrichment(title string, facts []domain.Fact) []Enrichment {
	if len(facts) == 0 {
		return nil
	}
	if len(facts) > maxFactsPerHook {
		facts = facts[:maxFactsPerHook]
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString(":\n")
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f.Text)
		b.WriteString("\n")
	}
	return []Enrichment{{Text: strings.TrimRight(b.String(), "\n")}}
}

// listFacts turns bullet or numbered lines into facts.
func listFacts(content, kind string) []domain.Fact {
	var facts []domain.Fact
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		item := strings.TrimLeft(line, "-*•0123456789.) ")
		if item == "" || item == line {
			continue
		}
		facts = append(facts, domain.Fact{Kind: kind, Text: item})
	}
	return facts
}

func sentences(content string) []string {
	var out []string
	for _, s := range strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstSentence(content string) string {
	if s := sentences(content); len(s) > 0 {
		return s[0]
	}
	return ""
}

func firstSentenceWith(content, word string) string {
	for _, s := range sentences(content) {
		if strings.Contains(s, word) {
			return s
		}
	}
	return word
}

// recurringNames returns capitalized words, not sentence-initial, that
// occur at least min times, in order of first appearance.
func recurringNames(content string, minCount int) []string {
	counts := make(map[string]int)
	var order []string
	for _, s := range sentences(content) {
		words := strings.Fields(s)
		for i, w := range words {
			w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
			r := []rune(w)
			if len(r) < 3 || !unicode.IsUpper(r[0]) {
				continue
			}
			if i == 0 && counts[w] == 0 {
				// Sentence-initial words only count once a mid-sentence use exists.
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	var names []string
	for _, w := range order {
		if counts[w] >= minCount {
			names = append(names, w)
		}
	}
	return names
}

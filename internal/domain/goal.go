package domain

import (
	"fmt"
	"strings"

	"github.com/mrz1836/storyloom/internal/constants"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// Goal is the immutable creative brief a session is planned from.
type Goal struct {
	// Title is the working title of the piece.
	Title string `json:"title" yaml:"title"`

	// Genre is the literary genre (fantasy, noir, ...).
	Genre string `json:"genre" yaml:"genre"`

	// Style describes voice and tone.
	Style string `json:"style,omitempty" yaml:"style"`

	// Audience is the intended readership.
	Audience string `json:"audience,omitempty" yaml:"audience"`

	// Mode selects the graph shape.
	Mode constants.StructuralMode `json:"mode" yaml:"mode"`

	// Chapters is the number of chapters requested.
	Chapters int `json:"chapters" yaml:"chapters"`

	// WordsPerChapter is the target chapter length.
	WordsPerChapter int `json:"words_per_chapter,omitempty" yaml:"words_per_chapter"`

	// TargetWords is the overall target length.
	TargetWords int `json:"target_words,omitempty" yaml:"target_words"`

	// Requirements are free-text constraints the content must honor.
	Requirements []string `json:"requirements,omitempty" yaml:"requirements"`
}

// Validate checks the goal can be planned.
func (g Goal) Validate() error {
	if strings.TrimSpace(g.Genre) == "" {
		return fmt.Errorf("%w: genre %w", slerrors.ErrInvalidGoal, slerrors.ErrEmptyValue)
	}
	if g.Chapters < 1 {
		return fmt.Errorf("%w: chapters must be at least 1, got %d", slerrors.ErrInvalidGoal, g.Chapters)
	}
	if g.WordsPerChapter < 0 || g.TargetWords < 0 {
		return fmt.Errorf("%w: word targets must not be negative", slerrors.ErrInvalidGoal)
	}
	switch g.Mode {
	case constants.ModeNovel:
	case constants.ModeShortStory:
		if g.Chapters > constants.ShortStoryMaxChapters {
			return fmt.Errorf("%w: short_story mode allows at most %d chapters, got %d",
				slerrors.ErrInvalidGoal, constants.ShortStoryMaxChapters, g.Chapters)
		}
	default:
		return fmt.Errorf("%w: unknown structural mode %q", slerrors.ErrInvalidGoal, g.Mode)
	}
	return nil
}

// ChapterTarget returns the target word count of a single chapter.
func (g Goal) ChapterTarget() int {
	if g.WordsPerChapter > 0 {
		return g.WordsPerChapter
	}
	if g.TargetWords > 0 && g.Chapters > 0 {
		return g.TargetWords / g.Chapters
	}
	return 0
}

// Summary renders the goal as a short brief for prompts.
func (g Goal) Summary() string {
	var b strings.Builder
	if g.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", g.Title)
	}
	fmt.Fprintf(&b, "Genre: %s\n", g.Genre)
	if g.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", g.Style)
	}
	if g.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", g.Audience)
	}
	fmt.Fprintf(&b, "Form: %s, %d chapter(s)", g.Mode, g.Chapters)
	if t := g.ChapterTarget(); t > 0 {
		fmt.Fprintf(&b, ", about %d words each", t)
	}
	b.WriteString("\n")
	for _, r := range g.Requirements {
		fmt.Fprintf(&b, "Requirement: %s\n", r)
	}
	return b.String()
}

package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	t.Parallel()

	ids := List()
	assert.Equal(t, []PromptID{Judge, Generate}, ids)
	assert.True(t, Exists(Generate))
	assert.True(t, Exists(Judge))
	assert.False(t, Exists("common/sections"))
	assert.False(t, Exists("story/missing"))
}

func TestGetTemplate(t *testing.T) {
	t.Parallel()

	source, err := GetTemplate(Generate)
	require.NoError(t, err)
	assert.Contains(t, source, "## Brief")

	_, err = GetTemplate("story/missing")
	require.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestRender_Generate(t *testing.T) {
	t.Parallel()

	out, err := Render(Generate, GenerateData{
		Brief:       "  A gothic mystery about a lighthouse keeper.  ",
		Category:    "chapter_content",
		Description: "Write chapter 2",
		TargetWords: 1500,
		Foundational: []Section{
			{Title: "core_premise", Body: "A keeper who cannot leave the light."},
		},
		Dependencies: []Section{
			{Title: "chapter-001-polish", Body: "The fog rolled in."},
			{Title: "chapter-002-outline", Body: "The lamp fails."},
		},
		Notes:    []string{"Mara fears the sea"},
		Guidance: []Section{{Title: "timeline", Body: "Chapter 1 ended at dusk."}},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "You are writing one step of a long-form story project."))
	assert.Contains(t, out, "## Brief\nA gothic mystery about a lighthouse keeper.\n")
	assert.Contains(t, out, "chapter_content: Write chapter 2\nTarget length: about 1500 words.")
	assert.Contains(t, out, "## Foundational context\n### core_premise\nA keeper who cannot leave the light.")
	assert.Contains(t, out, "### chapter-001-polish\nThe fog rolled in.\n### chapter-002-outline")
	assert.Contains(t, out, "## Related notes\n- Mara fears the sea")
	assert.Contains(t, out, "## Guidance\n### timeline\nChapter 1 ended at dusk.")
	assert.NotContains(t, out, "## Revision")
}

func TestRender_GenerateMinimal(t *testing.T) {
	t.Parallel()

	out := MustRender(Generate, GenerateData{Brief: "noir", Category: "core_premise", TargetWords: 300})
	assert.NotContains(t, out, "## Foundational context")
	assert.NotContains(t, out, "## Previous steps")
	assert.NotContains(t, out, "## Related notes")
	assert.NotContains(t, out, "## Guidance")
}

func TestRender_GenerateRevision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rev     RevisionData
		want    []string
		notWant []string
	}{
		{
			name: "scored draft",
			rev: RevisionData{
				Attempt:   2,
				Scored:    true,
				Score:     0.55,
				Threshold: 0.7,
				Dimensions: []DimensionNote{
					{Name: "length", Score: 0.4, Reason: "too short"},
				},
				Suggestions:   []string{"expand the storm scene"},
				PreviousDraft: "The storm came.",
			},
			want: []string{
				"This is attempt 2. The previous draft scored 0.55 against a pass mark of 0.70.",
				"- length (0.40): too short",
				"Suggestions:\n- expand the storm scene",
				"Previous draft:\nThe storm came.",
				"Rewrite the draft to address every point above.",
			},
			notWant: []string{"Reviewer feedback"},
		},
		{
			name: "feedback only",
			rev:  RevisionData{Attempt: 3, Feedback: "more dread in the opening"},
			want: []string{
				"This is attempt 3.\nReviewer feedback: more dread in the opening\nRewrite",
			},
			notWant: []string{"scored", "Previous draft"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rev := tc.rev
			out, err := Render(Generate, GenerateData{Brief: "b", Category: "chapter_content", TargetWords: 100, Revision: &rev})
			require.NoError(t, err)
			assert.Contains(t, out, "## Revision")
			for _, w := range tc.want {
				assert.Contains(t, out, w)
			}
			for _, nw := range tc.notWant {
				assert.NotContains(t, out, nw)
			}
		})
	}
}

func TestRender_Judge(t *testing.T) {
	t.Parallel()

	out, err := Render(Judge, JudgeData{
		Category: "chapter_content",
		Genre:    "noir",
		Criteria: []Criterion{
			{Name: "coherence", Description: "events follow"},
			{Name: "voice", Description: "consistent narration"},
		},
		Brief:   "Rain City",
		Content: "It rained.",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Score the following chapter_content output for a noir story.")
	assert.Contains(t, out, "- coherence: events follow\n- voice: consistent narration")
	assert.Contains(t, out, `{"scores": {...}, "reasons": {...}, "suggestions": [...]}`)
	assert.Contains(t, out, "Brief:\nRain City")
	assert.Contains(t, out, "Content:\nIt rained.")
}

func TestRender_Errors(t *testing.T) {
	t.Parallel()

	_, err := Render(Generate, JudgeData{})
	require.ErrorIs(t, err, ErrInvalidData)

	_, err = Render(Judge, "content")
	require.ErrorIs(t, err, ErrInvalidData)

	_, err = Render("story/missing", GenerateData{})
	require.ErrorIs(t, err, ErrTemplateNotFound)

	assert.Panics(t, func() { MustRender(Judge, nil) })
}

func TestPathToPromptID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Generate, pathToPromptID("templates/story/generate.tmpl"))
	assert.Equal(t, Judge, pathToPromptID("templates/evaluation/judge.tmpl"))
}

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/errors"
)

func TestParseGoal(t *testing.T) {
	t.Parallel()

	goal, opts, err := parseGoal([]byte(lighthouseGoal))
	require.NoError(t, err)
	assert.Nil(t, opts)
	assert.Equal(t, "The Lighthouse Keeper", goal.Title)
	assert.Equal(t, "gothic mystery", goal.Genre)
	assert.Equal(t, constants.ModeNovel, goal.Mode)
	assert.Equal(t, 2, goal.Chapters)
	assert.Equal(t, 200, goal.WordsPerChapter)
	assert.Equal(t, []string{"an unreliable narrator"}, goal.Requirements)
}

func TestParseGoal_Overrides(t *testing.T) {
	t.Parallel()

	data := lighthouseGoal + `approval_mode: true
pass_threshold: 0.85
max_attempts: 5
`
	_, opts, err := parseGoal([]byte(data))
	require.NoError(t, err)
	require.NotNil(t, opts)
	require.NotNil(t, opts.ApprovalMode)
	assert.True(t, *opts.ApprovalMode)
	require.NotNil(t, opts.PassThreshold)
	assert.InDelta(t, 0.85, *opts.PassThreshold, 1e-9)
	require.NotNil(t, opts.MaxAttempts)
	assert.Equal(t, 5, *opts.MaxAttempts)
}

func TestParseGoal_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"unknown field", lighthouseGoal + "narrator: first person\n"},
		{"missing genre", "title: Untitled\nchapters: 2\n"},
		{"zero chapters", "genre: noir\nchapters: 0\n"},
		{"unknown mode", "genre: noir\nmode: epic\nchapters: 2\n"},
		{"short story too long", "genre: noir\nmode: short_story\nchapters: 4\n"},
		{"malformed yaml", "genre: [noir\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := parseGoal([]byte(tc.data))
			require.Error(t, err)
			require.ErrorIs(t, err, errors.ErrInvalidGoal)
		})
	}
}

func TestParseGoal_ShortStory(t *testing.T) {
	t.Parallel()

	goal, _, err := parseGoal([]byte("genre: fable\nmode: short_story\nchapters: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, constants.ModeShortStory, goal.Mode)
}

func TestLoadGoalFile(t *testing.T) {
	t.Parallel()

	goal, _, err := loadGoalFile(writeGoalFile(t, lighthouseGoal))
	require.NoError(t, err)
	assert.Equal(t, "The Lighthouse Keeper", goal.Title)

	_, _, err = loadGoalFile(writeGoalFile(t, lighthouseGoal) + ".missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read goal file")
}

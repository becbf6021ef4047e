package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/errors"
)

func TestAssembleManuscript(t *testing.T) {
	t.Parallel()

	s := sampleSession()
	// Chapter one has both a draft and a finished polish pass.
	s.Tasks = append(s.Tasks, &domain.Task{
		ID:           "chapter-001-polish",
		Category:     constants.CategoryChapterPolish,
		ChapterIndex: 1,
		Status:       constants.TaskStatusCompleted,
		Result:       &domain.TaskResult{Content: "The fog rolled in, thick as wool."},
	})

	m := assembleManuscript(s)
	assert.Equal(t, s.ID, m.SessionID)
	assert.Equal(t, "The Lighthouse Keeper", m.Title)
	require.Len(t, m.Chapters, 1)
	assert.Equal(t, 1, m.Chapters[0].Index)
	assert.Equal(t, "chapter-001-polish", m.Chapters[0].TaskID)
	assert.Equal(t, "The fog rolled in, thick as wool.", m.Chapters[0].Content)
}

func TestAssembleManuscript_OrdersChapters(t *testing.T) {
	t.Parallel()

	s := &domain.Session{ID: "s1", Goal: domain.Goal{Genre: "noir"}, Status: constants.SessionStatusCompleted}
	for _, idx := range []int{3, 1, 2} {
		s.Tasks = append(s.Tasks, &domain.Task{
			ID:           fmt.Sprintf("c%d", idx),
			Category:     constants.CategoryChapterContent,
			ChapterIndex: idx,
			Status:       constants.TaskStatusCompleted,
			Result:       &domain.TaskResult{Content: "text"},
		})
	}

	m := assembleManuscript(s)
	require.Len(t, m.Chapters, 3)
	for i, c := range m.Chapters {
		assert.Equal(t, i+1, c.Index)
	}
	md := m.Markdown()
	assert.Contains(t, md, "# Untitled noir")
	assert.Less(t, strings.Index(md, "## Chapter 1"), strings.Index(md, "## Chapter 3"))
}

func TestRunShow_Manuscript(t *testing.T) {
	t.Parallel()

	s := sampleSession()
	var buf bytes.Buffer
	require.NoError(t, runShow(context.Background(), &buf, OutputText, newMockReader(s), s.ID, ""))
	assert.Contains(t, buf.String(), "The fog rolled in.")
	assert.NotContains(t, buf.String(), "The lamp went dark.")
}

func TestRunShow_ManuscriptJSON(t *testing.T) {
	t.Parallel()

	s := sampleSession()
	var buf bytes.Buffer
	require.NoError(t, runShow(context.Background(), &buf, OutputJSON, newMockReader(s), s.ID, ""))

	var m Manuscript
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "running", m.Status)
	require.Len(t, m.Chapters, 1)
	assert.Equal(t, "chapter-001-content", m.Chapters[0].TaskID)
}

func TestRunShow_NoChapters(t *testing.T) {
	t.Parallel()

	s := &domain.Session{ID: "s1", Goal: testGoal(1), Status: constants.SessionStatusRunning}
	var buf bytes.Buffer
	require.NoError(t, runShow(context.Background(), &buf, OutputText, newMockReader(s), "s1", ""))
	assert.Contains(t, buf.String(), "No chapter text yet (session Running).")

	buf.Reset()
	require.NoError(t, runShow(context.Background(), &buf, OutputJSON, newMockReader(s), "s1", ""))
	assert.Contains(t, buf.String(), `"chapters": []`)
}

func TestRunShow_Task(t *testing.T) {
	t.Parallel()

	s := sampleSession()
	var buf bytes.Buffer
	require.NoError(t, runShow(context.Background(), &buf, OutputText, newMockReader(s), s.ID, "core-premise"))

	output := buf.String()
	assert.Contains(t, output, "core-premise")
	assert.Contains(t, output, "0.82")
	assert.Contains(t, output, "A keeper who cannot leave the light.")
}

func TestRunShow_TaskJSON(t *testing.T) {
	t.Parallel()

	s := sampleSession()
	var buf bytes.Buffer
	require.NoError(t, runShow(context.Background(), &buf, OutputJSON, newMockReader(s), s.ID, "chapter-002-content"))

	var task domain.Task
	require.NoError(t, json.Unmarshal(buf.Bytes(), &task))
	assert.Equal(t, constants.TaskStatusPendingApproval, task.Status)
}

func TestRunShow_Errors(t *testing.T) {
	t.Parallel()

	s := sampleSession()
	reader := newMockReader(s)

	err := runShow(context.Background(), &bytes.Buffer{}, OutputText, reader, s.ID, "chapter-009-content")
	require.ErrorIs(t, err, errors.ErrTaskNotFound)

	err = runShow(context.Background(), &bytes.Buffer{}, OutputText, reader, "missing", "")
	require.ErrorIs(t, err, errors.ErrSessionNotFound)
}

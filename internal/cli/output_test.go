package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
)

func TestHumanize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Pending Approval", humanize("pending_approval"))
	assert.Equal(t, "Completed", humanize("completed"))
	assert.Empty(t, humanize(""))
}

func TestFormatEvent(t *testing.T) {
	t.Parallel()

	styles := newOutputStyles()
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	scored := &domain.Task{
		ID:       "chapter-001-content",
		Category: constants.CategoryChapterContent,
		Result: &domain.TaskResult{
			Attempt:    2,
			Evaluation: &domain.EvaluationResult{Score: 0.75, Passed: true},
		},
	}

	tests := []struct {
		name string
		ev   domain.Event
		want []string
	}{
		{
			name: "started",
			ev:   domain.Event{Type: constants.EventStarted, SessionID: "s1"},
			want: []string{"09:30:00", "session s1 started"},
		},
		{
			name: "task start",
			ev:   domain.Event{Type: constants.EventTaskStart, Task: scored},
			want: []string{"chapter-001-content", "(chapter_content)"},
		},
		{
			name: "attempt",
			ev:   domain.Event{Type: constants.EventTaskAttempt, Task: scored},
			want: []string{"attempt 2 score 0.75", "passed"},
		},
		{
			name: "task complete",
			ev:   domain.Event{Type: constants.EventTaskComplete, Task: scored},
			want: []string{"chapter-001-content completed (score 0.75)"},
		},
		{
			name: "task fail",
			ev:   domain.Event{Type: constants.EventTaskFail, Task: scored, Error: "evaluation threshold not met"},
			want: []string{"failed: evaluation threshold not met"},
		},
		{
			name: "approval needed",
			ev:   domain.Event{Type: constants.EventTaskApprovalNeeded, Task: scored},
			want: []string{"awaits approval", "feedback chapter-001-content <notes>"},
		},
		{
			name: "stopped with reason",
			ev:   domain.Event{Type: constants.EventStopped, Error: "interrupted: context canceled"},
			want: []string{"stopped: interrupted"},
		},
		{
			name: "completed with stats",
			ev: domain.Event{Type: constants.EventCompleted, Stats: &domain.SessionStats{
				TotalTasks: 8, CompletedTasks: 8, ProviderCalls: 11, Usage: domain.TokenUsage{TotalTokens: 4200},
			}},
			want: []string{"session completed (8/8 tasks, 11 provider calls, 4200 tokens)"},
		},
		{
			name: "failed",
			ev:   domain.Event{Type: constants.EventFailed, Error: "graph blocked"},
			want: []string{"session failed: graph blocked"},
		},
		{
			name: "missing task",
			ev:   domain.Event{Type: constants.EventTaskComplete},
			want: []string{"? completed"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.ev.Timestamp = ts
			line := formatEvent(styles, tc.ev)
			for _, want := range tc.want {
				assert.Contains(t, line, want)
			}
		})
	}
}

func TestFormatEvent_ProgressIsSilent(t *testing.T) {
	t.Parallel()

	assert.Empty(t, formatEvent(newOutputStyles(), domain.Event{Type: constants.EventProgress}))
}

func TestEventPrinter_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printer := newEventPrinter(&syncWriter{w: &buf}, OutputJSON)
	printer.event(domain.Event{Type: constants.EventPaused, SessionID: "s1"})
	printer.event(domain.Event{Type: constants.EventProgress, SessionID: "s1"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"type":"paused"`)
}

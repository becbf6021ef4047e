package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
)

var (
	glamourRenderer     *glamour.TermRenderer //nolint:gochecknoglobals // cached renderer for performance
	glamourRendererOnce sync.Once             //nolint:gochecknoglobals // sync.Once for renderer initialization
)

// getGlamourRenderer returns a cached renderer, or nil if glamour could not
// build one.
func getGlamourRenderer() *glamour.TermRenderer {
	glamourRendererOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
		if err == nil {
			glamourRenderer = r
		}
	})
	return glamourRenderer
}

// renderMarkdown writes md through glamour, falling back to the raw text.
func renderMarkdown(w io.Writer, md string) {
	if renderer := getGlamourRenderer(); renderer != nil {
		if rendered, err := renderer.Render(md); err == nil {
			_, _ = fmt.Fprint(w, rendered)
			return
		}
	}
	_, _ = fmt.Fprintln(w, md)
}

// encodeJSONIndented encodes a value as indented JSON to the writer.
func encodeJSONIndented(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// outputStyles holds the lipgloss styles shared by text output.
type outputStyles struct {
	header  lipgloss.Style
	key     lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	info    lipgloss.Style
	dim     lipgloss.Style
}

func newOutputStyles() *outputStyles {
	return &outputStyles{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00D7FF")),
		key: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D7FF")),
		success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF87")),
		failure: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F")),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700")),
		info: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")),
		dim: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")),
	}
}

// taskStatusStyle colors a task status.
func (s *outputStyles) taskStatusStyle(status constants.TaskStatus) lipgloss.Style {
	switch status {
	case constants.TaskStatusCompleted:
		return s.success
	case constants.TaskStatusFailed:
		return s.failure
	case constants.TaskStatusPendingApproval:
		return s.warning
	case constants.TaskStatusRunning, constants.TaskStatusReady:
		return s.info
	case constants.TaskStatusPending, constants.TaskStatusSkipped:
		return s.dim
	}
	return s.dim
}

// sessionStatusStyle colors a session status.
func (s *outputStyles) sessionStatusStyle(status constants.SessionStatus) lipgloss.Style {
	switch status {
	case constants.SessionStatusCompleted:
		return s.success
	case constants.SessionStatusFailed:
		return s.failure
	case constants.SessionStatusPaused, constants.SessionStatusStopped:
		return s.warning
	case constants.SessionStatusCreated, constants.SessionStatusRunning:
		return s.info
	}
	return s.dim
}

// humanize turns snake_case identifiers into title case ("pending_approval"
// -> "Pending Approval").
func humanize(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}

// formatEvent renders one event as a single line. Progress events render
// as an empty string.
func formatEvent(s *outputStyles, ev domain.Event) string {
	ts := s.dim.Render(ev.Timestamp.Format("15:04:05"))
	switch ev.Type {
	case constants.EventStarted:
		return fmt.Sprintf("%s %s session %s started", ts, s.header.Render("▶"), ev.SessionID)
	case constants.EventTaskStart:
		return fmt.Sprintf("%s %s %s %s", ts, s.info.Render("→"), taskID(ev), s.dim.Render("("+taskCategory(ev)+")"))
	case constants.EventTaskAttempt:
		return fmt.Sprintf("%s %s %s %s", ts, s.dim.Render("·"), taskID(ev), attemptSummary(s, ev))
	case constants.EventTaskComplete:
		return fmt.Sprintf("%s %s %s completed%s", ts, s.success.Render("✓"), taskID(ev), scoreSuffix(ev))
	case constants.EventTaskFail:
		return fmt.Sprintf("%s %s %s failed: %s", ts, s.failure.Render("✗"), taskID(ev), ev.Error)
	case constants.EventTaskApprovalNeeded:
		return fmt.Sprintf("%s %s %s awaits approval%s  %s", ts, s.warning.Render("?"), taskID(ev), scoreSuffix(ev),
			s.dim.Render("approve "+taskID(ev)+" | feedback "+taskID(ev)+" <notes> | skip "+taskID(ev)))
	case constants.EventPaused:
		return fmt.Sprintf("%s %s paused", ts, s.warning.Render("‖"))
	case constants.EventResumed:
		return fmt.Sprintf("%s %s resumed", ts, s.info.Render("▶"))
	case constants.EventStopped:
		return fmt.Sprintf("%s %s stopped%s", ts, s.warning.Render("■"), errorSuffix(ev))
	case constants.EventCompleted:
		return fmt.Sprintf("%s %s session completed%s", ts, s.success.Render("★"), statsSuffix(ev))
	case constants.EventFailed:
		return fmt.Sprintf("%s %s session failed%s", ts, s.failure.Render("✗"), errorSuffix(ev))
	case constants.EventProgress:
		return ""
	}
	return fmt.Sprintf("%s %s", ts, ev.Type)
}

func taskID(ev domain.Event) string {
	if ev.Task == nil {
		return "?"
	}
	return ev.Task.ID
}

func taskCategory(ev domain.Event) string {
	if ev.Task == nil {
		return ""
	}
	return ev.Task.Category.String()
}

func attemptSummary(s *outputStyles, ev domain.Event) string {
	if ev.Task == nil || ev.Task.Result == nil {
		return ""
	}
	r := ev.Task.Result
	if r.Error != "" {
		return fmt.Sprintf("attempt %d %s", r.Attempt, s.failure.Render(r.Error))
	}
	if r.Evaluation == nil {
		return fmt.Sprintf("attempt %d", r.Attempt)
	}
	verdict := s.failure.Render("below threshold")
	if r.Evaluation.Passed {
		verdict = s.success.Render("passed")
	}
	return fmt.Sprintf("attempt %d score %.2f %s", r.Attempt, r.Evaluation.Score, verdict)
}

func scoreSuffix(ev domain.Event) string {
	if ev.Task == nil || ev.Task.Result == nil || ev.Task.Result.Evaluation == nil {
		return ""
	}
	return fmt.Sprintf(" (score %.2f)", ev.Task.Result.Evaluation.Score)
}

func errorSuffix(ev domain.Event) string {
	if ev.Error == "" {
		return ""
	}
	return ": " + ev.Error
}

func statsSuffix(ev domain.Event) string {
	if ev.Stats == nil {
		return ""
	}
	return fmt.Sprintf(" (%d/%d tasks, %d provider calls, %d tokens)",
		ev.Stats.CompletedTasks, ev.Stats.TotalTasks, ev.Stats.ProviderCalls, ev.Stats.Usage.TotalTokens)
}

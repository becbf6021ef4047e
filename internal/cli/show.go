package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/errors"
)

// AddShowCommand adds the show command to the root command.
func AddShowCommand(root *cobra.Command, globals *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "show <session-id> [task-id]",
		Short: "Render a session's manuscript or one task's output",
		Long: `Render generated content as markdown.

With only a session id, the manuscript is assembled from each chapter's
polished text, falling back to the drafted text when polishing did not run.
With a task id, that task's latest output and evaluation are shown.

Examples:
  storyloom show 3f1c2a9e-...
  storyloom show 3f1c2a9e-... core_premise
  storyloom show 3f1c2a9e-... --output json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reader, closeStore, err := openReader(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			taskID := ""
			if len(args) == 2 {
				taskID = args[1]
			}
			return runShow(ctx, cmd.OutOrStdout(), globals.Output, reader, args[0], taskID)
		},
	}
	root.AddCommand(cmd)
}

// Chapter is one assembled manuscript chapter.
type Chapter struct {
	Index   int    `json:"index"`
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
}

// Manuscript is the assembled text of a session.
type Manuscript struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Chapters  []Chapter `json:"chapters"`
}

func runShow(ctx context.Context, w io.Writer, output string, reader SessionReader, sessionID, taskID string) error {
	s, err := reader.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if taskID != "" {
		t := findTask(s.Tasks, taskID)
		if t == nil {
			return fmt.Errorf("%w: %s in session %s", errors.ErrTaskNotFound, taskID, sessionID)
		}
		if output == OutputJSON {
			return encodeJSONIndented(w, t)
		}
		renderTask(w, t)
		return nil
	}

	m := assembleManuscript(s)
	if output == OutputJSON {
		return encodeJSONIndented(w, m)
	}
	if len(m.Chapters) == 0 {
		_, _ = fmt.Fprintf(w, "No chapter text yet (session %s).\n", humanize(m.Status))
		return nil
	}
	renderMarkdown(w, m.Markdown())
	return nil
}

func findTask(tasks []*domain.Task, id string) *domain.Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// assembleManuscript picks the best available text for each chapter.
func assembleManuscript(s *domain.Session) Manuscript {
	m := Manuscript{SessionID: s.ID, Title: sessionTitle(s), Status: s.Status.String(), Chapters: []Chapter{}}

	best := make(map[int]*domain.Task)
	for _, t := range s.Tasks {
		if !usable(t) {
			continue
		}
		switch t.Category {
		case constants.CategoryChapterPolish:
			best[t.ChapterIndex] = t
		case constants.CategoryChapterContent:
			if cur, ok := best[t.ChapterIndex]; !ok || cur.Category != constants.CategoryChapterPolish {
				best[t.ChapterIndex] = t
			}
		default:
		}
	}

	for idx, t := range best {
		m.Chapters = append(m.Chapters, Chapter{Index: idx, TaskID: t.ID, Content: t.LatestContent()})
	}
	sort.Slice(m.Chapters, func(i, j int) bool { return m.Chapters[i].Index < m.Chapters[j].Index })
	return m
}

// usable reports whether a task's output can go into the manuscript.
func usable(t *domain.Task) bool {
	return t.Status == constants.TaskStatusCompleted && strings.TrimSpace(t.LatestContent()) != ""
}

// Markdown renders the manuscript as a markdown document.
func (m Manuscript) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", m.Title)
	for _, c := range m.Chapters {
		fmt.Fprintf(&b, "\n## Chapter %d\n\n%s\n", c.Index, strings.TrimSpace(c.Content))
	}
	return b.String()
}

func renderTask(w io.Writer, t *domain.Task) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.ID)
	fmt.Fprintf(&b, "*%s* · %s · attempt %d/%d\n\n", t.Category, humanize(t.Status.String()), t.AttemptCount, t.MaxAttempts)

	if t.Result != nil {
		if ev := t.Result.Evaluation; ev != nil {
			fmt.Fprintf(&b, "**Score %.2f** (threshold %.2f, %s judge)\n\n", ev.Score, ev.Threshold, ev.Judge)
			for _, d := range ev.Dimensions {
				fmt.Fprintf(&b, "- %s: %.2f", d.Name, d.Score)
				if d.Reason != "" {
					fmt.Fprintf(&b, " (%s)", d.Reason)
				}
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
		if t.Result.Feedback != "" {
			fmt.Fprintf(&b, "> feedback: %s\n\n", t.Result.Feedback)
		}
	}
	if t.FailureReason != "" {
		fmt.Fprintf(&b, "> failed: %s\n\n", t.FailureReason)
	}

	b.WriteString("---\n\n")
	if content := t.LatestContent(); content != "" {
		b.WriteString(content)
	} else {
		b.WriteString("_no output yet_")
	}
	b.WriteString("\n")

	renderMarkdown(w, b.String())
}

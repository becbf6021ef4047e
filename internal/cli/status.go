package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/storyloom/internal/config"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
)

// SessionReader reads persisted sessions. store.Store satisfies it; tests
// inject mocks.
type SessionReader interface {
	LoadSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]*domain.Session, error)
}

// AddStatusCommand adds the status command to the root command.
func AddStatusCommand(root *cobra.Command, globals *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show persisted sessions or one session's tasks",
		Long: `Without arguments, list every persisted session, newest first.
With a session id, show the session's progress and task table.

Examples:
  storyloom status
  storyloom status 3f1c2a9e-...
  storyloom status --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reader, closeStore, err := openReader(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if len(args) == 0 {
				return runStatusList(ctx, cmd.OutOrStdout(), globals.Output, reader)
			}
			return runStatusSession(ctx, cmd.OutOrStdout(), globals.Output, reader, args[0])
		},
	}
	root.AddCommand(cmd)
}

// openReader opens the configured store for read-only commands.
func openReader(ctx context.Context) (SessionReader, func(), error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	st, closer, err := openStore(ctx, &cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return st, func() {
		if closer != nil {
			_ = closer()
		}
	}, nil
}

func runStatusList(ctx context.Context, w io.Writer, output string, reader SessionReader) error {
	sessions, err := reader.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if output == OutputJSON {
		if sessions == nil {
			sessions = []*domain.Session{}
		}
		return encodeJSONIndented(w, sessions)
	}
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(w, "No sessions. Run 'storyloom run <goal.yaml>' to start one.")
		return nil
	}

	styles := newOutputStyles()
	now := time.Now()
	_, _ = fmt.Fprintf(w, "%-36s  %-16s  %-9s  %-10s  %s\n", "SESSION", "STATUS", "TASKS", "UPDATED", "TITLE")
	for _, s := range sessions {
		status := styles.sessionStatusStyle(s.Status).Render(fmt.Sprintf("%-16s", humanize(s.Status.String())))
		_, _ = fmt.Fprintf(w, "%-36s  %s  %-9s  %-10s  %s\n",
			s.ID,
			status,
			fmt.Sprintf("%d/%d", s.Stats.CompletedTasks, s.Stats.TotalTasks),
			formatAge(now, s.UpdatedAt),
			sessionTitle(s),
		)
	}
	return nil
}

func runStatusSession(ctx context.Context, w io.Writer, output string, reader SessionReader, sessionID string) error {
	s, err := reader.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if output == OutputJSON {
		return encodeJSONIndented(w, s)
	}

	styles := newOutputStyles()
	_, _ = fmt.Fprintf(w, "%s %s\n", styles.header.Render(sessionTitle(s)), styles.sessionStatusStyle(s.Status).Render(humanize(s.Status.String())))
	_, _ = fmt.Fprintf(w, "%s %s\n", styles.key.Render("session   "), s.ID)
	_, _ = fmt.Fprintf(w, "%s %s, %d chapters (%s)\n", styles.key.Render("goal      "), s.Goal.Genre, s.Goal.Chapters, s.Goal.Mode)
	_, _ = fmt.Fprintf(w, "%s threshold %.2f, %d attempts, approval %s\n", styles.key.Render("settings  "),
		s.PassThreshold, s.MaxAttempts, onOff(s.ApprovalMode))
	_, _ = fmt.Fprintf(w, "%s %s\n", styles.key.Render("progress  "), progressBar(s.Stats))
	_, _ = fmt.Fprintf(w, "%s %d calls, %d tokens, $%.4f\n", styles.key.Render("provider  "),
		s.Stats.ProviderCalls, s.Stats.Usage.TotalTokens, s.Stats.CostUSD)
	if len(s.Capabilities) > 0 {
		_, _ = fmt.Fprintf(w, "%s %s\n", styles.key.Render("plugins   "), strings.Join(s.Capabilities, ", "))
	}
	if s.Error != "" {
		_, _ = fmt.Fprintf(w, "%s %s\n", styles.failure.Render("error     "), s.Error)
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "%-28s  %-18s  %-16s  %-8s  %s\n", "TASK", "CATEGORY", "STATUS", "ATTEMPTS", "SCORE")
	for _, t := range s.Tasks {
		status := styles.taskStatusStyle(t.Status).Render(fmt.Sprintf("%-16s", humanize(t.Status.String())))
		_, _ = fmt.Fprintf(w, "%-28s  %-18s  %s  %-8s  %s\n",
			t.ID, t.Category, status, fmt.Sprintf("%d/%d", t.AttemptCount, t.MaxAttempts), taskScore(t))
	}

	if pending := pendingApproval(s.Tasks); len(pending) > 0 {
		_, _ = fmt.Fprintf(w, "\n%s %s\n", styles.warning.Render("awaiting approval:"), strings.Join(pending, ", "))
	}
	return nil
}

func sessionTitle(s *domain.Session) string {
	if s.Goal.Title != "" {
		return s.Goal.Title
	}
	return "Untitled " + s.Goal.Genre
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

const progressWidth = 20

// progressBar renders "[#####.....] 6/12 (50%)" from session counters.
func progressBar(stats domain.SessionStats) string {
	done := stats.CompletedTasks + stats.SkippedTasks
	pct := 0.0
	if stats.TotalTasks > 0 {
		pct = float64(done) / float64(stats.TotalTasks)
	}
	filled := int(pct * progressWidth)
	return fmt.Sprintf("[%s%s] %d/%d (%.0f%%)",
		strings.Repeat("#", filled), strings.Repeat(".", progressWidth-filled),
		done, stats.TotalTasks, pct*100)
}

func taskScore(t *domain.Task) string {
	if t.Result == nil || t.Result.Evaluation == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", t.Result.Evaluation.Score)
}

func pendingApproval(tasks []*domain.Task) []string {
	var ids []string
	for _, t := range tasks {
		if t.Status == constants.TaskStatusPendingApproval {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// formatAge renders how long ago t was, for compact listings.
func formatAge(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

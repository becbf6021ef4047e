package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/storyloom/internal/config"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/planner"
)

// AddPlanCommand adds the plan command to the root command.
func AddPlanCommand(root *cobra.Command, globals *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "plan <goal.yaml>",
		Short: "Print the task graph a goal would run",
		Long: `Plan a goal file without running it and print the resulting task graph,
including tasks contributed by enabled capabilities.

Examples:
  storyloom plan goal.yaml
  storyloom plan goal.yaml --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runPlan(ctx, cmd.OutOrStdout(), args[0], globals.Output, cfg)
		},
	}
	root.AddCommand(cmd)
}

func runPlan(ctx context.Context, w io.Writer, goalPath, output string, cfg *config.Config) error {
	goal, opts, err := loadGoalFile(goalPath)
	if err != nil {
		return err
	}

	tasks, err := planGoal(ctx, cfg, goal, opts)
	if err != nil {
		return err
	}

	if output == OutputJSON {
		return encodeJSONIndented(w, tasks)
	}
	return printPlan(w, goal, tasks)
}

// planGoal plans goal the way the session registry would.
func planGoal(ctx context.Context, cfg *config.Config, goal domain.Goal, opts *domain.SessionOptions) ([]*domain.Task, error) {
	caps, err := buildCapabilities(cfg.Capabilities, GetLogger())
	if err != nil {
		return nil, err
	}
	contributions := caps.Snapshot().Contributions(ctx, goal)

	maxAttempts := cfg.Engine.MaxAttempts
	if opts != nil && opts.MaxAttempts != nil {
		maxAttempts = *opts.MaxAttempts
	}

	planned, err := planner.Plan(goal, planner.Config{MaxAttempts: maxAttempts}, contributions...)
	if err != nil {
		return nil, err
	}
	graph, err := planner.NewGraph(planned)
	if err != nil {
		return nil, err
	}
	return graph.Snapshot(), nil
}

func printPlan(w io.Writer, goal domain.Goal, tasks []*domain.Task) error {
	styles := newOutputStyles()

	title := goal.Title
	if title == "" {
		title = goal.Genre
	}
	_, _ = fmt.Fprintf(w, "%s %s\n\n", styles.header.Render("Plan:"), title)
	_, _ = fmt.Fprintf(w, "%-4s  %-28s  %-18s  %s\n",
		styles.dim.Render("RANK"), styles.dim.Render("TASK"), styles.dim.Render("CATEGORY"), styles.dim.Render("DEPENDS ON"))

	for _, t := range tasks {
		id := t.ID
		if t.IsFoundational {
			id += " *"
		}
		deps := strings.Join(t.DependsOn, ", ")
		if deps == "" {
			deps = "-"
		}
		line := fmt.Sprintf("%-4d  %-28s  %-18s  %s", t.Rank, id, t.Category, deps)
		if t.Contributor != "" {
			line += styles.dim.Render("  [" + t.Contributor + "]")
		}
		_, _ = fmt.Fprintln(w, line)
	}

	_, _ = fmt.Fprintf(w, "\n%d tasks, %d chapters (%s). * foundational\n", len(tasks), goal.Chapters, goal.Mode)
	return nil
}

// Package planner builds and maintains the dependency graph of a session's tasks.
//
// Plan turns a Goal into a deterministic list of tasks; NewGraph validates the
// list (duplicate ids, dangling dependencies, cycles) and installs it. A Graph
// is owned by a single execution loop and is not safe for concurrent use.
//
// Import rules:
//   - CAN import: internal/constants, internal/domain, internal/errors, internal/clock, std lib
//   - MUST NOT import: internal/engine, internal/session, internal/cli
package planner

import (
	"fmt"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// Contribution is a task declared by a capability. It is merged into the
// planned graph and validated with it.
type Contribution struct {
	ID             string
	Category       constants.TaskCategory
	Description    string
	DependsOn      []string
	IsFoundational bool
	Contributor    string

	// Gates lists planned categories that must wait for this task.
	// Every planned task of a gated category gains a dependency on ID.
	Gates []constants.TaskCategory
}

// Config controls task defaults for a planned graph.
type Config struct {
	// MaxAttempts is the attempt budget given to every task.
	MaxAttempts int
}

type taskSpec struct {
	id       string
	category constants.TaskCategory
	desc     string
	deps     []string
}

// foundationalSpecs is the base graph every goal starts from.
//
//nolint:gochecknoglobals // Read-only graph template
var foundationalSpecs = []taskSpec{
	{"brainstorm", constants.CategoryBrainstorm, "Brainstorm ideas, themes and hooks", nil},
	{"core_premise", constants.CategoryCorePremise, "Fix the core premise and central conflict", []string{"brainstorm"}},
	{"outline", constants.CategoryOutline, "Outline the overall plot structure", []string{"core_premise"}},
	{"world_rules", constants.CategoryWorldRules, "Define the rules of the setting", []string{"core_premise"}},
	{"character_design", constants.CategoryCharacterDesign, "Design the principal characters", []string{"core_premise", "world_rules"}},
}

// ChapterTaskID returns the deterministic id of a per-chapter task.
func ChapterTaskID(chapter int, category constants.TaskCategory) string {
	suffix := "content"
	switch category {
	case constants.CategoryChapterOutline:
		suffix = "outline"
	case constants.CategoryChapterPolish:
		suffix = "polish"
	case constants.CategoryChapterContent, constants.CategoryBrainstorm, constants.CategoryCorePremise,
		constants.CategoryOutline, constants.CategoryWorldRules, constants.CategoryCharacterDesign,
		constants.CategoryForeshadowPlan, constants.CategoryEvaluation:
	}
	return fmt.Sprintf("chapter-%03d-%s", chapter, suffix)
}

// Plan materializes the task list for a goal. The result is deterministic
// for the same goal, config and contributions. Tasks are returned in
// creation order with Sequence set; ranks are computed by NewGraph.
func Plan(goal domain.Goal, cfg Config, contributions ...Contribution) ([]*domain.Task, error) {
	if err := goal.Validate(); err != nil {
		return nil, slerrors.NewPlanningError(err, "goal rejected")
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultMaxAttempts
	}

	var tasks []*domain.Task
	add := func(t *domain.Task) {
		t.Sequence = len(tasks)
		t.Status = constants.TaskStatusPending
		t.MaxAttempts = maxAttempts
		tasks = append(tasks, t)
	}

	foundationalIDs := make([]string, 0, len(foundationalSpecs))
	for _, spec := range foundationalSpecs {
		add(&domain.Task{
			ID:             spec.id,
			Category:       spec.category,
			Description:    fmt.Sprintf("%s for the %s %s", spec.desc, goal.Genre, goal.Mode),
			DependsOn:      append([]string(nil), spec.deps...),
			IsFoundational: true,
		})
		foundationalIDs = append(foundationalIDs, spec.id)
	}

	if goal.Mode == constants.ModeNovel {
		prev := ""
		for ch := 1; ch <= goal.Chapters; ch++ {
			outlineID := ChapterTaskID(ch, constants.CategoryChapterOutline)
			contentID := ChapterTaskID(ch, constants.CategoryChapterContent)
			polishID := ChapterTaskID(ch, constants.CategoryChapterPolish)

			deps := append([]string(nil), foundationalIDs...)
			if prev != "" {
				deps = append(deps, prev)
			}
			add(&domain.Task{
				ID:           outlineID,
				Category:     constants.CategoryChapterOutline,
				Description:  fmt.Sprintf("Outline chapter %d", ch),
				DependsOn:    deps,
				ChapterIndex: ch,
			})
			add(&domain.Task{
				ID:           contentID,
				Category:     constants.CategoryChapterContent,
				Description:  fmt.Sprintf("Write chapter %d", ch),
				DependsOn:    []string{outlineID},
				ChapterIndex: ch,
			})
			add(&domain.Task{
				ID:           polishID,
				Category:     constants.CategoryChapterPolish,
				Description:  fmt.Sprintf("Polish chapter %d", ch),
				DependsOn:    []string{contentID},
				ChapterIndex: ch,
			})
			prev = polishID
		}
	}

	if err := mergeContributions(tasks, contributions, add); err != nil {
		return nil, err
	}
	return tasks, nil
}

func mergeContributions(planned []*domain.Task, contributions []Contribution, add func(*domain.Task)) error {
	for _, c := range contributions {
		if c.ID == "" {
			return slerrors.NewPlanningError(slerrors.ErrEmptyValue,
				fmt.Sprintf("capability %q contributed a task without id", c.Contributor))
		}
		add(&domain.Task{
			ID:             c.ID,
			Category:       c.Category,
			Description:    c.Description,
			DependsOn:      append([]string(nil), c.DependsOn...),
			IsFoundational: c.IsFoundational,
			Contributor:    c.Contributor,
		})
		if len(c.Gates) == 0 {
			continue
		}
		gated := make(map[constants.TaskCategory]bool, len(c.Gates))
		for _, g := range c.Gates {
			gated[g] = true
		}
		for _, t := range planned {
			if gated[t.Category] && t.ID != c.ID {
				t.DependsOn = append(t.DependsOn, c.ID)
			}
		}
	}
	return nil
}

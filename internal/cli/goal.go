package cli

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/errors"
)

// goalFile is the on-disk goal format: the goal fields plus optional
// per-session overrides.
//
//	title: The Lighthouse Keeper
//	genre: gothic mystery
//	mode: novel
//	chapters: 12
//	words_per_chapter: 3000
//	requirements:
//	  - an unreliable narrator
//	approval_mode: true
type goalFile struct {
	domain.Goal `yaml:",inline"`

	ApprovalMode  *bool    `yaml:"approval_mode"`
	PassThreshold *float64 `yaml:"pass_threshold"`
	MaxAttempts   *int     `yaml:"max_attempts"`
}

// loadGoalFile reads and validates a YAML goal file. Mode defaults to novel.
func loadGoalFile(path string) (domain.Goal, *domain.SessionOptions, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is a user-supplied CLI argument
	if err != nil {
		return domain.Goal{}, nil, fmt.Errorf("failed to read goal file: %w", err)
	}
	return parseGoal(data)
}

func parseGoal(data []byte) (domain.Goal, *domain.SessionOptions, error) {
	var gf goalFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&gf); err != nil {
		return domain.Goal{}, nil, fmt.Errorf("%w: %w", errors.ErrInvalidGoal, err)
	}

	goal := gf.Goal
	if goal.Mode == "" {
		goal.Mode = constants.ModeNovel
	}
	if err := goal.Validate(); err != nil {
		return domain.Goal{}, nil, err
	}

	var opts *domain.SessionOptions
	if gf.ApprovalMode != nil || gf.PassThreshold != nil || gf.MaxAttempts != nil {
		opts = &domain.SessionOptions{
			ApprovalMode:  gf.ApprovalMode,
			PassThreshold: gf.PassThreshold,
			MaxAttempts:   gf.MaxAttempts,
		}
	}
	return goal, opts, nil
}

package capability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/planner"
)

type entry struct {
	name       string
	priority   int
	capability Capability
}

// Pipeline is an immutable, ordered view of the capabilities enabled when a
// session started. A hook that panics or returns a non-veto error is logged
// and skipped; the other capabilities still run.
type Pipeline struct {
	entries []entry
	logger  zerolog.Logger
}

// Names returns the capability names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.name
	}
	return names
}

// Initialize runs every Initializer.
func (p *Pipeline) Initialize(ctx context.Context, info SessionInfo) {
	for _, e := range p.entries {
		h, ok := e.capability.(Initializer)
		if !ok {
			continue
		}
		if err := p.invoke(ctx, e.name, "initialize", func() error {
			return h.Initialize(ctx, info)
		}); err != nil {
			p.logBug(ctx, e.name, "initialize", err)
		}
	}
}

// Contributions collects declarative task contributions for goal.
func (p *Pipeline) Contributions(ctx context.Context, goal domain.Goal) []planner.Contribution {
	var out []planner.Contribution
	for _, e := range p.entries {
		h, ok := e.capability.(TaskContributor)
		if !ok {
			continue
		}
		var contributed []planner.Contribution
		if err := p.invoke(ctx, e.name, "contribute", func() error {
			contributed = h.Contribute(goal)
			return nil
		}); err != nil {
			p.logBug(ctx, e.name, "contribute", err)
			continue
		}
		for _, c := range contributed {
			if c.Contributor == "" {
				c.Contributor = e.name
			}
			out = append(out, c)
		}
	}
	return out
}

// BeforeTask runs Validate then BeforeTask of each capability in order and
// merges the enrichments. The first veto stops the pass and is returned as
// a *errors.VetoError.
func (p *Pipeline) BeforeTask(ctx context.Context, in TaskInput) ([]Enrichment, error) {
	var enrichments []Enrichment
	for _, e := range p.entries {
		if v, ok := e.capability.(Validator); ok {
			err := p.invoke(ctx, e.name, "validate", func() error {
				return v.Validate(ctx, in)
			})
			if veto, isVeto := vetoFrom(e.name, err); isVeto {
				return nil, veto
			}
			if err != nil {
				p.logBug(ctx, e.name, "validate", err)
			}
		}

		if h, ok := e.capability.(BeforeTaskHook); ok {
			var added []Enrichment
			err := p.invoke(ctx, e.name, "before_task", func() error {
				var hookErr error
				added, hookErr = h.BeforeTask(ctx, in)
				return hookErr
			})
			if veto, isVeto := vetoFrom(e.name, err); isVeto {
				return nil, veto
			}
			if err != nil {
				p.logBug(ctx, e.name, "before_task", err)
				continue
			}
			for _, en := range added {
				if en.Text == "" {
					continue
				}
				if en.Source == "" {
					en.Source = e.name
				}
				enrichments = append(enrichments, en)
			}
		}
	}
	return enrichments, nil
}

// AfterTask runs every AfterTaskHook and collects the extracted facts.
func (p *Pipeline) AfterTask(ctx context.Context, in TaskInput, content string) []domain.Fact {
	var facts []domain.Fact
	for _, e := range p.entries {
		h, ok := e.capability.(AfterTaskHook)
		if !ok {
			continue
		}
		var extracted []domain.Fact
		err := p.invoke(ctx, e.name, "after_task", func() error {
			var hookErr error
			extracted, hookErr = h.AfterTask(ctx, in, content)
			return hookErr
		})
		if err != nil {
			p.logBug(ctx, e.name, "after_task", err)
			continue
		}
		for _, f := range extracted {
			if f.Source == "" {
				f.Source = e.name
			}
			facts = append(facts, f)
		}
	}
	return facts
}

// Finalize runs every Finalizer.
func (p *Pipeline) Finalize(ctx context.Context, info SessionInfo, status constants.SessionStatus, stats domain.SessionStats) {
	for _, e := range p.entries {
		h, ok := e.capability.(Finalizer)
		if !ok {
			continue
		}
		if err := p.invoke(ctx, e.name, "finalize", func() error {
			return h.Finalize(ctx, info, status, stats)
		}); err != nil {
			p.logBug(ctx, e.name, "finalize", err)
		}
	}
}

// invoke calls fn and turns a panic into an error.
func (p *Pipeline) invoke(_ context.Context, name, hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability %s %s panicked: %v", name, hook, r)
		}
	}()
	return fn()
}

func (p *Pipeline) logBug(ctx context.Context, name, hook string, err error) {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &p.logger
	}
	logger.Warn().Err(err).
		Str("capability", name).
		Str("hook", hook).
		Msg("capability hook failed, skipping")
}

// vetoFrom reports whether err is a veto, filling in the capability name.
func vetoFrom(name string, err error) (*slerrors.VetoError, bool) {
	veto, ok := slerrors.AsVeto(err)
	if !ok {
		return nil, false
	}
	if veto.Capability == "" {
		veto.Capability = name
	}
	return veto, true
}

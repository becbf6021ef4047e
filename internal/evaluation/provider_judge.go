package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mrz1836/storyloom/internal/constants"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/prompts"
)

// Completer sends a prompt to whatever provider handles a category and
// returns the generated text.
type Completer interface {
	Complete(ctx context.Context, category constants.TaskCategory, prompt string) (string, error)
}

// ProviderJudge asks a generative provider to score content and parses a
// JSON answer of the form:
//
//	{"scores": {"coherence": 0.8}, "reasons": {"coherence": "..."}, "suggestions": ["..."]}
type ProviderJudge struct {
	completer Completer
}

// NewProviderJudge creates a judge backed by completer.
func NewProviderJudge(completer Completer) *ProviderJudge {
	return &ProviderJudge{completer: completer}
}

// Name returns the judge name.
func (*ProviderJudge) Name() string {
	return "provider"
}

type judgeAnswer struct {
	Scores      map[string]float64 `json:"scores"`
	Reasons     map[string]string  `json:"reasons"`
	Suggestions []string           `json:"suggestions"`
}

// Judge scores req against set through the provider.
func (p *ProviderJudge) Judge(ctx context.Context, req Request, set CriteriaSet) (*Judgment, error) {
	prompt, err := judgePrompt(req, set)
	if err != nil {
		return nil, err
	}
	raw, err := p.completer.Complete(ctx, constants.CategoryEvaluation, prompt)
	if err != nil {
		return nil, err
	}
	return parseJudgment(raw)
}

func judgePrompt(req Request, set CriteriaSet) (string, error) {
	data := prompts.JudgeData{
		Category: string(req.Category),
		Genre:    req.Goal.Genre,
		Brief:    req.Goal.Summary(),
		Content:  req.Content,
	}
	for _, c := range set.Criteria {
		data.Criteria = append(data.Criteria, prompts.Criterion{Name: c.Name, Description: c.Description})
	}
	return prompts.Render(prompts.Judge, data)
}

// parseJudgment extracts the outermost JSON object of raw.
func parseJudgment(raw string) (*Judgment, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in answer", slerrors.ErrJudgeResponse)
	}
	var answer judgeAnswer
	if err := json.Unmarshal([]byte(raw[start:end+1]), &answer); err != nil {
		return nil, fmt.Errorf("%w: %w", slerrors.ErrJudgeResponse, err)
	}
	if len(answer.Scores) == 0 {
		return nil, fmt.Errorf("%w: no scores", slerrors.ErrJudgeResponse)
	}
	return &Judgment{
		Scores:      answer.Scores,
		Reasons:     answer.Reasons,
		Suggestions: answer.Suggestions,
	}, nil
}

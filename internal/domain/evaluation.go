package domain

import "time"

// EvaluationResult is the immutable score of one generated artifact.
// A rewrite produces a new EvaluationResult; existing ones are never changed.
type EvaluationResult struct {
	// Score is the weighted aggregate in [0,1].
	Score float64 `json:"score"`

	// Passed is Score >= Threshold.
	Passed bool `json:"passed"`

	// Threshold is the pass mark the score was compared against.
	Threshold float64 `json:"threshold"`

	// Criteria names the criterion set used (content or structural).
	Criteria string `json:"criteria"`

	// Dimensions holds the per-dimension sub-scores.
	Dimensions []DimensionScore `json:"dimensions"`

	// Reasons explains the score.
	Reasons []string `json:"reasons,omitempty"`

	// Suggestions lists improvements for a rewrite.
	Suggestions []string `json:"suggestions,omitempty"`

	// Judge names the judge that produced the raw scores.
	Judge string `json:"judge"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// DimensionScore is one weighted criterion of an evaluation.
type DimensionScore struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// Dimension returns the named dimension score and whether it exists.
func (r *EvaluationResult) Dimension(name string) (DimensionScore, bool) {
	if r == nil {
		return DimensionScore{}, false
	}
	for _, d := range r.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return DimensionScore{}, false
}

// Package evaluation scores generated artifacts against weighted criteria.
//
// A Judge produces raw per-dimension scores; the Engine aggregates them into
// an immutable domain.EvaluationResult. Aggregation and thresholding are
// deterministic even when the judge is not.
package evaluation

import "github.com/mrz1836/storyloom/internal/constants"

// Dimension names.
const (
	DimCoherence           = "coherence"
	DimCreativity          = "creativity"
	DimConsistency         = "consistency"
	DimGoalAlignment       = "goal_alignment"
	DimCoverage            = "coverage"
	DimInternalConsistency = "internal_consistency"
)

// Criterion is one weighted dimension of a criteria set.
type Criterion struct {
	Name        string
	Weight      float64
	Description string
}

// CriteriaSet is the list of criteria applied to a category.
type CriteriaSet struct {
	Name     string
	Criteria []Criterion
}

// TotalWeight returns the sum of all weights.
func (s CriteriaSet) TotalWeight() float64 {
	var total float64
	for _, c := range s.Criteria {
		total += c.Weight
	}
	return total
}

//nolint:gochecknoglobals // Read-only criteria tables
var (
	contentCriteria = CriteriaSet{
		Name: "content",
		Criteria: []Criterion{
			{DimCoherence, 0.30, "events and prose follow logically"},
			{DimCreativity, 0.25, "fresh language and ideas"},
			{DimConsistency, 0.25, "agrees with established characters and world"},
			{DimGoalAlignment, 0.20, "honors the brief and its requirements"},
		},
	}
	structuralCriteria = CriteriaSet{
		Name: "structural",
		Criteria: []Criterion{
			{DimCoverage, 0.50, "covers everything the step must decide"},
			{DimInternalConsistency, 0.50, "no contradictions within the plan"},
		},
	}
)

// CriteriaFor returns the criteria set applied to a task category.
func CriteriaFor(category constants.TaskCategory) CriteriaSet {
	if category.IsContent() {
		return contentCriteria
	}
	return structuralCriteria
}

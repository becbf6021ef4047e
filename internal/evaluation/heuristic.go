package evaluation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
)

// Default length targets in words when the goal does not set one.
const (
	defaultContentWords    = 300
	defaultStructuralWords = 80
)

// TargetWords returns the length content of a category is judged against.
func TargetWords(category constants.TaskCategory, goal domain.Goal) int {
	if !category.IsContent() {
		return defaultStructuralWords
	}
	if target := goal.ChapterTarget(); target > 0 {
		return target
	}
	return defaultContentWords
}

// HeuristicJudge scores content with deterministic text statistics. It is
// the default judge and the fallback for provider judges.
type HeuristicJudge struct{}

// Name returns the judge name.
func (HeuristicJudge) Name() string {
	return "heuristic"
}

// Judge scores req against set.
func (HeuristicJudge) Judge(_ context.Context, req Request, set CriteriaSet) (*Judgment, error) {
	words := tokenize(req.Content)
	j := &Judgment{
		Scores:  make(map[string]float64, len(set.Criteria)),
		Reasons: make(map[string]string, len(set.Criteria)),
	}
	if len(words) == 0 {
		for _, c := range set.Criteria {
			j.Scores[c.Name] = 0
			j.Reasons[c.Name] = "empty content"
		}
		j.Suggestions = []string{"Produce non-empty content for this step."}
		return j, nil
	}

	target := TargetWords(req.Category, req.Goal)

	length := lengthScore(len(words), target)
	diversity := diversityScore(words)
	repetition := repetitionScore(words)
	alignment, missing := requirementScore(words, req.Goal.Requirements)
	consistency, absent := namesScore(words, req.Context)

	scores := map[string]float64{
		DimCoherence:           (length + repetition) / 2,
		DimCreativity:          diversity,
		DimConsistency:         consistency,
		DimGoalAlignment:       alignment,
		DimCoverage:            (length + alignment) / 2,
		DimInternalConsistency: (repetition + consistency) / 2,
	}
	reasons := map[string]string{
		DimCoherence:           fmt.Sprintf("%d words against a target of %d, repetition %.2f", len(words), target, repetition),
		DimCreativity:          fmt.Sprintf("lexical diversity %.2f", diversity),
		DimConsistency:         namesReason(absent),
		DimGoalAlignment:       requirementReason(missing),
		DimCoverage:            fmt.Sprintf("length %.2f, requirements %.2f", length, alignment),
		DimInternalConsistency: fmt.Sprintf("repetition %.2f, %s", repetition, namesReason(absent)),
	}

	for _, c := range set.Criteria {
		j.Scores[c.Name] = scores[c.Name]
		j.Reasons[c.Name] = reasons[c.Name]
	}
	for _, r := range missing {
		j.Suggestions = append(j.Suggestions, fmt.Sprintf("Address the requirement: %s", r))
	}
	if len(absent) > 0 {
		j.Suggestions = append(j.Suggestions,
			fmt.Sprintf("Keep established names present: %s", strings.Join(absent, ", ")))
	}
	return j, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return fields
}

func lengthScore(n, target int) float64 {
	if target <= 0 {
		return 1
	}
	ratio := float64(n) / float64(target)
	switch {
	case ratio >= 0.8 && ratio <= 2:
		return 1
	case ratio < 0.8:
		return ratio / 0.8
	default:
		return math.Max(0.5, 1-(ratio-2)/4)
	}
}

// diversityScore is the type-token ratio scaled so 0.5 and above scores 1.
func diversityScore(words []string) float64 {
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[strings.ToLower(w)] = struct{}{}
	}
	return math.Min(1, float64(len(seen))/float64(len(words))/0.5)
}

// repetitionScore penalizes repeated word trigrams.
func repetitionScore(words []string) float64 {
	if len(words) < 3 {
		return 1
	}
	seen := make(map[string]int, len(words))
	dup := 0
	for i := 0; i+2 < len(words); i++ {
		key := strings.ToLower(words[i] + " " + words[i+1] + " " + words[i+2])
		if seen[key] > 0 {
			dup++
		}
		seen[key]++
	}
	total := len(words) - 2
	return math.Max(0, 1-2*float64(dup)/float64(total))
}

// requirementScore is the share of requirements with at least one
// significant word present in the content.
func requirementScore(words []string, requirements []string) (float64, []string) {
	if len(requirements) == 0 {
		return 1, nil
	}
	present := make(map[string]struct{}, len(words))
	for _, w := range words {
		present[strings.ToLower(w)] = struct{}{}
	}
	var missing []string
	for _, r := range requirements {
		hit := false
		for _, w := range tokenize(r) {
			if len(w) < 4 {
				continue
			}
			if _, ok := present[strings.ToLower(w)]; ok {
				hit = true
				break
			}
		}
		if !hit {
			missing = append(missing, r)
		}
	}
	return float64(len(requirements)-len(missing)) / float64(len(requirements)), missing
}

func requirementReason(missing []string) string {
	if len(missing) == 0 {
		return "all requirements referenced"
	}
	return fmt.Sprintf("%d requirement(s) not referenced", len(missing))
}

// namesScore checks that the most frequent capitalized names of the
// context appear in the content.
func namesScore(words []string, context string) (float64, []string) {
	names := topNames(context, 8)
	if len(names) == 0 {
		return 1, nil
	}
	present := make(map[string]struct{}, len(words))
	for _, w := range words {
		present[w] = struct{}{}
	}
	var absent []string
	for _, n := range names {
		if _, ok := present[n]; !ok {
			absent = append(absent, n)
		}
	}
	found := float64(len(names) - len(absent))
	return 0.5 + 0.5*found/float64(len(names)), absent
}

func namesReason(absent []string) string {
	if len(absent) == 0 {
		return "established names kept"
	}
	return fmt.Sprintf("%d established name(s) missing", len(absent))
}

//nolint:gochecknoglobals // Read-only stop list
var nameStopWords = map[string]struct{}{
	"The": {}, "And": {}, "But": {}, "When": {}, "Then": {}, "This": {}, "That": {},
	"With": {}, "From": {}, "Chapter": {}, "Title": {}, "Genre": {}, "Style": {},
	"Form": {}, "Requirement": {}, "Audience": {}, "Write": {}, "Task": {},
}

// topNames returns up to n capitalized words that appear at least twice in
// text, most frequent first, ties alphabetical.
func topNames(text string, n int) []string {
	counts := make(map[string]int)
	for _, w := range tokenize(text) {
		r := []rune(w)
		if len(r) < 3 || !unicode.IsUpper(r[0]) {
			continue
		}
		if _, stop := nameStopWords[w]; stop {
			continue
		}
		counts[w]++
	}
	names := make([]string, 0, len(counts))
	for w, c := range counts {
		if c >= 2 {
			names = append(names, w)
		}
	}
	sort.Slice(names, func(a, b int) bool {
		if counts[names[a]] != counts[names[b]] {
			return counts[names[a]] > counts[names[b]]
		}
		return names[a] < names[b]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

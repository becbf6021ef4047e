package domain

import "time"

// Fact is a normalized piece of side-content extracted from a task result,
// such as a character trait or a world rule. Facts are kept in semantic
// memory for later tasks of the same session.
type Fact struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject,omitempty"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Similarity is set on facts returned from a search.
	Similarity float32 `json:"similarity,omitempty"`
}

// Fact kinds produced by the built-in capabilities and the engine.
const (
	FactFoundational = "foundational"
	FactCharacter    = "character"
	FactWorldRule    = "world_rule"
	FactTimeline     = "timeline"
	FactForeshadow   = "foreshadow"
	FactVoice        = "voice"
)

// FilterFacts returns the facts of the given kind, preserving order.
func FilterFacts(facts []Fact, kind string) []Fact {
	var out []Fact
	for _, f := range facts {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

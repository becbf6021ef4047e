package prompts

// PromptID identifies a prompt template by its path under templates/
// without the extension.
type PromptID string

// Prompt identifiers.
const (
	// Generate is the prompt for one attempt of a writing task.
	Generate PromptID = "story/generate"

	// Judge asks a provider to score generated content.
	Judge PromptID = "evaluation/judge"
)

// Section is a titled block of quoted text.
type Section struct {
	Title string
	Body  string
}

// GenerateData is the input of the Generate prompt.
type GenerateData struct {
	// Brief is the goal summary.
	Brief       string
	Category    string
	Description string
	TargetWords int

	// Foundational quotes stored premise, world and character context.
	Foundational []Section
	// Dependencies quotes the output of the tasks this one depends on.
	Dependencies []Section
	// Notes are related facts recalled from memory.
	Notes []string
	// Guidance is capability-provided advice.
	Guidance []Section

	// Revision is set on rewrites.
	Revision *RevisionData
}

// RevisionData describes why a draft is being rewritten.
type RevisionData struct {
	Attempt int

	// Scored is true when the previous draft has an evaluation.
	Scored      bool
	Score       float64
	Threshold   float64
	Dimensions  []DimensionNote
	Suggestions []string

	Feedback      string
	PreviousDraft string
}

// DimensionNote is one evaluation dimension with the judge's reason.
type DimensionNote struct {
	Name   string
	Score  float64
	Reason string
}

// JudgeData is the input of the Judge prompt.
type JudgeData struct {
	Category string
	Genre    string
	Criteria []Criterion
	Brief    string
	Content  string
}

// Criterion is one scoring dimension shown to the judge.
type Criterion struct {
	Name        string
	Description string
}

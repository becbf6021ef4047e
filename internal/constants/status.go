package constants

// TaskStatus represents the state of a task in the task graph.
// Status values use snake_case for JSON serialization compatibility.
type TaskStatus string

// Task status constants define the valid states a task can be in:
//
//	Pending → Ready, Skipped
//	Ready → Running, Skipped
//	Running → Completed, Failed, PendingApproval, Skipped
//	PendingApproval → Completed, Running, Skipped, Failed
//	Failed → Skipped
const (
	// TaskStatusPending indicates the task is waiting on its dependencies.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusReady indicates every dependency is satisfied and the task
	// has been handed to the execution loop.
	TaskStatusReady TaskStatus = "ready"

	// TaskStatusRunning indicates generation or evaluation is in progress.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusCompleted indicates the result passed and was accepted.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task gave up. Dependents stay blocked
	// until the task is skipped by an external decision.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusPendingApproval indicates the task is waiting for an
	// explicit approve or feedback decision.
	TaskStatusPendingApproval TaskStatus = "pending_approval"

	// TaskStatusSkipped indicates the task was skipped. Skipped tasks
	// satisfy their dependents.
	TaskStatusSkipped TaskStatus = "skipped"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}

// Satisfies reports whether a dependency in this status unblocks its dependents.
func (s TaskStatus) Satisfies() bool {
	return s == TaskStatusCompleted || s == TaskStatusSkipped
}

// SessionStatus represents the execution status of a session.
type SessionStatus string

// Session status constants:
//
//	Created → Running ⇄ Paused → Completed, Failed, Stopped
const (
	// SessionStatusCreated indicates the session is planned but not started.
	SessionStatusCreated SessionStatus = "created"

	// SessionStatusRunning indicates the execution loop is processing tasks.
	SessionStatusRunning SessionStatus = "running"

	// SessionStatusPaused indicates the loop is blocked before its next task.
	SessionStatusPaused SessionStatus = "paused"

	// SessionStatusCompleted indicates every task completed or was skipped.
	SessionStatusCompleted SessionStatus = "completed"

	// SessionStatusFailed indicates the session cannot make further progress.
	SessionStatusFailed SessionStatus = "failed"

	// SessionStatusStopped indicates the session was stopped on request.
	SessionStatusStopped SessionStatus = "stopped"
)

// String returns the string representation of the SessionStatus.
func (s SessionStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the session can no longer change status.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusStopped:
		return true
	case SessionStatusCreated, SessionStatusRunning, SessionStatusPaused:
		return false
	}
	return false
}

// TaskCategory enumerates the creative sub-steps a task can perform.
type TaskCategory string

// Task categories. The first five are foundational.
const (
	CategoryBrainstorm      TaskCategory = "brainstorm"
	CategoryCorePremise     TaskCategory = "core_premise"
	CategoryOutline         TaskCategory = "outline"
	CategoryWorldRules      TaskCategory = "world_rules"
	CategoryCharacterDesign TaskCategory = "character_design"
	CategoryForeshadowPlan  TaskCategory = "foreshadow_plan"
	CategoryChapterOutline  TaskCategory = "chapter_outline"
	CategoryChapterContent  TaskCategory = "chapter_content"
	CategoryChapterPolish   TaskCategory = "chapter_polish"
	CategoryEvaluation      TaskCategory = "evaluation"
)

// String returns the string representation of the TaskCategory.
func (c TaskCategory) String() string {
	return string(c)
}

// IsValid reports whether c is a known category.
func (c TaskCategory) IsValid() bool {
	switch c {
	case CategoryBrainstorm, CategoryCorePremise, CategoryOutline, CategoryWorldRules,
		CategoryCharacterDesign, CategoryForeshadowPlan, CategoryChapterOutline,
		CategoryChapterContent, CategoryChapterPolish, CategoryEvaluation:
		return true
	}
	return false
}

// IsContent reports whether the category produces prose rather than structure.
func (c TaskCategory) IsContent() bool {
	return c == CategoryChapterContent || c == CategoryChapterPolish
}

// IsChapter reports whether the category belongs to a per-chapter sub-graph.
func (c TaskCategory) IsChapter() bool {
	switch c {
	case CategoryChapterOutline, CategoryChapterContent, CategoryChapterPolish:
		return true
	case CategoryBrainstorm, CategoryCorePremise, CategoryOutline, CategoryWorldRules,
		CategoryCharacterDesign, CategoryForeshadowPlan, CategoryEvaluation:
		return false
	}
	return false
}

// StructuralMode selects the overall shape of the task graph.
type StructuralMode string

// Structural modes.
const (
	// ModeNovel produces one chapter sub-graph per requested chapter.
	ModeNovel StructuralMode = "novel"

	// ModeShortStory collapses the graph to the foundational tasks.
	ModeShortStory StructuralMode = "short_story"
)

// String returns the string representation of the StructuralMode.
func (m StructuralMode) String() string {
	return string(m)
}

// EventType names an outbound lifecycle event.
type EventType string

// Outbound event types.
const (
	EventStarted            EventType = "started"
	EventTaskStart          EventType = "task_start"
	EventTaskAttempt        EventType = "task_attempt"
	EventTaskComplete       EventType = "task_complete"
	EventTaskFail           EventType = "task_fail"
	EventTaskApprovalNeeded EventType = "task_approval_needed"
	EventProgress           EventType = "progress"
	EventPaused             EventType = "paused"
	EventResumed            EventType = "resumed"
	EventStopped            EventType = "stopped"
	EventCompleted          EventType = "completed"
	EventFailed             EventType = "failed"
)

// String returns the string representation of the EventType.
func (e EventType) String() string {
	return string(e)
}

// CommandType names an inbound control command.
type CommandType string

// Inbound control commands.
const (
	CommandStart       CommandType = "start"
	CommandPause       CommandType = "pause"
	CommandResume      CommandType = "resume"
	CommandStop        CommandType = "stop"
	CommandApproveTask CommandType = "approve_task"
	CommandFeedback    CommandType = "feedback"
	CommandSkipTask    CommandType = "skip_task"
)

// String returns the string representation of the CommandType.
func (c CommandType) String() string {
	return string(c)
}

// FeedbackAttempts controls how a feedback decision counts against a task's attempts.
type FeedbackAttempts string

const (
	// FeedbackIncrement counts the feedback revision as a new attempt.
	FeedbackIncrement FeedbackAttempts = "increment"

	// FeedbackPreserve reuses the current attempt number for the revision.
	FeedbackPreserve FeedbackAttempts = "preserve"
)

// ApprovalPrecedence decides which rule wins when feedback arrives for a
// task whose attempts are already exhausted.
type ApprovalPrecedence string

const (
	// PrecedenceApproval lets a human decision grant one extra attempt.
	PrecedenceApproval ApprovalPrecedence = "approval"

	// PrecedenceCap rejects feedback once attempts are exhausted; only
	// approve remains.
	PrecedenceCap ApprovalPrecedence = "cap"
)

// ProviderType selects a generator implementation.
type ProviderType string

const (
	ProviderOpenAI   ProviderType = "openai"
	ProviderOllama   ProviderType = "ollama"
	ProviderScripted ProviderType = "scripted"
)

// JudgeKind selects the evaluation judge.
type JudgeKind string

const (
	JudgeHeuristic JudgeKind = "heuristic"
	JudgeProvider  JudgeKind = "provider"
)

// StorageBackend selects the persistence implementation.
type StorageBackend string

const (
	StorageFile  StorageBackend = "file"
	StorageRedis StorageBackend = "redis"
)

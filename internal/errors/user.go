package errors

import "errors"

// ErrorInfo holds user-facing message and suggested action for an error.
type ErrorInfo struct {
	// Message is the user-friendly error description.
	Message string
	// Action is a suggested action to resolve the issue (empty if none).
	Action string
}

type errorEntry struct {
	err  error
	info ErrorInfo
}

// errorInfoEntries maps sentinel errors to their user-facing messages.
// A slice (not a map) because errors.Is() needs chain traversal.
//
//nolint:gochecknoglobals // Pre-built mapping
var errorInfoEntries = []errorEntry{
	// ===================
	// Planning
	// ===================
	{
		err: ErrInvalidGoal,
		info: ErrorInfo{
			Message: "The goal file is invalid.",
			Action:  "Check genre, chapter count and structural mode in the goal file.",
		},
	},
	{
		err: ErrCyclicDependency,
		info: ErrorInfo{
			Message: "The task graph contains a dependency cycle.",
			Action:  "Disable the capability contributing the cyclic task and start a new session.",
		},
	},
	{
		err: ErrDanglingDependency,
		info: ErrorInfo{
			Message: "A task depends on a task that does not exist.",
			Action:  "Disable the capability contributing the task and start a new session.",
		},
	},
	{
		err: ErrGraphBlocked,
		info: ErrorInfo{
			Message: "The session cannot make progress: every remaining task is blocked.",
			Action:  "Run 'storyloom status <session-id>' to find the failed task, then start a fresh session.",
		},
	},

	// ===================
	// Providers
	// ===================
	{
		err: ErrProviderExhausted,
		info: ErrorInfo{
			Message: "The content provider kept failing after every retry.",
			Action:  "Check the provider endpoint and rate limits, then retry.",
		},
	},
	{
		err: ErrProviderFatal,
		info: ErrorInfo{
			Message: "The content provider rejected the request.",
			Action:  "Verify the API key environment variable and model name in the provider config.",
		},
	},
	{
		err: ErrNoProvider,
		info: ErrorInfo{
			Message: "No provider is configured for this task category.",
			Action:  "Add a providers.default entry or a route for the category.",
		},
	},

	// ===================
	// Sessions
	// ===================
	{
		err: ErrSessionNotFound,
		info: ErrorInfo{
			Message: "Session not found.",
			Action:  "Run 'storyloom status' without arguments to list known sessions.",
		},
	},
	{
		err: ErrSessionTerminal,
		info: ErrorInfo{
			Message: "The session has already finished.",
			Action:  "Start a fresh session to try again.",
		},
	},
	{
		err: ErrTaskNotAwaitingApproval,
		info: ErrorInfo{
			Message: "That task is not waiting for approval.",
		},
	},
	{
		err: ErrAttemptsExhausted,
		info: ErrorInfo{
			Message: "The task has used all of its attempts; feedback is not accepted.",
			Action:  "Approve the task or set engine.approval_precedence to 'approval'.",
		},
	},

	// ===================
	// Configuration & storage
	// ===================
	{
		err: ErrConfigInvalidProvider,
		info: ErrorInfo{
			Message: "Provider configuration is invalid.",
			Action:  "Run 'storyloom config show' and fix the providers section.",
		},
	},
	{
		err: ErrLockTimeout,
		info: ErrorInfo{
			Message: "Another storyloom process is writing this session.",
			Action:  "Wait for the other process to finish and retry.",
		},
	},
	{
		err: ErrRecordCorrupted,
		info: ErrorInfo{
			Message: "A stored session record could not be read.",
			Action:  "Inspect ~/.storyloom/sessions for the damaged file.",
		},
	},
}

// getErrorInfo looks up the ErrorInfo for err, falling back to the
// error's own message.
func getErrorInfo(err error) ErrorInfo {
	for _, entry := range errorInfoEntries {
		if errors.Is(err, entry.err) {
			return entry.info
		}
	}
	return ErrorInfo{Message: err.Error()}
}

// UserMessage returns a user-friendly message for common errors.
// For unrecognized errors, it returns the error's original message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return getErrorInfo(err).Message
}

// Actionable returns a user-friendly error message along with a suggested
// action. The action is empty when there is nothing useful to suggest.
func Actionable(err error) (message, action string) {
	if err == nil {
		return "", ""
	}
	info := getErrorInfo(err)
	return info.Message, info.Action
}

// Package errors provides centralized error handling for storyloom.
//
// This package defines sentinel errors used for programmatic error categorization
// throughout the application, plus the typed errors of the orchestration
// taxonomy. All sentinels can be checked using errors.Is() and all typed
// errors using errors.As().
//
// IMPORTANT: This package MUST NOT import any other internal packages.
// Only standard library imports are allowed.
package errors

import "errors"

// Sentinel errors for error categorization.
// These allow callers to check error types with errors.Is().
// All errors use lowercase descriptions per Go conventions.
var (
	// ErrPlanning indicates the task graph could not be built for a goal.
	// Every *PlanningError wraps it.
	ErrPlanning = errors.New("planning failed")

	// ErrInvalidGoal indicates the creative goal failed validation.
	ErrInvalidGoal = errors.New("invalid goal")

	// ErrCyclicDependency indicates the task graph contains a cycle.
	ErrCyclicDependency = errors.New("cyclic task dependency")

	// ErrDanglingDependency indicates a task depends on a task that is not in the graph.
	ErrDanglingDependency = errors.New("dependency references unknown task")

	// ErrDuplicateTask indicates two tasks share an id.
	ErrDuplicateTask = errors.New("duplicate task id")

	// ErrGraphBlocked indicates no remaining task can ever become ready.
	ErrGraphBlocked = errors.New("task graph blocked")

	// ErrInvalidTransition indicates an attempt to make an invalid state transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTaskNotFound indicates the task id is not part of the session's graph.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotAwaitingApproval indicates an approve or feedback decision
	// targeted a task that is not pending approval.
	ErrTaskNotAwaitingApproval = errors.New("task is not awaiting approval")

	// ErrAttemptsExhausted indicates feedback was refused because the task
	// already used every attempt it is allowed.
	ErrAttemptsExhausted = errors.New("task attempts exhausted")

	// ErrEvaluationThresholdNotMet indicates a result scored below the pass threshold.
	// It drives the rewrite loop and is never surfaced as a session failure.
	ErrEvaluationThresholdNotMet = errors.New("evaluation threshold not met")

	// ErrCapabilityVeto indicates a capability refused to let a task run.
	// Every *VetoError wraps it.
	ErrCapabilityVeto = errors.New("capability validation veto")

	// ErrCapabilityNotFound indicates the named capability is not registered.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrCapabilityExists indicates a capability with the same name is already registered.
	ErrCapabilityExists = errors.New("capability already registered")

	// ErrProviderTransient indicates a retryable provider failure
	// (timeout, rate limit, dropped connection).
	ErrProviderTransient = errors.New("transient provider error")

	// ErrProviderFatal indicates a provider failure that must not be retried.
	ErrProviderFatal = errors.New("fatal provider error")

	// ErrProviderExhausted indicates every retry and fallback provider failed.
	ErrProviderExhausted = errors.New("provider retries exhausted")

	// ErrNoProvider indicates no generator is registered for the resolved provider id.
	ErrNoProvider = errors.New("no provider registered")

	// ErrEmptyGeneration indicates the provider returned no content.
	ErrEmptyGeneration = errors.New("provider returned empty content")

	// ErrJudgeResponse indicates a provider judge answered with an unusable payload.
	ErrJudgeResponse = errors.New("invalid judge response")

	// ErrSessionNotFound indicates the session id is not registered.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists indicates an attempt to start a session id that is already running.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionTerminal indicates the session already finished.
	ErrSessionTerminal = errors.New("session already finished")

	// ErrRegistryClosed indicates the registry is shutting down and refuses new sessions.
	ErrRegistryClosed = errors.New("session registry closed")

	// ErrUnknownCommand indicates an inbound control command was not recognized.
	ErrUnknownCommand = errors.New("unknown control command")

	// ErrMalformedCommand indicates an inbound control command could not be decoded.
	ErrMalformedCommand = errors.New("malformed control command")

	// ErrConfigNil indicates that a nil config was passed to validation.
	ErrConfigNil = errors.New("config is nil")

	// ErrConfigInvalidEngine indicates an invalid engine configuration value.
	ErrConfigInvalidEngine = errors.New("invalid engine configuration")

	// ErrConfigInvalidProvider indicates an invalid provider configuration value.
	ErrConfigInvalidProvider = errors.New("invalid provider configuration")

	// ErrConfigInvalidStorage indicates an invalid storage configuration value.
	ErrConfigInvalidStorage = errors.New("invalid storage configuration")

	// ErrConfigInvalidRegistry indicates an invalid registry configuration value.
	ErrConfigInvalidRegistry = errors.New("invalid registry configuration")

	// ErrConfigInvalidCapability indicates an invalid capability configuration value.
	ErrConfigInvalidCapability = errors.New("invalid capability configuration")

	// ErrEmptyValue indicates that a required value was empty.
	ErrEmptyValue = errors.New("value cannot be empty")

	// ErrValueOutOfRange indicates that a value is outside the allowed range.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrPathTraversal indicates an attempt to use path traversal in an identifier.
	ErrPathTraversal = errors.New("path traversal detected")

	// ErrLockTimeout indicates a file lock could not be acquired within the timeout period.
	ErrLockTimeout = errors.New("lock acquisition timeout")

	// ErrRecordNotFound indicates a persisted record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordCorrupted indicates a persisted record could not be decoded.
	ErrRecordCorrupted = errors.New("record corrupted")

	// ErrInvalidOutputFormat indicates an invalid output format was specified.
	ErrInvalidOutputFormat = errors.New("invalid output format")
)

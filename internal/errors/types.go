package errors

import (
	"errors"
	"fmt"
	"strings"
)

// PlanningError reports a task graph that cannot be installed. It is fatal
// for the session and no task runs.
type PlanningError struct {
	// Reason describes the structural problem.
	Reason string
	// TaskIDs lists the tasks involved, when known.
	TaskIDs []string
	// Err is the underlying sentinel (cycle, dangling dependency, ...).
	Err error
}

// NewPlanningError builds a PlanningError around a sentinel.
func NewPlanningError(err error, reason string, taskIDs ...string) *PlanningError {
	return &PlanningError{Reason: reason, TaskIDs: taskIDs, Err: err}
}

func (e *PlanningError) Error() string {
	var b strings.Builder
	b.WriteString(ErrPlanning.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.TaskIDs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.TaskIDs, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// Unwrap exposes both ErrPlanning and the specific cause to errors.Is.
func (e *PlanningError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPlanning}
	}
	return []error{ErrPlanning, e.Err}
}

// TransitionError reports a rejected task status change.
type TransitionError struct {
	TaskID string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: task %s cannot transition from %s to %s",
		ErrInvalidTransition.Error(), e.TaskID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// VetoError is returned by a capability hook to refuse a task. It is the
// only hook error that fails a task; any other hook error is treated as a
// capability bug.
type VetoError struct {
	Capability string
	Reason     string
}

// NewVeto builds a VetoError.
func NewVeto(capability, reason string) *VetoError {
	return &VetoError{Capability: capability, Reason: reason}
}

func (e *VetoError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCapabilityVeto.Error(), e.Capability, e.Reason)
}

// Unwrap returns ErrCapabilityVeto.
func (e *VetoError) Unwrap() error {
	return ErrCapabilityVeto
}

// AsVeto returns the VetoError in err's chain, if any.
func AsVeto(err error) (*VetoError, bool) {
	var veto *VetoError
	if errors.As(err, &veto) {
		return veto, true
	}
	return nil, false
}

// ProviderErrorClass distinguishes retryable from terminal provider failures.
type ProviderErrorClass string

const (
	// ProviderTransient failures are retried per the provider's retry policy.
	ProviderTransient ProviderErrorClass = "transient"
	// ProviderFatal failures end the task without further calls.
	ProviderFatal ProviderErrorClass = "fatal"
)

// ProviderError is a classified failure returned by a generator.
type ProviderError struct {
	Provider string
	Class    ProviderErrorClass
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s provider error: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s provider error (%s): %v", e.Class, e.Provider, e.Err)
}

// Unwrap exposes the class sentinel and the cause to errors.Is.
func (e *ProviderError) Unwrap() []error {
	sentinel := ErrProviderFatal
	if e.Class == ProviderTransient {
		sentinel = ErrProviderTransient
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// NewTransient classifies err as a retryable provider failure.
func NewTransient(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Class: ProviderTransient, Err: err}
}

// NewFatal classifies err as a non-retryable provider failure.
func NewFatal(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Class: ProviderFatal, Err: err}
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderTransient)
}

// IsFatal reports whether err is a non-retryable provider failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProviderFatal)
}

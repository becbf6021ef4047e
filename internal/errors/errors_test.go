package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

func TestPlanningError(t *testing.T) {
	t.Parallel()

	err := slerrors.NewPlanningError(slerrors.ErrCyclicDependency, "cycle detected", "a", "b")

	require.ErrorIs(t, err, slerrors.ErrPlanning)
	require.ErrorIs(t, err, slerrors.ErrCyclicDependency)
	assert.Contains(t, err.Error(), "cycle detected")
	assert.Contains(t, err.Error(), "[a, b]")

	var planning *slerrors.PlanningError
	wrapped := fmt.Errorf("start session: %w", err)
	require.ErrorAs(t, wrapped, &planning)
	assert.Equal(t, []string{"a", "b"}, planning.TaskIDs)
}

func TestTransitionError(t *testing.T) {
	t.Parallel()

	err := &slerrors.TransitionError{TaskID: "outline", From: "completed", To: "running"}

	require.ErrorIs(t, err, slerrors.ErrInvalidTransition)
	assert.Equal(t,
		"invalid state transition: task outline cannot transition from completed to running",
		err.Error())
}

func TestVetoError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("before task: %w", slerrors.NewVeto("world-rules", "magic system undefined"))

	require.ErrorIs(t, err, slerrors.ErrCapabilityVeto)
	veto, ok := slerrors.AsVeto(err)
	require.True(t, ok)
	assert.Equal(t, "world-rules", veto.Capability)

	_, ok = slerrors.AsVeto(errors.New("plain bug"))
	assert.False(t, ok)
}

func TestProviderErrorClassification(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")

	tests := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
	}{
		{"transient", slerrors.NewTransient("openai", cause), true, false},
		{"fatal", slerrors.NewFatal("ollama", cause), false, true},
		{"wrapped transient", fmt.Errorf("call: %w", slerrors.NewTransient("x", cause)), true, false},
		{"unclassified", cause, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.transient, slerrors.IsTransient(tc.err))
			assert.Equal(t, tc.fatal, slerrors.IsFatal(tc.err))
		})
	}

	assert.NoError(t, slerrors.NewTransient("x", nil))
	assert.ErrorIs(t, slerrors.NewFatal("x", cause), cause)
}

func TestWrap(t *testing.T) {
	t.Parallel()

	assert.NoError(t, slerrors.Wrap(nil, "ignored"))
	assert.NoError(t, slerrors.Wrapf(nil, "ignored %d", 1))

	err := slerrors.Wrapf(slerrors.ErrSessionNotFound, "load session %s", "abc")
	require.ErrorIs(t, err, slerrors.ErrSessionNotFound)
	assert.Equal(t, "load session abc: session not found", err.Error())
}

func TestActionable(t *testing.T) {
	t.Parallel()

	msg, action := slerrors.Actionable(fmt.Errorf("x: %w", slerrors.ErrGraphBlocked))
	assert.Contains(t, msg, "blocked")
	assert.Contains(t, action, "storyloom status")

	msg, action = slerrors.Actionable(errors.New("something odd"))
	assert.Equal(t, "something odd", msg)
	assert.Empty(t, action)

	assert.Empty(t, slerrors.UserMessage(nil))
}

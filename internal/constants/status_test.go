package constants

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_Satisfies(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		expected bool
	}{
		{TaskStatusPending, false},
		{TaskStatusReady, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, false},
		{TaskStatusPendingApproval, false},
		{TaskStatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.Satisfies())
		})
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		expected bool
	}{
		{SessionStatusCreated, false},
		{SessionStatusRunning, false},
		{SessionStatusPaused, false},
		{SessionStatusCompleted, true},
		{SessionStatusFailed, true},
		{SessionStatusStopped, true},
		{SessionStatus("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsTerminal())
		})
	}
}

func TestTaskCategory(t *testing.T) {
	tests := []struct {
		category TaskCategory
		valid    bool
		content  bool
		chapter  bool
	}{
		{CategoryBrainstorm, true, false, false},
		{CategoryCorePremise, true, false, false},
		{CategoryOutline, true, false, false},
		{CategoryWorldRules, true, false, false},
		{CategoryCharacterDesign, true, false, false},
		{CategoryForeshadowPlan, true, false, false},
		{CategoryChapterOutline, true, false, true},
		{CategoryChapterContent, true, true, true},
		{CategoryChapterPolish, true, true, true},
		{CategoryEvaluation, true, false, false},
		{TaskCategory("epilogue"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.category.String(), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.category.IsValid())
			assert.Equal(t, tt.content, tt.category.IsContent())
			assert.Equal(t, tt.chapter, tt.category.IsChapter())
		})
	}
}

func TestTaskStatus_JSON(t *testing.T) {
	data, err := json.Marshal(TaskStatusPendingApproval)
	require.NoError(t, err)
	assert.JSONEq(t, `"pending_approval"`, string(data))

	var decoded TaskStatus
	require.NoError(t, json.Unmarshal([]byte(`"skipped"`), &decoded))
	assert.Equal(t, TaskStatusSkipped, decoded)
}

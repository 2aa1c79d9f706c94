package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() *Workflow {
	return &Workflow{
		ID:   "wf-1",
		Name: "deploy pipeline",
		Steps: []*WorkflowStep{
			{
				ID:   "build",
				UID:  "build1",
				Name: "Build artifact",
				Type: StepTypeAction,
				Action: &ActionItem{
					Type:          "log",
					Configuration: map[string]any{"message": "building"},
				},
				Enabled: true,
			},
			{
				ID:   "signoff",
				UID:  "signoff1",
				Name: "Release sign-off",
				Type: StepTypeApproval,
				Approval: &ApprovalSpec{
					Title:       "Release sign-off",
					TimeoutSecs: 3600,
				},
				Dependencies: []string{"build"},
				Enabled:      true,
			},
		},
	}
}

func TestWorkflow_Validate(t *testing.T) {
	assert.NoError(t, validWorkflow().Validate())
}

func TestWorkflow_Validate_NameTooShort(t *testing.T) {
	wf := validWorkflow()
	wf.Name = "ab"

	assert.Error(t, wf.Validate())
}

func TestWorkflow_Validate_NoSteps(t *testing.T) {
	wf := validWorkflow()
	wf.Steps = nil

	assert.Error(t, wf.Validate())
}

func TestWorkflow_Validate_BadStepUID(t *testing.T) {
	wf := validWorkflow()
	wf.Steps[0].UID = "Not-Alnum"

	assert.Error(t, wf.Validate())
}

func TestWorkflow_Validate_ActionStepWithoutAction(t *testing.T) {
	wf := validWorkflow()
	wf.Steps[0].Action = nil

	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action steps require")
}

func TestWorkflow_Validate_ApprovalStepWithoutSpec(t *testing.T) {
	wf := validWorkflow()
	wf.Steps[1].Approval = nil

	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approval steps require")
}

func TestWorkflow_Validate_ConditionalStepWithoutCondition(t *testing.T) {
	wf := validWorkflow()
	wf.Steps = append(wf.Steps, &WorkflowStep{
		ID:      "gate",
		UID:     "gate1",
		Name:    "Only on weekdays",
		Type:    StepTypeConditional,
		Enabled: true,
	})

	err := wf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bound condition")

	wf.Steps[2].Condition = func(context.Context, ExecutionContext) (bool, error) { return true, nil }
	assert.NoError(t, wf.Validate())
}

func TestWorkflow_Validate_InvalidStepType(t *testing.T) {
	wf := validWorkflow()
	wf.Steps[0].Type = "teleport"

	assert.Error(t, wf.Validate())
}

func TestWorkflow_StepByID(t *testing.T) {
	wf := validWorkflow()

	step, ok := wf.StepByID("signoff")
	require.True(t, ok)
	assert.Equal(t, StepTypeApproval, step.Type)

	_, ok = wf.StepByID("missing")
	assert.False(t, ok)
}

func TestStepState_IsTerminal(t *testing.T) {
	terminal := []StepState{StepStateCompleted, StepStateFailed, StepStateSkipped, StepStateCancelled}
	for _, state := range terminal {
		assert.True(t, state.IsTerminal(), state)
	}

	live := []StepState{StepStatePending, StepStateReady, StepStateRunning, StepStateAwaitingApproval}
	for _, state := range live {
		assert.False(t, state.IsTerminal(), state)
	}
}

func TestStepState_CanTransition(t *testing.T) {
	assert.True(t, StepStatePending.CanTransition(StepStateReady))
	assert.True(t, StepStateReady.CanTransition(StepStateRunning))
	assert.True(t, StepStateRunning.CanTransition(StepStateAwaitingApproval))
	assert.True(t, StepStateAwaitingApproval.CanTransition(StepStateCompleted))
	assert.True(t, StepStatePending.CanTransition(StepStateCancelled))

	// No edges leave a terminal state, and none jump the lifecycle.
	assert.False(t, StepStateCompleted.CanTransition(StepStateRunning))
	assert.False(t, StepStatePending.CanTransition(StepStateRunning))
	assert.False(t, StepStateAwaitingApproval.CanTransition(StepStateCancelled))
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.True(t, RunStatusCompleted.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
	assert.True(t, RunStatusCancelled.IsTerminal())
	assert.False(t, RunStatusNotStarted.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
}

func TestApprovalRequest_ExpiresAt(t *testing.T) {
	req := ApprovalRequest{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		StepID:      "signoff",
		TimeoutSecs: 3600,
		CreatedAt:   time.Now(),
	}

	assert.Equal(t, req.CreatedAt.Add(time.Hour), req.ExpiresAt())
}

func TestApprovalStatus_IsResolved(t *testing.T) {
	assert.False(t, ApprovalStatusPending.IsResolved())
	assert.True(t, ApprovalStatusApproved.IsResolved())
	assert.True(t, ApprovalStatusDenied.IsResolved())
	assert.True(t, ApprovalStatusTimeout.IsResolved())
	assert.True(t, ApprovalStatusCancelled.IsResolved())
}

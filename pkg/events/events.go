// Package events defines the lifecycle events the execution core emits for
// external collaborators: run and step state transitions for a persistence
// consumer, approval lifecycle for a notifier. The core never persists or
// notifies itself.
package events

import (
	"time"

	"github.com/cadenzaflow/cadenza/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic is the bus topic every lifecycle event is published on.
const Topic = "cadenza.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"

	// Step lifecycle.
	StepStartedEvent   EventType = "step.started"
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepSkippedEvent   EventType = "step.skipped"
	StepCancelledEvent EventType = "step.cancelled"

	// Approval lifecycle.
	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalResolvedEvent  EventType = "approval.resolved"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBase stamps a fresh base event.
func NewBase(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

type RunStarted struct {
	BaseEvent

	ExecutionID  string         `json:"execution_id"`
	WorkflowName string         `json:"workflow_name"`
	TriggerData  map[string]any `json:"trigger_data,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

func (e RunStarted) GetType() EventType { return RunStartedEvent }

type RunCompleted struct {
	BaseEvent

	ExecutionID   string        `json:"execution_id"`
	Duration      time.Duration `json:"duration"`
	StepsExecuted int           `json:"steps_executed"`
	StepsSkipped  int           `json:"steps_skipped"`
}

func (e RunCompleted) GetType() EventType { return RunCompletedEvent }

type RunFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Error       string        `json:"error"`
	FailedSteps []string      `json:"failed_steps"`
	Duration    time.Duration `json:"duration"`
}

func (e RunFailed) GetType() EventType { return RunFailedEvent }

type RunCancelled struct {
	BaseEvent

	ExecutionID    string        `json:"execution_id"`
	CancelledSteps []string      `json:"cancelled_steps"`
	Duration       time.Duration `json:"duration"`
}

func (e RunCancelled) GetType() EventType { return RunCancelledEvent }

type StepStarted struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	StepName    string          `json:"step_name"`
	StepType    models.StepType `json:"step_type"`
}

func (e StepStarted) GetType() EventType { return StepStartedEvent }

type StepCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Result      map[string]any `json:"result,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }

type StepFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	StepID      string        `json:"step_id"`
	Error       string        `json:"error"`
	Reason      string        `json:"reason,omitempty"` // e.g. approval_denied, approval_timeout
	Duration    time.Duration `json:"duration"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

type StepSkipped struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Cause       string `json:"cause"` // the failed or skipped ancestor, or "condition_false"
}

func (e StepSkipped) GetType() EventType { return StepSkippedEvent }

type StepCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
}

func (e StepCancelled) GetType() EventType { return StepCancelledEvent }

type ApprovalRequested struct {
	BaseEvent

	ApprovalID  string         `json:"approval_id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	TimeoutSecs int64          `json:"timeout_secs"`
}

func (e ApprovalRequested) GetType() EventType { return ApprovalRequestedEvent }

type ApprovalResolved struct {
	BaseEvent

	ApprovalID      string                `json:"approval_id"`
	ExecutionID     string                `json:"execution_id"`
	StepID          string                `json:"step_id"`
	Status          models.ApprovalStatus `json:"status"`
	Approver        string                `json:"approver,omitempty"`
	ResponseMessage string                `json:"response_message,omitempty"`
}

func (e ApprovalResolved) GetType() EventType { return ApprovalResolvedEvent }

package workflow

import (
	"context"
	"time"

	"github.com/cadenzaflow/cadenza/pkg/events"
	"github.com/cadenzaflow/cadenza/pkg/models"
)

// Event publishing is best effort: a failing consumer must not fail the run.
// Errors are logged and dropped.

func (r *runState) publish(ctx context.Context, event eventWithType) {
	if err := r.executor.publisher.Publish(ctx, r.executor.workflow.ID, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

type eventWithType interface {
	GetType() events.EventType
}

func (r *runState) publishRunStarted(ctx context.Context) {
	r.publish(ctx, events.RunStarted{
		BaseEvent:    events.NewBase(events.RunStartedEvent, r.executor.workflow.ID),
		ExecutionID:  r.execCtx.ID,
		WorkflowName: r.executor.workflow.Name,
		TriggerData:  r.execCtx.TriggerData,
		Variables:    r.execCtx.Variables,
	})
}

func (r *runState) publishRunFinished(ctx context.Context, result *Result) {
	wf := r.executor.workflow

	switch result.Status {
	case models.RunStatusFailed:
		failed := result.FailedSteps()

		message := "workflow run failed"
		if len(failed) > 0 {
			if err := result.StepErrors[failed[0]]; err != nil {
				message = err.Error()
			}
		}

		r.publish(ctx, events.RunFailed{
			BaseEvent:   events.NewBase(events.RunFailedEvent, wf.ID),
			ExecutionID: result.ExecutionID,
			Error:       message,
			FailedSteps: failed,
			Duration:    result.Duration,
		})
	case models.RunStatusCancelled:
		r.publish(ctx, events.RunCancelled{
			BaseEvent:      events.NewBase(events.RunCancelledEvent, wf.ID),
			ExecutionID:    result.ExecutionID,
			CancelledSteps: stepsInState(result.StepStates, models.StepStateCancelled),
			Duration:       result.Duration,
		})
	default:
		r.publish(ctx, events.RunCompleted{
			BaseEvent:     events.NewBase(events.RunCompletedEvent, wf.ID),
			ExecutionID:   result.ExecutionID,
			Duration:      result.Duration,
			StepsExecuted: len(stepsInState(result.StepStates, models.StepStateCompleted)),
			StepsSkipped:  len(stepsInState(result.StepStates, models.StepStateSkipped)),
		})
	}
}

func (r *runState) publishStepStarted(ctx context.Context, step *models.WorkflowStep) {
	r.publish(ctx, events.StepStarted{
		BaseEvent:   events.NewBase(events.StepStartedEvent, r.executor.workflow.ID),
		ExecutionID: r.execCtx.ID,
		StepID:      step.ID,
		StepName:    step.Name,
		StepType:    step.Type,
	})
}

func (r *runState) publishStepCompleted(ctx context.Context, stepID string, output any, duration time.Duration) {
	result, _ := output.(map[string]any)

	r.publish(ctx, events.StepCompleted{
		BaseEvent:   events.NewBase(events.StepCompletedEvent, r.executor.workflow.ID),
		ExecutionID: r.execCtx.ID,
		StepID:      stepID,
		Result:      result,
		Duration:    duration,
	})
}

func (r *runState) publishStepFailed(ctx context.Context, o stepOutcome, reason string) {
	message := ""
	if o.err != nil {
		message = o.err.Error()
	}

	r.publish(ctx, events.StepFailed{
		BaseEvent:   events.NewBase(events.StepFailedEvent, r.executor.workflow.ID),
		ExecutionID: r.execCtx.ID,
		StepID:      o.stepID,
		Error:       message,
		Reason:      reason,
		Duration:    o.duration,
	})
}

func (r *runState) publishStepSkipped(ctx context.Context, stepID, cause string) {
	r.publish(ctx, events.StepSkipped{
		BaseEvent:   events.NewBase(events.StepSkippedEvent, r.executor.workflow.ID),
		ExecutionID: r.execCtx.ID,
		StepID:      stepID,
		Cause:       cause,
	})
}

func (r *runState) publishStepCancelled(ctx context.Context, stepID string) {
	r.publish(ctx, events.StepCancelled{
		BaseEvent:   events.NewBase(events.StepCancelledEvent, r.executor.workflow.ID),
		ExecutionID: r.execCtx.ID,
		StepID:      stepID,
	})
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cadenzaflow/cadenza/pkg/models"
	"github.com/cadenzaflow/cadenza/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// stepOutcome is what a step goroutine reports back to the run loop. The
// loop is the only writer of step state; goroutines communicate outcomes
// exclusively through the results channel.
type stepOutcome struct {
	stepID   string
	state    models.StepState // completed, failed or skipped
	output   any
	err      error
	reason   string // failure reason code (approval_denied, ...)
	cause    string // skip cause (condition_false, ...)
	duration time.Duration
}

type runState struct {
	executor    *Executor
	execCtx     models.ExecutionContext
	approvalCtx context.Context
	results     chan stepOutcome
	dispatched  map[string]bool
	inflight    int
	halt        bool // stop dispatching: fail-fast tripped or cancel observed
	startedAt   time.Time
	logger      *slog.Logger
}

// loop drives the run to a terminal state. Each tick: propagate skips from
// failed or skipped ancestors, dispatch every ready step, then block for one
// outcome. The loop ends when nothing is in flight and nothing can be
// dispatched.
func (r *runState) loop(ctx context.Context) *Result {
	for {
		r.tick(ctx)

		if r.inflight == 0 {
			r.finalizeRemaining(ctx)

			return r.buildResult()
		}

		outcome := <-r.results
		r.inflight--
		r.apply(ctx, outcome)
	}
}

// tick runs skip propagation and dispatch to a fixpoint: completing a
// disabled step synchronously can make further steps ready in the same tick.
func (r *runState) tick(ctx context.Context) {
	for {
		progressed := r.propagateSkips(ctx)

		if r.cancelObserved() {
			r.halt = true
		}

		if !r.halt && r.dispatchReady(ctx) {
			progressed = true
		}

		if !progressed {
			return
		}
	}
}

func (r *runState) cancelObserved() bool {
	e := r.executor

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cancelRequested
}

// propagateSkips marks every pending step with a failed, skipped or cancelled
// dependency as skipped. Returns whether any state changed.
func (r *runState) propagateSkips(ctx context.Context) bool {
	e := r.executor
	changed := false

	for {
		round := false

		for _, id := range e.graph.StepIDs() {
			if e.stateOf(id) != models.StepStatePending || r.dispatched[id] {
				continue
			}

			cause, blocked := r.blockedBy(id)
			if !blocked {
				continue
			}

			e.setState(id, models.StepStateSkipped)
			r.publishStepSkipped(ctx, id, cause)
			r.logger.InfoContext(ctx, "Step skipped", "step_id", id, "cause", cause)

			round = true
		}

		if !round {
			return changed
		}

		changed = true
	}
}

// blockedBy returns the first dependency of id that ended failed, skipped or
// cancelled.
func (r *runState) blockedBy(id string) (string, bool) {
	e := r.executor

	for _, dep := range e.graph.Dependencies(id) {
		switch e.stateOf(dep) {
		case models.StepStateFailed, models.StepStateSkipped, models.StepStateCancelled:
			return dep, true
		}
	}

	return "", false
}

// dispatchReady launches every ready, not-yet-dispatched step. Disabled steps
// and parallel markers complete synchronously. Returns whether any state
// changed.
func (r *runState) dispatchReady(ctx context.Context) bool {
	e := r.executor

	completed := make(map[string]bool, e.graph.Len())

	for _, id := range e.graph.StepIDs() {
		if e.stateOf(id) == models.StepStateCompleted {
			completed[id] = true
		}
	}

	changed := false

	for _, id := range e.graph.ReadySteps(completed) {
		if r.dispatched[id] || e.stateOf(id) != models.StepStatePending {
			continue
		}

		step, _ := e.graph.Step(id)
		r.dispatched[id] = true
		changed = true

		e.setState(id, models.StepStateReady)

		if !step.Enabled || step.Type == models.StepTypeParallel {
			// Nothing to run: the step completes in place and may release
			// its dependents within this same tick.
			e.setState(id, models.StepStateRunning)
			e.setState(id, models.StepStateCompleted)
			r.publishStepCompleted(ctx, id, nil, 0)
			r.logger.DebugContext(ctx, "Step completed in place",
				"step_id", id, "enabled", step.Enabled, "step_type", step.Type)

			continue
		}

		e.setState(id, models.StepStateRunning)
		if step.IsApproval() {
			e.setState(id, models.StepStateAwaitingApproval)
		}

		r.publishStepStarted(ctx, step)
		r.logger.InfoContext(ctx, "Dispatching step",
			"step_id", id, "step_name", step.Name, "step_type", step.Type)

		r.inflight++

		go r.runStep(ctx, step)
	}

	return changed
}

// runStep executes one dispatched step on its own goroutine: acquire an
// in-flight slot, open a span, execute by kind, report the outcome.
func (r *runState) runStep(ctx context.Context, step *models.WorkflowStep) {
	e := r.executor

	permit, err := e.dispatch.Acquire(ctx)
	if err != nil {
		r.results <- stepOutcome{stepID: step.ID, state: models.StepStateFailed, err: err}

		return
	}
	defer permit.Release()

	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(tracing.WorkflowIDKey, e.workflow.ID),
		attribute.String(tracing.ExecutionIDKey, r.execCtx.ID),
		attribute.String(tracing.StepIDKey, step.ID),
		attribute.String(tracing.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	outcome := r.execute(ctx, step)
	outcome.duration = time.Since(start)

	if outcome.err != nil {
		tracing.SetError(span, outcome.err)
	}

	r.results <- outcome
}

func (r *runState) execute(ctx context.Context, step *models.WorkflowStep) stepOutcome {
	switch step.Type {
	case models.StepTypeApproval:
		return r.executeApproval(ctx, step)
	case models.StepTypeConditional:
		return r.executeConditional(ctx, step)
	default:
		return r.executeAction(ctx, step)
	}
}

func (r *runState) executeConditional(ctx context.Context, step *models.WorkflowStep) stepOutcome {
	ok, err := step.Condition(ctx, r.snapshotExecCtx())
	if err != nil {
		return stepOutcome{
			stepID: step.ID,
			state:  models.StepStateFailed,
			err:    fmt.Errorf("condition for step %s: %w", step.ID, err),
		}
	}

	if !ok {
		return stepOutcome{stepID: step.ID, state: models.StepStateSkipped, cause: CauseConditionFalse}
	}

	if step.Action != nil {
		return r.executeAction(ctx, step)
	}

	return stepOutcome{stepID: step.ID, state: models.StepStateCompleted}
}

func (r *runState) executeAction(ctx context.Context, step *models.WorkflowStep) stepOutcome {
	e := r.executor

	if e.registry == nil || step.Action == nil {
		return stepOutcome{
			stepID: step.ID,
			state:  models.StepStateFailed,
			err:    fmt.Errorf("step %s: no action registry configured", step.ID),
		}
	}

	config := make(map[string]any, len(step.Action.Configuration)+1)
	for k, v := range step.Action.Configuration {
		config[k] = v
	}

	config["id"] = step.Action.ID

	action, err := e.registry.CreateAction(step.Action.Type, config)
	if err != nil {
		return stepOutcome{stepID: step.ID, state: models.StepStateFailed, err: err}
	}

	snapshot := r.snapshotExecCtx()
	logger := r.logger.With("step_id", step.ID, "action_type", step.Action.Type)

	var output any

	op := func(ctx context.Context) error {
		result, err := action.Execute(ctx, snapshot, logger)
		if err != nil {
			return fmt.Errorf("action %s: %w", step.Action.Type, err)
		}

		output = result

		return nil
	}

	if e.resilience != nil {
		err = e.resilience.Execute(ctx, op)
	} else {
		err = op(ctx)
	}

	if err != nil {
		return stepOutcome{stepID: step.ID, state: models.StepStateFailed, err: err}
	}

	return stepOutcome{stepID: step.ID, state: models.StepStateCompleted, output: output}
}

func (r *runState) executeApproval(ctx context.Context, step *models.WorkflowStep) stepOutcome {
	e := r.executor

	if e.gate == nil {
		return stepOutcome{
			stepID: step.ID,
			state:  models.StepStateFailed,
			err:    fmt.Errorf("step %s: no approval gate configured", step.ID),
		}
	}

	spec := step.Approval

	approvalID, err := e.gate.RequestApproval(ctx, models.ApprovalRequest{
		WorkflowID:  e.workflow.ID,
		ExecutionID: r.execCtx.ID,
		StepID:      step.ID,
		Title:       spec.Title,
		Description: spec.Description,
		Context:     spec.Context,
		TimeoutSecs: spec.TimeoutSecs,
	})
	if err != nil {
		return stepOutcome{stepID: step.ID, state: models.StepStateFailed, err: err}
	}

	// The wait runs on the approval context, which Cancel() cancels
	// independently of the step deadline.
	decision, err := e.gate.WaitForDecision(r.approvalCtx, approvalID, e.approvalInterval)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = e.gate.Cancel(context.WithoutCancel(ctx), approvalID)

			return stepOutcome{
				stepID: step.ID,
				state:  models.StepStateFailed,
				reason: ReasonApprovalCancelled,
				err:    fmt.Errorf("approval for step %s cancelled: %w", step.ID, err),
			}
		}

		return stepOutcome{stepID: step.ID, state: models.StepStateFailed, err: err}
	}

	switch decision.Status {
	case models.ApprovalStatusApproved:
		return stepOutcome{
			stepID: step.ID,
			state:  models.StepStateCompleted,
			output: map[string]any{
				"approver": decision.Approver,
				"message":  decision.ResponseMessage,
			},
		}
	case models.ApprovalStatusDenied:
		return stepOutcome{
			stepID: step.ID,
			state:  models.StepStateFailed,
			reason: ReasonApprovalDenied,
			err:    fmt.Errorf("approval for step %s denied by %s", step.ID, decision.Approver),
		}
	case models.ApprovalStatusTimeout:
		return stepOutcome{
			stepID: step.ID,
			state:  models.StepStateFailed,
			reason: ReasonApprovalTimeout,
			err:    fmt.Errorf("approval for step %s timed out after %ds", step.ID, spec.TimeoutSecs),
		}
	default:
		return stepOutcome{
			stepID: step.ID,
			state:  models.StepStateFailed,
			reason: ReasonApprovalCancelled,
			err:    fmt.Errorf("approval for step %s cancelled", step.ID),
		}
	}
}

// apply folds one outcome into the state map.
func (r *runState) apply(ctx context.Context, o stepOutcome) {
	e := r.executor

	switch o.state {
	case models.StepStateCompleted:
		e.mu.Lock()
		e.states[o.stepID] = models.StepStateCompleted

		if step, ok := e.graph.Step(o.stepID); ok {
			r.execCtx.StepResults[step.UID] = o.output
		}
		e.mu.Unlock()

		r.publishStepCompleted(ctx, o.stepID, o.output, o.duration)
		r.logger.InfoContext(ctx, "Step completed", "step_id", o.stepID, "duration", o.duration)

	case models.StepStateSkipped:
		e.setState(o.stepID, models.StepStateSkipped)
		r.publishStepSkipped(ctx, o.stepID, o.cause)
		r.logger.InfoContext(ctx, "Step skipped", "step_id", o.stepID, "cause", o.cause)

	case models.StepStateFailed:
		e.mu.Lock()
		e.states[o.stepID] = models.StepStateFailed
		e.stepErrors[o.stepID] = o.err
		e.mu.Unlock()

		r.publishStepFailed(ctx, o, o.reason)
		r.logger.ErrorContext(ctx, "Step failed",
			"step_id", o.stepID, "reason", o.reason, "error", o.err)

		if !e.continueOnFailure {
			r.halt = true
		}
	}
}

// finalizeRemaining settles every step the loop will no longer touch: on a
// cancelled run they end cancelled, on a halted run skipped.
func (r *runState) finalizeRemaining(ctx context.Context) {
	e := r.executor
	cancelled := r.cancelObserved()

	for _, id := range e.graph.StepIDs() {
		state := e.stateOf(id)
		if state.IsTerminal() {
			continue
		}

		if cancelled {
			e.setState(id, models.StepStateCancelled)
			r.publishStepCancelled(ctx, id)
			r.logger.InfoContext(ctx, "Step cancelled", "step_id", id)

			continue
		}

		e.setState(id, models.StepStateSkipped)
		r.publishStepSkipped(ctx, id, CauseFailFast)
		r.logger.InfoContext(ctx, "Step skipped", "step_id", id, "cause", CauseFailFast)
	}
}

func (r *runState) buildResult() *Result {
	e := r.executor

	e.mu.Lock()

	states := make(map[string]models.StepState, len(e.states))
	for id, state := range e.states {
		states[id] = state
	}

	stepErrors := make(map[string]error, len(e.stepErrors))
	for id, err := range e.stepErrors {
		stepErrors[id] = err
	}

	output := make(map[string]any, len(r.execCtx.StepResults))
	for uid, result := range r.execCtx.StepResults {
		output[uid] = result
	}

	cancelled := e.cancelRequested
	e.mu.Unlock()

	status := models.RunStatusCompleted

	switch {
	case cancelled:
		status = models.RunStatusCancelled
	case len(stepErrors) > 0 || len(stepsInState(states, models.StepStateFailed)) > 0:
		status = models.RunStatusFailed
	}

	return &Result{
		Status:      status,
		StepStates:  states,
		StepErrors:  stepErrors,
		Duration:    time.Since(r.startedAt),
		ExecutionID: r.execCtx.ID,
		Output:      output,
	}
}

// snapshotExecCtx copies the execution context so step goroutines never read
// the live StepResults map while the loop writes it.
func (r *runState) snapshotExecCtx() models.ExecutionContext {
	e := r.executor

	e.mu.Lock()
	defer e.mu.Unlock()

	results := make(map[string]any, len(r.execCtx.StepResults))
	for uid, result := range r.execCtx.StepResults {
		results[uid] = result
	}

	snapshot := r.execCtx
	snapshot.StepResults = results

	return snapshot
}

func (e *Executor) stateOf(stepID string) models.StepState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.states[stepID]
}

func (e *Executor) setState(stepID string, state models.StepState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.states[stepID] = state
}

func sortStrings(ids []string) {
	sort.Strings(ids)
}

// Package workflow runs one workflow to completion: it owns the per-run step
// state map, evaluates readiness against the immutable dependency graph each
// tick, dispatches ready steps concurrently under a bounded in-flight budget
// and decides the terminal run status.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenzaflow/cadenza/pkg/approval"
	"github.com/cadenzaflow/cadenza/pkg/dag"
	"github.com/cadenzaflow/cadenza/pkg/eventbus"
	"github.com/cadenzaflow/cadenza/pkg/models"
	"github.com/cadenzaflow/cadenza/pkg/registry"
	"github.com/cadenzaflow/cadenza/pkg/resilience"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultMaxInFlight      = 8
	defaultApprovalInterval = time.Second
)

// Failure reason codes surfaced on failed steps.
const (
	ReasonApprovalDenied    = "approval_denied"
	ReasonApprovalTimeout   = "approval_timeout"
	ReasonApprovalCancelled = "approval_cancelled"
)

// Skip causes surfaced on skipped steps.
const (
	CauseConditionFalse = "condition_false"
	CauseFailFast       = "fail_fast"
)

// Executor runs exactly one workflow once. The state map is owned by the run
// loop (single writer); the dag stays read-only throughout, so readiness can
// be evaluated without graph locking. Executors must not be shared across
// runs; shared resources (breakers, bulkheads) are passed in instead.
type Executor struct {
	workflow   *models.Workflow
	graph      *dag.Dag
	registry   *registry.Registry
	resilience *resilience.Executor
	gate       *approval.Gate
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger

	dispatch          *resilience.Bulkhead
	maxInFlight       int
	approvalInterval  time.Duration
	continueOnFailure bool

	mu              sync.Mutex
	status          models.RunStatus
	states          map[string]models.StepState
	stepErrors      map[string]error
	cancelRequested bool
	cancelApprovals context.CancelFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithRegistry supplies the action factories for action steps.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Executor) { e.registry = r }
}

// WithResilienceExecutor protects every action invocation. Callers share
// breakers and bulkheads across runs by building the resilience executor from
// shared instances.
func WithResilienceExecutor(r *resilience.Executor) Option {
	return func(e *Executor) { e.resilience = r }
}

// WithApprovalGate supplies the gate approval steps suspend on.
func WithApprovalGate(g *approval.Gate) Option {
	return func(e *Executor) { e.gate = g }
}

// WithEventPublisher emits lifecycle events for external consumers.
func WithEventPublisher(p eventbus.EventPublisher) Option {
	return func(e *Executor) { e.publisher = p }
}

// WithMaxInFlight bounds concurrently executing steps for this run.
func WithMaxInFlight(n int) Option {
	return func(e *Executor) { e.maxInFlight = n }
}

// WithApprovalPollInterval tunes how often approval waits re-check the gate.
func WithApprovalPollInterval(d time.Duration) Option {
	return func(e *Executor) { e.approvalInterval = d }
}

// WithContinueOnFailure keeps dispatching unaffected branches after a step
// fails; only transitive dependents are skipped. Default is fail-fast.
func WithContinueOnFailure() Option {
	return func(e *Executor) { e.continueOnFailure = true }
}

// WithTracer wraps each step execution in a span.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithLogger sets the run logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor validates the workflow, builds its dependency graph and
// prepares a single-run executor.
func NewExecutor(wf *models.Workflow, opts ...Option) (*Executor, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	graph, err := dag.Build(wf.Steps)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		workflow:         wf,
		graph:            graph,
		publisher:        eventbus.NopPublisher{},
		tracer:           noop.NewTracerProvider().Tracer("cadenza"),
		logger:           slog.Default(),
		maxInFlight:      defaultMaxInFlight,
		approvalInterval: defaultApprovalInterval,
		status:           models.RunStatusNotStarted,
		states:           make(map[string]models.StepState, graph.Len()),
		stepErrors:       make(map[string]error),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.maxInFlight <= 0 {
		e.maxInFlight = defaultMaxInFlight
	}

	e.dispatch = resilience.NewBulkhead(resilience.BulkheadConfig{
		Name:          "dispatch:" + wf.ID,
		MaxConcurrent: e.maxInFlight,
	})

	for _, id := range graph.StepIDs() {
		e.states[id] = models.StepStatePending
	}

	e.logger = e.logger.With("module", "workflow_executor", "workflow_id", wf.ID)

	return e, nil
}

// Status returns the run's current lifecycle state.
func (e *Executor) Status() models.RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

// StepStates returns a snapshot of the per-step states.
func (e *Executor) StepStates() map[string]models.StepState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]models.StepState, len(e.states))
	for id, state := range e.states {
		out[id] = state
	}

	return out
}

// Cancel stops new dispatch and interrupts approval waits. In-flight steps
// finish or time out on their own; never-dispatched steps end cancelled,
// distinct from skipped.
func (e *Executor) Cancel() {
	e.mu.Lock()
	e.cancelRequested = true
	cancelApprovals := e.cancelApprovals
	e.mu.Unlock()

	if cancelApprovals != nil {
		cancelApprovals()
	}
}

// Result is the terminal report of one run.
type Result struct {
	Status      models.RunStatus
	StepStates  map[string]models.StepState
	StepErrors  map[string]error
	Duration    time.Duration
	ExecutionID string
	Output      map[string]any // step results keyed by step UID
}

// FailedSteps lists the ids of steps that ended failed, sorted by id.
func (r *Result) FailedSteps() []string {
	return stepsInState(r.StepStates, models.StepStateFailed)
}

// Run executes the workflow until every step is terminal, the run is
// cancelled, or fail-fast stops it. The returned Result always describes a
// terminal run; the error reports misuse (such as a second Run) or a context
// cancellation that prevented the run from finishing cleanly.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()

	if e.status != models.RunStatusNotStarted {
		status := e.status
		e.mu.Unlock()

		return nil, fmt.Errorf("workflow run already %s", status)
	}

	e.status = models.RunStatusRunning

	approvalCtx, cancelApprovals := context.WithCancel(ctx)
	e.cancelApprovals = cancelApprovals
	e.mu.Unlock()

	defer cancelApprovals()

	run := &runState{
		executor: e,
		execCtx: models.ExecutionContext{
			ID:          "exec-" + uuid.New().String()[:8],
			WorkflowID:  e.workflow.ID,
			Variables:   e.workflow.Variables,
			StepResults: make(map[string]any),
			Metadata:    make(map[string]any),
		},
		approvalCtx: approvalCtx,
		results:     make(chan stepOutcome),
		dispatched:  make(map[string]bool, e.graph.Len()),
		startedAt:   time.Now(),
	}

	run.logger = e.logger.With("execution_id", run.execCtx.ID)
	run.logger.InfoContext(ctx, "Starting workflow run", "steps", e.graph.Len())
	run.publishRunStarted(ctx)

	result := run.loop(ctx)

	e.mu.Lock()
	e.status = result.Status
	e.mu.Unlock()

	run.publishRunFinished(ctx, result)
	run.logger.InfoContext(ctx, "Workflow run finished",
		"status", result.Status, "duration", result.Duration)

	if ctx.Err() != nil && result.Status != models.RunStatusCompleted {
		return result, ctx.Err()
	}

	return result, nil
}

func stepsInState(states map[string]models.StepState, want models.StepState) []string {
	out := make([]string, 0, len(states))

	for id, state := range states {
		if state == want {
			out = append(out, id)
		}
	}

	sortStrings(out)

	return out
}

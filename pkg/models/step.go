package models

import "context"

// StepType discriminates the step kinds the executor knows how to dispatch.
type StepType string

const (
	StepTypeAction      StepType = "action"      // Invokes a registered action through the resilience executor
	StepTypeApproval    StepType = "approval"    // Suspends the run until a human decision or timeout
	StepTypeParallel    StepType = "parallel"    // Structural fan-out marker, completes immediately
	StepTypeConditional StepType = "conditional" // Runs only when its bound condition evaluates true
)

// ConditionFunc decides whether a conditional step runs. A false result marks
// the step skipped, not failed.
type ConditionFunc func(ctx context.Context, execCtx ExecutionContext) (bool, error)

// ActionItem is the opaque action descriptor carried by action steps. The core
// never interprets the configuration; it is handed to the registered factory.
type ActionItem struct {
	ID            string         `json:"id"`
	Type          string         `json:"type" validate:"required"`
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration"`
}

// ApprovalSpec configures an approval step: what the human sees and how long
// the pending request stays open before it times out.
type ApprovalSpec struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	TimeoutSecs int64          `json:"timeout_secs" validate:"min=0"`
	Context     map[string]any `json:"context,omitempty"`
}

// WorkflowStep is one node of the workflow graph. Dependencies reference other
// step ids in the same workflow; they must resolve and must not reference the
// step itself. A step is a tagged union over StepType: exactly the fields of
// its kind are consulted at dispatch time.
type WorkflowStep struct {
	ID           string        `json:"id"           validate:"required"`
	UID          string        `json:"uid"          validate:"required,lowercase,alphanum"`
	Name         string        `json:"name"         validate:"required"`
	Type         StepType      `json:"type"         validate:"required,oneof=action approval parallel conditional"`
	Action       *ActionItem   `json:"action,omitempty"`
	Approval     *ApprovalSpec `json:"approval,omitempty"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Enabled      bool          `json:"enabled"`

	// Condition is bound in code by the caller for conditional steps. It is
	// deliberately not part of the serialized definition: a rule DSL is out
	// of scope.
	Condition ConditionFunc `json:"-"`
}

func (s *WorkflowStep) IsApproval() bool {
	return s.Type == StepTypeApproval
}

func (s *WorkflowStep) IsConditional() bool {
	return s.Type == StepTypeConditional
}

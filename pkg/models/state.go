package models

// StepState is the execution state of one step within a run. The state map is
// owned by a single run executor; the graph itself never carries state.
type StepState string

const (
	StepStatePending          StepState = "pending"
	StepStateReady            StepState = "ready"
	StepStateRunning          StepState = "running"
	StepStateAwaitingApproval StepState = "awaiting_approval"
	StepStateCompleted        StepState = "completed"
	StepStateFailed           StepState = "failed"
	StepStateSkipped          StepState = "skipped"
	StepStateCancelled        StepState = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s StepState) IsTerminal() bool {
	switch s {
	case StepStateCompleted, StepStateFailed, StepStateSkipped, StepStateCancelled:
		return true
	default:
		return false
	}
}

// stepTransitions enumerates the legal state machine edges.
var stepTransitions = map[StepState][]StepState{
	StepStatePending:          {StepStateReady, StepStateSkipped, StepStateCancelled},
	StepStateReady:            {StepStateRunning, StepStateSkipped, StepStateCancelled},
	StepStateRunning:          {StepStateAwaitingApproval, StepStateCompleted, StepStateFailed, StepStateSkipped},
	StepStateAwaitingApproval: {StepStateCompleted, StepStateFailed},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s StepState) CanTransition(next StepState) bool {
	for _, allowed := range stepTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// RunStatus is the lifecycle state of one workflow run.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "not_started"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

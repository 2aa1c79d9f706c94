package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel validation errors. Every build failure wraps one of these, so
// callers can match with errors.Is while still reading the offending ids
// from the typed error.
var (
	ErrEmptyWorkflow     = errors.New("dag: workflow has no steps")
	ErrDuplicateStepID   = errors.New("dag: duplicate step id")
	ErrMissingDependency = errors.New("dag: dependency does not resolve")
	ErrCycleDetected     = errors.New("dag: dependency cycle detected")
	ErrUnknownStep       = errors.New("dag: unknown step id")
)

// DuplicateStepIDError reports a step id declared more than once.
type DuplicateStepIDError struct {
	StepID string
}

func (e *DuplicateStepIDError) Error() string {
	return fmt.Sprintf("dag: duplicate step id %q", e.StepID)
}

func (e *DuplicateStepIDError) Unwrap() error { return ErrDuplicateStepID }

// MissingDependencyError reports a dependency edge pointing at a step id that
// does not exist in the workflow. A self-reference is reported the same way.
type MissingDependencyError struct {
	StepID     string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	if e.StepID == e.Dependency {
		return fmt.Sprintf("dag: step %q depends on itself", e.StepID)
	}

	return fmt.Sprintf("dag: step %q depends on unknown step %q", e.StepID, e.Dependency)
}

func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }

// CycleError reports one concrete offending cycle, e.g. "a -> b -> a".
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dag: dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the field-level constraints of a workflow definition plus
// the per-kind step requirements the struct tags cannot express. Graph-level
// validation (cycles, unresolved dependencies) belongs to the dag package.
func (w *Workflow) Validate() error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("invalid workflow %q: %w", w.ID, err)
	}

	for _, step := range w.Steps {
		if err := step.validateKind(); err != nil {
			return fmt.Errorf("invalid workflow %q: %w", w.ID, err)
		}
	}

	return nil
}

func (s *WorkflowStep) validateKind() error {
	switch s.Type {
	case StepTypeAction:
		if s.Action == nil {
			return fmt.Errorf("step %q: action steps require an action descriptor", s.ID)
		}
	case StepTypeApproval:
		if s.Approval == nil {
			return fmt.Errorf("step %q: approval steps require an approval spec", s.ID)
		}
	case StepTypeConditional:
		if s.Condition == nil {
			return fmt.Errorf("step %q: conditional steps require a bound condition", s.ID)
		}
	case StepTypeParallel:
		// Structural marker, nothing to configure.
	}

	return nil
}

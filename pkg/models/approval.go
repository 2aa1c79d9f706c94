package models

import "time"

// ApprovalStatus is the state of one human-in-the-loop decision.
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusDenied    ApprovalStatus = "denied"
	ApprovalStatusTimeout   ApprovalStatus = "timeout"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
)

// IsResolved reports whether the request reached a terminal status.
func (s ApprovalStatus) IsResolved() bool {
	return s != ApprovalStatusPending
}

// ApprovalRequest is one pending (or resolved) human decision, bound to one
// step of one run. At most one open request exists per (execution, step).
type ApprovalRequest struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"  validate:"required"`
	ExecutionID     string         `json:"execution_id" validate:"required"`
	StepID          string         `json:"step_id"      validate:"required"`
	Status          ApprovalStatus `json:"status"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Context         map[string]any `json:"context,omitempty"`
	TimeoutSecs     int64          `json:"timeout_secs" validate:"min=0"`
	Approver        string         `json:"approver,omitempty"`
	ResponseMessage string         `json:"response_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// ExpiresAt returns the instant a still-pending request times out.
func (r *ApprovalRequest) ExpiresAt() time.Time {
	return r.CreatedAt.Add(time.Duration(r.TimeoutSecs) * time.Second)
}

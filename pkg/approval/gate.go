// Package approval stores pending human-in-the-loop decisions and resolves
// them by explicit approval, denial, cancellation or lazy timeout.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenzaflow/cadenza/pkg/events"
	"github.com/cadenzaflow/cadenza/pkg/eventbus"
	"github.com/cadenzaflow/cadenza/pkg/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("approval: request not found")
	ErrAlreadyResolved = errors.New("approval: request already resolved")
	ErrDuplicateOpen   = errors.New("approval: step already has an open request")
)

// Gate is the in-memory store of approval requests for one process. Expiry is
// evaluated lazily at check time, so there is no background timer; freshness
// depends on callers polling, which WaitForDecision does.
type Gate struct {
	logger    *slog.Logger
	publisher eventbus.EventPublisher

	mu       sync.Mutex
	requests map[string]*models.ApprovalRequest
	open     map[string]string // "<execution>/<step>" -> open request id

	now func() time.Time
}

func NewGate(logger *slog.Logger, publisher eventbus.EventPublisher) *Gate {
	if logger == nil {
		logger = slog.Default()
	}

	if publisher == nil {
		publisher = eventbus.NopPublisher{}
	}

	return &Gate{
		logger:    logger.With("module", "approval_gate"),
		publisher: publisher,
		requests:  make(map[string]*models.ApprovalRequest),
		open:      make(map[string]string),
		now:       time.Now,
	}
}

func openKey(executionID, stepID string) string {
	return executionID + "/" + stepID
}

// RequestApproval stores a new pending request and emits an event for the
// external notifier. At most one open request may exist per (run, step).
func (g *Gate) RequestApproval(ctx context.Context, req models.ApprovalRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	req.Status = models.ApprovalStatusPending
	req.CreatedAt = g.now()
	req.ResolvedAt = nil

	g.mu.Lock()

	if _, exists := g.requests[req.ID]; exists {
		g.mu.Unlock()

		return "", fmt.Errorf("approval: request id %q already exists", req.ID)
	}

	key := openKey(req.ExecutionID, req.StepID)
	if openID, exists := g.open[key]; exists {
		g.mu.Unlock()

		return "", fmt.Errorf("%w: step %q (open request %s)", ErrDuplicateOpen, req.StepID, openID)
	}

	stored := req
	g.requests[req.ID] = &stored
	g.open[key] = req.ID
	g.mu.Unlock()

	g.logger.InfoContext(ctx, "Approval requested",
		"approval_id", req.ID, "workflow_id", req.WorkflowID, "step_id", req.StepID,
		"timeout_secs", req.TimeoutSecs)

	event := events.ApprovalRequested{
		BaseEvent:   events.NewBase(events.ApprovalRequestedEvent, req.WorkflowID),
		ApprovalID:  req.ID,
		ExecutionID: req.ExecutionID,
		StepID:      req.StepID,
		Title:       req.Title,
		Description: req.Description,
		Context:     req.Context,
		TimeoutSecs: req.TimeoutSecs,
	}
	if err := g.publisher.Publish(ctx, req.WorkflowID, event); err != nil {
		g.logger.WarnContext(ctx, "Failed to publish approval request event", "error", err)
	}

	return req.ID, nil
}

// CheckApproval returns the request's current state, expiring a pending
// request whose age has reached its timeout. timeout_secs = 0 expires on the
// first check.
func (g *Gate) CheckApproval(ctx context.Context, approvalID string) (models.ApprovalRequest, error) {
	g.mu.Lock()

	req, exists := g.requests[approvalID]
	if !exists {
		g.mu.Unlock()

		return models.ApprovalRequest{}, fmt.Errorf("%w: %s", ErrNotFound, approvalID)
	}

	expired := req.Status == models.ApprovalStatusPending && !g.now().Before(req.ExpiresAt())
	if expired {
		g.resolveLocked(req, models.ApprovalStatusTimeout, "", "")
	}

	snapshot := *req
	g.mu.Unlock()

	if expired {
		g.publishResolved(ctx, snapshot)
	}

	return snapshot, nil
}

// Approve resolves a pending request positively.
func (g *Gate) Approve(ctx context.Context, approvalID, approver, message string) error {
	return g.resolve(ctx, approvalID, models.ApprovalStatusApproved, approver, message)
}

// Deny resolves a pending request negatively.
func (g *Gate) Deny(ctx context.Context, approvalID, approver, message string) error {
	return g.resolve(ctx, approvalID, models.ApprovalStatusDenied, approver, message)
}

// Cancel resolves a pending request as cancelled, e.g. when its run stops.
func (g *Gate) Cancel(ctx context.Context, approvalID string) error {
	return g.resolve(ctx, approvalID, models.ApprovalStatusCancelled, "", "")
}

func (g *Gate) resolve(ctx context.Context, approvalID string, status models.ApprovalStatus, approver, message string) error {
	g.mu.Lock()

	req, exists := g.requests[approvalID]
	if !exists {
		g.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrNotFound, approvalID)
	}

	// A pending request past its deadline resolves as timeout, beating the
	// caller's decision.
	if req.Status == models.ApprovalStatusPending && !g.now().Before(req.ExpiresAt()) {
		g.resolveLocked(req, models.ApprovalStatusTimeout, "", "")
		snapshot := *req
		g.mu.Unlock()

		g.publishResolved(ctx, snapshot)

		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, approvalID, snapshot.Status)
	}

	if req.Status != models.ApprovalStatusPending {
		status := req.Status
		g.mu.Unlock()

		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, approvalID, status)
	}

	g.resolveLocked(req, status, approver, message)
	snapshot := *req
	g.mu.Unlock()

	g.logger.InfoContext(ctx, "Approval resolved",
		"approval_id", approvalID, "status", status, "approver", approver)
	g.publishResolved(ctx, snapshot)

	return nil
}

func (g *Gate) resolveLocked(req *models.ApprovalRequest, status models.ApprovalStatus, approver, message string) {
	now := g.now()
	req.Status = status
	req.Approver = approver
	req.ResponseMessage = message
	req.ResolvedAt = &now

	delete(g.open, openKey(req.ExecutionID, req.StepID))
}

func (g *Gate) publishResolved(ctx context.Context, req models.ApprovalRequest) {
	event := events.ApprovalResolved{
		BaseEvent:       events.NewBase(events.ApprovalResolvedEvent, req.WorkflowID),
		ApprovalID:      req.ID,
		ExecutionID:     req.ExecutionID,
		StepID:          req.StepID,
		Status:          req.Status,
		Approver:        req.Approver,
		ResponseMessage: req.ResponseMessage,
	}
	if err := g.publisher.Publish(ctx, req.WorkflowID, event); err != nil {
		g.logger.WarnContext(ctx, "Failed to publish approval resolution event", "error", err)
	}
}

// WaitForDecision polls CheckApproval until the request leaves pending or ctx
// is done. This is the suspension point run executors use for approval steps;
// it holds no lock while sleeping and observes cancellation on the next poll.
func (g *Gate) WaitForDecision(ctx context.Context, approvalID string, pollInterval time.Duration) (models.ApprovalRequest, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	for {
		req, err := g.CheckApproval(ctx, approvalID)
		if err != nil {
			return models.ApprovalRequest{}, err
		}

		if req.Status.IsResolved() {
			return req, nil
		}

		select {
		case <-ctx.Done():
			return models.ApprovalRequest{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Pending lists the currently pending requests, without evaluating expiry.
func (g *Gate) Pending() []models.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]models.ApprovalRequest, 0, len(g.open))

	for _, id := range g.open {
		if req, ok := g.requests[id]; ok && req.Status == models.ApprovalStatusPending {
			out = append(out, *req)
		}
	}

	return out
}

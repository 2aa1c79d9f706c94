package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cadenzaflow/cadenza/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(stepID string, timeoutSecs int64) models.ApprovalRequest {
	return models.ApprovalRequest{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		StepID:      stepID,
		Title:       "Deploy to production",
		TimeoutSecs: timeoutSecs,
	}
}

func TestGate_RequestAndApprove(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 3600))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	req, err := gate.CheckApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, req.Status)

	require.NoError(t, gate.Approve(ctx, id, "alice", "looks good"))

	req, err = gate.CheckApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, req.Status)
	assert.Equal(t, "alice", req.Approver)
	assert.Equal(t, "looks good", req.ResponseMessage)
	require.NotNil(t, req.ResolvedAt)
}

func TestGate_Deny(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 3600))
	require.NoError(t, err)

	require.NoError(t, gate.Deny(ctx, id, "bob", "not during the freeze"))

	req, err := gate.CheckApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusDenied, req.Status)
}

func TestGate_DoubleResolutionFails(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 3600))
	require.NoError(t, err)

	require.NoError(t, gate.Approve(ctx, id, "alice", ""))

	err = gate.Deny(ctx, id, "bob", "")
	require.ErrorIs(t, err, ErrAlreadyResolved)

	// The first resolution stands.
	req, err := gate.CheckApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, req.Status)
	assert.Equal(t, "alice", req.Approver)
}

func TestGate_UnknownRequest(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	_, err := gate.CheckApproval(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = gate.Approve(ctx, "missing", "alice", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGate_LazyExpiry(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	now := time.Now()
	gate.now = func() time.Time { return now }

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 60))
	require.NoError(t, err)

	// Still pending one second before the deadline.
	now = now.Add(59 * time.Second)

	req, err := gate.CheckApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, req.Status)

	now = now.Add(time.Second)

	req, err = gate.CheckApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusTimeout, req.Status)
}

func TestGate_ZeroTimeoutExpiresOnFirstCheck(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 0))
	require.NoError(t, err)

	req, err := gate.CheckApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusTimeout, req.Status)
}

func TestGate_ExpiryBeatsLateApproval(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	now := time.Now()
	gate.now = func() time.Time { return now }

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 60))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	err = gate.Approve(ctx, id, "alice", "too late")
	require.ErrorIs(t, err, ErrAlreadyResolved)

	req, err := gate.CheckApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusTimeout, req.Status)
	assert.Empty(t, req.Approver)
}

func TestGate_DuplicateOpenRequestRejected(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 3600))
	require.NoError(t, err)

	_, err = gate.RequestApproval(ctx, newRequest("deploy", 3600))
	assert.ErrorIs(t, err, ErrDuplicateOpen)

	// Resolving the open request frees the slot.
	require.NoError(t, gate.Approve(ctx, id, "alice", ""))

	_, err = gate.RequestApproval(ctx, newRequest("deploy", 3600))
	assert.NoError(t, err)
}

func TestGate_Cancel(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 3600))
	require.NoError(t, err)

	require.NoError(t, gate.Cancel(ctx, id))

	req, err := gate.CheckApproval(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusCancelled, req.Status)
}

func TestGate_WaitForDecision(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 3600))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = gate.Approve(ctx, id, "alice", "")
	}()

	req, err := gate.WaitForDecision(ctx, id, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, req.Status)
}

func TestGate_WaitForDecisionHonorsContext(t *testing.T) {
	gate := NewGate(nil, nil)

	id, err := gate.RequestApproval(context.Background(), newRequest("deploy", 3600))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = gate.WaitForDecision(ctx, id, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGate_Pending(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	first, err := gate.RequestApproval(ctx, newRequest("deploy", 3600))
	require.NoError(t, err)

	_, err = gate.RequestApproval(ctx, newRequest("teardown", 3600))
	require.NoError(t, err)

	require.Len(t, gate.Pending(), 2)

	require.NoError(t, gate.Approve(ctx, first, "alice", ""))
	assert.Len(t, gate.Pending(), 1)
}

func TestGate_ConcurrentResolutionsExactlyOneWins(t *testing.T) {
	gate := NewGate(nil, nil)
	ctx := context.Background()

	id, err := gate.RequestApproval(ctx, newRequest("deploy", 3600))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := gate.Approve(ctx, id, "racer", ""); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, wins)
}

package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/cadenzaflow/cadenza/pkg/channels/gochannel"
	"github.com/cadenzaflow/cadenza/pkg/events"
	"github.com/cadenzaflow/cadenza/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub := gochannel.CreateTestChannel(watermill.NopLogger{})
	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	received := make(chan *events.StepCompleted, 1)

	err := bus.Handle(events.StepCompletedEvent, func(_ context.Context, event any) error {
		completed, ok := event.(*events.StepCompleted)
		require.True(t, ok)

		received <- completed

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	sent := events.StepCompleted{
		BaseEvent:   events.NewBase(events.StepCompletedEvent, "wf-1"),
		ExecutionID: "exec-1",
		StepID:      "build",
		Duration:    3 * time.Second,
	}
	require.NoError(t, bus.Publish(ctx, "wf-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, "build", got.StepID)
		assert.Equal(t, 3*time.Second, got.Duration)
		assert.Equal(t, events.StepCompletedEvent, got.GetType())
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the event")
	}
}

func TestWatermillEventBus_UnhandledEventTypesAreIgnored(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	received := make(chan *events.StepFailed, 1)

	err := bus.Handle(events.StepFailedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.StepFailed)

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	// An event with no handler must not wedge the subscription.
	started := events.StepStarted{
		BaseEvent:   events.NewBase(events.StepStartedEvent, "wf-1"),
		ExecutionID: "exec-1",
		StepID:      "build",
	}
	require.NoError(t, bus.Publish(ctx, "wf-1", started))

	failed := events.StepFailed{
		BaseEvent:   events.NewBase(events.StepFailedEvent, "wf-1"),
		ExecutionID: "exec-1",
		StepID:      "deploy",
		Error:       "boom",
		Reason:      "approval_denied",
	}
	require.NoError(t, bus.Publish(ctx, "wf-1", failed))

	select {
	case got := <-received:
		assert.Equal(t, "deploy", got.StepID)
		assert.Equal(t, "approval_denied", got.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the event")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

package eventbus

import "context"

// NopPublisher discards every event. Used when a caller runs the core without
// external consumers, and in tests that do not assert on events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }

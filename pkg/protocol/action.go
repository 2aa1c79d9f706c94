// Package protocol defines the contract between the execution core and the
// step actions supplied by the surrounding platform. The core treats an
// action as an opaque fallible call; everything else about it lives outside.
package protocol

import (
	"context"
	"log/slog"

	"github.com/cadenzaflow/cadenza/pkg/models"
)

// Action executes one step. Implementations must honor ctx cancellation; the
// resilience layer relies on it for deadlines.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error)
}

// ActionFactory builds action instances from a step's opaque configuration.
type ActionFactory interface {
	ID() string
	Create(config map[string]any) (Action, error)
}

// ActionFunc adapts a plain function to the Action contract.
type ActionFunc func(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error)

func (f ActionFunc) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	return f(ctx, executionCtx, logger)
}

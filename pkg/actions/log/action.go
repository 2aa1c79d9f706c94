// Package log provides the built-in log action used by the CLI and tests.
package log

import (
	"context"
	"log/slog"

	"github.com/cadenzaflow/cadenza/pkg/models"
	"github.com/cadenzaflow/cadenza/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "log"
}

func (*ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return &Action{config: config}, nil
}

type Action struct {
	config map[string]any
}

func (a *Action) Execute(_ context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	message, _ := a.config["message"].(string)
	if message == "" {
		message = "log action"
	}

	level := slog.LevelInfo

	switch a.config["level"] {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	logger.Log(context.Background(), level, message, "execution_id", executionCtx.ID)

	return map[string]any{"message": message}, nil
}

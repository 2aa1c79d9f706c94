package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	logaction "github.com/cadenzaflow/cadenza/pkg/actions/log"
	"github.com/cadenzaflow/cadenza/pkg/approval"
	"github.com/cadenzaflow/cadenza/pkg/channels/gochannel"
	"github.com/cadenzaflow/cadenza/pkg/events"
	"github.com/cadenzaflow/cadenza/pkg/eventbus"
	"github.com/cadenzaflow/cadenza/pkg/log"
	"github.com/cadenzaflow/cadenza/pkg/models"
	"github.com/cadenzaflow/cadenza/pkg/registry"
	"github.com/cadenzaflow/cadenza/pkg/resilience"
	"github.com/cadenzaflow/cadenza/pkg/tracing"
	"github.com/cadenzaflow/cadenza/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a workflow definition file with the built-in actions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the workflow definition JSON file",
				Required: true,
				Sources:  cli.EnvVars("WORKFLOW_FILE"),
			},
			&cli.IntFlag{
				Name:    "max-in-flight",
				Usage:   "Maximum concurrently executing steps",
				Value:   8,
				Sources: cli.EnvVars("MAX_IN_FLIGHT"),
			},
			&cli.DurationFlag{
				Name:    "step-timeout",
				Usage:   "Hard deadline for each step attempt",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("STEP_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Usage:   "Retries per step call after the initial attempt",
				Value:   2,
				Sources: cli.EnvVars("MAX_RETRIES"),
			},
			&cli.BoolFlag{
				Name:    "continue-on-failure",
				Usage:   "Keep executing unaffected branches after a step fails",
				Sources: cli.EnvVars("CONTINUE_ON_FAILURE"),
			},
			&cli.BoolFlag{
				Name:    "auto-approve",
				Usage:   "Automatically approve approval steps (for local runs)",
				Sources: cli.EnvVars("AUTO_APPROVE"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export spans via OTLP HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, command *cli.Command) error {
	logger := log.WithModule("cadenza-run")

	wf, _, err := loadWorkflow(command.String("file"))
	if err != nil {
		logger.ErrorContext(ctx, "Workflow is invalid", "error", err)

		return err
	}

	pub, sub := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	bus := eventbus.NewWatermillEventBus(pub, sub)

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	gate := approval.NewGate(logger, bus)

	if command.Bool("auto-approve") {
		if err := autoApprove(ctx, bus, gate, logger); err != nil {
			return err
		}
	}

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(logaction.NewActionFactory())

	resilienceExec := resilience.NewExecutor(
		resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "external-calls",
			MaxConcurrent: command.Int("max-in-flight"),
			MaxWait:       time.Second,
		})),
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		})),
		resilience.WithRetryPolicy(resilience.NewRetryPolicy(resilience.RetryConfig{
			MaxRetries:     command.Int("max-retries"),
			InitialDelay:   100 * time.Millisecond,
			Jitter:         true,
			RetryOnTimeout: true,
		})),
		resilience.WithTimeoutPolicy(resilience.NewTimeoutPolicy("step", command.Duration("step-timeout"))),
		resilience.WithLogger(logger),
	)

	tracer := tracing.NopTracer()

	if command.Bool("tracing") {
		var err error

		tracer, err = tracing.NewTracer(ctx, "cadenza")
		if err != nil {
			return fmt.Errorf("tracing setup: %w", err)
		}
	}

	opts := []workflow.Option{
		workflow.WithRegistry(reg),
		workflow.WithResilienceExecutor(resilienceExec),
		workflow.WithApprovalGate(gate),
		workflow.WithEventPublisher(bus),
		workflow.WithMaxInFlight(command.Int("max-in-flight")),
		workflow.WithTracer(tracer),
		workflow.WithLogger(logger),
	}
	if command.Bool("continue-on-failure") {
		opts = append(opts, workflow.WithContinueOnFailure())
	}

	executor, err := workflow.NewExecutor(wf, opts...)
	if err != nil {
		return err
	}

	result, err := executor.Run(ctx)
	if err != nil {
		return err
	}

	printResult(result)

	if result.Status != models.RunStatusCompleted {
		return fmt.Errorf("workflow run %s", result.Status)
	}

	return nil
}

// autoApprove resolves every approval request as soon as its event arrives,
// standing in for the external notifier during local runs.
func autoApprove(ctx context.Context, bus eventbus.EventBus, gate *approval.Gate, logger *slog.Logger) error {
	err := bus.Handle(events.ApprovalRequestedEvent, func(ctx context.Context, event any) error {
		requested, ok := event.(*events.ApprovalRequested)
		if !ok {
			return nil
		}

		logger.InfoContext(ctx, "Auto-approving", "approval_id", requested.ApprovalID)

		return gate.Approve(ctx, requested.ApprovalID, "cadenza-cli", "auto-approved")
	})
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}

func printResult(result *workflow.Result) {
	fmt.Printf("run %s: %s in %s\n", result.ExecutionID, result.Status, result.Duration.Round(time.Millisecond))

	states := result.StepStates

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		line := fmt.Sprintf("  %-20s %s", id, states[id])
		if err := result.StepErrors[id]; err != nil {
			line += " (" + err.Error() + ")"
		}

		fmt.Println(line)
	}
}

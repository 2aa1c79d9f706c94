package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cadenzaflow/cadenza/pkg/dag"
	"github.com/cadenzaflow/cadenza/pkg/log"
	"github.com/cadenzaflow/cadenza/pkg/models"
	cli "github.com/urfave/cli/v3"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate a workflow definition file and print its execution order",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the workflow definition JSON file",
				Required: true,
				Sources:  cli.EnvVars("WORKFLOW_FILE"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("cadenza-validate")

			wf, graph, err := loadWorkflow(command.String("file"))
			if err != nil {
				logger.ErrorContext(ctx, "Workflow is invalid", "error", err)

				return err
			}

			fmt.Printf("workflow %q is valid (%d steps)\n", wf.ID, graph.Len())
			fmt.Println("execution order:")

			for i, id := range graph.TopologicalOrder() {
				step, _ := graph.Step(id)
				fmt.Printf("  %2d. %s (%s, type=%s)\n", i+1, id, step.Name, step.Type)
			}

			groups := graph.ParallelGroups(map[string]bool{}, map[string]bool{})
			if len(groups) > 0 {
				fmt.Printf("initial parallel batches: %v\n", groups)
			}

			return nil
		},
	}
}

// loadWorkflow reads, schema-checks and parses a definition file, binds a
// pass-through condition to conditional steps (real conditions are bound in
// code by embedding callers) and builds the dependency graph.
func loadWorkflow(path string) (*models.Workflow, *dag.Dag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read workflow file: %w", err)
	}

	if err := models.ValidateDefinition(data); err != nil {
		return nil, nil, err
	}

	var wf models.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, nil, fmt.Errorf("parse workflow file: %w", err)
	}

	for _, step := range wf.Steps {
		if step.IsConditional() && step.Condition == nil {
			step.Condition = func(context.Context, models.ExecutionContext) (bool, error) {
				return true, nil
			}
		}
	}

	if err := wf.Validate(); err != nil {
		return nil, nil, err
	}

	graph, err := dag.Build(wf.Steps)
	if err != nil {
		return nil, nil, err
	}

	return &wf, graph, nil
}

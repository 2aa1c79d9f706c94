// Package dag builds and queries the dependency graph of one workflow run.
//
// A Dag can only be constructed from a fully valid step set: unique ids,
// resolvable dependencies and no cycles. After Build it is read-only and safe
// for concurrent readers; execution state is owned by the run executor, never
// by the graph.
package dag

import (
	"sort"

	"github.com/cadenzaflow/cadenza/pkg/models"
)

// Dag is the immutable dependency graph of one workflow. Steps are held in an
// id-indexed arena; edges are id-indexed adjacency lists in both directions
// (dependency -> dependents and step -> dependencies).
type Dag struct {
	steps        map[string]*models.WorkflowStep
	ids          []string // declaration order, for deterministic iteration
	dependencies map[string][]string
	dependents   map[string][]string
}

// Build validates the step set and constructs the graph. Checks run in order:
// non-empty input, duplicate ids, unresolved dependencies, acyclicity. The
// first violation aborts the build; no partially valid Dag can exist.
func Build(steps []*models.WorkflowStep) (*Dag, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyWorkflow
	}

	d := &Dag{
		steps:        make(map[string]*models.WorkflowStep, len(steps)),
		ids:          make([]string, 0, len(steps)),
		dependencies: make(map[string][]string, len(steps)),
		dependents:   make(map[string][]string, len(steps)),
	}

	for _, step := range steps {
		if _, exists := d.steps[step.ID]; exists {
			return nil, &DuplicateStepIDError{StepID: step.ID}
		}

		d.steps[step.ID] = step
		d.ids = append(d.ids, step.ID)
	}

	for _, step := range steps {
		seen := make(map[string]bool, len(step.Dependencies))

		for _, dep := range step.Dependencies {
			if dep == step.ID {
				return nil, &MissingDependencyError{StepID: step.ID, Dependency: dep}
			}

			if _, exists := d.steps[dep]; !exists {
				return nil, &MissingDependencyError{StepID: step.ID, Dependency: dep}
			}

			if seen[dep] {
				continue
			}

			seen[dep] = true
			d.dependencies[step.ID] = append(d.dependencies[step.ID], dep)
			d.dependents[dep] = append(d.dependents[dep], step.ID)
		}
	}

	for id := range d.dependencies {
		sort.Strings(d.dependencies[id])
	}

	for id := range d.dependents {
		sort.Strings(d.dependents[id])
	}

	if cycle := d.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	return d, nil
}

// findCycle returns one concrete cycle path (first and last element equal) or
// nil when the graph is acyclic. Iterative DFS over the dependency edges with
// the usual white/grey/black coloring.
func (d *Dag) findCycle() []string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)

	color := make(map[string]int, len(d.ids))
	parent := make(map[string]string, len(d.ids))

	var walk func(id string) []string

	walk = func(id string) []string {
		color[id] = grey

		for _, dep := range d.dependencies[id] {
			switch color[dep] {
			case grey:
				// Found a back edge; rebuild the path dep -> ... -> id -> dep.
				path := []string{dep}
				for cur := id; cur != dep; cur = parent[cur] {
					path = append(path, cur)
				}

				path = append(path, dep)

				// The path was collected dependency-first; reverse it so it
				// reads in dependency order.
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}

				return path
			case white:
				parent[dep] = id
				if cycle := walk(dep); cycle != nil {
					return cycle
				}
			}
		}

		color[id] = black

		return nil
	}

	for _, id := range d.ids {
		if color[id] == white {
			if cycle := walk(id); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// Len returns the number of steps in the graph.
func (d *Dag) Len() int {
	return len(d.ids)
}

// Step returns the step with the given id.
func (d *Dag) Step(stepID string) (*models.WorkflowStep, bool) {
	step, ok := d.steps[stepID]

	return step, ok
}

// StepIDs returns every step id in declaration order.
func (d *Dag) StepIDs() []string {
	out := make([]string, len(d.ids))
	copy(out, d.ids)

	return out
}

// Dependencies returns the direct dependencies of a step, sorted by id.
func (d *Dag) Dependencies(stepID string) []string {
	out := make([]string, len(d.dependencies[stepID]))
	copy(out, d.dependencies[stepID])

	return out
}

// Dependents returns the direct dependents of a step, sorted by id.
func (d *Dag) Dependents(stepID string) []string {
	out := make([]string, len(d.dependents[stepID]))
	copy(out, d.dependents[stepID])

	return out
}

// TransitiveDependents returns every step reachable from stepID through
// dependent edges, sorted by id. Used for failure propagation.
func (d *Dag) TransitiveDependents(stepID string) []string {
	visited := make(map[string]bool)
	queue := append([]string(nil), d.dependents[stepID]...)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if visited[cur] {
			continue
		}

		visited[cur] = true
		queue = append(queue, d.dependents[cur]...)
	}

	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}

// RootSteps returns the ids of steps with no dependencies, sorted by id.
func (d *Dag) RootSteps() []string {
	out := make([]string, 0, len(d.ids))

	for _, id := range d.ids {
		if len(d.dependencies[id]) == 0 {
			out = append(out, id)
		}
	}

	sort.Strings(out)

	return out
}

// LeafSteps returns the ids of steps with no dependents, sorted by id.
func (d *Dag) LeafSteps() []string {
	out := make([]string, 0, len(d.ids))

	for _, id := range d.ids {
		if len(d.dependents[id]) == 0 {
			out = append(out, id)
		}
	}

	sort.Strings(out)

	return out
}

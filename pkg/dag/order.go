package dag

import "sort"

// TopologicalOrder returns a step ordering consistent with every dependency
// edge: a dependency always precedes its dependents. Ties break on step id,
// so the result is deterministic. Intended for diagnostics and dry runs; the
// live scheduler re-evaluates ReadySteps each tick instead.
func (d *Dag) TopologicalOrder() []string {
	indegree := make(map[string]int, len(d.ids))
	for _, id := range d.ids {
		indegree[id] = len(d.dependencies[id])
	}

	ready := make([]string, 0, len(d.ids))

	for _, id := range d.ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)

	order := make([]string, 0, len(d.ids))

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := make([]string, 0, len(d.dependents[id]))

		for _, dep := range d.dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				released = append(released, dep)
			}
		}

		sort.Strings(released)
		ready = mergeSorted(ready, released)
	}

	return order
}

// mergeSorted merges two sorted id slices, preserving order.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))

	for len(a) > 0 && len(b) > 0 {
		if a[0] <= b[0] {
			out = append(out, a[0])
			a = a[1:]
		} else {
			out = append(out, b[0])
			b = b[1:]
		}
	}

	out = append(out, a...)

	return append(out, b...)
}

// ReadySteps returns, sorted by id, every step id absent from completed whose
// dependencies are all present in completed. Pure function over the supplied
// set: callers re-supply their current completed set each scheduler tick.
func (d *Dag) ReadySteps(completed map[string]bool) []string {
	ready := make([]string, 0, len(d.ids))

	for _, id := range d.ids {
		if completed[id] {
			continue
		}

		ok := true

		for _, dep := range d.dependencies[id] {
			if !completed[dep] {
				ok = false

				break
			}
		}

		if ok {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)

	return ready
}

// ParallelGroups partitions the ready-and-not-running steps into batches such
// that no two steps in one batch are connected by a dependency path in either
// direction. This is a scheduling hint for batched dispatch; the dispatch
// bulkhead remains the only concurrency authority.
func (d *Dag) ParallelGroups(completed, running map[string]bool) [][]string {
	candidates := make([]string, 0, len(d.ids))

	for _, id := range d.ReadySteps(completed) {
		if !running[id] {
			candidates = append(candidates, id)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	var groups [][]string

	for _, id := range candidates {
		placed := false

		for i, group := range groups {
			conflict := false

			for _, member := range group {
				if d.connected(id, member) {
					conflict = true

					break
				}
			}

			if !conflict {
				groups[i] = append(groups[i], id)
				placed = true

				break
			}
		}

		if !placed {
			groups = append(groups, []string{id})
		}
	}

	return groups
}

// connected reports whether a dependency path exists between a and b in
// either direction.
func (d *Dag) connected(a, b string) bool {
	return d.reaches(a, b) || d.reaches(b, a)
}

// reaches reports whether to is reachable from from via dependent edges.
func (d *Dag) reaches(from, to string) bool {
	visited := make(map[string]bool)
	queue := append([]string(nil), d.dependents[from]...)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur == to {
			return true
		}

		if visited[cur] {
			continue
		}

		visited[cur] = true
		queue = append(queue, d.dependents[cur]...)
	}

	return false
}

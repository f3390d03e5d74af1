package executor

import (
	"fmt"
	"sort"
)

// validateBatch performs static validation at Submit: unique IDs,
// known dependency references, and no dependency cycles. A batch that
// fails validation runs nothing and logs nothing.
func validateBatch(batch *Batch) error {
	index := make(map[string]int, len(batch.Operations))
	for i, op := range batch.Operations {
		if op.ID == "" {
			return &ValidationError{BatchID: batch.ID, Message: fmt.Sprintf("operation %d has no ID", i)}
		}
		if op.Execute == nil {
			return &ValidationError{BatchID: batch.ID, Message: fmt.Sprintf("operation %q has no execute function", op.ID)}
		}
		if _, dup := index[op.ID]; dup {
			return &ValidationError{BatchID: batch.ID, Message: fmt.Sprintf("duplicate operation ID %q", op.ID)}
		}
		index[op.ID] = i
	}

	for _, op := range batch.Operations {
		for _, dep := range op.DependsOn {
			if dep == op.ID {
				return &ValidationError{BatchID: batch.ID, CyclePath: []string{op.ID, op.ID}}
			}
			if _, ok := index[dep]; !ok {
				return &ValidationError{BatchID: batch.ID, Message: fmt.Sprintf("operation %q depends on unknown operation %q", op.ID, dep)}
			}
		}
	}

	if path := findCycle(batch, index); path != nil {
		return &ValidationError{BatchID: batch.ID, CyclePath: path}
	}

	return nil
}

// findCycle runs Kahn's algorithm over the dependency graph. If a
// topological order covering every operation exists, the graph is
// acyclic. Otherwise one cycle path is extracted deterministically for
// the error message.
func findCycle(batch *Batch, index map[string]int) []string {
	n := len(batch.Operations)
	indeg := make([]int, n)
	dependents := make([][]int, n)

	for i, op := range batch.Operations {
		for _, dep := range op.DependsOn {
			d := index[dep]
			indeg[i]++
			dependents[d] = append(dependents[d], i)
		}
	}

	ready := []int{}
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	resolved := 0
	for len(ready) > 0 {
		// Lowest index first keeps the traversal deterministic.
		sort.Ints(ready)
		cur := ready[0]
		ready = ready[1:]
		resolved++
		for _, dep := range dependents[cur] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if resolved == n {
		return nil
	}

	// Remaining nodes with nonzero in-degree form at least one cycle.
	// Walk dependency edges from the lowest-index remaining node until
	// a node repeats.
	start := -1
	for i := 0; i < n; i++ {
		if indeg[i] > 0 {
			start = i
			break
		}
	}

	inCycle := func(i int) bool { return indeg[i] > 0 }
	seen := make(map[int]int) // node -> position in walk
	var walk []int
	cur := start
	for {
		if pos, ok := seen[cur]; ok {
			walk = append(walk[pos:], cur)
			break
		}
		seen[cur] = len(walk)
		walk = append(walk, cur)

		// Follow the lowest-ID dependency that is still part of the
		// cyclic remainder.
		next := -1
		for _, dep := range batch.Operations[cur].DependsOn {
			d := index[dep]
			if inCycle(d) && (next == -1 || d < next) {
				next = d
			}
		}
		cur = next
	}

	path := make([]string, len(walk))
	for i, node := range walk {
		path[i] = batch.Operations[node].ID
	}
	return path
}

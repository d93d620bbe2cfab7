package workflow

import (
	"github.com/boxos/boxcore/pkg/schema"
)

// buildEdges validates dependency edges and returns the reverse adjacency
// list (node index -> indices of nodes that depend on it).
func buildEdges(templates []NodeTemplate) ([][]int, error) {
	dependents := make([][]int, len(templates))
	for i, tmpl := range templates {
		seen := make(map[int]bool, len(tmpl.DependsOn))
		for _, dep := range tmpl.DependsOn {
			if dep < 0 || dep >= len(templates) {
				return nil, schema.NewErrorf(schema.ErrInvalidParameter,
					"node %d depends on non-existent node %d", i, dep)
			}
			if dep == i {
				return nil, schema.NewErrorf(schema.ErrInvalidParameter,
					"node %d depends on itself", i)
			}
			if seen[dep] {
				return nil, schema.NewErrorf(schema.ErrInvalidParameter,
					"node %d has duplicate dependency %d", i, dep)
			}
			seen[dep] = true
			dependents[dep] = append(dependents[dep], i)
		}
	}
	return dependents, nil
}

// checkAcyclic runs Kahn's algorithm over the dependency graph and rejects
// templates containing a cycle.
func checkAcyclic(templates []NodeTemplate, dependents [][]int) error {
	inDegree := make([]int, len(templates))
	for i, tmpl := range templates {
		inDegree[i] = len(tmpl.DependsOn)
	}

	queue := make([]int, 0, len(templates))
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[n] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(templates) {
		return schema.NewError(schema.ErrInvalidParameter, "workflow contains a dependency cycle")
	}
	return nil
}

package journey

// SelectOptions configures SelectTransitions.
type SelectOptions struct {
	// AllowMultiple permits true branching: every matching transition is
	// returned, enabling parallel fan-out. By default only the first
	// match fires.
	AllowMultiple bool
}

// SelectTransitions evaluates each transition's condition against the
// data bag and returns those that fire. Transitions must already be in
// evaluation order (the compiled graph sorts by priority with definition
// order as the tie-break). A transition without a condition always
// matches. By default at most one transition is returned; set
// AllowMultiple for fan-out.
func SelectTransitions(transitions []Transition, data map[string]any, opts SelectOptions) []Transition {
	var selected []Transition
	for _, tr := range transitions {
		if !EvaluateCondition(tr.Condition, data) {
			continue
		}
		selected = append(selected, tr)
		if !opts.AllowMultiple {
			break
		}
	}
	return selected
}

// FindPaths enumerates all simple paths (no node revisited within a
// path) from start to any node in ends. The visited set is carried
// per-path, not globally, so diamond patterns still enumerate both
// routes while true cycles terminate.
func FindPaths(start string, ends []string, edges []Edge) [][]string {
	endSet := make(map[string]bool, len(ends))
	for _, e := range ends {
		endSet[e] = true
	}

	adj := adjacency(edges)

	var paths [][]string
	var walk func(node string, path []string, visited map[string]bool)
	walk = func(node string, path []string, visited map[string]bool) {
		path = append(path, node)
		visited[node] = true

		if endSet[node] {
			found := make([]string, len(path))
			copy(found, path)
			paths = append(paths, found)
		} else {
			for _, next := range adj[node] {
				if visited[next] {
					continue
				}
				walk(next, path, visited)
			}
		}

		delete(visited, node)
	}

	walk(start, nil, make(map[string]bool))
	return paths
}

// IsPathReachable reports whether to is reachable from from over the
// edge list.
func IsPathReachable(from, to string, edges []Edge) bool {
	if from == to {
		return true
	}
	reachable := ReachableNodes(from, edges)
	for _, id := range reachable {
		if id == to {
			return true
		}
	}
	return false
}

// ReachableNodes returns every node reachable from start (inclusive), in
// BFS order.
func ReachableNodes(start string, edges []Edge) []string {
	adj := adjacency(edges)

	seen := map[string]bool{start: true}
	queue := []string{start}
	var order []string

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, next := range adj[node] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return order
}

func adjacency(edges []Edge) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj
}

package resolver

import "sort"

// dependencyGraph maps a package name to the names of the packages its
// selected version directly depends on. Adapted from the teacher's
// sync-rule dependency graph and Tarjan SCC walk (cycle.go), generalized
// from "sync triggers sync" edges to "package depends on package" edges.
type dependencyGraph map[string][]string

// detectCycle runs Tarjan's algorithm over graph and returns the first
// strongly connected component with more than one member (or a self
// loop), if any — used to reject cyclic build dependencies, which the
// install pipeline's DAG-ordered concurrency model cannot schedule.
func detectCycle(graph dependencyGraph) []string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		found   []string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if found != nil {
				return
			}
			if _, ok := indices[w]; !ok {
				strongConnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 || hasSelfEdge(scc[0], graph) {
				found = scc
			}
		}
	}

	names := make([]string, 0, len(graph))
	for n := range graph {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if found != nil {
			break
		}
		if _, ok := indices[n]; !ok {
			strongConnect(n)
		}
	}
	return found
}

func hasSelfEdge(node string, graph dependencyGraph) bool {
	for _, w := range graph[node] {
		if w == node {
			return true
		}
	}
	return false
}

// topoOrder returns a deterministic topological order of graph (roots —
// packages nothing selected depends on — last is NOT guaranteed; ties are
// broken by name ascending per §4.5's determinism requirement). graph
// must be acyclic; callers run detectCycle first.
func topoOrder(graph dependencyGraph) []string {
	visited := make(map[string]bool)
	var order []string

	names := make([]string, 0, len(graph))
	for n := range graph {
		names = append(names, n)
	}
	sort.Strings(names)

	var visit func(n string)
	visit = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		deps := append([]string{}, graph[n]...)
		sort.Strings(deps)
		for _, d := range deps {
			visit(d)
		}
		order = append(order, n)
	}
	for _, n := range names {
		visit(n)
	}
	return order
}

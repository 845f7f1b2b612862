package lockmgr

// waitForGraph tracks "waiting_tx -> holding_tx" edges and finds cycles by
// DFS. It never runs concurrently with lock-table mutation: callers hold
// Manager.mu for every method here.
type waitForGraph struct {
	edges map[string]map[string]struct{}
}

func newWaitForGraph() *waitForGraph {
	return &waitForGraph{edges: make(map[string]map[string]struct{})}
}

func (g *waitForGraph) addEdge(from, to string) {
	if from == to {
		return
	}
	set, ok := g.edges[from]
	if !ok {
		set = make(map[string]struct{})
		g.edges[from] = set
	}
	set[to] = struct{}{}
}

// removeWaiter deletes every edge that mentions txID, either as the
// waiter or as something waited-on.
func (g *waitForGraph) removeWaiter(txID string) {
	delete(g.edges, txID)
	for _, set := range g.edges {
		delete(set, txID)
	}
}

// findCycle runs DFS from every node looking for a cycle and returns the
// set of transaction ids on the first cycle found, or nil if the graph is
// acyclic.
func (g *waitForGraph) findCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		state[node] = visiting
		path = append(path, node)

		for next := range g.edges[node] {
			switch state[next] {
			case unvisited:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			case visiting:
				// Found a cycle: path from next's first occurrence to here.
				for i, n := range path {
					if n == next {
						return append([]string(nil), path[i:]...)
					}
				}
			}
		}

		path = path[:len(path)-1]
		state[node] = done
		return nil
	}

	for node := range g.edges {
		if state[node] == unvisited {
			if cyc := visit(node); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

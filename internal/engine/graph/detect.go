// # internal/engine/graph/detect.go
package graph

import "sort"

// DetectCycles finds reference cycles across the whole graph. Roots and
// neighbors are visited in sorted order so repeated runs report the same
// cycles in the same order.
func (g *Graph) DetectCycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.detectCyclesLocked(nil)
}

// DetectCyclesWithin restricts detection to the given module set.
func (g *Graph) DetectCyclesWithin(include map[string]bool) [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.detectCyclesLocked(include)
}

func (g *Graph) detectCyclesLocked(include map[string]bool) [][]string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		if include != nil && !include[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	for _, name := range names {
		if !visited[name] {
			g.findCycles(name, include, visited, onStack, []string{}, &cycles)
		}
	}

	return cycles
}

func (g *Graph) findCycles(curr string, include map[string]bool, visited, onStack map[string]bool, path []string, cycles *[][]string) {
	visited[curr] = true
	onStack[curr] = true
	path = append(path, curr)

	neighbors := make([]string, 0, len(g.edges[curr]))
	for next := range g.edges[curr] {
		if include != nil && !include[next] {
			continue
		}
		neighbors = append(neighbors, next)
	}
	sort.Strings(neighbors)

	for _, next := range neighbors {
		if onStack[next] {
			// Found a cycle
			cycleStart := -1
			for i, mod := range path {
				if mod == next {
					cycleStart = i
					break
				}
			}
			if cycleStart != -1 {
				cycle := make([]string, len(path)-cycleStart)
				copy(cycle, path[cycleStart:])
				*cycles = append(*cycles, cycle)
			}
		} else if !visited[next] {
			g.findCycles(next, include, visited, onStack, path, cycles)
		}
	}

	onStack[curr] = false
}

// Chain returns the shortest reference path from one module to another, or
// false when the target is unreachable.
func (g *Graph) Chain(from, to string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[from]; !ok {
		return nil, false
	}
	if _, ok := g.nodes[to]; !ok {
		return nil, false
	}
	if from == to {
		return []string{from}, true
	}

	queue := []string{from}
	visited := map[string]bool{from: true}
	prev := make(map[string]string)

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		neighbors := make([]string, 0, len(g.edges[curr]))
		for next := range g.edges[curr] {
			if _, ok := g.nodes[next]; !ok {
				continue
			}
			neighbors = append(neighbors, next)
		}
		sort.Strings(neighbors)

		for _, next := range neighbors {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = curr

			if next == to {
				path := []string{to}
				for node := to; node != from; {
					p, ok := prev[node]
					if !ok {
						return nil, false
					}
					path = append(path, p)
					node = p
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, true
			}

			queue = append(queue, next)
		}
	}

	return nil, false
}

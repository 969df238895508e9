// # internal/engine/graph/graph.go
package graph

import (
	"sort"
	"sync"

	"carve/internal/engine/classify"
	"carve/internal/engine/modtree"
	"carve/internal/shared/observability"
)

// Node is one module of the reference graph together with the crate-external
// names it mentions.
type Node struct {
	ID         modtree.ID
	Crate      string
	File       string
	PseudoRoot bool

	externals map[string]bool
}

type Graph struct {
	mu sync.RWMutex

	nodes map[string]*Node

	// Relationships
	edges   map[string]map[string]*classify.Edge // from -> to -> edge
	reverse map[string]map[string]bool           // to -> from
}

// ModuleMetrics describes a module's position in the reference graph. Depth
// is the longest acyclic reference chain below the module, computed over
// strongly connected components so cycles cannot inflate it.
type ModuleMetrics struct {
	Depth  int
	FanIn  int
	FanOut int
}

func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string]map[string]*classify.Edge),
		reverse: make(map[string]map[string]bool),
	}
}

// Build assembles the reference graph of a whole forest: one node per module
// and one edge per classified reference between modules.
func Build(forest *modtree.Forest, classifier *classify.Classifier) (*Graph, error) {
	g := NewGraph()

	for _, tree := range forest.Crates {
		for _, mod := range tree.Modules {
			g.AddModule(mod)
		}
	}
	for _, tree := range forest.Crates {
		for _, mod := range tree.Modules {
			edges, err := classifier.ModuleEdges(mod)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				g.AddEdge(edge)
			}
		}
	}
	return g, nil
}

func (g *Graph) AddModule(mod *modtree.Module) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := mod.ID.String()
	if _, exists := g.nodes[key]; exists {
		return
	}
	g.nodes[key] = &Node{
		ID:         mod.ID,
		Crate:      mod.ID.Crate(),
		File:       mod.File,
		PseudoRoot: mod.PseudoRoot,
		externals:  make(map[string]bool),
	}

	observability.GraphNodes.Set(float64(len(g.nodes)))
}

// AddEdge records a classified reference. External references annotate the
// source node; references of a module to itself carry no structure and are
// dropped.
func (g *Graph) AddEdge(edge classify.Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	from := edge.Source.String()

	if edge.Kind == classify.KindExternalCrate {
		if node, ok := g.nodes[from]; ok && edge.TargetCrate != "" {
			node.externals[edge.TargetCrate] = true
		}
		return
	}

	to := edge.Target.String()
	if to == "" || to == from {
		return
	}

	if g.edges[from] == nil {
		g.edges[from] = make(map[string]*classify.Edge)
	}
	stored := edge
	g.edges[from][to] = &stored

	if g.reverse[to] == nil {
		g.reverse[to] = make(map[string]bool)
	}
	g.reverse[to][from] = true

	edgeCount := 0
	for _, targets := range g.edges {
		edgeCount += len(targets)
	}
	observability.GraphEdges.Set(float64(edgeCount))
}

func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return cloneNode(node), true
}

// NodeIDs returns every module in the graph in sorted order.
func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, targets := range g.edges {
		count += len(targets)
	}
	return count
}

// EdgesFrom returns the module's outgoing reference edges sorted by target.
func (g *Graph) EdgesFrom(id string) []classify.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	targets := make([]string, 0, len(g.edges[id]))
	for to := range g.edges[id] {
		targets = append(targets, to)
	}
	sort.Strings(targets)

	edges := make([]classify.Edge, 0, len(targets))
	for _, to := range targets {
		edges = append(edges, *g.edges[id][to])
	}
	return edges
}

// Dependents returns the modules referencing id, sorted.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	froms := make([]string, 0, len(g.reverse[id]))
	for from := range g.reverse[id] {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	return froms
}

// ExternalRefs returns the external crate names a module references, sorted.
func (g *Graph) ExternalRefs(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(node.externals))
	for name := range node.externals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Graph) ComputeModuleMetrics() map[string]ModuleMetrics {
	g.mu.RLock()
	defer g.mu.RUnlock()

	moduleNames := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		moduleNames = append(moduleNames, name)
	}
	sort.Strings(moduleNames)

	adjacency := make(map[string][]string, len(moduleNames))
	for _, name := range moduleNames {
		targetSet := make(map[string]bool)
		for to := range g.edges[name] {
			if _, ok := g.nodes[to]; ok {
				targetSet[to] = true
			}
		}
		targets := make([]string, 0, len(targetSet))
		for to := range targetSet {
			targets = append(targets, to)
		}
		sort.Strings(targets)
		adjacency[name] = targets
	}

	fanIn := make(map[string]int, len(moduleNames))
	fanOut := make(map[string]int, len(moduleNames))
	for _, from := range moduleNames {
		fanOut[from] = len(adjacency[from])
		for _, to := range adjacency[from] {
			fanIn[to]++
		}
	}

	componentOf, components := stronglyConnectedComponents(moduleNames, adjacency)
	componentEdges := make(map[int]map[int]bool, len(components))
	for _, from := range moduleNames {
		fromComp := componentOf[from]
		for _, to := range adjacency[from] {
			toComp := componentOf[to]
			if fromComp == toComp {
				continue
			}
			if componentEdges[fromComp] == nil {
				componentEdges[fromComp] = make(map[int]bool)
			}
			componentEdges[fromComp][toComp] = true
		}
	}

	depthByComp := make(map[int]int, len(components))
	var computeDepth func(int) int
	computeDepth = func(comp int) int {
		if depth, ok := depthByComp[comp]; ok {
			return depth
		}
		maxDepth := 0
		for next := range componentEdges[comp] {
			candidate := 1 + computeDepth(next)
			if candidate > maxDepth {
				maxDepth = candidate
			}
		}
		depthByComp[comp] = maxDepth
		return maxDepth
	}

	for comp := range components {
		computeDepth(comp)
	}

	metrics := make(map[string]ModuleMetrics, len(moduleNames))
	for _, name := range moduleNames {
		metrics[name] = ModuleMetrics{
			Depth:  depthByComp[componentOf[name]],
			FanIn:  fanIn[name],
			FanOut: fanOut[name],
		}
	}

	return metrics
}

func cloneNode(node *Node) *Node {
	if node == nil {
		return nil
	}
	c := &Node{
		ID:         append(modtree.ID(nil), node.ID...),
		Crate:      node.Crate,
		File:       node.File,
		PseudoRoot: node.PseudoRoot,
		externals:  make(map[string]bool, len(node.externals)),
	}
	for name := range node.externals {
		c.externals[name] = true
	}
	return c
}

func stronglyConnectedComponents(nodes []string, adjacency map[string][]string) (map[string]int, [][]string) {
	index := 0
	stack := make([]string, 0, len(nodes))
	onStack := make(map[string]bool, len(nodes))
	indexByNode := make(map[string]int, len(nodes))
	lowLink := make(map[string]int, len(nodes))
	componentOf := make(map[string]int, len(nodes))
	components := make([][]string, 0)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indexByNode[v] = index
		lowLink[v] = index
		index++

		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adjacency[v] {
			if _, seen := indexByNode[w]; !seen {
				strongConnect(w)
				if lowLink[w] < lowLink[v] {
					lowLink[v] = lowLink[w]
				}
			} else if onStack[w] && indexByNode[w] < lowLink[v] {
				lowLink[v] = indexByNode[w]
			}
		}

		if lowLink[v] != indexByNode[v] {
			return
		}

		component := make([]string, 0)
		for {
			last := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[last] = false
			component = append(component, last)
			if last == v {
				break
			}
		}
		sort.Strings(component)
		compID := len(components)
		components = append(components, component)
		for _, n := range component {
			componentOf[n] = compID
		}
	}

	for _, node := range nodes {
		if _, seen := indexByNode[node]; !seen {
			strongConnect(node)
		}
	}

	return componentOf, components
}

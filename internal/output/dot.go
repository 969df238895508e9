// # internal/output/dot.go
package output

import (
	"fmt"
	"strings"

	"carve/internal/engine/closure"
	"carve/internal/engine/graph"
	"carve/internal/engine/modtree"
)

type DOTGenerator struct {
	graph   *graph.Graph
	closure *closure.Result
}

func NewDOTGenerator(g *graph.Graph, res *closure.Result) *DOTGenerator {
	return &DOTGenerator{graph: g, closure: res}
}

func (d *DOTGenerator) Generate(cycles [][]string) (string, error) {
	var buf strings.Builder

	buf.WriteString("digraph modules {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  node [shape=box, style=rounded, fontname=\"Helvetica\", fontsize=10];\n")
	buf.WriteString("  edge [fontname=\"Helvetica\", fontsize=8, penwidth=1.2];\n")
	buf.WriteString("  ranksep=1.5;\n")
	buf.WriteString("  nodesep=0.6;\n")
	buf.WriteString("  splines=polyline;\n")
	buf.WriteString("  overlap=false;\n\n")

	cycleEdges := cycleEdgeSet(cycles)
	cycleModules := cycleModuleSet(cycles)
	ids := d.graph.NodeIDs()

	// Retained modules cluster
	buf.WriteString("  subgraph cluster_retained {\n")
	buf.WriteString("    label=\"Retained\";\n")
	buf.WriteString("    style=filled;\n")
	buf.WriteString("    color=\"whitesmoke\";\n")
	buf.WriteString("    node [fillcolor=\"white\", style=\"rounded,filled\"];\n")

	for _, id := range ids {
		mid := modtree.ParseID(id)
		if !d.closure.Contains(mid) {
			continue
		}
		label := id
		if d.closure.IsShell(mid) {
			label = id + "\\n(shell)"
		}

		switch {
		case cycleModules[id]:
			buf.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"mistyrose\", color=\"red\", penwidth=2.0];\n", id, label))
		case d.closure.IsShell(mid):
			buf.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", style=\"rounded,filled,dashed\", color=\"grey40\"];\n", id, label))
		default:
			buf.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", color=\"darkslategrey\"];\n", id, label))
		}
	}
	buf.WriteString("  }\n\n")

	// Workspace modules outside the closure
	buf.WriteString("  node [fillcolor=\"gainsboro\", style=\"rounded,filled\", color=\"grey\"];\n")
	for _, id := range ids {
		if d.closure.Contains(modtree.ParseID(id)) {
			continue
		}
		if cycleModules[id] {
			buf.WriteString(fmt.Sprintf("  \"%s\" [label=\"%s\", fillcolor=\"mistyrose\", color=\"red\", penwidth=2.0];\n", id, id))
		} else {
			buf.WriteString(fmt.Sprintf("  \"%s\" [label=\"%s\"];\n", id, id))
		}
	}
	buf.WriteString("\n")

	// External crates
	externals := collectExternalNames(d.graph)
	if len(externals) > 0 {
		buf.WriteString("  node [shape=ellipse, fillcolor=\"aliceblue\", style=\"filled\", color=\"steelblue\"];\n")
		for _, name := range externals {
			buf.WriteString(fmt.Sprintf("  \"%s\" [label=\"%s\"];\n", name, name))
		}
		buf.WriteString("\n")
	}

	// Edges
	for _, from := range ids {
		fromID := modtree.ParseID(from)
		for _, edge := range d.graph.EdgesFrom(from) {
			to := edge.Target.String()

			switch {
			case cycleEdges[from+"->"+to]:
				buf.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [color=\"red\", penwidth=3.0, label=\"CYCLE\"];\n", from, to))
			case d.closure.Contains(fromID) && d.closure.Contains(edge.Target):
				buf.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [color=\"forestgreen\", penwidth=1.8];\n", from, to))
			default:
				buf.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [color=\"grey\", style=dashed];\n", from, to))
			}
		}
		for _, name := range d.graph.ExternalRefs(from) {
			buf.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [color=\"steelblue\", style=dotted];\n", from, name))
		}
	}

	// Legend
	buf.WriteString("\n  subgraph cluster_legend {\n")
	buf.WriteString("    label=\"Legend\";\n")
	buf.WriteString("    style=dashed;\n")
	buf.WriteString("    legend_retained [label=\"Retained Module\", fillcolor=\"white\", style=\"rounded,filled\"];\n")
	buf.WriteString("    legend_shell [label=\"Containment Shell\", fillcolor=\"white\", style=\"rounded,filled,dashed\", color=\"grey40\"];\n")
	buf.WriteString("    legend_outside [label=\"Outside Closure\", fillcolor=\"gainsboro\", style=\"rounded,filled\"];\n")
	buf.WriteString("    legend_external [label=\"External Crate\", shape=ellipse, fillcolor=\"aliceblue\", style=\"filled\"];\n")
	buf.WriteString("    legend_cycle [label=\"Cycle Member\", fillcolor=\"mistyrose\", color=\"red\", style=\"rounded,filled\"];\n")
	buf.WriteString("  }\n")

	buf.WriteString("}\n")

	return buf.String(), nil
}

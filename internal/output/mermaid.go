package output

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"carve/internal/engine/classify"
	"carve/internal/engine/closure"
	"carve/internal/engine/graph"
	"carve/internal/engine/modtree"
)

type MermaidGenerator struct {
	graph   *graph.Graph
	closure *closure.Result
	metrics map[string]graph.ModuleMetrics
}

const externalAggregationThreshold = 10

func NewMermaidGenerator(g *graph.Graph, res *closure.Result) *MermaidGenerator {
	return &MermaidGenerator{graph: g, closure: res}
}

func (m *MermaidGenerator) SetModuleMetrics(metrics map[string]graph.ModuleMetrics) {
	if len(metrics) == 0 {
		m.metrics = nil
		return
	}
	m.metrics = make(map[string]graph.ModuleMetrics, len(metrics))
	for mod, metric := range metrics {
		m.metrics[mod] = metric
	}
}

func (m *MermaidGenerator) Generate(cycles [][]string) (string, error) {
	var b strings.Builder
	b.WriteString("%%{init: {'flowchart': {'nodeSpacing': 80, 'rankSpacing': 110, 'curve': 'basis'}}}%%\n")
	b.WriteString("flowchart LR\n")

	moduleNames := m.graph.NodeIDs()
	externalNames := collectExternalNames(m.graph)
	aggregateExternal := len(externalNames) > externalAggregationThreshold

	allNames := append(append([]string{}, moduleNames...), externalNames...)
	if aggregateExternal {
		allNames = append(allNames, externalAggregateNodeID)
	}
	ids := makeMermaidIDs(allNames)

	cycleEdges := cycleEdgeSet(cycles)
	cycleModules := cycleModuleSet(cycles)

	retainedNames := make([]string, 0, len(moduleNames))
	shellNames := make([]string, 0)
	outsideNames := make([]string, 0)
	for _, name := range moduleNames {
		mid := modtree.ParseID(name)
		switch {
		case m.closure.IsShell(mid):
			shellNames = append(shellNames, name)
		case m.closure.Contains(mid):
			retainedNames = append(retainedNames, name)
		default:
			outsideNames = append(outsideNames, name)
		}
	}

	for _, modName := range moduleNames {
		b.WriteString(fmt.Sprintf("  %s[\"%s\"]\n", ids[modName], escapeMermaidLabel(m.moduleLabel(modName))))
	}

	if aggregateExternal {
		b.WriteString(fmt.Sprintf("  %s[\"External Crates\\n(%d crates)\"]\n", ids[externalAggregateNodeID], len(externalNames)))
	} else {
		for _, modName := range externalNames {
			b.WriteString(fmt.Sprintf("  %s[\"%s\"]\n", ids[modName], escapeMermaidLabel(modName)))
		}
	}

	b.WriteString("\n")
	if len(retainedNames) > 0 {
		b.WriteString("  classDef retainedNode fill:#f0fff4,stroke:#2f6f4f,stroke-width:1px;\n")
		b.WriteString("  class ")
		b.WriteString(strings.Join(toIDs(retainedNames, ids), ","))
		b.WriteString(" retainedNode;\n")
	}
	if len(shellNames) > 0 {
		b.WriteString("  classDef shellNode fill:#f7fbff,stroke:#4d6480,stroke-dasharray:4 3;\n")
		b.WriteString("  class ")
		b.WriteString(strings.Join(toIDs(shellNames, ids), ","))
		b.WriteString(" shellNode;\n")
	}
	if len(outsideNames) > 0 {
		b.WriteString("  classDef outsideNode fill:#efefef,stroke:#9a9a9a;\n")
		b.WriteString("  class ")
		b.WriteString(strings.Join(toIDs(outsideNames, ids), ","))
		b.WriteString(" outsideNode;\n")
	}
	if len(externalNames) > 0 {
		b.WriteString("  classDef externalNode fill:#efefef,stroke:#808080,stroke-dasharray:4 3;\n")
		if aggregateExternal {
			b.WriteString(fmt.Sprintf("  class %s externalNode;\n", ids[externalAggregateNodeID]))
		} else {
			b.WriteString("  class ")
			b.WriteString(strings.Join(toIDs(externalNames, ids), ","))
			b.WriteString(" externalNode;\n")
		}
	}
	if len(cycleModules) > 0 {
		cycleNames := intersectOrdered(moduleNames, cycleModules)
		if len(cycleNames) > 0 {
			b.WriteString("  classDef cycleNode fill:#ffecec,stroke:#cc0000,stroke-width:2px;\n")
			b.WriteString("  class ")
			b.WriteString(strings.Join(toIDs(cycleNames, ids), ","))
			b.WriteString(" cycleNode;\n")
		}
	}

	b.WriteString("\n")
	linkIndex := 0
	cycleLinkIndexes := make([]int, 0)
	crossingLinkIndexes := make([]int, 0)
	externalLinkIndexes := make([]int, 0)
	for _, from := range moduleNames {
		fromID := modtree.ParseID(from)
		for _, edge := range m.graph.EdgesFrom(from) {
			to := edge.Target.String()
			edgeLabel := ""
			switch {
			case cycleEdges[from+"->"+to]:
				edgeLabel = "|CYCLE|"
				cycleLinkIndexes = append(cycleLinkIndexes, linkIndex)
			case !m.closure.Contains(fromID) || !m.closure.Contains(edge.Target):
				crossingLinkIndexes = append(crossingLinkIndexes, linkIndex)
			}
			if edgeLabel == "" && edge.Kind == classify.KindMacroExportUse {
				edgeLabel = "|macro|"
			}
			b.WriteString(fmt.Sprintf("  %s -->%s %s\n", ids[from], edgeLabel, ids[to]))
			linkIndex++
		}

		externalRefs := m.graph.ExternalRefs(from)
		if aggregateExternal {
			if len(externalRefs) > 0 {
				b.WriteString(fmt.Sprintf("  %s -->|ext:%d| %s\n", ids[from], len(externalRefs), ids[externalAggregateNodeID]))
				externalLinkIndexes = append(externalLinkIndexes, linkIndex)
				linkIndex++
			}
			continue
		}
		for _, name := range externalRefs {
			b.WriteString(fmt.Sprintf("  %s --> %s\n", ids[from], ids[name]))
			externalLinkIndexes = append(externalLinkIndexes, linkIndex)
			linkIndex++
		}
	}

	if len(cycleLinkIndexes) > 0 || len(crossingLinkIndexes) > 0 || len(externalLinkIndexes) > 0 {
		b.WriteString("\n")
	}
	if len(cycleLinkIndexes) > 0 {
		b.WriteString(fmt.Sprintf("  linkStyle %s stroke:#cc0000,stroke-width:3px;\n", joinInts(cycleLinkIndexes)))
	}
	if len(crossingLinkIndexes) > 0 {
		b.WriteString(fmt.Sprintf("  linkStyle %s stroke:#9a9a9a,stroke-dasharray:5 3;\n", joinInts(crossingLinkIndexes)))
	}
	if len(externalLinkIndexes) > 0 {
		b.WriteString(fmt.Sprintf("  linkStyle %s stroke:#777777,stroke-dasharray:4 3;\n", joinInts(externalLinkIndexes)))
	}
	b.WriteString("\n")
	b.WriteString("  subgraph legend_info[\"Legend\"]\n")
	b.WriteString("    legend_nodes[\"Node line 1: module\\nline 2: (shell) marks containment shells\\n(d=depth in=fan-in out=fan-out)\"]\n")
	b.WriteString("    legend_edges[\"Edge labels: CYCLE=reference cycle, macro=exported macro use, ext:N=external crate count\"]\n")
	b.WriteString("  end\n")
	b.WriteString("  classDef legendNode fill:#fff8dc,stroke:#b8a24c,stroke-width:1px;\n")
	b.WriteString("  class legend_nodes,legend_edges legendNode;\n")

	return b.String(), nil
}

func (m *MermaidGenerator) moduleLabel(module string) string {
	parts := []string{module}
	if m.closure.IsShell(modtree.ParseID(module)) {
		parts = append(parts, "(shell)")
	}
	if metric, ok := m.metrics[module]; ok {
		parts = append(parts, fmt.Sprintf("(d=%d in=%d out=%d)", metric.Depth, metric.FanIn, metric.FanOut))
	}
	return strings.Join(parts, "\\n")
}

func sanitizeMermaidID(module string) string {
	if module == "" {
		return "m"
	}
	var b strings.Builder
	for _, r := range module {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	out := b.String()
	if out == "" {
		return "m"
	}
	first := rune(out[0])
	if unicode.IsDigit(first) {
		return "m_" + out
	}
	return out
}

func makeMermaidIDs(names []string) map[string]string {
	ids := make(map[string]string, len(names))
	used := make(map[string]int, len(names))
	for _, name := range names {
		base := sanitizeMermaidID(name)
		idx := used[base]
		used[base] = idx + 1
		if idx == 0 {
			ids[name] = base
			continue
		}
		ids[name] = fmt.Sprintf("%s_%d", base, idx+1)
	}
	return ids
}

func cycleEdgeSet(cycles [][]string) map[string]bool {
	out := make(map[string]bool)
	for _, cycle := range cycles {
		if len(cycle) < 2 {
			continue
		}
		for i := 0; i < len(cycle); i++ {
			from := cycle[i]
			to := cycle[(i+1)%len(cycle)]
			out[from+"->"+to] = true
		}
	}
	return out
}

func cycleModuleSet(cycles [][]string) map[string]bool {
	out := make(map[string]bool)
	for _, cycle := range cycles {
		for _, mod := range cycle {
			out[mod] = true
		}
	}
	return out
}

// collectExternalNames unions the external crate names referenced anywhere in
// the graph, sorted.
func collectExternalNames(g *graph.Graph) []string {
	set := make(map[string]bool)
	for _, id := range g.NodeIDs() {
		for _, name := range g.ExternalRefs(id) {
			set[name] = true
		}
	}
	return sortedKeys(set)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeMermaidLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

const externalAggregateNodeID = "__external_aggregate__"

func toIDs(names []string, ids map[string]string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if id, ok := ids[name]; ok {
			out = append(out, id)
		}
	}
	return out
}

func intersectOrdered(ordered []string, set map[string]bool) []string {
	out := make([]string, 0)
	for _, item := range ordered {
		if set[item] {
			out = append(out, item)
		}
	}
	return out
}

func joinInts(v []int) string {
	if len(v) == 0 {
		return ""
	}
	parts := make([]string, 0, len(v))
	for _, n := range v {
		parts = append(parts, fmt.Sprintf("%d", n))
	}
	return strings.Join(parts, ",")
}

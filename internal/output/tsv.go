// # internal/output/tsv.go
package output

import (
	"fmt"
	"strings"

	"carve/internal/engine/classify"
	"carve/internal/engine/closure"
	"carve/internal/engine/graph"
	"carve/internal/engine/modtree"
)

type TSVGenerator struct {
	graph   *graph.Graph
	closure *closure.Result
}

func NewTSVGenerator(g *graph.Graph, res *closure.Result) *TSVGenerator {
	return &TSVGenerator{graph: g, closure: res}
}

// Generate renders one row per reference edge, module edges first per source,
// then that module's external crate references with an empty statement column.
func (t *TSVGenerator) Generate() (string, error) {
	var buf strings.Builder

	buf.WriteString("From\tTo\tKind\tFromRetention\tToRetention\tStatement\n")

	for _, from := range t.graph.NodeIDs() {
		fromRet := retention(t.closure, modtree.ParseID(from))
		for _, edge := range t.graph.EdgesFrom(from) {
			buf.WriteString(fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s\n",
				from, edge.Target.String(), edge.Kind, fromRet,
				retention(t.closure, edge.Target), tsvField(edge.Stmt)))
		}
		for _, name := range t.graph.ExternalRefs(from) {
			buf.WriteString(fmt.Sprintf("%s\t%s\t%s\t%s\texternal\t\n",
				from, name, classify.KindExternalCrate, fromRet))
		}
	}

	return buf.String(), nil
}

func retention(res *closure.Result, id modtree.ID) string {
	switch {
	case res.IsShell(id):
		return "shell"
	case res.Contains(id):
		return "full"
	default:
		return "outside"
	}
}

// Statements can span lines (grouped use lists); flatten so rows stay rows.
func tsvField(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

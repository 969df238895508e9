// # internal/engine/modtree/extract.go
package modtree

import (
	"fmt"
	"os"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"carve/internal/core/errors"
)

// fileScan is the raw item inventory of one source file: declared child
// modules in declaration order, reference paths from use statements and
// macro invocations, and exported macro names.
type fileScan struct {
	ModDecls     []string
	Uses         []RawPath
	MacroCalls   []RawPath
	MacroExports []string
}

func parseFile(parser *sitter.Parser, path string) (*fileScan, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeModuleResolution, "failed to read source file")
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("parse failed: %s", path))
	}
	defer tree.Close()

	root := tree.RootNode()
	scan := &fileScan{}
	walkItems(root, source, scan)
	scan.MacroExports = macroExports(root, source)
	return scan, nil
}

// walkItems collects mod declarations, use paths and scoped macro
// invocations from the whole tree. Inline mod blocks are not modules of
// their own files, so only bodiless declarations are recorded; their
// contents are still walked.
func walkItems(node *sitter.Node, source []byte, scan *fileScan) {
	switch node.Kind() {
	case "mod_item":
		if !hasDeclarationList(node) {
			for i := uint(0); i < node.ChildCount(); i++ {
				child := node.Child(i)
				if child.Kind() == "identifier" {
					scan.ModDecls = append(scan.ModDecls, nodeText(child, source))
					break
				}
			}
		}

	case "use_declaration":
		stmt := strings.TrimSpace(nodeText(node, source))
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if !isUseTree(child.Kind()) {
				continue
			}
			var paths [][]string
			extractUsePaths(child, nil, &paths, source)
			for _, p := range paths {
				scan.Uses = append(scan.Uses, RawPath{Segments: p, Stmt: stmt})
			}
			break
		}

	case "macro_invocation":
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child.Kind() == "scoped_identifier" {
				if segments := scopedPath(child, source); len(segments) > 0 {
					scan.MacroCalls = append(scan.MacroCalls, RawPath{
						Segments: segments,
						Stmt:     nodeText(child, source) + "!",
					})
				}
				break
			}
		}
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		walkItems(node.Child(i), source, scan)
	}
}

func isUseTree(kind string) bool {
	switch kind {
	case "scoped_identifier", "identifier", "scoped_use_list", "use_list", "use_wildcard", "use_as_clause":
		return true
	}
	return false
}

// extractUsePaths flattens a use tree into full paths. Grouped imports
// expand to one path per item, aliases record the original path, and
// wildcards record the path before the asterisk.
func extractUsePaths(node *sitter.Node, prefix []string, out *[][]string, source []byte) {
	switch node.Kind() {
	case "identifier":
		*out = append(*out, appendSegments(prefix, nodeText(node, source)))

	case "scoped_identifier":
		*out = append(*out, appendSegments(prefix, scopedPath(node, source)...))

	case "use_wildcard":
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			switch child.Kind() {
			case "scoped_identifier":
				*out = append(*out, appendSegments(prefix, scopedPath(child, source)...))
				return
			case "identifier", "crate", "self", "super":
				*out = append(*out, appendSegments(prefix, nodeText(child, source)))
				return
			}
		}
		// Bare `use *` inside a group falls back to the group prefix.
		if len(prefix) > 0 {
			*out = append(*out, appendSegments(prefix))
		}

	case "use_as_clause":
		// The original path matters here, never the alias.
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child.Kind() == "identifier" {
				*out = append(*out, appendSegments(prefix, nodeText(child, source)))
				break
			}
			if child.Kind() == "scoped_identifier" {
				*out = append(*out, appendSegments(prefix, scopedPath(child, source)...))
				break
			}
		}

	case "scoped_use_list":
		newPrefix := appendSegments(prefix)
		var list *sitter.Node
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			switch child.Kind() {
			case "identifier", "crate", "self", "super":
				newPrefix = append(newPrefix, nodeText(child, source))
			case "scoped_identifier":
				newPrefix = append(newPrefix, scopedPath(child, source)...)
			case "use_list":
				list = child
			}
		}
		if list != nil {
			extractUsePaths(list, newPrefix, out, source)
		}

	case "use_list":
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			switch child.Kind() {
			case "{", "}", ",":
			default:
				extractUsePaths(child, prefix, out, source)
			}
		}
	}
}

// scopedPath extracts the segments of a scoped_identifier, keeping the
// crate, self and super keywords as ordinary segments.
func scopedPath(node *sitter.Node, source []byte) []string {
	var segments []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Kind() {
		case "identifier", "self", "super", "crate":
			segments = append(segments, nodeText(n, source))
		case "scoped_identifier":
			for i := uint(0); i < n.ChildCount(); i++ {
				child := n.Child(i)
				if child.Kind() != "::" {
					walk(child)
				}
			}
		}
	}
	walk(node)
	return segments
}

// macroExports finds top-level macro_definition items directly preceded by a
// #[macro_export] attribute.
func macroExports(root *sitter.Node, source []byte) []string {
	var names []string
	var prev *sitter.Node
	for i := uint(0); i < root.ChildCount(); i++ {
		node := root.Child(i)
		if node.Kind() == "macro_definition" &&
			prev != nil && prev.Kind() == "attribute_item" &&
			strings.Contains(nodeText(prev, source), "macro_export") {
			for j := uint(0); j < node.ChildCount(); j++ {
				child := node.Child(j)
				if child.Kind() == "identifier" {
					names = append(names, nodeText(child, source))
					break
				}
			}
		}
		prev = node
	}
	return names
}

func hasDeclarationList(node *sitter.Node) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		if node.Child(i).Kind() == "declaration_list" {
			return true
		}
	}
	return false
}

func appendSegments(prefix []string, segments ...string) []string {
	combined := make([]string, 0, len(prefix)+len(segments))
	combined = append(combined, prefix...)
	return append(combined, segments...)
}

func nodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	start := node.StartByte()
	end := node.EndByte()
	if start >= end || end > uint(len(source)) {
		return ""
	}
	return string(source[start:end])
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

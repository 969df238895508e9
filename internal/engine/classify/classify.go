// # internal/engine/classify/classify.go
package classify

import (
	"strings"

	"carve/internal/cargo"
	"carve/internal/core/errors"
	"carve/internal/engine/modtree"
)

// Kind is the closed set of reference classifications. Every reference a
// module makes falls into exactly one of these, and each kind maps to one
// rewrite rule.
type Kind string

const (
	// KindSelfCrateRelative is a reference within the declaring crate,
	// anchored by crate::, self::, super:: or the crate's own name.
	KindSelfCrateRelative Kind = "self_crate_relative"
	// KindWorkspaceCrate is a reference into another workspace member crate.
	KindWorkspaceCrate Kind = "workspace_crate"
	// KindExternalCrate is an opaque reference to a non-workspace crate.
	KindExternalCrate Kind = "external_crate"
	// KindSelfReferentialReexport is a pub use at a pseudo-root whose target
	// lives in the same crate.
	KindSelfReferentialReexport Kind = "self_referential_reexport"
	// KindImplicitSiblingImport is a bare path in an ordinary leaf file that
	// resolves relative to the declaring module's position.
	KindImplicitSiblingImport Kind = "implicit_sibling_import"
	// KindMacroExportUse is a scoped macro invocation; exported macros
	// resolve at their crate's root regardless of nesting.
	KindMacroExportUse Kind = "macro_export_use"
)

// Edge is one classified reference from a module to its resolved target.
type Edge struct {
	Source modtree.ID
	Kind   Kind
	// Target is the resolved module for intra-workspace references and nil
	// for external ones.
	Target modtree.ID
	// TargetCrate is the referenced crate name for cross-crate and external
	// references.
	TargetCrate string
	Stmt        string
}

// Classifier resolves raw reference paths against the workspace member set
// and the parsed module forest.
type Classifier struct {
	ws        *cargo.Workspace
	forest    *modtree.Forest
	externals map[string]bool
}

func New(ws *cargo.Workspace, forest *modtree.Forest, externals map[string]bool) *Classifier {
	return &Classifier{ws: ws, forest: forest, externals: externals}
}

// ModuleEdges classifies every use path and scoped macro invocation of a
// module. An unclassifiable path is fatal; relocation cannot be proven safe
// for a reference the rule table does not cover.
func (c *Classifier) ModuleEdges(mod *modtree.Module) ([]Edge, error) {
	edges := make([]Edge, 0, len(mod.Uses)+len(mod.MacroCalls))

	for _, raw := range mod.Uses {
		edge, err := c.classify(mod, raw, false)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	for _, raw := range mod.MacroCalls {
		edge, err := c.classify(mod, raw, true)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func (c *Classifier) classify(mod *modtree.Module, raw modtree.RawPath, macroCall bool) (Edge, error) {
	if len(raw.Segments) == 0 {
		return Edge{}, c.classifyError(mod, raw)
	}

	own := mod.ID.Crate()
	first := raw.Segments[0]

	// Workspace members shadow the configured external names; only check the
	// external set for names that cannot be members.
	if !c.ws.IsMember(first) && c.externals[first] {
		return Edge{Source: mod.ID, Kind: KindExternalCrate, TargetCrate: first, Stmt: raw.Stmt}, nil
	}

	targetCrate, absolute, err := normalize(raw.Segments, own, mod.ID.Segments(), c.memberSet())
	if err != nil {
		return Edge{}, c.classifyError(mod, raw)
	}

	if targetCrate != own {
		target, _ := c.resolveInCrate(targetCrate, absolute)
		kind := KindWorkspaceCrate
		if macroCall {
			kind = KindMacroExportUse
		}
		return Edge{Source: mod.ID, Kind: kind, Target: target, TargetCrate: targetCrate, Stmt: raw.Stmt}, nil
	}

	anchored := first == "crate" || first == "self" || first == "super" || first == own
	if anchored {
		target, _ := c.resolveInCrate(own, absolute)
		kind := KindSelfCrateRelative
		if macroCall {
			kind = KindMacroExportUse
		}
		return Edge{Source: mod.ID, Kind: kind, Target: target, Stmt: raw.Stmt}, nil
	}

	// Bare leading segment. In a leaf file such a path may name a sibling
	// module of the declaring one; the sibling must then survive extraction
	// for the relocated import to resolve.
	if !mod.PseudoRoot {
		if target, ok := c.resolveSibling(mod, raw.Segments); ok {
			kind := KindImplicitSiblingImport
			if macroCall {
				kind = KindMacroExportUse
			}
			return Edge{Source: mod.ID, Kind: kind, Target: target, Stmt: raw.Stmt}, nil
		}
	}

	// Otherwise the path is taken relative to the declaring module. If none
	// of the written segments matched a module in this crate, the name is an
	// unknown external crate.
	target, matched := c.resolveInCrate(own, absolute)
	if matched <= len(mod.ID.Segments()) {
		return Edge{Source: mod.ID, Kind: KindExternalCrate, TargetCrate: first, Stmt: raw.Stmt}, nil
	}

	switch {
	case macroCall:
		return Edge{Source: mod.ID, Kind: KindMacroExportUse, Target: target, Stmt: raw.Stmt}, nil
	case mod.PseudoRoot && isReexport(raw.Stmt):
		return Edge{Source: mod.ID, Kind: KindSelfReferentialReexport, Target: target, Stmt: raw.Stmt}, nil
	case !mod.PseudoRoot:
		return Edge{Source: mod.ID, Kind: KindImplicitSiblingImport, Target: target, Stmt: raw.Stmt}, nil
	default:
		return Edge{Source: mod.ID, Kind: KindSelfCrateRelative, Target: target, Stmt: raw.Stmt}, nil
	}
}

// resolveSibling checks whether the first path segment names a child of the
// declaring module's parent.
func (c *Classifier) resolveSibling(mod *modtree.Module, segments []string) (modtree.ID, bool) {
	parent, ok := mod.ID.Parent()
	if !ok {
		return nil, false
	}
	tree, ok := c.forest.Crates[mod.ID.Crate()]
	if !ok {
		return nil, false
	}
	sibling := parent.Child(segments[0])
	if _, ok := tree.Modules[sibling.String()]; !ok {
		return nil, false
	}
	full := append(append([]string{}, parent.Segments()...), segments...)
	target, _ := c.resolveInCrate(mod.ID.Crate(), full)
	return target, true
}

func (c *Classifier) classifyError(mod *modtree.Module, raw modtree.RawPath) error {
	err := errors.Newf(errors.CodeImportClassification,
		"cannot classify reference %q", strings.Join(raw.Segments, "::"))
	err = errors.AddContext(err, errors.CtxModule, mod.ID.String())
	return errors.AddContext(err, errors.CtxStatement, raw.Stmt)
}

func (c *Classifier) memberSet() map[string]bool {
	members := make(map[string]bool, len(c.ws.Crates))
	for name := range c.ws.Crates {
		members[name] = true
	}
	return members
}

// resolveInCrate finds the deepest module of the crate's tree matching a
// prefix of segments, falling back to the crate root. The returned count is
// the number of segments that matched; trailing type and function names
// never match.
func (c *Classifier) resolveInCrate(crateName string, segments []string) (modtree.ID, int) {
	tree, ok := c.forest.Crates[crateName]
	if !ok {
		return modtree.ID{crateName}, 0
	}

	current := segments
	for len(current) > 0 {
		id := append(modtree.ID{crateName}, current...)
		if _, ok := tree.Modules[id.String()]; ok {
			return id, len(current)
		}
		current = current[:len(current)-1]
	}
	return tree.Root, 0
}

// normalize turns a written path into (target crate, absolute segments).
// Bare paths that name neither a workspace crate nor a relative marker are
// taken relative to the declaring module's position.
func normalize(segments []string, contextCrate string, contextID []string, members map[string]bool) (string, []string, error) {
	if len(segments) == 0 {
		return "", nil, errors.New(errors.CodeImportClassification, "empty module path")
	}

	first := segments[0]
	targetCrate := contextCrate
	var base []string
	var remainder []string

	switch {
	case first == "crate":
		remainder = segments[1:]
	case first == "self":
		base = append(base, contextID...)
		remainder = segments[1:]
	case first == "super":
		base = append(base, contextID...)
		idx := 0
		for idx < len(segments) && segments[idx] == "super" {
			if len(base) > 0 {
				base = base[:len(base)-1]
			}
			idx++
		}
		remainder = segments[idx:]
	case first == contextCrate:
		remainder = segments[1:]
	case members[first]:
		targetCrate = first
		remainder = segments[1:]
	default:
		base = append(base, contextID...)
		remainder = segments
	}

	absolute := append(base, remainder...)
	if len(absolute) == 0 && targetCrate == contextCrate {
		return "", nil, errors.Newf(errors.CodeImportClassification,
			"path %q resolves to nothing", strings.Join(segments, "::"))
	}
	return targetCrate, absolute, nil
}

func isReexport(stmt string) bool {
	return strings.HasPrefix(strings.TrimSpace(stmt), "pub use ")
}

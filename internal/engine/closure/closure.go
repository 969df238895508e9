// # internal/engine/closure/closure.go
package closure

import (
	"sort"
	"strings"

	"carve/internal/core/errors"
	"carve/internal/engine/graph"
	"carve/internal/engine/modtree"
	"carve/internal/shared/observability"
)

// Membership distinguishes fully included modules from connectivity shells.
type Membership int

const (
	// MemberFull modules are expanded: their child modules and reference
	// targets are retained too.
	MemberFull Membership = iota
	// MemberShell modules exist only so the mod chain from the crate root
	// reaches the entry. Nothing is followed from a shell, and its dangling
	// declarations are pruned at rewrite time.
	MemberShell
)

// Result is the frozen retention set of one extraction.
type Result struct {
	Entry    modtree.ID
	Members  map[string]Membership
	Crates   []string
	Warnings []error
}

func (r *Result) Contains(id modtree.ID) bool {
	_, ok := r.Members[id.String()]
	return ok
}

func (r *Result) IsShell(id modtree.ID) bool {
	return r.Members[id.String()] == MemberShell
}

// ModuleIDs returns every retained module, sorted.
func (r *Result) ModuleIDs() []modtree.ID {
	keys := make([]string, 0, len(r.Members))
	for key := range r.Members {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ids := make([]modtree.ID, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, modtree.ParseID(key))
	}
	return ids
}

// CrateModuleIDs returns the retained modules of one crate, sorted.
func (r *Result) CrateModuleIDs(crate string) []modtree.ID {
	var ids []modtree.ID
	for _, id := range r.ModuleIDs() {
		if id.Crate() == crate {
			ids = append(ids, id)
		}
	}
	return ids
}

// CrateSet returns the retained crate names as a set.
func (r *Result) CrateSet() map[string]bool {
	set := make(map[string]bool, len(r.Crates))
	for _, name := range r.Crates {
		set[name] = true
	}
	return set
}

// Compute walks the reference graph breadth-first from the entry module and
// returns the set of modules a buildable extraction must retain.
//
// The entry's ancestors are included as shells so the mod chain from the
// crate root still reaches the entry, but they are never expanded; a shell
// is upgraded in place if some retained module genuinely references it. A
// reference into another workspace crate retains that crate in full. Cycles
// among retained modules are reported as warnings, never as failures.
func Compute(forest *modtree.Forest, g *graph.Graph, entry modtree.ID) (*Result, error) {
	if _, ok := forest.Crates[entry.Crate()]; !ok {
		return nil, errors.Newf(errors.CodeCrateNotFound,
			"crate %s is not a workspace member", entry.Crate())
	}
	if _, ok := forest.Module(entry); !ok {
		err := errors.Newf(errors.CodeModuleResolution,
			"entry module %s is not reachable from the crate root", entry)
		return nil, errors.AddContext(err, errors.CtxCrate, entry.Crate())
	}

	members := make(map[string]Membership)
	for ancestor, ok := entry.Parent(); ok; ancestor, ok = ancestor.Parent() {
		members[ancestor.String()] = MemberShell
	}

	queue := []modtree.ID{entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		key := id.String()

		if m, seen := members[key]; seen && m == MemberFull {
			continue
		}

		mod, ok := forest.Module(id)
		if !ok {
			return nil, errors.Newf(errors.CodeInternal, "closure reached unknown module %s", key)
		}
		members[key] = MemberFull

		for _, child := range mod.Children {
			queue = append(queue, child)
		}

		for _, edge := range g.EdgesFrom(key) {
			if len(edge.Target) == 0 {
				continue
			}
			if edge.Target.Crate() != id.Crate() {
				target, ok := forest.Crates[edge.Target.Crate()]
				if !ok {
					err := errors.Newf(errors.CodeCrateNotFound,
						"reference to crate %s which is not in the workspace", edge.Target.Crate())
					return nil, errors.AddContext(err, errors.CtxStatement, edge.Stmt)
				}
				// Cross-crate references retain the target crate in full.
				queue = append(queue, target.Root)
			}
			queue = append(queue, edge.Target)
		}
	}

	full := make(map[string]bool, len(members))
	crateSet := make(map[string]bool)
	for key, m := range members {
		if m == MemberFull {
			full[key] = true
		}
		crateSet[modtree.ParseID(key).Crate()] = true
	}

	var warnings []error
	for _, cycle := range g.DetectCyclesWithin(full) {
		loop := append(append([]string{}, cycle...), cycle[0])
		warnings = append(warnings, errors.Newf(errors.CodeCyclicDependency,
			"reference cycle retained: %s", strings.Join(loop, " -> ")))
	}

	result := &Result{
		Entry:    entry,
		Members:  members,
		Crates:   make([]string, 0, len(crateSet)),
		Warnings: warnings,
	}
	for name := range crateSet {
		result.Crates = append(result.Crates, name)
	}
	sort.Strings(result.Crates)

	observability.ModulesRetained.Set(float64(len(members)))
	observability.CratesRetained.Set(float64(len(result.Crates)))
	observability.CycleWarnings.Set(float64(len(warnings)))

	return result, nil
}

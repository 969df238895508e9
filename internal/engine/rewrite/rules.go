// # internal/engine/rewrite/rules.go

// Package rewrite repairs source paths for the relocated module layout. The
// output nests every included crate under a synthetic root, so crate-relative
// paths gain the crate's own module name, cross-crate paths are routed
// through the root, and declarations pointing at modules the closure skipped
// are commented out.
package rewrite

import (
	"path"
	"regexp"
	"strings"
)

// Statement-level patterns shared across rules.
var (
	modDeclRE      = regexp.MustCompile(`(?m)^\s*(?:pub(?:\([^)]*\))?\s+)?mod\s+([A-Za-z0-9_]+)\s*;\s*$`)
	pubUseRE       = regexp.MustCompile(`(?m)^\s*pub\s+use\s+([A-Za-z0-9_]+)::[^;]+;\s*$`)
	useCrateRE     = regexp.MustCompile(`(?m)(^\s*(?:pub\s+)?use\s+)crate::([^;]+)`)
	plainUseRE     = regexp.MustCompile(`(?m)^\s*use\s+([A-Za-z0-9_]+)\s*(?:::[^;]*|as\s+[^;]*)?;\s*$`)
	useLineRE      = regexp.MustCompile(`^\s*(?:pub\s+)?use\s+`)
	bareReexportRE = regexp.MustCompile(`^(\s*pub\s+use\s+)([A-Za-z0-9_]+)(::(?:[^;]+);)(\s*)$`)
	typeAliasRE    = regexp.MustCompile(`^\s*pub\s+type\s+\w+\s*=\s*([A-Za-z0-9_]+)::([A-Za-z0-9_]+)::`)
	groupedUseRE   = regexp.MustCompile(`\A(.*)\{([^}]+)\}(.*)`)
)

// Rule is a pure text transformation applied to one file of the output.
type Rule interface {
	Name() string
	Apply(text string, ctx *Context) string
}

// DefaultRules returns the pipeline in application order. Later rules see
// the text earlier ones produced; the pruning rules in particular run after
// every surviving path has been rewritten into its final spelling.
func DefaultRules() []Rule {
	return []Rule{
		RewriteUses{},
		RewriteMacroRefs{},
		FixSelfPubUses{},
		FixBareImports{},
		PruneMods{},
		PrunePubUses{},
		PruneUses{},
		PruneTypeAliases{},
	}
}

// Apply runs the default pipeline over one file.
func Apply(text string, ctx *Context) (string, error) {
	return ApplyRules(text, ctx, DefaultRules())
}

// ApplyRules runs the given rules in order, then checks that no fully
// expanded module lost a re-export to pruning.
func ApplyRules(text string, ctx *Context, rules []Rule) (string, error) {
	ctx.prunedReexports = nil
	for _, rule := range rules {
		text = rule.Apply(text, ctx)
	}
	if err := ctx.verify(); err != nil {
		return text, err
	}
	return text, nil
}

// RewriteUses moves workspace-internal paths onto the nested layout:
// crate-relative imports gain the crate's own module name, cross-crate
// imports are routed through the synthetic root, and exported macros are
// re-anchored at the root where #[macro_export] places them.
type RewriteUses struct{}

func (RewriteUses) Name() string { return "rewrite_uses" }

func (r RewriteUses) Apply(text string, ctx *Context) string {
	text = r.rewriteCrateImports(text, ctx)
	text = r.rewriteCrossCrateImports(text, ctx)
	text = r.rewritePathReferences(text, ctx)
	text = r.fixBareCrateRefs(text, ctx)
	return text
}

// rewriteCrateImports turns use crate::P into use crate::<crate>::P unless
// the path is already qualified.
func (RewriteUses) rewriteCrateImports(text string, ctx *Context) string {
	return useCrateRE.ReplaceAllStringFunc(text, func(stmt string) string {
		m := useCrateRE.FindStringSubmatch(stmt)
		if strings.HasPrefix(m[2], ctx.Crate+"::") {
			return stmt
		}
		return m[1] + "crate::" + ctx.Crate + "::" + m[2]
	})
}

// rewriteCrossCrateImports turns use other::P into use crate::other::P for
// every other included crate, splitting out exported macros on the way.
// Whole-crate imports (use other; with an optional alias) are routed the
// same way.
func (r RewriteUses) rewriteCrossCrateImports(text string, ctx *Context) string {
	for _, name := range ctx.Crates {
		if name == ctx.Crate {
			continue
		}
		re := regexp.MustCompile(`(?m)(^\s*(?:pub\s+)?use\s+)` + regexp.QuoteMeta(name) + `::([^;]+)`)
		text = re.ReplaceAllStringFunc(text, func(stmt string) string {
			m := re.FindStringSubmatch(stmt)
			if split, ok := r.splitMacroImport(m[1], m[2], name, ctx.Macros); ok {
				return split
			}
			return m[1] + "crate::" + name + "::" + m[2]
		})
		whole := regexp.MustCompile(`(?m)(^\s*(?:pub\s+)?use\s+)` + regexp.QuoteMeta(name) + `(\s*(?:as\s+[A-Za-z0-9_]+)?\s*;)`)
		text = whole.ReplaceAllString(text, "${1}crate::"+name+"${2}")
	}
	return text
}

// splitMacroImport separates exported macros out of a cross-crate import.
// An exported macro materializes at the crate root, not inside the crate's
// module, so a grouped import mixing macros with ordinary items becomes two
// statements.
func (RewriteUses) splitMacroImport(prefix, items, crateName string, macros []string) (string, bool) {
	if !containsMacroName(items, macros) {
		return "", false
	}
	if !strings.Contains(items, "{") {
		return prefix + "crate::" + items, true
	}
	m := groupedUseRE.FindStringSubmatch(items)
	if m == nil {
		return "", false
	}
	pathPrefix, grouped, suffix := m[1], m[2], m[3]
	var regular, macroItems []string
	for _, item := range strings.Split(grouped, ",") {
		item = strings.TrimSpace(item)
		if containsMacroName(item, macros) {
			macroItems = append(macroItems, item)
		} else {
			regular = append(regular, item)
		}
	}
	var stmts []string
	if len(regular) > 0 {
		stmts = append(stmts, prefix+"crate::"+crateName+"::"+pathPrefix+"{"+strings.Join(regular, ", ")+"}"+suffix)
	}
	if len(macroItems) > 0 {
		stmts = append(stmts, prefix+"crate::{"+strings.Join(macroItems, ", ")+"}"+suffix)
	}
	// The terminating semicolon sits outside the matched span and stays in
	// the surrounding text; the join supplies the one between statements.
	return strings.Join(stmts, ";\n"), true
}

// rewritePathReferences qualifies bare crate paths in expressions and types,
// then collapses exported macro invocations onto the root.
func (RewriteUses) rewritePathReferences(text string, ctx *Context) string {
	for _, name := range ctx.Crates {
		if name == ctx.Crate {
			continue
		}
		text = rewriteCratePaths(text, name, ctx.Macros)
	}
	for _, name := range ctx.Macros {
		re := regexp.MustCompile(`(?:[A-Za-z0-9_]+::)+(` + regexp.QuoteMeta(name) + `!)`)
		text = re.ReplaceAllString(text, "crate::$1")
	}
	return text
}

// fixBareCrateRefs qualifies plain crate:: paths outside use statements.
// $crate:: belongs to RewriteMacroRefs, already routed paths keep their
// spelling, and path-invoked macros stay crate rooted.
func (RewriteUses) fixBareCrateRefs(text string, ctx *Context) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if useLineRE.MatchString(line) {
			continue
		}
		lines[i] = qualifyBareCrateRefs(line, ctx)
	}
	return strings.Join(lines, "\n")
}

// rewriteCratePaths qualifies bare references to another included crate with
// the synthetic root. Exported macro invocations are left for the
// root-anchoring pass that follows.
func rewriteCratePaths(text, name string, macros []string) string {
	needle := name + "::"
	var b strings.Builder
	i := 0
	for {
		j := strings.Index(text[i:], needle)
		if j < 0 {
			b.WriteString(text[i:])
			return b.String()
		}
		pos := i + j
		end := pos + len(needle)
		switch {
		case pos > 0 && isPathByte(text[pos-1]):
			// Part of a longer identifier or an already qualified path.
			b.WriteString(text[i:end])
		case macroInvocation(text[end:], macros):
			b.WriteString(text[i:end])
		default:
			b.WriteString(text[i:pos])
			b.WriteString("crate::")
			b.WriteString(needle)
		}
		i = end
	}
}

func qualifyBareCrateRefs(line string, ctx *Context) string {
	const needle = "crate::"
	var b strings.Builder
	i := 0
	for {
		j := strings.Index(line[i:], needle)
		if j < 0 {
			b.WriteString(line[i:])
			return b.String()
		}
		pos := i + j
		end := pos + len(needle)
		rest := line[end:]
		switch {
		case pos > 0 && (line[pos-1] == '$' || isPathByte(line[pos-1])):
			b.WriteString(line[i:end])
		case startsWithIncludedCrate(rest, ctx.Crates):
			b.WriteString(line[i:end])
		case pathMacroInvocation(rest):
			b.WriteString(line[i:end])
		default:
			b.WriteString(line[i:pos])
			b.WriteString("crate::" + ctx.Crate + "::")
		}
		i = end
	}
}

func isPathByte(c byte) bool {
	return c == ':' || c == '_' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func containsMacroName(s string, macros []string) bool {
	for _, name := range macros {
		if strings.Contains(s, name) {
			return true
		}
	}
	return false
}

// macroInvocation reports whether the text starts with an exported macro
// invocation, e.g. "log_info!(".
func macroInvocation(rest string, macros []string) bool {
	for _, name := range macros {
		if strings.HasPrefix(rest, name+"!") {
			return true
		}
	}
	return false
}

func startsWithIncludedCrate(rest string, crates []string) bool {
	for _, name := range crates {
		if strings.HasPrefix(rest, name+"::") {
			return true
		}
	}
	return false
}

// pathMacroInvocation reports whether the text begins with a path ending in
// a macro bang, e.g. "helpers::trace!(".
func pathMacroInvocation(rest string) bool {
	n := 0
	for n < len(rest) && isPathByte(rest[n]) {
		n++
	}
	return n > 0 && n < len(rest) && rest[n] == '!'
}

// RewriteMacroRefs points $crate:: at the crate's module under the synthetic
// root. $crate named the original crate root; after relocation that position
// is crate::<crate>::.
type RewriteMacroRefs struct{}

func (RewriteMacroRefs) Name() string { return "rewrite_macro_refs" }

func (RewriteMacroRefs) Apply(text string, ctx *Context) string {
	return strings.ReplaceAll(text, "$crate::", "crate::"+ctx.Crate+"::")
}

// FixSelfPubUses restores the original spelling of re-exports into the
// module's own crate. After RewriteUses such a line reads
// pub use crate::<crate>::P; relative to the relocated crate root the plain
// path P is the correct one again.
type FixSelfPubUses struct{}

func (FixSelfPubUses) Name() string { return "fix_self_pub_uses" }

func (FixSelfPubUses) Apply(text string, ctx *Context) string {
	re := regexp.MustCompile(`(?m)(^\s*pub\s+use\s+)crate::` + regexp.QuoteMeta(ctx.Crate) + `::([^;]+);(\s*)$`)
	return re.ReplaceAllString(text, "$1$2;$3")
}

// FixBareImports inserts super:: in front of re-exports that name a sibling
// module. In mod.rs and lib.rs a bare name already resolves to the child
// module; in an ordinary leaf it would resolve to an external crate.
type FixBareImports struct{}

func (FixBareImports) Name() string { return "fix_bare_imports" }

func (FixBareImports) Apply(text string, ctx *Context) string {
	if ctx.IsModFile() {
		return text
	}
	siblings := ctx.siblingModules()
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		m := bareReexportRE.FindStringSubmatch(line)
		if m == nil || !siblings[m[2]] {
			continue
		}
		lines[i] = m[1] + "super::" + m[2] + m[3] + m[4]
	}
	return strings.Join(lines, "\n")
}

// PruneMods comments out mod declarations whose backing file did not make it
// into the output. Only connectivity shells reach this point with dangling
// declarations; the builder fails a fully expanded module much earlier.
type PruneMods struct{}

func (PruneMods) Name() string { return "prune_mods" }

func (PruneMods) Apply(text string, ctx *Context) string {
	base := ctx.ModuleBaseDir()
	return modDeclRE.ReplaceAllStringFunc(text, func(stmt string) string {
		m := modDeclRE.FindStringSubmatch(stmt)
		name := m[1]
		if ctx.Present[path.Join(base, name+".rs")] || ctx.Present[path.Join(base, name, "mod.rs")] {
			return stmt
		}
		return "// pruned missing mod " + strings.TrimSpace(stmt)
	})
}

// PrunePubUses comments out re-exports whose leading segment is neither an
// anchored path, an external crate, nor a module present in the output.
type PrunePubUses struct{}

func (PrunePubUses) Name() string { return "prune_pub_uses" }

func (PrunePubUses) Apply(text string, ctx *Context) string {
	available := ctx.AvailableModules()
	return pubUseRE.ReplaceAllStringFunc(text, func(stmt string) string {
		m := pubUseRE.FindStringSubmatch(stmt)
		lead := m[1]
		if lead == "crate" || lead == "super" || lead == "self" {
			return stmt
		}
		if ctx.Externals[lead] || available[lead] {
			return stmt
		}
		ctx.recordPrunedReexport(stmt)
		return "// pruned missing pub use " + strings.TrimSpace(stmt)
	})
}

// PruneUses comments out plain imports of workspace crates the closure left
// out. A shell may import a sibling crate its retained part never touches;
// in the output that crate does not exist.
type PruneUses struct{}

func (PruneUses) Name() string { return "prune_uses" }

func (PruneUses) Apply(text string, ctx *Context) string {
	if !ctx.Shell {
		return text
	}
	return plainUseRE.ReplaceAllStringFunc(text, func(stmt string) string {
		m := plainUseRE.FindStringSubmatch(stmt)
		if !ctx.Excluded[m[1]] {
			return stmt
		}
		return "// pruned missing use " + strings.TrimSpace(stmt)
	})
}

// PruneTypeAliases comments out type aliases whose two-segment module path
// has no backing file in the output. Anchored and external paths are kept;
// by this point earlier rules have already rewritten them into their final,
// valid spelling.
type PruneTypeAliases struct{}

func (PruneTypeAliases) Name() string { return "prune_type_aliases" }

func (PruneTypeAliases) Apply(text string, ctx *Context) string {
	base := ctx.ModuleBaseDir()
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		m := typeAliasRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		first, second := m[1], m[2]
		if first == "crate" || first == "super" || first == "self" || ctx.Externals[first] {
			continue
		}
		if ctx.Present[path.Join(base, first, second, "mod.rs")] || ctx.Present[path.Join(base, first, second+".rs")] {
			continue
		}
		lines[i] = "// pruned type alias referencing missing module: " + strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

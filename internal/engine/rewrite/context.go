// # internal/engine/rewrite/context.go
package rewrite

import (
	"path"
	"strings"

	"carve/internal/core/errors"
)

// Context describes the output surroundings of one file under rewriting.
// All paths are destination-root relative in slash form, so "src/core/mod.rs"
// both names the file being rewritten and keys the Present set.
//
// A Context is single-use: Apply records pruning decisions on it.
type Context struct {
	// DestFile is where the file lands in the output tree.
	DestFile string
	// Present holds every destination file the packager will write.
	Present map[string]bool
	// Crate is the name of the crate the file belongs to.
	Crate string
	// Crates lists every included crate in sorted order, the current one
	// among them.
	Crates []string
	// Macros is the union of exported macro names across the output.
	Macros []string
	// Externals holds crate names that resolve outside the workspace.
	Externals map[string]bool
	// Shell marks connectivity shells, whose declarations may point at
	// modules the closure skipped.
	Shell bool
	// Excluded holds workspace members left out of the output.
	Excluded map[string]bool
	// Module identifies the module in error reports.
	Module string

	prunedReexports []string
}

// IsModFile reports whether the destination is a mod.rs or lib.rs. Their
// child modules live in the same directory rather than a subdirectory.
func (c *Context) IsModFile() bool {
	base := path.Base(c.DestFile)
	return base == "mod.rs" || base == "lib.rs"
}

// ModuleBaseDir returns the directory where child modules of this file live.
func (c *Context) ModuleBaseDir() string {
	if c.IsModFile() {
		return path.Dir(c.DestFile)
	}
	return path.Join(path.Dir(c.DestFile), fileStem(c.DestFile))
}

// AvailableModules returns the module names a bare path can reach from this
// file: children under ModuleBaseDir, plus siblings for ordinary leaves.
func (c *Context) AvailableModules() map[string]bool {
	modules := make(map[string]bool)
	base := c.ModuleBaseDir()
	for p := range c.Present {
		name := path.Base(p)
		if path.Dir(p) == base && strings.HasSuffix(name, ".rs") && name != "mod.rs" && name != "lib.rs" {
			modules[strings.TrimSuffix(name, ".rs")] = true
		}
		if name == "mod.rs" && path.Dir(path.Dir(p)) == base {
			modules[path.Base(path.Dir(p))] = true
		}
	}
	if c.IsModFile() {
		return modules
	}
	sibling := path.Dir(c.DestFile)
	for p := range c.Present {
		if p == c.DestFile {
			continue
		}
		name := path.Base(p)
		if path.Dir(p) == sibling && strings.HasSuffix(name, ".rs") && name != "mod.rs" && name != "lib.rs" {
			modules[strings.TrimSuffix(name, ".rs")] = true
		}
		if name == "mod.rs" && path.Dir(path.Dir(p)) == sibling && path.Dir(p) != base {
			modules[path.Base(path.Dir(p))] = true
		}
	}
	return modules
}

// siblingModules lists the modules that live next to the destination file.
func (c *Context) siblingModules() map[string]bool {
	siblings := make(map[string]bool)
	dir := path.Dir(c.DestFile)
	for p := range c.Present {
		if p == c.DestFile {
			continue
		}
		name := path.Base(p)
		if path.Dir(p) == dir && strings.HasSuffix(name, ".rs") && name != "mod.rs" && name != "lib.rs" {
			siblings[strings.TrimSuffix(name, ".rs")] = true
		}
		if name == "mod.rs" && path.Dir(path.Dir(p)) == dir {
			siblings[path.Base(path.Dir(p))] = true
		}
	}
	return siblings
}

func (c *Context) recordPrunedReexport(stmt string) {
	c.prunedReexports = append(c.prunedReexports, strings.TrimSpace(stmt))
}

// verify fails when pruning removed a re-export from a fully expanded
// module. Shells lose re-exports routinely; in a full module the pruned line
// was part of the public surface and the output cannot reproduce it.
func (c *Context) verify() error {
	if c.Shell || len(c.prunedReexports) == 0 {
		return nil
	}
	err := errors.New(errors.CodeUnsupportedPattern, "re-export targets a module outside the retained set")
	err = errors.AddContext(err, errors.CtxModule, c.Module)
	return errors.AddContext(err, errors.CtxStatement, c.prunedReexports[0])
}

func fileStem(p string) string {
	return strings.TrimSuffix(path.Base(p), ".rs")
}

// # internal/packager/packager.go

// Package packager lays the retained modules out as a standalone crate. The
// whole output is materialized in memory first; only a plan that produced
// every file without error is flushed to disk.
package packager

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"carve/internal/cargo"
	"carve/internal/core/errors"
	"carve/internal/engine/closure"
	"carve/internal/engine/modtree"
	"carve/internal/engine/rewrite"
	"carve/internal/shared/observability"
	"carve/internal/shared/util"
)

const opDestinationCheck = "destination-check"

// Options configure one packaging run.
type Options struct {
	// Name is the generated package's name and its directory under OutputDir.
	Name      string
	OutputDir string
	// Force removes an existing destination before writing.
	Force bool
	// Externals are crate names treated as external at rewrite time.
	Externals map[string]bool
}

// Plan is one extraction's fully materialized output. Files are keyed by
// destination-relative slash paths; nothing touches disk until Write.
type Plan struct {
	Name  string
	Dest  string
	Files map[string]string
}

// Packager turns a closure into an output plan and writes it.
type Packager struct {
	ws     *cargo.Workspace
	forest *modtree.Forest
	opts   Options
}

func New(ws *cargo.Workspace, forest *modtree.Forest, opts Options) *Packager {
	return &Packager{ws: ws, forest: forest, opts: opts}
}

// Plan rewrites every retained module against the destination layout and
// synthesizes the root aggregator and the manifest.
func (p *Packager) Plan(res *closure.Result) (*Plan, error) {
	ids := res.ModuleIDs()

	dests := make(map[string]string, len(ids))
	present := make(map[string]bool, len(ids))
	macroSet := make(map[string]bool)
	for _, id := range ids {
		mod, ok := p.forest.Module(id)
		if !ok {
			return nil, errors.Newf(errors.CodeInternal, "retained module %s is missing from the module tree", id)
		}
		dest := destinationPath(id, mod)
		dests[id.String()] = dest
		present[dest] = true
		for _, name := range mod.MacroExports {
			macroSet[name] = true
		}
	}
	macros := util.SortedStringSet(macroSet)

	included := res.CrateSet()
	excluded := make(map[string]bool)
	for _, name := range p.ws.MemberNames() {
		if !included[name] {
			excluded[name] = true
		}
	}

	files := make(map[string]string, len(ids)+2)
	needsLazyStatic := false
	for _, id := range ids {
		mod, _ := p.forest.Module(id)
		raw, err := os.ReadFile(mod.File)
		if err != nil {
			wrapped := errors.Wrap(err, errors.CodePackaging, "cannot read module source")
			return nil, errors.AddContext(wrapped, errors.CtxModule, id.String())
		}

		ctx := &rewrite.Context{
			DestFile:  dests[id.String()],
			Present:   present,
			Crate:     id.Crate(),
			Crates:    res.Crates,
			Macros:    macros,
			Externals: p.opts.Externals,
			Shell:     res.IsShell(id),
			Excluded:  excluded,
			Module:    id.String(),
		}
		text, err := rewrite.Apply(string(raw), ctx)
		if err != nil {
			return nil, errors.AddContext(err, errors.CtxPath, mod.File)
		}

		if invokesLazyStatic(mod) {
			needsLazyStatic = true
			text = ensureLazyStaticImport(text)
		}
		files[dests[id.String()]] = text
	}

	files["src/lib.rs"] = rootAggregator(res.Crates)

	manifest, err := p.manifest(res, needsLazyStatic)
	if err != nil {
		return nil, err
	}
	files["Cargo.toml"] = manifest

	return &Plan{
		Name:  p.opts.Name,
		Dest:  filepath.Join(p.opts.OutputDir, p.opts.Name),
		Files: files,
	}, nil
}

// Write flushes a plan to its destination. An existing non-empty destination
// is an error unless Force is set, in which case it is removed first.
func (p *Packager) Write(plan *Plan) error {
	if err := p.prepareDest(plan.Dest); err != nil {
		return err
	}
	for _, rel := range util.SortedStringKeys(plan.Files) {
		target := filepath.Join(plan.Dest, filepath.FromSlash(rel))
		if err := util.WriteStringWithDirs(target, plan.Files[rel], 0o644); err != nil {
			wrapped := errors.Wrap(err, errors.CodePackaging, "cannot write output file")
			return errors.AddContext(wrapped, errors.CtxPath, target)
		}
		observability.FilesWritten.Inc()
	}
	return nil
}

func (p *Packager) prepareDest(dest string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		wrapped := errors.Wrap(err, errors.CodePackaging, "cannot inspect destination")
		return errors.AddContext(wrapped, errors.CtxPath, dest)
	}
	if len(entries) == 0 {
		return nil
	}
	if !p.opts.Force {
		conflict := errors.Newf(errors.CodePackaging, "destination %s already exists, pass --force to replace it", dest)
		conflict = errors.AddContext(conflict, errors.CtxOperation, opDestinationCheck)
		return errors.AddContext(conflict, errors.CtxPath, dest)
	}
	if err := os.RemoveAll(dest); err != nil {
		wrapped := errors.Wrap(err, errors.CodePackaging, "cannot remove existing destination")
		return errors.AddContext(wrapped, errors.CtxPath, dest)
	}
	return nil
}

// IsDestinationConflict reports whether err is the refusal to overwrite an
// existing destination, as opposed to an I/O failure while writing.
func IsDestinationConflict(err error) bool {
	de, ok := err.(*errors.DomainError)
	return ok && de.Code == errors.CodePackaging && de.Context[errors.CtxOperation] == opDestinationCheck
}

// destinationPath maps a retained module onto the output layout. Crate roots
// and directory aggregators become mod.rs so their children can nest under
// them; ordinary leaves keep their file name.
func destinationPath(id modtree.ID, mod *modtree.Module) string {
	segs := append([]string{"src"}, id...)
	if id.IsRoot() || isModFile(mod.File) {
		return path.Join(append(segs, "mod.rs")...)
	}
	segs[len(segs)-1] += ".rs"
	return path.Join(segs...)
}

func isModFile(file string) bool {
	base := filepath.Base(file)
	return base == "mod.rs" || base == "lib.rs"
}

// rootAggregator synthesizes src/lib.rs: one pub mod line per included crate.
func rootAggregator(crates []string) string {
	lines := make([]string, 0, len(crates))
	for _, name := range crates {
		lines = append(lines, "pub mod "+name+";")
	}
	return strings.Join(lines, "\n") + "\n"
}

func invokesLazyStatic(mod *modtree.Module) bool {
	for _, call := range mod.MacroCalls {
		segs := call.Segments
		if len(segs) > 0 && segs[len(segs)-1] == "lazy_static" {
			return true
		}
	}
	return false
}

const lazyStaticImport = "use lazy_static::lazy_static;"

// ensureLazyStaticImport makes the lazy_static macro import explicit. The
// original workspace may rely on a #[macro_use] extern somewhere else; in the
// output each invoking file imports the macro itself.
func ensureLazyStaticImport(text string) string {
	if strings.Contains(text, lazyStaticImport) {
		return text
	}
	return lazyStaticImport + "\n" + text
}

// # internal/engine/modtree/modtree.go
package modtree

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"carve/internal/cargo"
	"carve/internal/core/errors"
	"carve/internal/shared/observability"
)

// ID identifies a module: the crate name followed by the module path segments
// within it. ID{"core", "types", "nested"} is core::types::nested and
// ID{"core"} is the crate root.
type ID []string

func (id ID) Crate() string {
	if len(id) == 0 {
		return ""
	}
	return id[0]
}

// Segments returns the module path within the crate, without the crate name.
func (id ID) Segments() []string {
	if len(id) <= 1 {
		return nil
	}
	return id[1:]
}

func (id ID) IsRoot() bool {
	return len(id) == 1
}

func (id ID) String() string {
	return strings.Join(id, "::")
}

// Parent returns the containing module's ID, or false at the crate root.
func (id ID) Parent() (ID, bool) {
	if len(id) <= 1 {
		return nil, false
	}
	parent := make(ID, len(id)-1)
	copy(parent, id[:len(id)-1])
	return parent, true
}

// Child returns a new ID one segment deeper.
func (id ID) Child(name string) ID {
	child := make(ID, 0, len(id)+1)
	child = append(child, id...)
	return append(child, name)
}

// ParseID parses a "crate::path::to::module" string.
func ParseID(s string) ID {
	if s == "" {
		return nil
	}
	return ID(strings.Split(s, "::"))
}

// RawPath is a reference path as written in the source, with crate, self and
// super keywords kept as segments. Stmt is the originating statement text,
// carried for diagnostics.
type RawPath struct {
	Segments []string
	Stmt     string
}

// Module is one node of a crate's module tree.
type Module struct {
	ID   ID
	File string
	// PseudoRoot marks crate roots and directory-aggregator files (mod.rs),
	// whose child modules realize as same-level files. Ordinary leaf files
	// realize children one directory deeper.
	PseudoRoot   bool
	Children     []ID
	Uses         []RawPath
	MacroCalls   []RawPath
	MacroExports []string
}

// Tree is one crate's module tree, keyed by ID.String().
type Tree struct {
	CrateName string
	Root      ID
	Modules   map[string]*Module
}

// Forest holds the module trees of every workspace member crate.
type Forest struct {
	Crates map[string]*Tree
}

// Module looks up a module anywhere in the forest.
func (f *Forest) Module(id ID) (*Module, bool) {
	tree, ok := f.Crates[id.Crate()]
	if !ok {
		return nil, false
	}
	mod, ok := tree.Modules[id.String()]
	return mod, ok
}

// Builder parses crate sources into module trees.
type Builder struct {
	pool *ParserPool
	// scans caches file scan results across builds. Nil outside watch mode,
	// where every run parses fresh.
	scans *LRUCache[string, cachedScan]
}

type cachedScan struct {
	modTime time.Time
	size    int64
	scan    *fileScan
}

func NewBuilder() *Builder {
	return &Builder{pool: NewParserPool()}
}

// NewBuilderWithCache keeps scan results for up to capacity files, so repeated
// builds only re-parse files whose size or mtime changed.
func NewBuilderWithCache(capacity int) *Builder {
	return &Builder{
		pool:  NewParserPool(),
		scans: NewLRUCache[string, cachedScan](capacity),
	}
}

// Invalidate drops cached scans for the given paths.
func (b *Builder) Invalidate(paths []string) {
	if b.scans == nil {
		return
	}
	for _, p := range paths {
		b.scans.Evict(p)
	}
}

// PruneCache evicts the least-recently-used share of cached scans, returning
// the number evicted. It is a no-op outside watch mode.
func (b *Builder) PruneCache(percentage int) int {
	if b.scans == nil {
		return 0
	}
	return b.scans.Prune(percentage)
}

// scanFile parses one source file, consulting the scan cache first when one
// is configured.
func (b *Builder) scanFile(parser *sitter.Parser, crateName, path string) (*fileScan, error) {
	var info os.FileInfo
	if b.scans != nil {
		var err error
		info, err = os.Stat(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeModuleResolution, "failed to read source file")
		}
		if cached, ok := b.scans.Get(path); ok &&
			cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
			return cached.scan, nil
		}
	}

	scan, err := parseFile(parser, path)
	if err != nil {
		return nil, err
	}
	observability.ParsedFiles.WithLabelValues(crateName).Inc()

	if b.scans != nil {
		b.scans.Put(path, cachedScan{modTime: info.ModTime(), size: info.Size(), scan: scan})
	}
	return scan, nil
}

// BuildWorkspace builds the module tree of every member crate. Crates are
// parsed in parallel; each worker produces an immutable tree that is merged
// into the forest after all workers finish.
func (b *Builder) BuildWorkspace(ctx context.Context, ws *cargo.Workspace, parallelism int) (*Forest, error) {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	names := ws.MemberNames()
	trees := make([]*Tree, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			crate, err := ws.Crate(name)
			if err != nil {
				return err
			}
			tree, err := b.BuildCrate(gctx, crate)
			if err != nil {
				return errors.AddContext(err, errors.CtxCrate, name)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	forest := &Forest{Crates: make(map[string]*Tree, len(trees))}
	for _, tree := range trees {
		forest.Crates[tree.CrateName] = tree
	}
	return forest, nil
}

// BuildCrate builds one crate's module tree by following mod declarations
// from the crate root. A declared submodule without a realizing file is
// fatal; the later stages cannot operate on a tree with dangling units.
func (b *Builder) BuildCrate(ctx context.Context, crate *cargo.Crate) (*Tree, error) {
	root, err := crate.RootTarget()
	if err != nil {
		return nil, err
	}

	parser := b.pool.Get()
	defer b.pool.Put(parser)

	tree := &Tree{
		CrateName: crate.Name,
		Root:      ID{crate.Name},
		Modules:   make(map[string]*Module),
	}

	type pending struct {
		id         ID
		file       string
		pseudoRoot bool
	}
	queue := []pending{{id: tree.Root, file: root.SrcPath, pseudoRoot: true}}

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		next := queue[0]
		queue = queue[1:]
		if _, ok := tree.Modules[next.id.String()]; ok {
			continue
		}

		scan, err := b.scanFile(parser, crate.Name, next.file)
		if err != nil {
			return nil, errors.AddContext(err, errors.CtxModule, next.id.String())
		}

		mod := &Module{
			ID:           next.id,
			File:         next.file,
			PseudoRoot:   next.pseudoRoot,
			Uses:         scan.Uses,
			MacroCalls:   scan.MacroCalls,
			MacroExports: scan.MacroExports,
		}

		base := moduleBaseDir(next.file, next.pseudoRoot)
		declared := make(map[string]bool, len(scan.ModDecls))
		for _, name := range scan.ModDecls {
			if declared[name] {
				continue
			}
			declared[name] = true

			childFile, childPseudo, ok := realizeChild(base, name)
			if !ok {
				err := errors.Newf(errors.CodeModuleResolution,
					"mod %s declared in %s has no realizing file", name, next.file)
				return nil, errors.AddContext(err, errors.CtxModule, next.id.String())
			}

			childID := next.id.Child(name)
			mod.Children = append(mod.Children, childID)
			queue = append(queue, pending{id: childID, file: childFile, pseudoRoot: childPseudo})
		}

		tree.Modules[next.id.String()] = mod
	}

	return tree, nil
}

// moduleBaseDir is the directory a file's child modules realize under. A
// pseudo-root's children sit next to it; an ordinary leaf foo.rs owns a foo/
// subdirectory.
func moduleBaseDir(file string, pseudoRoot bool) string {
	dir := filepath.Dir(file)
	if pseudoRoot {
		return dir
	}
	stem := strings.TrimSuffix(filepath.Base(file), ".rs")
	return filepath.Join(dir, stem)
}

// realizeChild locates the file for a declared submodule, trying name.rs then
// name/mod.rs. Only the mod.rs form makes the child a pseudo-root.
func realizeChild(base, name string) (string, bool, bool) {
	candidate := filepath.Join(base, name+".rs")
	if fileExists(candidate) {
		return candidate, false, true
	}
	candidate = filepath.Join(base, name, "mod.rs")
	if fileExists(candidate) {
		return candidate, true, true
	}
	return "", false, false
}

// # cmd/carve/app_test.go
package main

import (
	"carve/internal/cargo"
	"carve/internal/config"
	"carve/internal/core/errors"
	"carve/internal/history"
	"carve/internal/packager"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

func caret(major, minor, patch int) cargo.VersionRequirement {
	return cargo.VersionRequirement{Kind: cargo.ReqCaret, Version: [3]int{major, minor, patch}}
}

func libTarget(name, srcPath string) cargo.Target {
	return cargo.Target{Name: name, Kind: []string{"lib"}, SrcPath: srcPath, Doctest: true}
}

// newWorkspaceFixture writes a three-crate workspace to disk and hand-builds
// its metadata: core (entry, with types + config), utils (pulled in whole by
// types), client (never retained).
func newWorkspaceFixture(t *testing.T) (string, *cargo.Workspace) {
	t.Helper()
	root := t.TempDir()

	coreLib := writeSource(t, root, "crates/core/src/lib.rs",
		"pub mod types;\npub mod config;\n")
	writeSource(t, root, "crates/core/src/types.rs",
		"use crate::config::Config;\nuse utils::helper;\n\npub struct Item {\n    pub config: Config,\n}\n")
	writeSource(t, root, "crates/core/src/config.rs",
		"pub struct Config;\n")
	utilsLib := writeSource(t, root, "crates/utils/src/lib.rs",
		"pub fn helper() {}\n")
	clientLib := writeSource(t, root, "crates/client/src/lib.rs",
		"pub fn run() {}\n")

	ws := &cargo.Workspace{
		Root: root,
		Crates: map[string]*cargo.Crate{
			"core": {
				Name:         "core",
				ManifestPath: filepath.Join(root, "crates/core/Cargo.toml"),
				Targets:      []cargo.Target{libTarget("core", coreLib)},
				Dependencies: []cargo.Dependency{
					{Name: "serde", Version: caret(1, 0, 0), Kind: cargo.DepNormal, UsesDefaultFeatures: true},
					{Name: "utils", Version: caret(0, 0, 0), Kind: cargo.DepNormal, UsesDefaultFeatures: true},
				},
				Edition: "2021",
			},
			"utils": {
				Name:         "utils",
				ManifestPath: filepath.Join(root, "crates/utils/Cargo.toml"),
				Targets:      []cargo.Target{libTarget("utils", utilsLib)},
				Edition:      "2021",
			},
			"client": {
				Name:         "client",
				ManifestPath: filepath.Join(root, "crates/client/Cargo.toml"),
				Targets:      []cargo.Target{libTarget("client", clientLib)},
				Edition:      "2021",
			},
		},
	}

	return root, ws
}

// stubWorkspace routes metadata loading to the fixture; the tests cannot
// assume a cargo binary on the path.
func stubWorkspace(t *testing.T, ws *cargo.Workspace) {
	t.Helper()
	orig := loadWorkspace
	loadWorkspace = func(ctx context.Context, path string) (*cargo.Workspace, error) {
		return ws, nil
	}
	t.Cleanup(func() { loadWorkspace = orig })
}

func testConfig(root string) *config.Config {
	cfg := config.Default()
	cfg.Workspace = root
	cfg.OutputDir = filepath.Join(root, "dist")
	cfg.Parallelism = 2
	cfg.History.Path = filepath.Join(root, "carve-history.db")
	return cfg
}

func TestAppRunOnce(t *testing.T) {
	root, ws := newWorkspaceFixture(t)
	stubWorkspace(t, ws)

	cfg := testConfig(root)
	cfg.Outputs.DOT = filepath.Join(root, "out", "graph.dot")
	cfg.Outputs.TSV = filepath.Join(root, "out", "deps.tsv")

	app, err := NewApp(cfg, AppOptions{EntryCrate: "core", EntryPath: "crate::types", Name: "core_subset"})
	require.NoError(t, err)
	defer app.Close()

	result, err := app.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "core::types", result.Entry.String())
	assert.Len(t, result.Closure.Members, 4)
	assert.Len(t, result.Closure.Crates, 2)

	for _, rel := range []string{"Cargo.toml", "src/lib.rs", "src/core/types.rs", "src/utils/mod.rs"} {
		_, err := os.Stat(filepath.Join(result.Plan.Dest, filepath.FromSlash(rel)))
		assert.NoError(t, err, "Should have written %s", rel)
	}

	_, err = os.Stat(cfg.Outputs.DOT)
	assert.NoError(t, err, "Should have rendered the DOT output")
	_, err = os.Stat(cfg.Outputs.TSV)
	assert.NoError(t, err, "Should have rendered the TSV output")

	// The watch-mode handler must not trip over the output of the run
	// before it.
	app.HandleChanges([]string{filepath.Join(root, "crates/core/src/types.rs")})
}

func TestAppRerunReplacesOwnOutput(t *testing.T) {
	root, ws := newWorkspaceFixture(t)
	stubWorkspace(t, ws)

	app, err := NewApp(testConfig(root), AppOptions{EntryCrate: "core", EntryPath: "crate::types", Name: "core_subset"})
	require.NoError(t, err)
	defer app.Close()

	_, err = app.RunOnce(context.Background())
	require.NoError(t, err)
	result, err := app.RunOnce(context.Background())
	require.NoError(t, err, "Re-run should replace its own output")

	_, err = os.Stat(filepath.Join(result.Plan.Dest, "src", "lib.rs"))
	assert.NoError(t, err)
}

func TestAppDestinationConflict(t *testing.T) {
	root, ws := newWorkspaceFixture(t)
	stubWorkspace(t, ws)

	cfg := testConfig(root)
	writeSource(t, root, "dist/core_subset/stale.txt", "old output")

	app, err := NewApp(cfg, AppOptions{EntryCrate: "core", EntryPath: "crate::types", Name: "core_subset"})
	require.NoError(t, err)
	defer app.Close()

	_, err = app.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, packager.IsDestinationConflict(err), "Expected a destination conflict, got %v", err)
	assert.Equal(t, 2, exitCode(err))
}

func TestAppDryRun(t *testing.T) {
	root, ws := newWorkspaceFixture(t)
	stubWorkspace(t, ws)

	cfg := testConfig(root)
	cfg.Outputs.DOT = filepath.Join(root, "out", "graph.dot")

	app, err := NewApp(cfg, AppOptions{EntryCrate: "core", EntryPath: "crate::types", Name: "core_subset", DryRun: true})
	require.NoError(t, err)
	defer app.Close()

	result, err := app.RunOnce(context.Background())
	require.NoError(t, err)

	tree := app.FormatTree(result)
	for _, want := range []string{"Closure of core::types", "core (shell)", "core::types", "crates/core/src/types.rs", "utils"} {
		assert.Contains(t, tree, want)
	}

	_, err = os.Stat(filepath.Join(root, "dist"))
	assert.True(t, os.IsNotExist(err), "Dry run should not create the output directory")
	_, err = os.Stat(cfg.Outputs.DOT)
	assert.True(t, os.IsNotExist(err), "Dry run should not render graph outputs")
}

func TestAppRecordsHistory(t *testing.T) {
	root, ws := newWorkspaceFixture(t)
	stubWorkspace(t, ws)

	cfg := testConfig(root)
	cfg.History.Enabled = true

	app, err := NewApp(cfg, AppOptions{EntryCrate: "core", EntryPath: "crate::types", Name: "core_subset"})
	require.NoError(t, err)

	result, err := app.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Contains(t, app.FormatTree(result), "Recent runs:")

	require.NoError(t, app.Close())

	store, err := history.Open(cfg.History.Path)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.RecentRuns(root, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)
	assert.Equal(t, 4, runs[0].ModuleCount)
	assert.Equal(t, "core::types", runs[0].EntryModule)
}

func TestResolveEntry(t *testing.T) {
	_, ws := newWorkspaceFixture(t)
	crate := ws.Crates["core"]

	tests := []struct {
		name string
		path string
		want string
	}{
		{"crate relative", "crate::types", "core::types"},
		{"crate name prefix", "core::types", "core::types"},
		{"bare module", "types", "core::types"},
		{"item name dropped", "crate::types::Item", "core::types"},
		{"crate root", "crate", "core"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := resolveEntry(crate, tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, id.String())
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cargo metadata", errors.New(errors.CodeCargoMetadata, "cargo failed"), 1},
		{"unknown crate", errors.New(errors.CodeCrateNotFound, "no such crate"), 1},
		{"module resolution", errors.New(errors.CodeModuleResolution, "no realizing file"), 3},
		{"plain error", fmt.Errorf("boom"), 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}

func TestUIModelUpdate(t *testing.T) {
	m := initialModel("/ws")

	next, _ := m.Update(updateMsg{
		entry:       "core::types",
		moduleCount: 4,
		crateCount:  2,
		fileCount:   6,
		warnings:    []string{"[CYCLIC_DEPENDENCY] reference cycle retained"},
		modules: []moduleRow{
			{name: "core", file: "crates/core/src/lib.rs", shell: true},
			{name: "core::types", file: "crates/core/src/types.rs"},
		},
	})
	m = next.(model)

	items := m.list.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "Cycle Warning", items[0].(item).title, "Should list warnings before modules")
	second := items[1].(item)
	assert.Equal(t, "core (shell)", second.title)
	assert.True(t, second.isShell)

	view := m.View()
	assert.Contains(t, view, "4 modules")
	assert.Contains(t, view, "Retained Cycles")
}

func TestUIModelKeepsClosureOnFailure(t *testing.T) {
	m := initialModel("/ws")
	next, _ := m.Update(updateMsg{entry: "core::types", moduleCount: 4,
		modules: []moduleRow{{name: "core::types", file: "crates/core/src/types.rs"}}})
	m = next.(model)
	next, _ = m.Update(updateMsg{err: "[CARGO_METADATA] cargo failed"})
	m = next.(model)

	assert.Len(t, m.list.Items(), 1, "Should keep the previous closure on screen")
	assert.Contains(t, m.View(), "cargo failed")
}

func TestUIModelQuit(t *testing.T) {
	m := initialModel("/ws")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd, "Expected a quit command")
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok, "Should quit on q")
}

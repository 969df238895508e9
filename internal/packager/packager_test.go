// # internal/packager/packager_test.go
package packager

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"carve/internal/cargo"
	"carve/internal/core/errors"
	"carve/internal/engine/closure"
	"carve/internal/engine/modtree"
	"carve/internal/shared/util"
)

func writeSource(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("Failed to create %s: %v", filepath.Dir(full), err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", full, err)
	}
	return full
}

func caret(major, minor, patch int) cargo.VersionRequirement {
	return cargo.VersionRequirement{Kind: cargo.ReqCaret, Version: [3]int{major, minor, patch}}
}

func libTarget(name, srcPath string) cargo.Target {
	return cargo.Target{Name: name, Kind: []string{"lib"}, SrcPath: srcPath, Doctest: true}
}

type fixture struct {
	root   string
	ws     *cargo.Workspace
	forest *modtree.Forest
	res    *closure.Result
}

// newFixture builds a three-crate workspace on disk: core (entry, with
// types + config), utils (pulled in whole by types), client (never retained).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	coreLib := writeSource(t, root, "crates/core/src/lib.rs",
		"pub mod types;\npub mod config;\n")
	typesFile := writeSource(t, root, "crates/core/src/types.rs",
		"use crate::config::Config;\nuse utils::helper;\n\npub struct Item {\n    pub config: Config,\n}\n")
	configFile := writeSource(t, root, "crates/core/src/config.rs",
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
				Dependencies: []cargo.Dependency{
					{Name: "reqwest", Version: caret(0, 11, 0), Kind: cargo.DepNormal, UsesDefaultFeatures: true},
				},
				Edition: "2021",
			},
		},
	}

	coreRoot := modtree.ID{"core"}
	typesID := modtree.ID{"core", "types"}
	configID := modtree.ID{"core", "config"}
	utilsRoot := modtree.ID{"utils"}

	forest := &modtree.Forest{Crates: map[string]*modtree.Tree{
		"core": {
			CrateName: "core",
			Root:      coreRoot,
			Modules: map[string]*modtree.Module{
				"core":         {ID: coreRoot, File: coreLib, PseudoRoot: true, Children: []modtree.ID{typesID, configID}},
				"core::types":  {ID: typesID, File: typesFile},
				"core::config": {ID: configID, File: configFile},
			},
		},
		"utils": {
			CrateName: "utils",
			Root:      utilsRoot,
			Modules: map[string]*modtree.Module{
				"utils": {ID: utilsRoot, File: utilsLib, PseudoRoot: true},
			},
		},
	}}

	res := &closure.Result{
		Entry: typesID,
		Members: map[string]closure.Membership{
			"core":         closure.MemberShell,
			"core::types":  closure.MemberFull,
			"core::config": closure.MemberFull,
			"utils":        closure.MemberFull,
		},
		Crates: []string{"core", "utils"},
	}

	return &fixture{root: root, ws: ws, forest: forest, res: res}
}

func (f *fixture) options() Options {
	return Options{
		Name:      "core_subset",
		OutputDir: filepath.Join(f.root, "dist"),
		Externals: map[string]bool{"std": true, "serde": true},
	}
}

func TestPlanLayout(t *testing.T) {
	f := newFixture(t)

	plan, err := New(f.ws, f.forest, f.options()).Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []string{
		"Cargo.toml",
		"src/core/config.rs",
		"src/core/mod.rs",
		"src/core/types.rs",
		"src/lib.rs",
		"src/utils/mod.rs",
	}
	got := util.SortedStringKeys(plan.Files)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected files %v, got %v", want, got)
	}

	if wantDest := filepath.Join(f.root, "dist", "core_subset"); plan.Dest != wantDest {
		t.Errorf("Expected destination %s, got %s", wantDest, plan.Dest)
	}
}

func TestPlanRewritesSources(t *testing.T) {
	f := newFixture(t)

	plan, err := New(f.ws, f.forest, f.options()).Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	wantTypes := "use crate::core::config::Config;\nuse crate::utils::helper;\n\npub struct Item {\n    pub config: Config,\n}\n"
	if got := plan.Files["src/core/types.rs"]; got != wantTypes {
		t.Errorf("Expected types.rs:\n%s\ngot:\n%s", wantTypes, got)
	}

	if got := plan.Files["src/core/mod.rs"]; got != "pub mod types;\npub mod config;\n" {
		t.Errorf("Expected shell crate root untouched, got %q", got)
	}

	if got := plan.Files["src/lib.rs"]; got != "pub mod core;\npub mod utils;\n" {
		t.Errorf("Expected root aggregator with both crates, got %q", got)
	}
}

func TestPlanManifest(t *testing.T) {
	f := newFixture(t)

	plan, err := New(f.ws, f.forest, f.options()).Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	manifest := plan.Files["Cargo.toml"]
	for _, want := range []string{`name = "core_subset"`, `edition = "2021"`, `serde = "1.0"`} {
		if !strings.Contains(manifest, want) {
			t.Errorf("Expected manifest to contain %q, got:\n%s", want, manifest)
		}
	}
	for _, reject := range []string{"utils =", "reqwest", "[lib]"} {
		if strings.Contains(manifest, reject) {
			t.Errorf("Expected manifest without %q, got:\n%s", reject, manifest)
		}
	}
}

func TestPlanManifestDoctestFlag(t *testing.T) {
	f := newFixture(t)
	f.ws.Crates["utils"].Targets[0].Doctest = false

	plan, err := New(f.ws, f.forest, f.options()).Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if !strings.Contains(plan.Files["Cargo.toml"], "[lib]\ndoctest = false") {
		t.Errorf("Expected doctest disabled in manifest, got:\n%s", plan.Files["Cargo.toml"])
	}
}

func TestPlanLazyStatic(t *testing.T) {
	f := newFixture(t)
	writeSource(t, f.root, "crates/utils/src/lib.rs",
		"lazy_static! {\n    static ref COUNT: usize = 1;\n}\n")
	f.forest.Crates["utils"].Modules["utils"].MacroCalls = []modtree.RawPath{
		{Segments: []string{"lazy_static"}, Stmt: "lazy_static!"},
	}

	plan, err := New(f.ws, f.forest, f.options()).Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	content := plan.Files["src/utils/mod.rs"]
	if !strings.HasPrefix(content, "use lazy_static::lazy_static;\n") {
		t.Errorf("Expected lazy_static import prepended, got %q", content)
	}
	if !strings.Contains(plan.Files["Cargo.toml"], `lazy_static = "1.4"`) {
		t.Errorf("Expected fallback lazy_static dependency, got:\n%s", plan.Files["Cargo.toml"])
	}
}

func TestPlanLazyStaticVersionReuse(t *testing.T) {
	f := newFixture(t)
	writeSource(t, f.root, "crates/utils/src/lib.rs",
		"lazy_static! {\n    static ref COUNT: usize = 1;\n}\n")
	f.forest.Crates["utils"].Modules["utils"].MacroCalls = []modtree.RawPath{
		{Segments: []string{"lazy_static"}, Stmt: "lazy_static!"},
	}
	f.ws.Crates["client"].Dependencies = append(f.ws.Crates["client"].Dependencies,
		cargo.Dependency{Name: "lazy_static", Version: caret(1, 4, 2), Kind: cargo.DepNormal, UsesDefaultFeatures: true})

	plan, err := New(f.ws, f.forest, f.options()).Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if !strings.Contains(plan.Files["Cargo.toml"], `lazy_static = "1.4.2"`) {
		t.Errorf("Expected workspace-declared lazy_static version, got:\n%s", plan.Files["Cargo.toml"])
	}
}

func TestPlanLazyStaticImportNotDuplicated(t *testing.T) {
	f := newFixture(t)
	writeSource(t, f.root, "crates/utils/src/lib.rs",
		"use lazy_static::lazy_static;\n\nlazy_static! {\n    static ref COUNT: usize = 1;\n}\n")
	f.forest.Crates["utils"].Modules["utils"].MacroCalls = []modtree.RawPath{
		{Segments: []string{"lazy_static"}, Stmt: "lazy_static!"},
	}

	plan, err := New(f.ws, f.forest, f.options()).Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if got := strings.Count(plan.Files["src/utils/mod.rs"], "use lazy_static::lazy_static;"); got != 1 {
		t.Errorf("Expected exactly one lazy_static import, got %d", got)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	f := newFixture(t)
	pkg := New(f.ws, f.forest, f.options())

	plan, err := pkg.Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := pkg.Write(plan); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	for rel, want := range plan.Files {
		data, err := os.ReadFile(filepath.Join(plan.Dest, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("Failed to read back %s: %v", rel, err)
		}
		if string(data) != want {
			t.Errorf("Expected %s to round-trip, got %q", rel, string(data))
		}
	}
}

func TestWriteRefusesNonEmptyDestination(t *testing.T) {
	f := newFixture(t)
	pkg := New(f.ws, f.forest, f.options())

	plan, err := pkg.Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	writeSource(t, f.root, "dist/core_subset/stale.txt", "old output")

	err = pkg.Write(plan)
	if err == nil {
		t.Fatal("Expected a destination conflict")
	}
	if !errors.IsCode(err, errors.CodePackaging) {
		t.Errorf("Expected PACKAGING, got %v", err)
	}
	if !IsDestinationConflict(err) {
		t.Errorf("Expected a destination conflict, got %v", err)
	}
	if IsDestinationConflict(errors.New(errors.CodePackaging, "write failed")) {
		t.Error("Expected plain packaging errors not to count as conflicts")
	}
}

func TestWriteForceReplacesDestination(t *testing.T) {
	f := newFixture(t)
	opts := f.options()
	opts.Force = true
	pkg := New(f.ws, f.forest, opts)

	plan, err := pkg.Plan(f.res)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	stale := writeSource(t, f.root, "dist/core_subset/stale.txt", "old output")

	if err := pkg.Write(plan); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("Expected stale file removed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(plan.Dest, "src", "lib.rs")); err != nil {
		t.Errorf("Expected lib.rs written, got %v", err)
	}
}

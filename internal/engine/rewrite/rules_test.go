// # internal/engine/rewrite/rules_test.go
package rewrite

import (
	"strings"
	"testing"

	"carve/internal/core/errors"
)

func fileSet(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func TestDefaultRuleOrder(t *testing.T) {
	t.Parallel()

	want := []string{
		"rewrite_uses",
		"rewrite_macro_refs",
		"fix_self_pub_uses",
		"fix_bare_imports",
		"prune_mods",
		"prune_pub_uses",
		"prune_uses",
		"prune_type_aliases",
	}
	rules := DefaultRules()
	if len(rules) != len(want) {
		t.Fatalf("Expected %d rules, got %d", len(want), len(rules))
	}
	for i, rule := range rules {
		if rule.Name() != want[i] {
			t.Errorf("Expected rule %d to be %q, got %q", i, want[i], rule.Name())
		}
	}
}

func TestRewriteUsesCrateImports(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/my_crate/types.rs",
		Crate:    "my_crate",
		Crates:   []string{"my_crate"},
	}
	text := "use crate::utils::foo;\npub use crate::types::Item;\nuse crate::my_crate::already::Done;\n"

	got := RewriteUses{}.Apply(text, ctx)

	if !strings.Contains(got, "use crate::my_crate::utils::foo;") {
		t.Errorf("Expected crate import to gain the crate module, got %q", got)
	}
	if !strings.Contains(got, "pub use crate::my_crate::types::Item;") {
		t.Errorf("Expected pub use to be rewritten, got %q", got)
	}
	if !strings.Contains(got, "use crate::my_crate::already::Done;") {
		t.Errorf("Expected qualified import to stay untouched, got %q", got)
	}
	if strings.Contains(got, "my_crate::my_crate") {
		t.Errorf("Expected no double nesting, got %q", got)
	}
}

func TestRewriteUsesCrossCrateImports(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/my_crate/client.rs",
		Crate:    "my_crate",
		Crates:   []string{"cas_client", "cas_object", "my_crate"},
	}
	text := "use cas_client::adapter;\nuse cas_object::CompressionScheme;\npub use cas_client::Item;\n"

	got := RewriteUses{}.Apply(text, ctx)

	if !strings.Contains(got, "use crate::cas_client::adapter;") {
		t.Errorf("Expected cross-crate import to be routed, got %q", got)
	}
	if !strings.Contains(got, "use crate::cas_object::CompressionScheme;") {
		t.Errorf("Expected cross-crate import to be routed, got %q", got)
	}
	if !strings.Contains(got, "pub use crate::cas_client::Item;") {
		t.Errorf("Expected cross-crate pub use to be routed, got %q", got)
	}
}

func TestRewriteUsesWholeCrateImport(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/core/mod.rs",
		Crate:    "core",
		Crates:   []string{"core", "utils"},
	}
	text := "use utils;\npub use utils as util_mod;\nuse utils::helpers;\n"

	got := RewriteUses{}.Apply(text, ctx)

	want := "use crate::utils;\npub use crate::utils as util_mod;\nuse crate::utils::helpers;\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestRewriteUsesMacroImportSimple(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/data/mod.rs",
		Crate:    "data",
		Crates:   []string{"data", "xet_runtime"},
		Macros:   []string{"global_semaphore_handle"},
	}
	text := "use xet_runtime::global_semaphore_handle;\nuse xet_runtime::GlobalSemaphoreHandle;\n"

	got := RewriteUses{}.Apply(text, ctx)

	if !strings.Contains(got, "use crate::global_semaphore_handle;") {
		t.Errorf("Expected exported macro import at the root, got %q", got)
	}
	if !strings.Contains(got, "use crate::xet_runtime::GlobalSemaphoreHandle;") {
		t.Errorf("Expected ordinary item routed through the crate module, got %q", got)
	}
}

func TestRewriteUsesMacroImportGrouped(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/core/types.rs",
		Crate:    "core",
		Crates:   []string{"core", "utils"},
		Macros:   []string{"log_info"},
	}
	text := "use utils::{Helper, log_info};\n"

	got := RewriteUses{}.Apply(text, ctx)

	want := "use crate::utils::{Helper};\nuse crate::{log_info};\n"
	if got != want {
		t.Errorf("Expected grouped import split into %q, got %q", want, got)
	}
}

func TestRewriteUsesPathReferences(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/my_crate/err.rs",
		Crate:    "my_crate",
		Crates:   []string{"cas_client", "cas_object", "my_crate"},
	}
	text := "let err: cas_client::CasClientError = todo!();\nlet scheme = cas_object::CompressionScheme::default();\n"

	got := RewriteUses{}.Apply(text, ctx)

	want := "let err: crate::cas_client::CasClientError = todo!();\nlet scheme = crate::cas_object::CompressionScheme::default();\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestRewriteUsesMacroInvocationPaths(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/my_crate/setup.rs",
		Crate:    "my_crate",
		Crates:   []string{"my_crate", "other_crate", "utils"},
		Macros:   []string{"config_group", "test_configurable_constants"},
	}
	text := "let x = other_crate::some_type();\n" +
		"other_crate::config_group!({ ref FOO: i32 = 1; });\n" +
		"utils::test_configurable_constants! {\n    ref FOO: usize = 42;\n}\n" +
		"crate::utils::test_configurable_constants! {\n    ref BAR: usize = 24;\n}\n"

	got := RewriteUses{}.Apply(text, ctx)

	if !strings.Contains(got, "crate::other_crate::some_type()") {
		t.Errorf("Expected ordinary path qualified, got %q", got)
	}
	if !strings.Contains(got, "crate::config_group!(") {
		t.Errorf("Expected macro invocation anchored at the root, got %q", got)
	}
	if strings.Contains(got, "other_crate::config_group!") {
		t.Errorf("Expected no crate-module prefix on macro invocation, got %q", got)
	}
	if strings.Contains(got, "utils::test_configurable_constants!") {
		t.Errorf("Expected module prefix stripped from macro invocation, got %q", got)
	}
	if strings.Count(got, "crate::test_configurable_constants!") != 2 {
		t.Errorf("Expected both invocations collapsed onto the root, got %q", got)
	}
}

func TestRewriteUsesBareCrateRefs(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/my_crate/jobs.rs",
		Crate:    "my_crate",
		Crates:   []string{"my_crate"},
	}
	text := "use crate::foo;\npub use crate::bar;\nlet x = crate::baz();\nlet y = some_fn($crate::val);\n"

	got := RewriteUses{}.fixBareCrateRefs(text, ctx)

	want := "use crate::foo;\npub use crate::bar;\nlet x = crate::my_crate::baz();\nlet y = some_fn($crate::val);\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestRewriteUsesNoDoubleNesting(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/xet_config/mod.rs",
		Crate:    "xet_config",
		Crates:   []string{"xet_config"},
	}
	text := "for item in crate::xet_config::ENVIRONMENT_NAME_ALIASES {\n    println!(\"{:?}\", item);\n}\nuse crate::xet_config::XetConfig;\n"

	got := RewriteUses{}.Apply(text, ctx)

	if got != text {
		t.Errorf("Expected qualified paths to stay untouched, got %q", got)
	}
	if strings.Contains(got, "xet_config::xet_config") {
		t.Errorf("Expected no double nesting, got %q", got)
	}
}

func TestRewriteMacroRefs(t *testing.T) {
	t.Parallel()

	ctx := &Context{DestFile: "src/my_module/mod.rs", Crate: "my_module"}
	text := "macro_rules! my_macro {\n    () => {\n        $crate::utils::foo()\n    };\n}\nuse $crate::bar::Baz;\n"

	got := RewriteMacroRefs{}.Apply(text, ctx)

	if !strings.Contains(got, "crate::my_module::utils::foo()") {
		t.Errorf("Expected $crate path rewritten, got %q", got)
	}
	if !strings.Contains(got, "use crate::my_module::bar::Baz;") {
		t.Errorf("Expected $crate import rewritten, got %q", got)
	}
	if strings.Contains(got, "$crate::") {
		t.Errorf("Expected no $crate:: left, got %q", got)
	}
}

func TestFixSelfPubUses(t *testing.T) {
	t.Parallel()

	ctx := &Context{DestFile: "src/xet_config/mod.rs", Crate: "xet_config"}
	text := "pub use crate::xet_config::XetConfig;\npub use crate::xet_config::nested::Config;\npub use crate::other_module::Thing;\n"

	got := FixSelfPubUses{}.Apply(text, ctx)

	want := "pub use XetConfig;\npub use nested::Config;\npub use crate::other_module::Thing;\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestFixSelfPubUsesKeepsWhitespace(t *testing.T) {
	t.Parallel()

	ctx := &Context{DestFile: "src/my_module/mod.rs", Crate: "my_module"}
	text := "pub use crate::my_module::Item;  \n"

	got := FixSelfPubUses{}.Apply(text, ctx)

	want := "pub use Item;  \n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestFixBareImports(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		destFile string
		present  []string
		text     string
		want     string
	}{
		{
			name:     "sibling file gains super",
			destFile: "src/my_crate/shard_file.rs",
			present:  []string{"src/my_crate/shard_file.rs", "src/my_crate/shard_format.rs"},
			text:     "pub use shard_format::*;\npub use crate::other::Thing;\nuse std::collections::HashMap;\n",
			want:     "pub use super::shard_format::*;\npub use crate::other::Thing;\nuse std::collections::HashMap;\n",
		},
		{
			name:     "sibling directory gains super",
			destFile: "src/my_crate/shard_file.rs",
			present:  []string{"src/my_crate/shard_file.rs", "src/my_crate/shard_format/mod.rs"},
			text:     "pub use shard_format::ShardHeader;\n",
			want:     "pub use super::shard_format::ShardHeader;\n",
		},
		{
			name:     "mod files import children not siblings",
			destFile: "src/my_crate/mod.rs",
			present:  []string{"src/my_crate/mod.rs", "src/my_crate/sibling.rs"},
			text:     "pub use sibling::Item;\npub use other::Thing;\n",
			want:     "pub use sibling::Item;\npub use other::Thing;\n",
		},
		{
			name:     "qualified imports stay untouched",
			destFile: "src/my_crate/regular.rs",
			present:  []string{"src/my_crate/regular.rs", "src/my_crate/baz.rs"},
			text:     "pub use crate::foo::Bar;\npub use super::baz::Qux;\npub use self::local::Item;\npub use std::collections::HashMap;\n",
			want:     "pub use crate::foo::Bar;\npub use super::baz::Qux;\npub use self::local::Item;\npub use std::collections::HashMap;\n",
		},
		{
			name:     "comment lines are skipped",
			destFile: "src/my_crate/shard_file.rs",
			present:  []string{"src/my_crate/shard_file.rs", "src/my_crate/shard_format.rs"},
			text:     "// pub use shard_format::*;\n",
			want:     "// pub use shard_format::*;\n",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := &Context{
				DestFile: tc.destFile,
				Present:  fileSet(tc.present...),
				Crate:    "my_crate",
				Crates:   []string{"my_crate"},
			}
			got := FixBareImports{}.Apply(tc.text, ctx)
			if got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestPruneMods(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/my_crate/mod.rs",
		Present:  fileSet("src/my_crate/mod.rs", "src/my_crate/present_child.rs"),
		Crate:    "my_crate",
	}
	text := "mod present_child;\npub mod missing_child;\n"

	got := PruneMods{}.Apply(text, ctx)

	want := "mod present_child;\n// pruned missing mod pub mod missing_child;"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestPruneModsVisibilityModifiers(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/t/lib.rs",
		Present:  fileSet("src/t/lib.rs"),
		Crate:    "t",
	}
	text := "mod plain;\npub mod public;\npub(crate) mod crate_visible;\npub(in crate::foo) mod scoped;\n"

	got := PruneMods{}.Apply(text, ctx)

	if count := strings.Count(got, "// pruned missing mod"); count != 4 {
		t.Errorf("Expected 4 pruned declarations, got %d in %q", count, got)
	}
}

func TestPruneModsBaseDirResolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		destFile string
		present  []string
		pruned   bool
	}{
		{
			name:     "mod file finds child in same directory",
			destFile: "src/parent/mod.rs",
			present:  []string{"src/parent/mod.rs", "src/parent/child.rs"},
			pruned:   false,
		},
		{
			name:     "leaf file finds child in its subdirectory",
			destFile: "src/parent/foo.rs",
			present:  []string{"src/parent/foo.rs", "src/parent/foo/child.rs"},
			pruned:   false,
		},
		{
			name:     "leaf file does not see siblings as children",
			destFile: "src/parent/foo.rs",
			present:  []string{"src/parent/foo.rs", "src/parent/child.rs"},
			pruned:   true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := &Context{DestFile: tc.destFile, Present: fileSet(tc.present...), Crate: "my_crate"}
			got := PruneMods{}.Apply("mod child;", ctx)
			pruned := strings.Contains(got, "// pruned missing mod")
			if pruned != tc.pruned {
				t.Errorf("Expected pruned=%v, got %q", tc.pruned, got)
			}
		})
	}
}

func TestPrunePubUses(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile:  "src/my_crate/mod.rs",
		Present:   fileSet("src/my_crate/mod.rs", "src/my_crate/available_module.rs"),
		Crate:     "my_crate",
		Externals: fileSet("std", "reqwest_middleware"),
	}
	text := "pub use std::collections::HashMap;\n" +
		"pub use reqwest_middleware::ClientWithMiddleware;\n" +
		"pub use missing_module::Thing;\n" +
		"pub use available_module::Item;\n"

	got := PrunePubUses{}.Apply(text, ctx)

	want := "pub use std::collections::HashMap;\n" +
		"pub use reqwest_middleware::ClientWithMiddleware;\n" +
		"// pruned missing pub use pub use missing_module::Thing;\n" +
		"pub use available_module::Item;\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestPrunePubUsesKeepsAnchoredPaths(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/my_crate/mod.rs",
		Present:  fileSet("src/my_crate/mod.rs"),
		Crate:    "my_crate",
	}
	text := "pub use crate::my_module::Thing;\npub use super::sibling::Item;\npub use self::local::Foo;\npub use bare_missing::Bar;\n"

	got := PrunePubUses{}.Apply(text, ctx)

	want := "pub use crate::my_module::Thing;\npub use super::sibling::Item;\npub use self::local::Foo;\n// pruned missing pub use pub use bare_missing::Bar;"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestPruneUses(t *testing.T) {
	t.Parallel()

	shell := &Context{
		DestFile: "src/core/mod.rs",
		Crate:    "core",
		Shell:    true,
		Excluded: fileSet("legacy"),
	}
	text := "use legacy::thing;\nuse utils::helper;\nuse std::fmt;\nuse legacy;\n"

	got := PruneUses{}.Apply(text, shell)

	want := "// pruned missing use use legacy::thing;\nuse utils::helper;\nuse std::fmt;\n// pruned missing use use legacy;"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	full := &Context{DestFile: "src/core/types.rs", Crate: "core", Excluded: fileSet("legacy")}
	if got := (PruneUses{}).Apply(text, full); got != text {
		t.Errorf("Expected full module to stay untouched, got %q", got)
	}
}

func TestPruneTypeAliases(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile:  "src/my_crate/config.rs",
		Present:   fileSet("src/my_crate/config.rs", "src/my_crate/config/groups/caching.rs"),
		Crate:     "my_crate",
		Externals: fileSet("std"),
	}
	text := "pub type DataConfig = groups::data::ConfigValues;\n" +
		"pub type CacheConfig = groups::caching::ConfigValues;\n" +
		"pub type IoResult = std::io::Result<()>;\n" +
		"pub type Own = crate::settings::Entry;\n"

	got := PruneTypeAliases{}.Apply(text, ctx)

	want := "// pruned type alias referencing missing module: pub type DataConfig = groups::data::ConfigValues;\n" +
		"pub type CacheConfig = groups::caching::ConfigValues;\n" +
		"pub type IoResult = std::io::Result<()>;\n" +
		"pub type Own = crate::settings::Entry;\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestApplyFullModule(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/core/types.rs",
		Present: fileSet(
			"src/core/mod.rs",
			"src/core/types.rs",
			"src/core/types/nested.rs",
			"src/core/config.rs",
			"src/utils/mod.rs",
		),
		Crate:     "core",
		Crates:    []string{"core", "utils"},
		Macros:    []string{"log_info"},
		Externals: fileSet("std", "serde"),
		Module:    "core::types",
	}
	text := `use std::fmt;
use crate::config::Config;
use utils::{helpers, log_info};
use serde::Serialize;

mod nested;

pub use nested::Payload;

pub fn describe() -> String {
    log_info!("describe");
    utils::helpers::format(crate::config::NAME)
}
`

	got, err := Apply(text, ctx)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := `use std::fmt;
use crate::core::config::Config;
use crate::utils::{helpers};
use crate::{log_info};
use serde::Serialize;

mod nested;

pub use nested::Payload;

pub fn describe() -> String {
    log_info!("describe");
    crate::utils::helpers::format(crate::core::config::NAME)
}
`
	if got != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, got)
	}
}

func TestApplyShellPruning(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/core/mod.rs",
		Present: fileSet(
			"src/core/mod.rs",
			"src/core/types.rs",
			"src/core/config.rs",
			"src/utils/mod.rs",
		),
		Crate:     "core",
		Crates:    []string{"core", "utils"},
		Externals: fileSet("std"),
		Shell:     true,
		Excluded:  fileSet("legacy"),
		Module:    "core",
	}
	text := "pub mod types;\npub mod config;\npub mod unrelated;\nuse legacy::util;\npub use unrelated::Thing;\n\npub fn root_helper() {}\n"

	got, err := Apply(text, ctx)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := "pub mod types;\npub mod config;\n" +
		"// pruned missing mod pub mod unrelated;\n" +
		"// pruned missing use use legacy::util;\n" +
		"// pruned missing pub use pub use unrelated::Thing;\n" +
		"pub fn root_helper() {}\n"
	if got != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, got)
	}
}

func TestApplyReexportEscape(t *testing.T) {
	t.Parallel()

	ctx := &Context{
		DestFile: "src/core/types.rs",
		Present:  fileSet("src/core/types.rs"),
		Crate:    "core",
		Crates:   []string{"core"},
		Module:   "core::types",
	}

	got, err := Apply("pub use vanished::Item;\n", ctx)
	if err == nil {
		t.Fatal("Expected an error for a pruned re-export in a full module")
	}
	if !errors.IsCode(err, errors.CodeUnsupportedPattern) {
		t.Errorf("Expected UNSUPPORTED_PATTERN, got %v", err)
	}
	if !errors.IsFatal(err) {
		t.Errorf("Expected a fatal error, got %v", err)
	}
	if !strings.Contains(got, "// pruned missing pub use") {
		t.Errorf("Expected the pruned text to be returned alongside the error, got %q", got)
	}
}

// # internal/engine/modtree/extract_test.go
package modtree

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func scanSource(t *testing.T, source string) *fileScan {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.rs")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}

	pool := NewParserPool()
	parser := pool.Get()
	defer pool.Put(parser)

	scan, err := scanFile(parser, path)
	if err != nil {
		t.Fatalf("scanFile failed: %v", err)
	}
	return scan
}

func usePaths(scan *fileScan) [][]string {
	paths := make([][]string, 0, len(scan.Uses))
	for _, u := range scan.Uses {
		paths = append(paths, u.Segments)
	}
	return paths
}

func TestScanModDeclarations(t *testing.T) {
	scan := scanSource(t, `
pub mod types;
mod config;

mod inline {
    pub fn helper() {}
}
`)

	want := []string{"types", "config"}
	if !reflect.DeepEqual(scan.ModDecls, want) {
		t.Errorf("expected mod decls %v, got %v", want, scan.ModDecls)
	}
}

func TestScanUseForms(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   [][]string
	}{
		{
			"plain scoped path",
			`use crate::config::Config;`,
			[][]string{{"crate", "config", "Config"}},
		},
		{
			"grouped imports",
			`use core::{types, config};`,
			[][]string{{"core", "types"}, {"core", "config"}},
		},
		{
			"crate prefixed group",
			`use crate::{config, types::nested};`,
			[][]string{{"crate", "config"}, {"crate", "types", "nested"}},
		},
		{
			"nested group",
			`use core::{types::{Item, Record}, config};`,
			[][]string{{"core", "types", "Item"}, {"core", "types", "Record"}, {"core", "config"}},
		},
		{
			"wildcard",
			`use utils::helpers::*;`,
			[][]string{{"utils", "helpers"}},
		},
		{
			"single segment wildcard",
			`use utils::*;`,
			[][]string{{"utils"}},
		},
		{
			"alias keeps original path",
			`use serde::Serialize as Ser;`,
			[][]string{{"serde", "Serialize"}},
		},
		{
			"super path",
			`use super::shared::Helper;`,
			[][]string{{"super", "shared", "Helper"}},
		},
		{
			"self path",
			`use self::nested::Inner;`,
			[][]string{{"self", "nested", "Inner"}},
		},
		{
			"single identifier",
			`use config;`,
			[][]string{{"config"}},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			scan := scanSource(t, tc.source)
			got := usePaths(scan)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("expected paths %v, got %v", tc.want, got)
			}
		})
	}
}

func TestScanUseInsideFunction(t *testing.T) {
	scan := scanSource(t, `
pub fn load() {
    use crate::storage::archive;
    archive::open();
}
`)

	want := [][]string{{"crate", "storage", "archive"}}
	if got := usePaths(scan); !reflect.DeepEqual(got, want) {
		t.Errorf("expected paths %v, got %v", want, got)
	}
}

func TestScanMacroInvocations(t *testing.T) {
	scan := scanSource(t, `
pub fn run() {
    utils::log_info!("starting");
    println!("not scoped");
}
`)

	if len(scan.MacroCalls) != 1 {
		t.Fatalf("expected 1 macro call, got %d", len(scan.MacroCalls))
	}
	call := scan.MacroCalls[0]
	if !reflect.DeepEqual(call.Segments, []string{"utils", "log_info"}) {
		t.Errorf("expected segments [utils log_info], got %v", call.Segments)
	}
	if call.Stmt != "utils::log_info!" {
		t.Errorf("expected statement utils::log_info!, got %q", call.Stmt)
	}
}

func TestScanMacroExports(t *testing.T) {
	scan := scanSource(t, `
#[macro_export]
macro_rules! log_info {
    ($msg:expr) => { println!($msg) };
}

macro_rules! private_macro {
    () => {};
}
`)

	if len(scan.MacroExports) != 1 || scan.MacroExports[0] != "log_info" {
		t.Errorf("expected macro exports [log_info], got %v", scan.MacroExports)
	}
}

func TestScanRecordsStatement(t *testing.T) {
	scan := scanSource(t, `use crate::types::Item;`)

	if len(scan.Uses) != 1 {
		t.Fatalf("expected 1 use, got %d", len(scan.Uses))
	}
	if scan.Uses[0].Stmt != "use crate::types::Item;" {
		t.Errorf("unexpected statement text: %q", scan.Uses[0].Stmt)
	}
}

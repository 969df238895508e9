// # internal/cargo/crate.go
package cargo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"carve/internal/core/errors"
	"carve/internal/shared/util"
)

// Target is a single build target within a crate.
type Target struct {
	Name    string
	Kind    []string
	SrcPath string
	Doctest bool
}

func (t Target) IsLib() bool {
	for _, kind := range t.Kind {
		if kind == "lib" {
			return true
		}
	}
	return false
}

func (t Target) IsBin() bool {
	for _, kind := range t.Kind {
		if kind == "bin" {
			return true
		}
	}
	return false
}

// Crate is one workspace member reported by cargo metadata.
type Crate struct {
	ID           string
	Name         string
	ManifestPath string
	Targets      []Target
	Dependencies []Dependency
	Edition      string
	Features     map[string][]string
}

// RootTarget picks the crate root, preferring a library target over a binary.
func (c *Crate) RootTarget() (Target, error) {
	for _, t := range c.Targets {
		if t.IsLib() {
			return t, nil
		}
	}
	for _, t := range c.Targets {
		if t.IsBin() {
			return t, nil
		}
	}
	if len(c.Targets) == 0 {
		return Target{}, errors.Newf(errors.CodeCargoMetadata, "crate %s has no targets", c.Name)
	}
	return c.Targets[0], nil
}

// SrcDir returns the src directory next to the crate manifest.
func (c *Crate) SrcDir() string {
	return filepath.Join(filepath.Dir(c.ManifestPath), "src")
}

// Module resolves module path segments within this crate to a source file.
// A segment path may end in a type or function name rather than a module;
// trailing segments are dropped one at a time until a file matches. Empty
// segments resolve to the crate root target.
func (c *Crate) Module(segments []string) ([]string, string, error) {
	current := segments
	for len(current) > 0 {
		dir := filepath.Join(append([]string{c.SrcDir()}, current[:len(current)-1]...)...)
		last := current[len(current)-1]

		candidate := filepath.Join(dir, last+".rs")
		if fileExists(candidate) {
			return current, candidate, nil
		}
		candidate = filepath.Join(dir, last, "mod.rs")
		if fileExists(candidate) {
			return current, candidate, nil
		}

		current = current[:len(current)-1]
	}

	root, err := c.RootTarget()
	if err != nil {
		return nil, "", err
	}
	return nil, root.SrcPath, nil
}

type depKey struct {
	name string
	kind DepKind
}

// Merge folds another crate's dependencies and features into this one.
// Dependencies are matched by name and kind; unmatched entries from either
// side are kept as-is.
func (c *Crate) Merge(other *Crate) (*Crate, error) {
	otherByKey := make(map[depKey]Dependency, len(other.Dependencies))
	for _, dep := range other.Dependencies {
		otherByKey[depKey{dep.Name, dep.Kind}] = dep
	}

	merged := make([]Dependency, 0, len(c.Dependencies)+len(other.Dependencies))
	seen := make(map[depKey]bool, len(c.Dependencies))
	for _, dep := range c.Dependencies {
		key := depKey{dep.Name, dep.Kind}
		seen[key] = true
		if otherDep, ok := otherByKey[key]; ok {
			combined, err := dep.Merge(otherDep)
			if err != nil {
				return nil, err
			}
			merged = append(merged, combined)
			continue
		}
		merged = append(merged, dep)
	}
	for _, dep := range other.Dependencies {
		if !seen[depKey{dep.Name, dep.Kind}] {
			merged = append(merged, dep)
		}
	}

	var features map[string][]string
	if len(c.Features) > 0 || len(other.Features) > 0 {
		features = make(map[string][]string, len(c.Features)+len(other.Features))
		for name, deps := range c.Features {
			features[name] = append([]string(nil), deps...)
		}
		for name, deps := range other.Features {
			existing, ok := features[name]
			if !ok {
				features[name] = append([]string(nil), deps...)
				continue
			}
			for _, dep := range deps {
				if !containsString(existing, dep) {
					existing = append(existing, dep)
				}
			}
			features[name] = existing
		}
	}

	return &Crate{
		ID:           c.ID,
		Name:         c.Name,
		ManifestPath: c.ManifestPath,
		Targets:      c.Targets,
		Dependencies: merged,
		Edition:      c.Edition,
		Features:     features,
	}, nil
}

// Render produces a complete Cargo.toml for this crate with a fixed 0.1.0
// version, sorted dependency sections and sorted features.
func (c *Crate) Render() string {
	var normal, build, dev []Dependency
	for _, dep := range c.Dependencies {
		switch dep.Kind {
		case DepBuild:
			build = append(build, dep)
		case DepDev:
			dev = append(dev, dep)
		default:
			normal = append(normal, dep)
		}
	}

	edition := c.Edition
	if edition == "" {
		edition = "2021"
	}

	lines := []string{
		"[package]",
		fmt.Sprintf("name = %q", c.Name),
		`version = "0.1.0"`,
		fmt.Sprintf("edition = %q", edition),
		"",
	}

	for _, t := range c.Targets {
		if t.IsLib() {
			if !t.Doctest {
				lines = append(lines, "[lib]", "doctest = false", "")
			}
			break
		}
	}

	lines = appendDepSection(lines, "[dependencies]", normal)
	lines = appendDepSection(lines, "[build-dependencies]", build)
	lines = appendDepSection(lines, "[dev-dependencies]", dev)

	if len(c.Features) > 0 {
		lines = append(lines, "[features]")
		for _, name := range util.SortedStringKeys(c.Features) {
			deps := c.Features[name]
			quoted := make([]string, len(deps))
			for i, dep := range deps {
				quoted[i] = fmt.Sprintf("%q", dep)
			}
			lines = append(lines, fmt.Sprintf("%s = [%s]", name, strings.Join(quoted, ", ")))
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

func appendDepSection(lines []string, header string, deps []Dependency) []string {
	if len(deps) == 0 {
		return lines
	}
	byName := make(map[string]Dependency, len(deps))
	for _, dep := range deps {
		byName[dep.Name] = dep
	}
	lines = append(lines, header)
	for _, name := range util.SortedStringKeys(byName) {
		lines = append(lines, fmt.Sprintf("%s = %s", name, byName[name].Render()))
	}
	return append(lines, "")
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

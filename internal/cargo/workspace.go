// # internal/cargo/workspace.go
package cargo

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"

	"carve/internal/core/errors"
	"carve/internal/shared/util"
)

// Workspace is the set of member crates of a cargo workspace. Crates pulled
// in only as dependencies are not part of it.
type Workspace struct {
	Root   string
	Crates map[string]*Crate
}

// Crate looks up a workspace member by name.
func (w *Workspace) Crate(name string) (*Crate, error) {
	crate, ok := w.Crates[name]
	if !ok {
		return nil, errors.Newf(errors.CodeCrateNotFound, "crate %q not found in workspace", name)
	}
	return crate, nil
}

// IsMember reports whether name is a workspace member crate.
func (w *Workspace) IsMember(name string) bool {
	_, ok := w.Crates[name]
	return ok
}

// MemberNames returns the member crate names in sorted order.
func (w *Workspace) MemberNames() []string {
	return util.SortedStringKeys(w.Crates)
}

type metadataDoc struct {
	Packages         []packageDoc `json:"packages"`
	WorkspaceMembers []string     `json:"workspace_members"`
	WorkspaceRoot    string       `json:"workspace_root"`
}

type packageDoc struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	ManifestPath string              `json:"manifest_path"`
	Edition      string              `json:"edition"`
	Targets      []targetDoc         `json:"targets"`
	Dependencies []dependencyDoc     `json:"dependencies"`
	Features     map[string][]string `json:"features"`
}

type targetDoc struct {
	Name    string   `json:"name"`
	Kind    []string `json:"kind"`
	SrcPath string   `json:"src_path"`
	Doctest *bool    `json:"doctest"`
}

type dependencyDoc struct {
	Name                string   `json:"name"`
	Req                 string   `json:"req"`
	Kind                *string  `json:"kind"`
	Optional            bool     `json:"optional"`
	UsesDefaultFeatures *bool    `json:"uses_default_features"`
	Features            []string `json:"features"`
	Target              *string  `json:"target"`
}

// FromCargo runs cargo metadata in the workspace directory and parses the
// result.
func FromCargo(ctx context.Context, workspacePath string) (*Workspace, error) {
	cmd := exec.CommandContext(ctx, "cargo", "metadata", "--format-version", "1")
	cmd.Dir = workspacePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		wrapped := errors.Wrap(err, errors.CodeCargoMetadata, "failed to run cargo metadata")
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			wrapped = errors.AddContext(wrapped, "stderr", msg)
		}
		return nil, errors.AddContext(wrapped, errors.CtxPath, workspacePath)
	}

	return FromMetadata(stdout.Bytes(), workspacePath)
}

// FromMetadata parses a cargo metadata format-version 1 document. Only
// workspace members are kept.
func FromMetadata(data []byte, workspacePath string) (*Workspace, error) {
	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeCargoMetadata, "cargo metadata returned invalid JSON")
	}

	root := doc.WorkspaceRoot
	if root == "" {
		root = workspacePath
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	members := make(map[string]bool, len(doc.WorkspaceMembers))
	for _, id := range doc.WorkspaceMembers {
		members[id] = true
	}

	crates := make(map[string]*Crate, len(doc.WorkspaceMembers))
	for _, pkg := range doc.Packages {
		if !members[pkg.ID] {
			continue
		}
		crates[pkg.Name] = crateFromDoc(pkg)
	}

	return &Workspace{Root: root, Crates: crates}, nil
}

func crateFromDoc(pkg packageDoc) *Crate {
	targets := make([]Target, 0, len(pkg.Targets))
	for _, t := range pkg.Targets {
		doctest := true
		if t.Doctest != nil {
			doctest = *t.Doctest
		}
		targets = append(targets, Target{
			Name:    t.Name,
			Kind:    t.Kind,
			SrcPath: t.SrcPath,
			Doctest: doctest,
		})
	}

	deps := make([]Dependency, 0, len(pkg.Dependencies))
	for _, d := range pkg.Dependencies {
		if d.Name == "" {
			continue
		}
		req := d.Req
		if req == "" {
			req = "*"
		}
		version, ok := ParseRequirement(req)
		if !ok {
			// Wildcards and exotic requirements degrade to ^0.
			version = VersionRequirement{Kind: ReqCaret}
		}
		kind := DepNormal
		if d.Kind != nil && *d.Kind != "" {
			kind = DepKind(*d.Kind)
		}
		usesDefault := true
		if d.UsesDefaultFeatures != nil {
			usesDefault = *d.UsesDefaultFeatures
		}
		target := ""
		if d.Target != nil {
			target = *d.Target
		}
		deps = append(deps, Dependency{
			Name:                d.Name,
			Version:             version,
			Kind:                kind,
			Optional:            d.Optional,
			UsesDefaultFeatures: usesDefault,
			Features:            d.Features,
			Target:              target,
		})
	}

	var features map[string][]string
	if len(pkg.Features) > 0 {
		features = pkg.Features
	}

	return &Crate{
		ID:           pkg.ID,
		Name:         pkg.Name,
		ManifestPath: pkg.ManifestPath,
		Targets:      targets,
		Dependencies: deps,
		Edition:      pkg.Edition,
		Features:     features,
	}
}

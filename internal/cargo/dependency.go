// # internal/cargo/dependency.go
package cargo

import (
	"fmt"
	"strings"

	"carve/internal/core/errors"
	"carve/internal/shared/util"
)

// DepKind mirrors the dependency kind field from cargo metadata, where null
// means a normal dependency.
type DepKind string

const (
	DepNormal DepKind = "normal"
	DepBuild  DepKind = "build"
	DepDev    DepKind = "dev"
)

// Dependency is one dependency entry from a crate manifest.
type Dependency struct {
	Name                string
	Version             VersionRequirement
	Kind                DepKind
	Optional            bool
	UsesDefaultFeatures bool
	Features            []string
	Target              string
}

// Merge combines two declarations of the same dependency. The result stays
// optional only if both declarations are optional, keeps default features
// only if both do, and unions the feature lists.
func (d Dependency) Merge(other Dependency) (Dependency, error) {
	version := d.Version
	if d.Version != other.Version {
		merged, ok := d.Version.Merge(other.Version)
		if !ok {
			return Dependency{}, errors.Newf(errors.CodeDependencyMerge,
				"dependency version mismatch for %s: %s vs %s, resolve the conflict manually",
				d.Name, d.Version.Format(), other.Version.Format())
		}
		version = merged
	}

	featureSet := make(map[string]bool, len(d.Features)+len(other.Features))
	for _, f := range d.Features {
		featureSet[f] = true
	}
	for _, f := range other.Features {
		featureSet[f] = true
	}

	return Dependency{
		Name:                d.Name,
		Version:             version,
		Kind:                d.Kind,
		Optional:            d.Optional && other.Optional,
		UsesDefaultFeatures: d.UsesDefaultFeatures && other.UsesDefaultFeatures,
		Features:            util.SortedStringSet(featureSet),
		Target:              d.Target,
	}, nil
}

// Render formats the dependency as a Cargo.toml value, either a bare version
// string or an inline table when extra attributes are set. The requirement
// prefix is dropped; a bare version in Cargo.toml is a caret requirement.
func (d Dependency) Render() string {
	var version string
	if d.Version.Version[2] != 0 {
		version = fmt.Sprintf("%d.%d.%d", d.Version.Version[0], d.Version.Version[1], d.Version.Version[2])
	} else {
		version = fmt.Sprintf("%d.%d", d.Version.Version[0], d.Version.Version[1])
	}

	if !d.Optional && d.UsesDefaultFeatures && len(d.Features) == 0 {
		return fmt.Sprintf("%q", version)
	}

	parts := []string{fmt.Sprintf("version = %q", version)}
	if d.Optional {
		parts = append(parts, "optional = true")
	}
	if !d.UsesDefaultFeatures {
		parts = append(parts, "default-features = false")
	}
	if len(d.Features) > 0 {
		quoted := make([]string, len(d.Features))
		for i, f := range d.Features {
			quoted[i] = fmt.Sprintf("%q", f)
		}
		parts = append(parts, fmt.Sprintf("features = [%s]", strings.Join(quoted, ", ")))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

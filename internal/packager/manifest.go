// # internal/packager/manifest.go
package packager

import (
	"carve/internal/cargo"
	"carve/internal/engine/closure"
)

// manifest synthesizes the output Cargo.toml: the included crates' dependency
// lists merged, then filtered down to non-optional dependencies that live
// outside the workspace.
func (p *Packager) manifest(res *closure.Result, needsLazyStatic bool) (string, error) {
	entry, err := p.ws.Crate(res.Entry.Crate())
	if err != nil {
		return "", err
	}

	merged := entry
	for _, name := range res.Crates {
		if name == entry.Name {
			continue
		}
		other, err := p.ws.Crate(name)
		if err != nil {
			return "", err
		}
		merged, err = merged.Merge(other)
		if err != nil {
			return "", err
		}
	}

	included := res.CrateSet()
	deps := make([]cargo.Dependency, 0, len(merged.Dependencies))
	hasLazyStatic := false
	for _, dep := range merged.Dependencies {
		if dep.Optional || included[dep.Name] || p.ws.IsMember(dep.Name) {
			continue
		}
		if dep.Name == "lazy_static" && dep.Kind == cargo.DepNormal {
			hasLazyStatic = true
		}
		deps = append(deps, dep)
	}
	if needsLazyStatic && !hasLazyStatic {
		deps = append(deps, p.lazyStaticDependency())
	}

	// One doctest=false lib target anywhere poisons the merged lib: the
	// extracted sources carry the same doc comments that made the original
	// crate turn doctests off.
	doctest := true
	for _, name := range res.Crates {
		crate, err := p.ws.Crate(name)
		if err != nil {
			return "", err
		}
		for _, t := range crate.Targets {
			if t.IsLib() && !t.Doctest {
				doctest = false
			}
		}
	}

	out := &cargo.Crate{
		Name: p.opts.Name,
		Targets: []cargo.Target{
			{Name: p.opts.Name, Kind: []string{"lib"}, Doctest: doctest},
		},
		Dependencies: deps,
		Edition:      entry.Edition,
		Features:     merged.Features,
	}
	return out.Render(), nil
}

// lazyStaticDependency reuses a requirement some workspace member already
// declares, falling back to ^1.4.
func (p *Packager) lazyStaticDependency() cargo.Dependency {
	for _, name := range p.ws.MemberNames() {
		for _, dep := range p.ws.Crates[name].Dependencies {
			if dep.Name == "lazy_static" && dep.Kind == cargo.DepNormal {
				return cargo.Dependency{
					Name:                dep.Name,
					Version:             dep.Version,
					Kind:                cargo.DepNormal,
					UsesDefaultFeatures: true,
				}
			}
		}
	}
	return cargo.Dependency{
		Name:                "lazy_static",
		Version:             cargo.VersionRequirement{Kind: cargo.ReqCaret, Version: [3]int{1, 4, 0}},
		Kind:                cargo.DepNormal,
		UsesDefaultFeatures: true,
	}
}

package resolver

import (
	"github.com/stratapm/strata/internal/index"
	"github.com/stratapm/strata/internal/manifest"
	"github.com/stratapm/strata/internal/version"
)

// Request is one top-level "install this" demand fed into the resolver.
type Request struct {
	Name string
	Spec version.Spec
}

// Selection is one (name, version) chosen by a successful resolution.
type Selection struct {
	Name    string
	Version version.Version
	Release index.Release
}

// Plan is the resolver's successful output: the selected versions plus a
// topological order of the induced dependency DAG, every package after
// the packages it depends on, ready for the install pipeline to walk.
type Plan struct {
	Selections []Selection
	Order      []string // package names, topologically sorted
}

// Source is the narrow capability the resolver needs from the catalog: it
// never imports the concrete loader, only this read-only view, matching
// the capability-interface pattern used for index.Verifier.
type Source interface {
	HasPackage(name string) bool
	Versions(name string) []string
	Release(name, ver string) (index.Release, bool)
}

// candidate is one concrete (name, version) variable in the encoding.
type candidate struct {
	id      varID
	name    string
	ver     version.Version
	release index.Release
}

// depOrigin records, for a dependency clause, which (name@version)
// required which dependency name under which spec — the provenance
// UNSAT explanations are built from.
type depOrigin struct {
	fromName string
	fromVer  version.Version
	depName  string
	spec     version.Spec
}

// requirement is a top-level request's clause provenance, for the same
// reason.
type requirement struct {
	name string
	spec version.Spec
}

// noCandidatesError signals that a top-level request has no candidate
// version at all (either the package has no releases, or none satisfy
// the requested spec) — an immediate UNSAT that never reaches the solver.
type noCandidatesError struct {
	name string
	spec version.Spec
}

func (e *noCandidatesError) Error() string {
	return "no version of " + e.name + " satisfies " + e.spec.String()
}

func depsFor(buildClosure bool, rel index.Release) []manifest.Dependency {
	if !buildClosure {
		return rel.RuntimeDeps
	}
	// Build resolution substitutes build deps recursively: the runtime
	// closure of build deps, so a build-time candidate's own runtime
	// dependencies participate too.
	return append(append([]manifest.Dependency{}, rel.BuildDeps...), rel.RuntimeDeps...)
}

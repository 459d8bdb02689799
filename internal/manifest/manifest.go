// Package manifest parses the manifest.toml carried at the root of every
// .sp package archive (external interfaces, package file) and the
// dependency-spec strings ("name>=1.2.0") used throughout the index and
// resolver.
package manifest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/stratapm/strata/internal/hashid"
	"github.com/stratapm/strata/internal/pmerrors"
	"github.com/stratapm/strata/internal/version"
)

// Dependency is a parsed "name<op><version>[,<op><version>...]" entry.
type Dependency struct {
	Name string
	Spec version.Spec
}

// ParseDependency splits a raw dependency string into name and spec.
// The name is everything up to the first comparison operator character;
// the remainder is handed to version.ParseSpec.
func ParseDependency(raw string) (Dependency, error) {
	raw = strings.TrimSpace(raw)
	idx := strings.IndexAny(raw, "=<>!~")
	if idx <= 0 {
		return Dependency{}, pmerrors.New(pmerrors.DomainPackage, pmerrors.CodeManifestMalformed,
			fmt.Sprintf("dependency %q has no version spec", raw))
	}
	name := strings.TrimSpace(raw[:idx])
	spec, err := version.ParseSpec(raw[idx:])
	if err != nil {
		return Dependency{}, pmerrors.Wrap(pmerrors.DomainPackage, pmerrors.CodeManifestMalformed,
			fmt.Sprintf("dependency %q", raw), err)
	}
	return Dependency{Name: name, Spec: spec}, nil
}

// rawManifest mirrors the TOML structure of manifest.toml exactly; the
// public Manifest type below is the parsed, validated form callers use.
type rawManifest struct {
	Package struct {
		Name     string `toml:"name"`
		Version  string `toml:"version"`
		Revision uint32 `toml:"revision"`
		Arch     string `toml:"arch"`
	} `toml:"package"`
	Dependencies struct {
		Runtime []string `toml:"runtime"`
		Build   []string `toml:"build"`
	} `toml:"dependencies"`
	SBOM map[string]string `toml:"sbom"`
}

// Manifest is the parsed content of a package's manifest.toml.
type Manifest struct {
	Identity     hashid.Identity
	RuntimeDeps  []Dependency
	BuildDeps    []Dependency
	SBOMDigests  map[string]string
}

// Parse parses manifest.toml bytes into a Manifest, validating that every
// required [package] field is present and every dependency spec parses.
func Parse(data []byte) (Manifest, error) {
	var raw rawManifest
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return Manifest{}, pmerrors.Wrap(pmerrors.DomainPackage, pmerrors.CodeManifestMalformed,
			"parsing manifest.toml", err)
	}

	if raw.Package.Name == "" || raw.Package.Version == "" || raw.Package.Arch == "" {
		return Manifest{}, pmerrors.New(pmerrors.DomainPackage, pmerrors.CodeManifestMalformed,
			"manifest.toml missing required [package] name/version/arch")
	}
	if _, err := version.Parse(raw.Package.Version); err != nil {
		return Manifest{}, pmerrors.Wrap(pmerrors.DomainPackage, pmerrors.CodeManifestMalformed,
			"manifest.toml [package] version", err)
	}

	m := Manifest{
		Identity: hashid.Identity{
			Name:     raw.Package.Name,
			Version:  raw.Package.Version,
			Revision: raw.Package.Revision,
			Arch:     raw.Package.Arch,
		}.Normalize(),
		SBOMDigests: raw.SBOM,
	}

	for _, dep := range raw.Dependencies.Runtime {
		d, err := ParseDependency(dep)
		if err != nil {
			return Manifest{}, err
		}
		m.RuntimeDeps = append(m.RuntimeDeps, d)
	}
	for _, dep := range raw.Dependencies.Build {
		d, err := ParseDependency(dep)
		if err != nil {
			return Manifest{}, err
		}
		m.BuildDeps = append(m.BuildDeps, d)
	}

	return m, nil
}

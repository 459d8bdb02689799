// Package index parses and validates the signed, timestamped package
// catalog described in the external interfaces section: index.json plus
// its detached index.json.minisig signature.
package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/stratapm/strata/internal/hashid"
	"github.com/stratapm/strata/internal/manifest"
	"github.com/stratapm/strata/internal/pmerrors"
)

// SupportedFormatVersion is the highest index format_version this build
// understands; documents with a newer version are rejected outright.
const SupportedFormatVersion = 1

// ClientVersion identifies this build for the minimum_client soft-warn
// check.
const ClientVersion = "1.0.0"

// DefaultFreshnessWindow is how old an index is allowed to be before it
// is rejected as stale.
const DefaultFreshnessWindow = 7 * 24 * time.Hour

// Verifier is the narrow capability this package needs from the Signer
// collaborator: a boolean oracle over (blob, signature, trust root).
// Concrete implementations live outside this package; index only depends
// on this interface (§9 capability tables).
type Verifier interface {
	Verify(blob, signature []byte, trustRoot string) bool
}

// Release is a single (name, version) catalog entry.
type Release struct {
	Revision    uint32
	Arch        string
	ContentHash hashid.Content
	DownloadURL string
	RuntimeDeps []manifest.Dependency
	BuildDeps   []manifest.Dependency
}

type releaseJSON struct {
	Revision    uint32   `json:"revision"`
	Arch        string   `json:"arch"`
	ContentHash string   `json:"content_hash"`
	DownloadURL string   `json:"download_url"`
	RuntimeDeps []string `json:"runtime_deps"`
	BuildDeps   []string `json:"build_deps"`
}

func (r Release) MarshalJSON() ([]byte, error) {
	rj := releaseJSON{
		Revision:    r.Revision,
		Arch:        r.Arch,
		ContentHash: r.ContentHash.String(),
		DownloadURL: r.DownloadURL,
	}
	for _, d := range r.RuntimeDeps {
		rj.RuntimeDeps = append(rj.RuntimeDeps, d.Name+d.Spec.String())
	}
	for _, d := range r.BuildDeps {
		rj.BuildDeps = append(rj.BuildDeps, d.Name+d.Spec.String())
	}
	return json.Marshal(rj)
}

func (r *Release) UnmarshalJSON(data []byte) error {
	var rj releaseJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	r.Revision = rj.Revision
	r.Arch = rj.Arch
	r.ContentHash = hashid.Content(rj.ContentHash)
	r.DownloadURL = rj.DownloadURL
	for _, dep := range rj.RuntimeDeps {
		d, err := manifest.ParseDependency(dep)
		if err != nil {
			return err
		}
		r.RuntimeDeps = append(r.RuntimeDeps, d)
	}
	for _, dep := range rj.BuildDeps {
		d, err := manifest.ParseDependency(dep)
		if err != nil {
			return err
		}
		r.BuildDeps = append(r.BuildDeps, d)
	}
	return nil
}

// document is the wire format of index.json.
type document struct {
	Version      uint32                        `json:"version"`
	MinimumClient string                       `json:"minimum_client"`
	Timestamp    time.Time                      `json:"timestamp"`
	Packages     map[string]map[string]Release `json:"packages"`
}

// Index is the parsed, validated in-memory catalog. It is immutable once
// constructed: every accessor returns copies or read-only views.
type Index struct {
	doc document
}

// Warning is a non-fatal finding surfaced alongside a successfully loaded
// Index (currently only the minimum_client soft-warn).
type Warning struct {
	Message string
}

// Load parses and validates an index document and its detached signature.
//
// Validation order matches the component design: signature first (a
// tampered document should never even have its timestamp trusted),
// then format_version, then freshness. now and freshness are parameters
// (rather than time.Now()/a package constant) so tests can exercise the
// freshness boundary deterministically.
func Load(data, signature []byte, verifier Verifier, trustRoot string, now time.Time, freshness time.Duration) (*Index, []Warning, error) {
	if verifier != nil && !verifier.Verify(data, signature, trustRoot) {
		return nil, nil, pmerrors.New(pmerrors.DomainPackage, pmerrors.CodeSignatureInvalid,
			"index.json signature does not verify against trust root")
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, pmerrors.Wrap(pmerrors.DomainConfig, pmerrors.CodeParseError, "parsing index.json", err)
	}

	if doc.Version > SupportedFormatVersion {
		return nil, nil, pmerrors.New(pmerrors.DomainConfig, pmerrors.CodeSchemaVersionTooNew,
			fmt.Sprintf("index format_version %d exceeds supported %d", doc.Version, SupportedFormatVersion))
	}

	if freshness > 0 && now.Sub(doc.Timestamp) > freshness {
		return nil, nil, pmerrors.New(pmerrors.DomainPackage, pmerrors.CodeUnsupportedFormat,
			fmt.Sprintf("index is stale: timestamp %s is older than the %s freshness window", doc.Timestamp, freshness))
	}

	var warnings []Warning
	if doc.MinimumClient != "" && doc.MinimumClient > ClientVersion {
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("index requires client >= %s, this build is %s", doc.MinimumClient, ClientVersion),
		})
	}

	return &Index{doc: doc}, warnings, nil
}

// Versions returns every version string published for name, sorted
// lexically as strings, not by version precedence (callers that need
// newest-first order should sort with version.Parse + Compare).
func (idx *Index) Versions(name string) []string {
	releases, ok := idx.doc.Packages[name]
	if !ok {
		return nil
	}
	versions := make([]string, 0, len(releases))
	for v := range releases {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Release returns the release record for (name, version).
func (idx *Index) Release(name, ver string) (Release, bool) {
	releases, ok := idx.doc.Packages[name]
	if !ok {
		return Release{}, false
	}
	r, ok := releases[ver]
	return r, ok
}

// HasPackage reports whether name appears in the index at all.
func (idx *Index) HasPackage(name string) bool {
	_, ok := idx.doc.Packages[name]
	return ok
}

// PackageNames returns every package name in the index, sorted.
func (idx *Index) PackageNames() []string {
	names := make([]string, 0, len(idx.doc.Packages))
	for n := range idx.doc.Packages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Package hashid implements the dual hashing and package identity scheme
// described in the data model: a strong, 256-bit content hash for every
// file and archive in the store, a cheap verification hash for streaming
// integrity checks, and the (name, version, revision, arch) identity
// tuple that the rest of the system indexes on.
package hashid

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	digest "github.com/opencontainers/go-digest"
	"golang.org/x/text/unicode/norm"
)

// Content is the strong, 256-bit content hash. It is always rendered in
// the canonical "sha256:<hex>" form used by the object store's directory
// layout and the index's content_hash field.
type Content digest.Digest

// String implements fmt.Stringer.
func (c Content) String() string { return string(c) }

// Hex returns the bare hex digest with no algorithm prefix, suitable for
// use as a store directory name.
func (c Content) Hex() string { return digest.Digest(c).Encoded() }

// Validate reports whether c is well-formed.
func (c Content) Validate() error {
	return digest.Digest(c).Validate()
}

// SumContent computes the Content hash of data.
func SumContent(data []byte) Content {
	return Content(digest.FromBytes(data))
}

// SumContentReader computes the Content hash of everything read from r.
func SumContentReader(r io.Reader) (Content, error) {
	d, err := digest.SHA256.FromReader(r)
	if err != nil {
		return "", err
	}
	return Content(d), nil
}

// Fast is the cheap verification hash used to detect truncated or
// corrupted streams without paying for a full SHA-256 pass; it is never
// used as a store key, only as a fast-path integrity check ahead of the
// authoritative Content hash comparison.
type Fast uint64

// SumFast computes the Fast hash of data.
func SumFast(data []byte) Fast {
	return Fast(xxhash.Sum64(data))
}

// FastWriter wraps an xxhash digest so callers can compute the Fast hash
// of a stream incrementally, in parallel with writing it to disk.
type FastWriter struct {
	h *xxhash.Digest
}

// NewFastWriter returns a FastWriter ready to accept Write calls.
func NewFastWriter() *FastWriter {
	return &FastWriter{h: xxhash.New()}
}

func (w *FastWriter) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Sum returns the Fast hash of everything written so far.
func (w *FastWriter) Sum() Fast {
	return Fast(w.h.Sum64())
}

// domain-separated hashing, following the same null-byte separator
// discipline as the rest of the corpus's content-addressed identity
// schemes: SHA256(domain + 0x00 + data). The separator prevents a
// collision between, e.g., a package name that happens to equal another
// domain's serialized payload.
func hashWithDomain(domain string, data []byte) Content {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return Content(digest.NewDigestFromBytes(digest.SHA256, h.Sum(nil)))
}

const domainIdentity = "strata/package-identity/v1"

// Identity is the four-field package identity described in the data model.
// Two identities are equal iff all four fields match; NFC-normalizing Name
// before comparison or hashing avoids Name being observably different
// across Unicode-equivalent spellings pulled from different index mirrors.
type Identity struct {
	Name     string
	Version  string // canonical version string, see internal/version
	Revision uint32
	Arch     string
}

// Normalize returns a copy of id with Name and Arch run through Unicode NFC
// normalization, the same normalization the corpus's canonical-JSON
// encoder applies to every string before hashing.
func (id Identity) Normalize() Identity {
	id.Name = norm.NFC.String(id.Name)
	id.Arch = norm.NFC.String(id.Arch)
	return id
}

// String renders the identity as "name@version-revision.arch".
func (id Identity) String() string {
	return fmt.Sprintf("%s@%s-%d.%s", id.Name, id.Version, id.Revision, id.Arch)
}

// Hash computes a stable content hash for the identity, for use as a
// cache key.
func (id Identity) Hash() Content {
	id = id.Normalize()
	return hashWithDomain(domainIdentity, []byte(id.String()))
}

// Equal reports whether id and other refer to the same package.
func (id Identity) Equal(other Identity) bool {
	a, b := id.Normalize(), other.Normalize()
	return a.Name == b.Name && a.Version == b.Version && a.Revision == b.Revision && a.Arch == b.Arch
}

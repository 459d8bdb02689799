// Package objstore implements the content-addressed object store: a
// fixed-root directory tree holding immutable package archives and the
// individual file objects extracted from them, composed into states via
// hardlinks.
package objstore

import (
	"archive/tar"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	digest "github.com/opencontainers/go-digest"

	"github.com/stratapm/strata/internal/hashid"
	"github.com/stratapm/strata/internal/pmerrors"
)

// Store is the content-addressed object store rooted at a fixed
// directory. It has two sub-trees:
//
//   - <root>/archives/<hash>/   the raw extracted tree of one .sp archive,
//     kept only long enough for the caller to break it into file objects.
//   - <root>/objects/<hash>     individual file objects, the File Object
//     entities of the data model, hardlinked into staging prefixes.
//
// Store never mutates existing content: every write path is
// extract-to-temp-then-rename, so a reader can never observe a partially
// written object.
type Store struct {
	root string
}

// Open returns a Store rooted at root, creating the directory layout if
// it does not already exist.
func Open(root string) (*Store, error) {
	for _, sub := range []string{"archives", "objects", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating store layout", err)
		}
	}
	return &Store{root: root}, nil
}

// ArchiveRef identifies an extracted package archive within the store.
type ArchiveRef struct {
	Hash hashid.Content
}

func (s *Store) archiveDir(hash hashid.Content) string {
	return filepath.Join(s.root, "archives", hash.Hex())
}

func (s *Store) objectPath(hash hashid.Content) string {
	return filepath.Join(s.root, "objects", hash.Hex())
}

// PutArchive verifies r's content hash against expected, then atomically
// extracts the zstd-compressed tar stream into <root>/archives/<hash>/.
//
// Extraction is two-phase: the stream is first fully written to a
// temporary sibling directory, then renamed into place. If a directory
// already exists at the target hash, the freshly extracted copy is
// discarded — the existing one is trusted, since content at a given hash
// is defined to be immutable.
func (s *Store) PutArchive(r io.Reader, expected hashid.Content) (ArchiveRef, error) {
	tmp := filepath.Join(s.root, "tmp", "archive-"+uuid.NewString())
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return ArchiveRef{}, pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating staging dir", err)
	}
	defer os.RemoveAll(tmp)

	fw := hashid.NewFastWriter()
	tee := io.TeeReader(r, fw)
	hasher, err := hashStreamWhileExtracting(tee, tmp)
	if err != nil {
		return ArchiveRef{}, err
	}

	if hasher != expected {
		return ArchiveRef{}, pmerrors.New(pmerrors.DomainStorage, pmerrors.CodeHashMismatch,
			"extracted archive content hash does not match expected hash").
			WithContext("expected", expected.String()).WithContext("actual", hasher.String())
	}

	dest := s.archiveDir(expected)
	if _, err := os.Stat(dest); err == nil {
		// Already present: trust the existing, immutable copy.
		return ArchiveRef{Hash: expected}, nil
	}

	if err := os.Rename(tmp, dest); err != nil {
		if os.IsExist(err) {
			return ArchiveRef{Hash: expected}, nil
		}
		return ArchiveRef{}, pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "renaming staged archive into place", err)
	}
	return ArchiveRef{Hash: expected}, nil
}

// hashStreamWhileExtracting decompresses and untars data from r into dir
// while hashing every byte read, so the caller can compare the whole
// stream's content hash against the archive's expected hash without a
// second read pass.
func hashStreamWhileExtracting(r io.Reader, dir string) (hashid.Content, error) {
	hw := &hashingReader{r: r}
	zr, err := zstd.NewReader(hw)
	if err != nil {
		return "", pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeCorruptArchive, "opening zstd stream", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeCorruptArchive, "reading tar entry", err)
		}
		target := filepath.Join(dir, filepath.Clean(string(filepath.Separator)+hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating directory entry", err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating parent for symlink", err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return "", pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating symlink entry", err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating parent for file entry", err)
			}
			mode := os.FileMode(hdr.Mode) & 0o777
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return "", pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating file entry", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return "", pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "writing file entry", err)
			}
			f.Close()
		}
	}

	// Drain any trailer bytes so the hash covers the full stream even if
	// the tar/zstd readers stopped short of EOF on the underlying reader.
	_, _ = io.Copy(io.Discard, hw)
	return hw.sum(), nil
}

// hashingReader hashes every byte read through it with SHA-256, so the
// archive's content hash can be computed in the same pass as extraction.
type hashingReader struct {
	r io.Reader
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

func (h *hashingReader) Read(p []byte) (int, error) {
	if h.h == nil {
		h.h = sha256.New()
	}
	n, err := h.r.Read(p)
	if n > 0 {
		h.h.Write(p[:n])
	}
	return n, err
}

func (h *hashingReader) sum() hashid.Content {
	if h.h == nil {
		h.h = sha256.New()
	}
	return hashid.Content(digest.NewDigestFromBytes(digest.SHA256, h.h.Sum(nil)))
}

// FileEntry describes one file belonging to a package, as recorded by the
// state manager: its path relative to the install prefix, the content hash
// of the underlying object, and its recorded permission bits. LinkInto
// applies no mode: a hardlink shares the object's own permission bits
// (whatever mode it was extracted with), so Mode here is informational.
type FileEntry struct {
	Path string
	Hash hashid.Content
	Mode os.FileMode
}

// PutFile inserts a single file's content into the object store, returning
// its content hash and whether an object already existed at that hash. A
// hash collision on an existing object is never rewritten: content at a
// given hash is immutable, so the incoming bytes are assumed identical and
// are simply deduplicated against the existing object (spec scenario: two
// packages shipping a byte-identical file dedupe to one File Object).
func (s *Store) PutFile(r io.Reader, mode os.FileMode) (hashid.Content, bool, error) {
	tmp := filepath.Join(s.root, "tmp", "file-"+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode&0o777)
	if err != nil {
		return "", false, pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating staging file", err)
	}
	defer os.Remove(tmp)

	hw := &hashingReader{r: r}
	if _, err := io.Copy(f, hw); err != nil {
		f.Close()
		return "", false, pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "writing staged file", err)
	}
	if err := f.Close(); err != nil {
		return "", false, pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "closing staged file", err)
	}

	hash := hw.sum()
	dest := s.objectPath(hash)
	if _, err := os.Stat(dest); err == nil {
		return hash, true, nil
	}

	if err := os.Rename(tmp, dest); err != nil {
		if os.IsExist(err) {
			return hash, true, nil
		}
		return "", false, pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "renaming staged file into place", err)
	}
	return hash, false, nil
}

// HasObject reports whether a file object exists at hash.
func (s *Store) HasObject(hash hashid.Content) bool {
	_, err := os.Stat(s.objectPath(hash))
	return err == nil
}

// LinkInto hardlinks every entry's object into dest, preserving entry.Path
// as the relative layout. Linking is not transactional: if any single
// hardlink fails partway through, LinkInto returns immediately with the
// files linked so far still present in dest. The state manager is
// responsible for staging dest under a temporary name and only publishing
// it via rename once LinkInto returns nil, so a partial failure here is
// torn down by discarding the whole staging directory rather than by
// undoing individual links (spec §4.3: "Fails if any hardlink fails").
func (s *Store) LinkInto(dest string, entries []FileEntry) error {
	for _, e := range entries {
		target := filepath.Join(dest, filepath.Clean(string(filepath.Separator)+e.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError,
				fmt.Sprintf("creating parent directory for %s", e.Path), err)
		}
		src := s.objectPath(e.Hash)
		if err := os.Link(src, target); err != nil {
			return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError,
				fmt.Sprintf("hardlinking %s from object %s", e.Path, e.Hash), err)
		}
	}
	return nil
}

// Delete removes the on-disk object at hash. Callers must only invoke this
// once the state manager's refcount for hash has reached zero and the
// grace window has elapsed (§4.5 GC); Delete itself performs no refcount
// check, it is a pure filesystem primitive.
func (s *Store) Delete(hash hashid.Content) error {
	if err := os.Remove(s.objectPath(hash)); err != nil && !os.IsNotExist(err) {
		return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "deleting object", err)
	}
	return nil
}

// DeleteArchive removes an extracted archive tree once its files have been
// fully absorbed into individual objects and it is no longer needed.
func (s *Store) DeleteArchive(ref ArchiveRef) error {
	if err := os.RemoveAll(s.archiveDir(ref.Hash)); err != nil {
		return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "deleting archive tree", err)
	}
	return nil
}

// ArchiveDir exposes the extracted tree for ref so a caller (the ingestion
// step that breaks an archive into file objects) can walk it.
func (s *Store) ArchiveDir(ref ArchiveRef) string {
	return s.archiveDir(ref.Hash)
}

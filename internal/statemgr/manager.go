// Package statemgr implements the atomic state transition described in
// §4.7: clone the active state's directory, mutate the clone via hardlinks,
// record the new manifest in the ledger, swap the clone into place, and
// only then commit the ledger transaction that makes the swap durable.
//
// The transition is staged so that the live directory only ever holds a
// complete state's files. Recover restores live when a crash falls between
// the swap's two renames. A crash after the swap and before the ledger
// commit leaves live holding the new state's files while the ledger still
// names the old state active; Recover does not detect that case.
package statemgr

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stratapm/strata/internal/objstore"
	"github.com/stratapm/strata/internal/pmerrors"
	"github.com/stratapm/strata/internal/statedb"
)

// Manager orchestrates state transitions over a fixed install prefix. The
// prefix holds exactly one "live" directory (the currently active state's
// files) plus zero or more "archive-<id>" directories (previously active
// states, retained until gc reaps them) and transient "staging-<uuid>"
// directories (in-flight transitions).
type Manager struct {
	store  *objstore.Store
	db     *statedb.Store
	prefix string
}

// New returns a Manager rooted at prefix, using store for file content and
// db for the transactional ledger.
func New(prefix string, store *objstore.Store, db *statedb.Store) (*Manager, error) {
	if err := os.MkdirAll(prefix, 0o755); err != nil {
		return nil, pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating state prefix", err)
	}
	return &Manager{store: store, db: db, prefix: prefix}, nil
}

func (m *Manager) liveDir() string { return filepath.Join(m.prefix, "live") }

func (m *Manager) archiveDir(stateID int64) string {
	return filepath.Join(m.prefix, archiveDirName(stateID))
}

func archiveDirName(stateID int64) string {
	return "archive-" + itoa(stateID)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Transition applies the desired full file manifest as a new state, with
// parent set to the current active state (or none, for a fresh install).
// It returns the new state's ID once it is durably active.
//
// Steps, per §4.7:
//  1. Clone: hardlink-copy the current live directory into a fresh staging
//     directory (skipped on a first install, where live does not yet exist).
//  2. Mutate: remove paths present in the parent but absent from desired,
//     then hardlink in every path present in desired but absent (or changed)
//     from the parent, via objstore.LinkInto.
//  3. Ledger: CreateState records the new manifest and bumps file-object
//     ref counts, all inside one SQL transaction, before anything on disk
//     is swapped.
//  4. Swap: rename live to an archive directory (if a parent existed), then
//     rename staging to live. This is the best available atomicity on a
//     filesystem without a native directory-exchange syscall exposed
//     portably — each rename alone is atomic, and the narrow window between
//     them is what Recover reconciles on next startup.
//  5. Commit: ActivateState marks the new state active and the old one
//     archived in the same ledger transaction, only after the swap above
//     has already succeeded on disk.
//
// If the mutate step fails, the staging directory is discarded and no
// ledger row is created. If the ledger CreateState fails, the staging
// directory is discarded. If the filesystem swap fails, the new state's
// row stays in the ledger with staging status (Recover does not remove
// it), the staging directory is left for Recover to remove, and the live
// directory is left as it was: if the second rename fails, swap renames
// the archived directory back to live.
func (m *Manager) Transition(ctx context.Context, manifestDigest string, desired []objstore.FileEntry) (int64, error) {
	current, hasCurrent, err := m.db.CurrentState(ctx)
	if err != nil {
		return 0, err
	}

	staging := filepath.Join(m.prefix, "staging-"+uuid.NewString())
	if err := m.cloneInto(staging, hasCurrent); err != nil {
		os.RemoveAll(staging)
		return 0, err
	}

	var parentFiles []statedb.FileEntry
	if hasCurrent {
		parentFiles, err = m.db.StateFiles(ctx, current.ID)
		if err != nil {
			os.RemoveAll(staging)
			return 0, err
		}
	}

	if err := m.mutate(staging, parentFiles, desired); err != nil {
		os.RemoveAll(staging)
		return 0, err
	}

	var parentID *int64
	if hasCurrent {
		id := current.ID
		parentID = &id
	}

	dbFiles := make([]statedb.FileEntry, len(desired))
	for i, f := range desired {
		dbFiles[i] = statedb.FileEntry{Path: f.Path, Hash: f.Hash, Mode: uint32(f.Mode)}
	}

	newID, err := m.db.CreateState(ctx, parentID, manifestDigest, dbFiles)
	if err != nil {
		os.RemoveAll(staging)
		return 0, err
	}

	if err := m.swap(staging, current, hasCurrent); err != nil {
		// The ledger keeps this state's row in staging status and the
		// staging directory stays on disk; Recover removes the directory
		// on next startup but leaves the row.
		return 0, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeOrphanStaging,
			"filesystem swap failed after ledger state was recorded", err)
	}

	if err := m.db.ActivateState(ctx, newID); err != nil {
		return 0, err
	}
	return newID, nil
}

// cloneInto hardlink-copies the current live tree into dest. If there is no
// current state (fresh install), dest is simply created empty.
func (m *Manager) cloneInto(dest string, hasCurrent bool) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "creating staging directory", err)
	}
	if !hasCurrent {
		return nil
	}
	live := m.liveDir()
	return filepath.WalkDir(live, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "walking live directory", err)
		}
		rel, err := filepath.Rel(live, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if rel == "." {
			return nil
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "reading symlink", err)
			}
			return os.Symlink(link, target)
		default:
			if err := os.Link(path, target); err != nil {
				return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "hardlinking cloned file", err)
			}
			return nil
		}
	})
}

// mutate removes paths that parent has but desired does not (or whose
// content changed), then hardlinks in every path desired has that parent
// lacked (or whose content changed), leaving staging holding exactly
// desired's file set.
func (m *Manager) mutate(staging string, parent []statedb.FileEntry, desired []objstore.FileEntry) error {
	parentByPath := make(map[string]statedb.FileEntry, len(parent))
	for _, f := range parent {
		parentByPath[f.Path] = f
	}
	desiredByPath := make(map[string]objstore.FileEntry, len(desired))
	for _, f := range desired {
		desiredByPath[f.Path] = f
	}

	for path, pf := range parentByPath {
		df, stillPresent := desiredByPath[path]
		if !stillPresent || df.Hash != pf.Hash {
			target := filepath.Join(staging, filepath.Clean(string(filepath.Separator)+path))
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "removing superseded file", err)
			}
		}
	}

	var toAdd []objstore.FileEntry
	for path, df := range desiredByPath {
		pf, hadBefore := parentByPath[path]
		if !hadBefore || pf.Hash != df.Hash {
			toAdd = append(toAdd, df)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}
	return m.store.LinkInto(staging, toAdd)
}

// swap performs the two-rename directory exchange: live becomes
// archive-<id> (if a parent state existed), and staging becomes live.
func (m *Manager) swap(staging string, current statedb.State, hasCurrent bool) error {
	if hasCurrent {
		if err := os.Rename(m.liveDir(), m.archiveDir(current.ID)); err != nil {
			return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "archiving previous live directory", err)
		}
	}
	if err := os.Rename(staging, m.liveDir()); err != nil {
		if hasCurrent {
			// Put the previous tree back so live is unchanged.
			_ = os.Rename(m.archiveDir(current.ID), m.liveDir())
		}
		return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "publishing staged directory as live", err)
	}
	return nil
}

// Rollback re-materializes a previously recorded state as a new active
// state, walking the ledger in reverse the way the history/rollback
// commands do: it reads targetID's recorded manifest and transitions to it
// exactly as Transition would transition to any other desired file set,
// so the resulting history remains append-only rather than rewriting the
// target state back into "active" in place.
func (m *Manager) Rollback(ctx context.Context, targetID int64) (int64, error) {
	files, err := m.db.StateFiles(ctx, targetID)
	if err != nil {
		return 0, err
	}
	target, err := m.stateByID(ctx, targetID)
	if err != nil {
		return 0, err
	}

	entries := make([]objstore.FileEntry, len(files))
	for i, f := range files {
		entries[i] = objstore.FileEntry{Path: f.Path, Hash: f.Hash, Mode: os.FileMode(f.Mode)}
	}
	return m.Transition(ctx, target.ManifestDigest, entries)
}

func (m *Manager) stateByID(ctx context.Context, id int64) (statedb.State, error) {
	history, err := m.db.History(ctx)
	if err != nil {
		return statedb.State{}, err
	}
	for _, st := range history {
		if st.ID == id {
			return st, nil
		}
	}
	return statedb.State{}, pmerrors.New(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "no such recorded state")
}

// Recover cleans up after an interrupted Transition. If the ledger has an
// active state but the live directory is missing (a crash between the
// swap's two renames), that state's archive-<id> directory is renamed back
// to live. Every leftover "staging-*" directory is removed, since a staging
// directory only survives a clean Transition call as briefly as it takes
// to rename it into place. A state row left in "staging" status is
// activated only when the ledger has no active state and the live
// directory exists (an interrupted first install whose swap completed).
// When a state is active, staging-status rows are left as they are and
// the live directory is not compared against them.
func (m *Manager) Recover(ctx context.Context) error {
	active, hasActive, err := m.db.CurrentState(ctx)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(m.liveDir()); hasActive && os.IsNotExist(statErr) {
		if err := os.Rename(m.archiveDir(active.ID), m.liveDir()); err != nil && !os.IsNotExist(err) {
			return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "restoring live directory from archive", err)
		}
	}

	entries, err := os.ReadDir(m.prefix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "reading prefix for recovery", err)
	}
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) < 8 || e.Name()[:8] != "staging-" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.prefix, e.Name())); err != nil {
			return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "removing orphaned staging directory", err)
		}
	}

	history, err := m.db.History(ctx)
	if err != nil {
		return err
	}
	for _, st := range history {
		if st.Status != statedb.StatusStaging {
			continue
		}
		// With no active state, a staging-status row whose tree reached
		// live is an interrupted first install: activating it finishes the
		// job. With an active state, the row is left as it is.
		current, hasCurrent, err := m.db.CurrentState(ctx)
		if err != nil {
			return err
		}
		if !hasCurrent {
			if _, err := os.Stat(m.liveDir()); err != nil {
				continue
			}
			if err := m.db.ActivateState(ctx, st.ID); err != nil {
				return err
			}
			continue
		}
		if current.ID == st.ID {
			continue
		}
	}
	return nil
}

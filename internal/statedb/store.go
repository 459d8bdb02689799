// Package statedb is the transactional SQLite ledger behind the state
// manager: it records every state's file manifest, the shared refcounted
// file-object table GC sweeps against, and which single state is
// currently active. Every mutating method either fully commits or leaves
// the database untouched — there is no partially-applied state transition
// visible to a concurrent reader.
package statedb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stratapm/strata/internal/hashid"
	"github.com/stratapm/strata/internal/pmerrors"
)

// Store wraps a single-writer SQLite connection pool holding the state
// ledger. Following the teacher's store, SQLite only tolerates one writer
// at a time, so the pool is pinned to a single connection rather than left
// to serialize writers behind SQLITE_BUSY retries.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path, applying pragmas and
// migrations. Open is idempotent: calling it again against an
// already-initialized path is a no-op beyond re-asserting the pragmas.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "opening state database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "connecting to state database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, fmt.Sprintf("executing %q", p), err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeIntegrityViolation, "applying schema", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeIntegrityViolation, "reading schema version", err)
	}
	// No migrations beyond the v1 baseline schema yet; this is where a
	// future "if version < 2" branch goes, mirroring the teacher's
	// runMigrations shape.
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeIntegrityViolation, "setting schema version", err)
	}
	return nil
}

// FileEntry is one (path, object hash, mode) row of a state's manifest.
type FileEntry struct {
	Path string
	Hash hashid.Content
	Mode uint32
}

// StateStatus is the lifecycle stage of a recorded state.
type StateStatus string

const (
	StatusStaging  StateStatus = "staging"
	StatusActive   StateStatus = "active"
	StatusArchived StateStatus = "archived"
)

// State is one row of the states table plus its file manifest.
type State struct {
	ID             int64
	CreatedAt      string
	ParentID       sql.NullInt64
	Status         StateStatus
	ManifestDigest string
	Label          string
}

// CreateState inserts a new state row with status staging plus its full
// file manifest, and bumps the ref_count of every referenced file object
// (inserting the object row at count 1 if it does not already exist). All
// of this happens inside a single transaction: a reader never observes a
// state row with only some of its files counted.
func (s *Store) CreateState(ctx context.Context, parentID *int64, manifestDigest string, files []FileEntry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "begin create-state transaction", err)
	}
	defer tx.Rollback()

	var parent sql.NullInt64
	if parentID != nil {
		parent = sql.NullInt64{Int64: *parentID, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO states (created_at, parent_id, status, manifest_digest)
		VALUES (strftime('%Y-%m-%dT%H:%M:%fZ','now'), ?, 'staging', ?)
	`, parent, manifestDigest)
	if err != nil {
		return 0, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "inserting state row", err)
	}
	stateID, err := res.LastInsertId()
	if err != nil {
		return 0, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "reading new state id", err)
	}

	for _, f := range files {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO state_files (state_id, path, object_hash, mode)
			VALUES (?, ?, ?, ?)
		`, stateID, f.Path, f.Hash.String(), f.Mode); err != nil {
			return 0, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "inserting state file row", err)
		}
		if err := addFileObjectRef(ctx, tx, f.Hash); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "committing create-state transaction", err)
	}
	return stateID, nil
}

// addFileObjectRef increments the ref_count of hash's object row,
// inserting it at count 1 if this is the first state to reference it.
// Not idempotent: every call adds exactly one reference, matching one
// CreateState file-entry, never collapsing duplicate paths in a single
// manifest into a single increment.
func addFileObjectRef(ctx context.Context, tx *sql.Tx, hash hashid.Content) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO file_objects (hash, ref_count) VALUES (?, 1)
		ON CONFLICT(hash) DO UPDATE SET ref_count = ref_count + 1
	`, hash.String())
	if err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeIntegrityViolation, "incrementing file object ref count", err)
	}
	return nil
}

// ActivateState atomically makes stateID the active state: it marks the
// previously active state (if any) archived, marks stateID active, and
// repoints the single-row active_state table, all inside one transaction
// so a crash between steps can never leave two states marked active or
// none at all.
func (s *Store) ActivateState(ctx context.Context, stateID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "begin activate-state transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE states SET status = 'archived'
		WHERE id IN (SELECT state_id FROM active_state) AND status = 'active'
	`); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "archiving previous active state", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE states SET status = 'active' WHERE id = ? AND status = 'staging'`, stateID)
	if err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "activating state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pmerrors.New(pmerrors.DomainState, pmerrors.CodeInvalidTransition,
			fmt.Sprintf("state %d is not in staging status", stateID))
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO active_state (id, state_id) VALUES (0, ?)
		ON CONFLICT(id) DO UPDATE SET state_id = excluded.state_id
	`, stateID); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "repointing active state", err)
	}

	if err := tx.Commit(); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "committing activate-state transaction", err)
	}
	return nil
}

// CurrentState returns the currently active state, or (State{}, false, nil)
// if no state has ever been activated (a fresh install).
func (s *Store) CurrentState(ctx context.Context) (State, bool, error) {
	var st State
	var parent sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT st.id, st.created_at, st.parent_id, st.status, st.manifest_digest, st.label
		FROM states st
		JOIN active_state a ON a.state_id = st.id
	`).Scan(&st.ID, &st.CreatedAt, &parent, &st.Status, &st.ManifestDigest, &st.Label)
	if err == sql.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "reading active state", err)
	}
	st.ParentID = parent
	return st, true, nil
}

// History returns every recorded state, newest first, for the rollback and
// history commands.
func (s *Store) History(ctx context.Context) ([]State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, parent_id, status, manifest_digest, label
		FROM states ORDER BY id DESC
	`)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "reading state history", err)
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		var st State
		var parent sql.NullInt64
		if err := rows.Scan(&st.ID, &st.CreatedAt, &parent, &st.Status, &st.ManifestDigest, &st.Label); err != nil {
			return nil, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "scanning state history row", err)
		}
		st.ParentID = parent
		out = append(out, st)
	}
	return out, rows.Err()
}

// StateFiles returns the file manifest recorded for stateID.
func (s *Store) StateFiles(ctx context.Context, stateID int64) ([]FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, object_hash, mode FROM state_files WHERE state_id = ?
	`, stateID)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "reading state files", err)
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var f FileEntry
		var hash string
		if err := rows.Scan(&f.Path, &hash, &f.Mode); err != nil {
			return nil, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "scanning state file row", err)
		}
		f.Hash = hashid.Content(hash)
		out = append(out, f)
	}
	return out, rows.Err()
}

// DecrementFileRefs decrements the ref_count of every hash by one,
// saturating at zero rather than going negative — a state can only be
// archived once, but retention-window overlaps mean a defensive caller
// might decrement twice; the second call must be a no-op, not corrupt the
// count.
func (s *Store) DecrementFileRefs(ctx context.Context, hashes []hashid.Content) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "begin decrement-refs transaction", err)
	}
	defer tx.Rollback()

	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE file_objects SET ref_count = MAX(ref_count - 1, 0) WHERE hash = ?
		`, h.String()); err != nil {
			return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeIntegrityViolation, "decrementing file object ref count", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "committing decrement-refs transaction", err)
	}
	return nil
}

// FindUnreferencedFiles returns every object hash whose ref_count has
// reached zero — the set the garbage collector deletes from the object
// store in the same sweep that finds them (there is no grace window).
func (s *Store) FindUnreferencedFiles(ctx context.Context) ([]hashid.Content, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM file_objects WHERE ref_count = 0`)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "querying unreferenced files", err)
	}
	defer rows.Close()

	var out []hashid.Content
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "scanning unreferenced file row", err)
		}
		out = append(out, hashid.Content(hash))
	}
	return out, rows.Err()
}

// ForgetFileObject removes an object's ledger row entirely once the
// garbage collector has deleted its on-disk content. Callers must only
// call this after confirming ref_count is still zero.
func (s *Store) ForgetFileObject(ctx context.Context, hash hashid.Content) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_objects WHERE hash = ? AND ref_count = 0`, hash.String())
	if err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeIntegrityViolation, "forgetting file object", err)
	}
	return nil
}

// DeleteArchivedState removes a state row (and its file manifest) once GC
// has decided it is outside the retention window; any later state that
// named it as parent has its parent_id cleared. The caller is
// responsible for calling DecrementFileRefs on its files first.
func (s *Store) DeleteArchivedState(ctx context.Context, stateID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "begin delete-state transaction", err)
	}
	defer tx.Rollback()

	// Rows referencing this state go first so the foreign keys hold; if the
	// state turns out not to be archived, the deferred rollback undoes them.
	if _, err := tx.ExecContext(ctx, `DELETE FROM state_files WHERE state_id = ?`, stateID); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "deleting state file rows", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE states SET parent_id = NULL WHERE parent_id = ?`, stateID); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "detaching child states", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM states WHERE id = ? AND status = 'archived'`, stateID)
	if err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeInvalidTransition, "deleting state row", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pmerrors.New(pmerrors.DomainState, pmerrors.CodeInvalidTransition,
			fmt.Sprintf("state %d is not archived, refusing to delete", stateID))
	}
	if err := tx.Commit(); err != nil {
		return pmerrors.Wrap(pmerrors.DomainState, pmerrors.CodeDBBusy, "committing delete-state transaction", err)
	}
	return nil
}

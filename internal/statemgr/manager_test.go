package statemgr

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratapm/strata/internal/hashid"
	"github.com/stratapm/strata/internal/objstore"
	"github.com/stratapm/strata/internal/statedb"
)

func newTestManager(t *testing.T) (*Manager, *objstore.Store, *statedb.Store) {
	t.Helper()
	root := t.TempDir()

	store, err := objstore.Open(filepath.Join(root, "objects"))
	require.NoError(t, err)

	db, err := statedb.Open(filepath.Join(root, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mgr, err := New(filepath.Join(root, "prefix"), store, db)
	require.NoError(t, err)
	return mgr, store, db
}

func putFile(t *testing.T, store *objstore.Store, path, content string) objstore.FileEntry {
	t.Helper()
	hash, _, err := store.PutFile(strings.NewReader(content), 0o644)
	require.NoError(t, err)
	return objstore.FileEntry{Path: path, Hash: hash, Mode: 0o644}
}

func TestTransitionFreshInstallCreatesLiveDir(t *testing.T) {
	mgr, store, db := newTestManager(t)
	ctx := context.Background()

	entry := putFile(t, store, "bin/app", "v1")
	stateID, err := mgr.Transition(ctx, "digest-1", []objstore.FileEntry{entry})
	require.NoError(t, err)
	assert.NotZero(t, stateID)

	data, err := os.ReadFile(filepath.Join(mgr.liveDir(), "bin/app"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	current, ok, err := db.CurrentState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stateID, current.ID)
	assert.Equal(t, statedb.StatusActive, current.Status)
}

func TestTransitionArchivesPreviousLiveDir(t *testing.T) {
	mgr, store, db := newTestManager(t)
	ctx := context.Background()

	e1 := putFile(t, store, "bin/app", "v1")
	firstID, err := mgr.Transition(ctx, "digest-1", []objstore.FileEntry{e1})
	require.NoError(t, err)

	e2 := putFile(t, store, "bin/app", "v2")
	secondID, err := mgr.Transition(ctx, "digest-2", []objstore.FileEntry{e2})
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	data, err := os.ReadFile(filepath.Join(mgr.liveDir(), "bin/app"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = os.Stat(mgr.archiveDir(firstID))
	require.NoError(t, err, "previous live directory must be preserved as an archive")

	history, err := db.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestTransitionRemovesFilesDroppedFromDesiredSet(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	e1 := putFile(t, store, "bin/app", "v1")
	e2 := putFile(t, store, "share/doc", "docs")
	_, err := mgr.Transition(ctx, "digest-1", []objstore.FileEntry{e1, e2})
	require.NoError(t, err)

	_, err = mgr.Transition(ctx, "digest-2", []objstore.FileEntry{e1})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(mgr.liveDir(), "share/doc"))
	assert.True(t, os.IsNotExist(err), "file dropped from the desired set must be removed from live")
	_, err = os.Stat(filepath.Join(mgr.liveDir(), "bin/app"))
	assert.NoError(t, err)
}

func TestRollbackReactivatesOldManifestAsNewState(t *testing.T) {
	mgr, store, db := newTestManager(t)
	ctx := context.Background()

	e1 := putFile(t, store, "bin/app", "v1")
	firstID, err := mgr.Transition(ctx, "digest-1", []objstore.FileEntry{e1})
	require.NoError(t, err)

	e2 := putFile(t, store, "bin/app", "v2")
	_, err = mgr.Transition(ctx, "digest-2", []objstore.FileEntry{e2})
	require.NoError(t, err)

	rolledBackID, err := mgr.Rollback(ctx, firstID)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, rolledBackID, "rollback must append a new state, not reactivate the old row in place")

	data, err := os.ReadFile(filepath.Join(mgr.liveDir(), "bin/app"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	history, err := db.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestRecoverRemovesOrphanedStagingDirectories(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	orphan := filepath.Join(mgr.prefix, "staging-orphan")
	require.NoError(t, os.MkdirAll(orphan, 0o755))

	require.NoError(t, mgr.Recover(ctx))

	_, err := os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}

func TestDeduplicatedFileHashIsStable(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	e1 := putFile(t, store, "bin/app", "same")
	e2 := putFile(t, store, "bin/app2", "same")
	assert.Equal(t, e1.Hash, e2.Hash)

	_, err := mgr.Transition(ctx, "digest-1", []objstore.FileEntry{e1, e2})
	require.NoError(t, err)

	var zero hashid.Content
	assert.NotEqual(t, zero, e1.Hash)
}

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
)

func TestRecoveryManager_RecoverFromWALValidatesAgainstKnownCollections(t *testing.T) {
	// Given: a WAL with a create, an insert, and an insert into a
	// never-created collection
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal")
	w, err := OpenWAL(walPath)
	require.NoError(t, err)
	defer w.Close()

	config := testCollectionConfig("docs", 2)
	require.NoError(t, w.Append(WALOperation{Kind: OpCreateCollection, Config: config}))
	require.NoError(t, w.Append(WALOperation{
		Kind: OpInsertVector, Collection: "docs",
		Vector: walVectorWire{ID: uuid.New(), Data: []float32{1, 2}},
	}))
	require.NoError(t, w.Append(WALOperation{
		Kind: OpInsertVector, Collection: "ghost",
		Vector: walVectorWire{ID: uuid.New(), Data: []float32{1, 2}},
	}))

	// When: I recover from the WAL
	rm := NewRecoveryManager(dir, discardLogger())
	ops, err := rm.RecoverFromWAL(w)
	require.NoError(t, err)

	// Then: only the operations against a known collection survive
	require.Len(t, ops, 2)
	assert.Equal(t, OpCreateCollection, ops[0].Kind)
	assert.Equal(t, OpInsertVector, ops[1].Kind)
	assert.Equal(t, vdbcommon.CollectionId("docs"), ops[1].Collection)
}

func TestRecoveryManager_RecoverFromWALReregistersCollectionWhoseDirectoryAlreadyExists(t *testing.T) {
	// Given: a collection whose directory was already materialized on disk
	// (as NewCollectionStorage does at create time), and a WAL that still
	// carries the OpCreateCollection that produced it, exactly as it looks
	// on an ordinary restart
	dir := t.TempDir()
	config := testCollectionConfig("docs", 2)
	_, err := NewCollectionStorage(filepath.Join(dir, "docs"), config)
	require.NoError(t, err)

	walPath := filepath.Join(dir, "wal")
	w, err := OpenWAL(walPath)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(WALOperation{Kind: OpCreateCollection, Config: config}))
	require.NoError(t, w.Append(WALOperation{
		Kind: OpInsertVector, Collection: "docs",
		Vector: walVectorWire{ID: uuid.New(), Data: []float32{1, 2}},
	}))

	// When: I recover from the WAL
	rm := NewRecoveryManager(dir, discardLogger())
	ops, err := rm.RecoverFromWAL(w)
	require.NoError(t, err)

	// Then: the create isn't dropped as a false duplicate just because its
	// directory is already on disk
	require.Len(t, ops, 2)
	assert.Equal(t, OpCreateCollection, ops[0].Kind)
	assert.Equal(t, OpInsertVector, ops[1].Kind)
}

func TestRecoveryManager_RecoverFromEmptyWALReturnsNoOps(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(filepath.Join(dir, "wal"))
	require.NoError(t, err)
	defer w.Close()

	rm := NewRecoveryManager(dir, discardLogger())
	ops, err := rm.RecoverFromWAL(w)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestRecoveryManager_CheckConsistencyFlagsEmptyVectorsFile(t *testing.T) {
	// Given: a collection directory whose vectors.bin exists but is empty
	dir := t.TempDir()
	collDir := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(collDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(collDir, "vectors.bin"), nil, 0o644))

	rm := NewRecoveryManager(dir, discardLogger())
	issues := rm.CheckConsistency()

	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "docs")
}

func TestRecoveryManager_CheckConsistencyPassesHealthyCollection(t *testing.T) {
	// Given: a properly opened (and therefore pre-sized) collection
	dir := t.TempDir()
	_, err := NewCollectionStorage(filepath.Join(dir, "docs"), testCollectionConfig("docs", 2))
	require.NoError(t, err)

	rm := NewRecoveryManager(dir, discardLogger())
	assert.Empty(t, rm.CheckConsistency())
}

func TestRecoveryManager_CreateBackupCopiesCollectionDirectories(t *testing.T) {
	// Given: an engine with a collection holding a vector
	dataDir := t.TempDir()
	e, err := OpenEngine(dataDir, discardLogger())
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.CreateCollection(testCollectionConfig("docs", 2)))
	require.NoError(t, e.InsertVector("docs", vdbcommon.Vector{ID: uuid.New(), Data: []float32{1, 1}}))
	require.NoError(t, e.Sync())

	// When: I back it up
	backupDir := filepath.Join(t.TempDir(), "backup")
	require.NoError(t, e.CreateBackup(backupDir))

	// Then: the collection's data file exists, with the same content, at
	// the backup path
	original, err := os.ReadFile(filepath.Join(dataDir, "docs", "vectors.bin"))
	require.NoError(t, err)
	backed, err := os.ReadFile(filepath.Join(backupDir, "docs", "vectors.bin"))
	require.NoError(t, err)
	assert.Equal(t, original, backed)
}

package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
)

func testConfig(name string, dim int) vdbcommon.CollectionConfig {
	return vdbcommon.CollectionConfig{
		Name:           name,
		Dimension:      dim,
		DistanceMetric: vdbcommon.Cosine,
		VectorType:     vdbcommon.VectorTypeFloat32,
		IndexConfig:    vdbcommon.DefaultIndexConfig(),
	}
}

func TestStore_CreateCollection(t *testing.T) {
	// Given: a fresh store
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	// When: I create a collection
	require.NoError(t, s.CreateCollection(testConfig("test", 128)))

	// Then: it shows up in the collection list
	assert.Contains(t, s.ListCollections(), "test")
}

func TestStore_InsertAndQuery(t *testing.T) {
	// Given: a store with a 3-dimensional collection
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateCollection(testConfig("test", 3)))

	// When: I insert a vector and query for it exactly
	v := vdbcommon.Vector{ID: uuid.New(), Data: []float32{1, 0, 0}}
	require.NoError(t, s.Insert("test", v))

	results, err := s.Query(vdbcommon.QueryRequest{Collection: "test", Vector: []float32{1, 0, 0}, Limit: 1})
	require.NoError(t, err)

	// Then: I get exactly one result, the vector itself
	require.Len(t, results, 1)
	assert.Equal(t, v.ID, results[0].ID)
}

func TestStore_DeleteThenSearchExcludesVector(t *testing.T) {
	// Given: a store with a handful of indexed vectors
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateCollection(testConfig("test", 2)))

	ids := make([]vdbcommon.VectorId, 0, 5)
	for i := 0; i < 5; i++ {
		v := vdbcommon.Vector{ID: uuid.New(), Data: []float32{float32(i), 0}}
		ids = append(ids, v.ID)
		require.NoError(t, s.Insert("test", v))
	}

	// When: I delete one of them
	removed, err := s.Delete("test", ids[2])
	require.NoError(t, err)
	assert.True(t, removed)

	// Then: a broad search never returns the deleted id
	results, err := s.Query(vdbcommon.QueryRequest{Collection: "test", Vector: []float32{2, 0}, Limit: 5})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, ids[2], r.ID)
	}
}

func TestStore_UpdateReplacesVectorData(t *testing.T) {
	// Given: a store with one inserted vector
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateCollection(testConfig("test", 2)))

	id := uuid.New()
	require.NoError(t, s.Insert("test", vdbcommon.Vector{ID: id, Data: []float32{1, 1}}))

	// When: I update it with new data
	require.NoError(t, s.Update("test", vdbcommon.Vector{ID: id, Data: []float32{9, 9}}))

	// Then: Get returns the new data, not the old
	got, err := s.Get("test", id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float32{9, 9}, got.Data)
}

func TestStore_SyncThenReopenLeavesIndexEmptyUntilExplicitRebuild(t *testing.T) {
	// Given: a store with inserted vectors, synced and closed
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(testConfig("test", 2)))

	ids := make([]vdbcommon.VectorId, 0, 10)
	for i := 0; i < 10; i++ {
		v := vdbcommon.Vector{ID: uuid.New(), Data: []float32{float32(i), float32(-i)}}
		ids = append(ids, v.ID)
		require.NoError(t, s.Insert("test", v))
	}
	require.NoError(t, s.Sync(context.Background()))
	require.NoError(t, s.Close())

	// When: I reopen the store at the same directory
	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	// Then: the collection and its vectors are back, but the index is empty
	// until a rebuild is explicitly requested
	results, err := reopened.Query(vdbcommon.QueryRequest{Collection: "test", Vector: []float32{5, -5}, Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, results)

	got, err := reopened.Get("test", ids[5])
	require.NoError(t, err)
	require.NotNil(t, got)

	// When: I explicitly rebuild the index from storage
	require.NoError(t, reopened.RebuildIndexFromStorage("test"))

	// Then: querying now finds the vector again
	results, err = reopened.Query(vdbcommon.QueryRequest{Collection: "test", Vector: []float32{5, -5}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[5], results[0].ID)
}

func TestStore_BatchInsertRejectsWholeBatchOnDimensionMismatch(t *testing.T) {
	// Given: a store with a 2-dimensional collection
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateCollection(testConfig("test", 2)))

	// When: I batch insert with one bad vector in the middle
	batch := []vdbcommon.Vector{
		{ID: uuid.New(), Data: []float32{1, 1}},
		{ID: uuid.New(), Data: []float32{1, 1, 1}}, // wrong dimension
		{ID: uuid.New(), Data: []float32{2, 2}},
	}
	err = s.BatchInsert("test", batch)

	// Then: the whole batch is rejected, and none of it lands in storage
	var dimErr *vdbcommon.DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)

	got, err := s.Get("test", batch[0].ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_RebuildIndexFromStorageRepopulatesIndex(t *testing.T) {
	// Given: a store with vectors inserted, then its index wiped in memory
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateCollection(testConfig("test", 2)))

	id := uuid.New()
	require.NoError(t, s.Insert("test", vdbcommon.Vector{ID: id, Data: []float32{3, 4}}))

	s.mu.Lock()
	delete(s.indexes, "test")
	s.mu.Unlock()

	// When: I explicitly rebuild the index from storage
	require.NoError(t, s.RebuildIndexFromStorage("test"))

	// Then: queries work again against the rebuilt index
	results, err := s.Query(vdbcommon.QueryRequest{Collection: "test", Vector: []float32{3, 4}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
}

func TestStore_GetServerStatsAggregatesAcrossCollections(t *testing.T) {
	// Given: a store with two collections, each with some vectors
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateCollection(testConfig("a", 2)))
	require.NoError(t, s.CreateCollection(testConfig("b", 2)))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Insert("a", vdbcommon.Vector{ID: uuid.New(), Data: []float32{1, 1}}))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Insert("b", vdbcommon.Vector{ID: uuid.New(), Data: []float32{2, 2}}))
	}

	// When: I ask for server-wide stats
	stats, err := s.GetServerStats()
	require.NoError(t, err)

	// Then: they reflect both collections
	assert.EqualValues(t, 2, stats.TotalCollections)
	assert.EqualValues(t, 5, stats.TotalVectors)
}

func TestStore_SyncIsNoopSafeWithContext(t *testing.T) {
	// Given: a store with a collection
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateCollection(testConfig("test", 2)))

	// When/Then: an explicit Sync call succeeds
	assert.NoError(t, s.Sync(context.Background()))
}

func TestStore_CheckpointIndexThenRebuildUsesSnapshotNotReplay(t *testing.T) {
	// Given: a store with a collection and an inserted vector
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(testConfig("test", 2)))

	id := uuid.New()
	require.NoError(t, s.Insert("test", vdbcommon.Vector{ID: id, Data: []float32{6, 8}}))

	// When: I explicitly checkpoint the index, then close and reopen
	require.NoError(t, s.CheckpointIndex("test"))
	// And: a second vector inserted after the checkpoint, which only a full
	// replay of storage would bring back
	require.NoError(t, s.Insert("test", vdbcommon.Vector{ID: uuid.New(), Data: []float32{-8, 6}}))
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	// Then: the index starts empty again, since Open never loads a snapshot
	results, err := reopened.Query(vdbcommon.QueryRequest{Collection: "test", Vector: []float32{6, 8}, Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, results)

	// When: I explicitly rebuild — it should recover the checkpointed snapshot
	require.NoError(t, reopened.RebuildIndexFromStorage("test"))

	// Then: the vector is findable again
	results, err = reopened.Query(vdbcommon.QueryRequest{Collection: "test", Vector: []float32{6, 8}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)

	// And: the rebuilt index holds only what the snapshot held, not the
	// vector a full replay would have added
	stats, err := reopened.GetCollectionStats("test")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VectorCount)
}

func TestStore_RebuildAllIndexesFromStorageCoversEveryCollection(t *testing.T) {
	// Given: a store with two collections, indexes wiped in memory
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateCollection(testConfig("a", 2)))
	require.NoError(t, s.CreateCollection(testConfig("b", 2)))

	idA := uuid.New()
	idB := uuid.New()
	require.NoError(t, s.Insert("a", vdbcommon.Vector{ID: idA, Data: []float32{1, 0}}))
	require.NoError(t, s.Insert("b", vdbcommon.Vector{ID: idB, Data: []float32{0, 1}}))

	s.mu.Lock()
	delete(s.indexes, "a")
	delete(s.indexes, "b")
	s.mu.Unlock()

	// When: I rebuild every collection's index from storage
	require.NoError(t, s.RebuildAllIndexesFromStorage(context.Background()))

	// Then: both collections are searchable again
	resA, err := s.Query(vdbcommon.QueryRequest{Collection: "a", Vector: []float32{1, 0}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, resA, 1)
	assert.Equal(t, idA, resA[0].ID)

	resB, err := s.Query(vdbcommon.QueryRequest{Collection: "b", Vector: []float32{0, 1}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, resB, 1)
	assert.Equal(t, idB, resB[0].ID)
}

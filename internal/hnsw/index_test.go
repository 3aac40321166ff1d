package hnsw

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
)

func testConfig() vdbcommon.IndexConfig {
	return vdbcommon.IndexConfig{MaxConnections: 8, EfConstruction: 32, EfSearch: 16, MaxLayer: 4}
}

func TestIndex_SelfQueryReturnsItselfFirst(t *testing.T) {
	// Given: an index with a handful of random vectors
	idx := New(testConfig(), vdbcommon.Cosine, 4)
	ids := make([]vdbcommon.VectorId, 0, 20)
	for i := 0; i < 20; i++ {
		id := uuid.New()
		ids = append(ids, id)
		vec := []float32{float32(i), float32(i * 2), float32(i % 3), 1}
		require.NoError(t, idx.Insert(id, vec, nil))
	}

	// When: I query for a vector identical to one already inserted
	target := ids[5]
	queryVec := []float32{5, 10, 2, 1}
	results, err := idx.Search(queryVec, 1, nil)
	require.NoError(t, err)

	// Then: the nearest neighbor is the vector itself, at ~zero distance
	require.Len(t, results, 1)
	assert.Equal(t, target, results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-4)
}

func TestIndex_SearchRespectsLimit(t *testing.T) {
	// Given: an index with more vectors than the requested limit
	idx := New(testConfig(), vdbcommon.Euclidean, 3)
	for i := 0; i < 50; i++ {
		require.NoError(t, idx.Insert(uuid.New(), []float32{float32(i), 0, 0}, nil))
	}

	// When: I search with a small limit
	results, err := idx.Search([]float32{25, 0, 0}, 5, nil)
	require.NoError(t, err)

	// Then: exactly that many results come back, sorted nearest-first
	require.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestIndex_DeleteRemovesVectorAndEdges(t *testing.T) {
	// Given: a small populated index
	idx := New(testConfig(), vdbcommon.Cosine, 2)
	ids := make([]vdbcommon.VectorId, 0, 10)
	for i := 0; i < 10; i++ {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, idx.Insert(id, []float32{float32(i), float32(-i)}, nil))
	}
	victim := ids[3]

	// When: I delete one vector
	removed := idx.Delete(victim)
	require.True(t, removed)

	// Then: it's gone from the node table and from every other node's edges
	idx.mu.RLock()
	_, stillPresent := idx.nodes[victim]
	for _, n := range idx.nodes {
		for _, layer := range n.connections {
			for _, neighbor := range layer {
				assert.NotEqual(t, victim, neighbor)
			}
		}
	}
	idx.mu.RUnlock()
	assert.False(t, stillPresent)
	assert.Equal(t, 9, idx.Len())

	// And: deleting it again reports false rather than erroring
	assert.False(t, idx.Delete(victim))
}

func TestIndex_DegreeCapIsEnforced(t *testing.T) {
	// Given: an index with a tight connection cap
	cfg := vdbcommon.IndexConfig{MaxConnections: 4, EfConstruction: 20, EfSearch: 10, MaxLayer: 0}
	idx := New(cfg, vdbcommon.Euclidean, 2)

	// When: I insert far more vectors than the cap allows at layer 0
	for i := 0; i < 100; i++ {
		require.NoError(t, idx.Insert(uuid.New(), []float32{float32(i), float32(i)}, nil))
	}

	// Then: no node exceeds the layer-0 degree cap (2*M)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	maxM := cfg.MaxConnections * 2
	for _, n := range idx.nodes {
		assert.LessOrEqual(t, n.connectionCount(0), maxM)
	}
}

func TestIndex_ConnectionsAreSymmetric(t *testing.T) {
	// Given: a populated index
	idx := New(testConfig(), vdbcommon.Cosine, 3)
	for i := 0; i < 30; i++ {
		require.NoError(t, idx.Insert(uuid.New(), []float32{float32(i), float32(i % 5), 1}, nil))
	}

	// Then: every edge a->b at a layer has a corresponding b->a edge
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, n := range idx.nodes {
		for layer, neighbors := range n.connections {
			for _, neighborID := range neighbors {
				neighbor, ok := idx.nodes[neighborID]
				require.True(t, ok)
				found := false
				for _, back := range neighbor.getConnections(layer) {
					if back == id {
						found = true
						break
					}
				}
				assert.True(t, found, "edge %s->%s at layer %d has no reverse edge", id, neighborID, layer)
			}
		}
	}
}

func TestIndex_DimensionMismatchIsRejected(t *testing.T) {
	// Given: an index configured for 4-dimensional vectors
	idx := New(testConfig(), vdbcommon.Cosine, 4)

	// When/Then: inserting or querying with the wrong dimension errors
	err := idx.Insert(uuid.New(), []float32{1, 2, 3}, nil)
	var dimErr *vdbcommon.DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)

	_, err = idx.Search([]float32{1, 2, 3}, 1, nil)
	require.ErrorAs(t, err, &dimErr)
}

func TestIndex_SearchOnEmptyIndexReturnsEmpty(t *testing.T) {
	// Given: a brand new, empty index
	idx := New(testConfig(), vdbcommon.Cosine, 4)

	// When: I search it
	results, err := idx.Search([]float32{1, 2, 3, 4}, 5, nil)

	// Then: it returns no results and no error
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_SerializeRoundTrip(t *testing.T) {
	// Given: a populated index with metadata on each vector
	idx := New(testConfig(), vdbcommon.Manhattan, 3)
	ids := make([]vdbcommon.VectorId, 0, 15)
	for i := 0; i < 15; i++ {
		id := uuid.New()
		ids = append(ids, id)
		meta := map[string]any{"idx": float64(i)}
		require.NoError(t, idx.Insert(id, []float32{float32(i), float32(-i), 0}, meta))
	}

	// When: I serialize and deserialize into a fresh index
	data, err := idx.Serialize()
	require.NoError(t, err)

	restored := New(testConfig(), vdbcommon.Manhattan, 3)
	require.NoError(t, restored.Deserialize(data))

	// Then: the restored graph answers queries the same way
	assert.Equal(t, idx.Len(), restored.Len())
	results, err := restored.Search([]float32{5, -5, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[5], results[0].ID)
	assert.Equal(t, float64(5), results[0].Metadata["idx"])
}

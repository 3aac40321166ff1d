package hnsw

import (
	"bytes"
	"container/heap"
	"encoding/gob"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
)

// SearchResult is one match returned from a Search call.
type SearchResult struct {
	ID       vdbcommon.VectorId
	Distance float32
	Metadata map[string]any
}

// Stats summarizes the graph's current size and shape.
type Stats struct {
	VectorCount    int
	MemoryUsage    int
	Dimension      int
	MaxLayer       int
	AvgConnections float32
}

// Index is a single collection's HNSW graph. It is safe for concurrent use:
// a RWMutex guards the node table and entry point, the same way the
// engine's other shared registries are guarded — callers never hold this
// lock across a call back into storage.
type Index struct {
	mu sync.RWMutex

	nodes      map[vdbcommon.VectorId]*node
	entryPoint *vdbcommon.VectorId

	config    vdbcommon.IndexConfig
	metric    vdbcommon.DistanceMetric
	dimension int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an empty HNSW index for vectors of the given dimension.
func New(config vdbcommon.IndexConfig, metric vdbcommon.DistanceMetric, dimension int) *Index {
	return &Index{
		nodes:     make(map[vdbcommon.VectorId]*node),
		config:    config,
		metric:    metric,
		dimension: dimension,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// selectLayer draws a node's top layer from the conventional HNSW geometric
// distribution: a node climbs one more layer with probability 1/2, capped
// at config.MaxLayer.
func (idx *Index) selectLayer() int {
	idx.rngMu.Lock()
	defer idx.rngMu.Unlock()

	layer := 0
	for idx.rng.Float64() < 0.5 && layer < idx.config.MaxLayer {
		layer++
	}
	return layer
}

func (idx *Index) distance(a, b []float32) float32 {
	return vdbcommon.Distance(idx.metric, a, b)
}

// searchLayer performs a greedy best-first search of a single layer,
// starting from entryPoints and returning the numClosest closest nodes
// found, nearest first. Callers must hold at least a read lock on idx.mu.
func (idx *Index) searchLayer(query []float32, entryPoints []vdbcommon.VectorId, numClosest int, layer int) []candidate {
	visited := make(map[vdbcommon.VectorId]struct{})
	candidates := &maxHeap{} // worst-so-far, for pruning
	frontier := &minHeap{}   // nearest-first exploration queue

	heap.Init(candidates)
	heap.Init(frontier)

	for _, id := range entryPoints {
		n, ok := idx.nodes[id]
		if !ok {
			continue
		}
		d := idx.distance(query, n.vector)
		heap.Push(candidates, candidate{id: id, distance: d})
		heap.Push(frontier, candidate{id: id, distance: d})
		visited[id] = struct{}{}
	}

	for frontier.Len() > 0 {
		current := heap.Pop(frontier).(candidate)

		if candidates.Len() >= numClosest {
			worst := (*candidates)[0]
			if current.distance > worst.distance {
				break
			}
		}

		n, ok := idx.nodes[current.id]
		if !ok {
			continue
		}
		for _, neighborID := range n.getConnections(layer) {
			if _, seen := visited[neighborID]; seen {
				continue
			}
			visited[neighborID] = struct{}{}

			neighbor, ok := idx.nodes[neighborID]
			if !ok {
				continue
			}
			d := idx.distance(query, neighbor.vector)

			shouldAdd := candidates.Len() < numClosest
			if !shouldAdd && candidates.Len() > 0 {
				shouldAdd = d < (*candidates)[0].distance
			}
			if shouldAdd {
				heap.Push(candidates, candidate{id: neighborID, distance: d})
				heap.Push(frontier, candidate{id: neighborID, distance: d})
				if candidates.Len() > numClosest {
					heap.Pop(candidates)
				}
			}
		}
	}

	result := make([]candidate, len(*candidates))
	copy(result, *candidates)
	sort.Slice(result, func(i, j int) bool { return result[i].distance < result[j].distance })
	if len(result) > numClosest {
		result = result[:numClosest]
	}
	return result
}

// selectNeighbors picks the m closest candidates. Candidates arrive sorted
// nearest-first from searchLayer, so this is a simple truncation — the
// same "simple heuristic" the reference index uses in place of a
// diversity-aware selection.
func selectNeighbors(candidates []candidate, m int) []vdbcommon.VectorId {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	ids := make([]vdbcommon.VectorId, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

// mValues returns (M, maxM) for a layer: layer 0 allows twice the steady
// state degree, since it carries all long-range edges.
func (idx *Index) mValues(layer int) (int, int) {
	if layer == 0 {
		return idx.config.MaxConnections, idx.config.MaxConnections * 2
	}
	return idx.config.MaxConnections, idx.config.MaxConnections
}

// Insert adds a vector to the graph, wiring it into every layer from 0 up
// to its randomly chosen top layer.
func (idx *Index) Insert(id vdbcommon.VectorId, vector []float32, metadata map[string]any) error {
	if len(vector) != idx.dimension {
		return &vdbcommon.DimensionMismatchError{Expected: idx.dimension, Actual: len(vector)}
	}

	layer := idx.selectLayer()
	newNode := newNode(id, vector, metadata, layer)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.entryPoint == nil {
		idx.nodes[id] = newNode
		ep := id
		idx.entryPoint = &ep
		return nil
	}

	entryID := *idx.entryPoint
	entryLayer := idx.nodes[entryID].topLayer
	idx.nodes[id] = newNode

	currentClosest := []vdbcommon.VectorId{entryID}
	for lc := entryLayer; lc > layer; lc-- {
		candidates := idx.searchLayer(vector, currentClosest, 1, lc)
		currentClosest = candidateIDs(candidates)
	}

	for lc := minInt(layer, entryLayer); lc >= 0; lc-- {
		ef := idx.config.EfConstruction
		if lc == 0 && idx.config.MaxConnections > ef {
			ef = idx.config.MaxConnections
		}
		candidates := idx.searchLayer(vector, currentClosest, ef, lc)

		m, maxM := idx.mValues(lc)
		selected := selectNeighbors(candidates, m)

		for _, neighborID := range selected {
			newNode.addConnection(lc, neighborID)
			neighbor, ok := idx.nodes[neighborID]
			if !ok {
				continue
			}
			neighbor.addConnection(lc, id)

			if neighbor.connectionCount(lc) > maxM {
				conns := neighbor.connections[lc]
				sort.Slice(conns, func(i, j int) bool {
					return idx.distance(neighbor.vector, idx.nodes[conns[i]].vector) < idx.distance(neighbor.vector, idx.nodes[conns[j]].vector)
				})
				for _, dropped := range conns[maxM:] {
					idx.nodes[dropped].removeConnection(lc, neighborID)
				}
				neighbor.connections[lc] = conns[:maxM:maxM]
			}
		}

		currentClosest = selected
	}

	if layer > entryLayer {
		ep := id
		idx.entryPoint = &ep
	}

	return nil
}

// Search returns the limit nearest neighbors of query, nearest first. ef,
// if non-nil, overrides the index's configured EfSearch beam width for
// this call only.
func (idx *Index) Search(query []float32, limit int, ef *int) ([]SearchResult, error) {
	if len(query) != idx.dimension {
		return nil, &vdbcommon.DimensionMismatchError{Expected: idx.dimension, Actual: len(query)}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entryPoint == nil {
		return nil, nil
	}

	entryID := *idx.entryPoint
	entryLayer := idx.nodes[entryID].topLayer

	efSearch := idx.config.EfSearch
	if ef != nil {
		efSearch = *ef
	}

	currentClosest := []vdbcommon.VectorId{entryID}
	for lc := entryLayer; lc >= 1; lc-- {
		candidates := idx.searchLayer(query, currentClosest, 1, lc)
		currentClosest = candidateIDs(candidates)
	}

	numClosest := efSearch
	if limit > numClosest {
		numClosest = limit
	}
	candidates := idx.searchLayer(query, currentClosest, numClosest, 0)

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		n, ok := idx.nodes[c.id]
		if !ok {
			continue
		}
		results = append(results, SearchResult{ID: c.id, Distance: c.distance, Metadata: n.metadata})
	}
	return results, nil
}

// Delete removes a vector and scrubs every edge pointing to it. It reports
// whether the id was present.
func (idx *Index) Delete(id vdbcommon.VectorId) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.nodes[id]; !ok {
		return false
	}
	delete(idx.nodes, id)

	for _, other := range idx.nodes {
		for layer := range other.connections {
			other.removeConnection(layer, id)
		}
	}

	if idx.entryPoint != nil && *idx.entryPoint == id {
		idx.entryPoint = nil
		bestLayer := -1
		for nid, n := range idx.nodes {
			if n.topLayer > bestLayer {
				bestLayer = n.topLayer
				ep := nid
				idx.entryPoint = &ep
			}
		}
	}

	return true
}

// Stats reports the graph's current size and shape.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	memUsage := 0
	maxLayer := 0
	totalConnections := 0
	for _, n := range idx.nodes {
		memUsage += n.memoryUsage()
		if n.topLayer > maxLayer {
			maxLayer = n.topLayer
		}
		for _, layer := range n.connections {
			totalConnections += len(layer)
		}
	}

	avg := float32(0)
	if len(idx.nodes) > 0 {
		avg = float32(totalConnections) / float32(len(idx.nodes))
	}

	return Stats{
		VectorCount:    len(idx.nodes),
		MemoryUsage:    memUsage,
		Dimension:      idx.dimension,
		MaxLayer:       maxLayer,
		AvgConnections: avg,
	}
}

// Len reports the number of live vectors in the graph.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// persistedNode is the gob-friendly projection of a node. Metadata is
// carried as JSON rather than map[string]any so it round-trips through gob
// without per-value type registration.
type persistedNode struct {
	ID          vdbcommon.VectorId
	Vector      []float32
	MetadataRaw []byte
	TopLayer    int
	Connections [][]vdbcommon.VectorId
}

type persistedIndex struct {
	Nodes      []persistedNode
	EntryPoint *vdbcommon.VectorId
	Config     vdbcommon.IndexConfig
	Metric     vdbcommon.DistanceMetric
	Dimension  int
}

// Serialize snapshots the whole graph as a single self-describing blob.
func (idx *Index) Serialize() ([]byte, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	p := persistedIndex{
		EntryPoint: idx.entryPoint,
		Config:     idx.config,
		Metric:     idx.metric,
		Dimension:  idx.dimension,
	}
	for id, n := range idx.nodes {
		var metaRaw []byte
		if n.metadata != nil {
			raw, err := json.Marshal(n.metadata)
			if err != nil {
				return nil, &vdbcommon.SerializationError{Message: "marshaling node metadata", Err: err}
			}
			metaRaw = raw
		}
		p.Nodes = append(p.Nodes, persistedNode{
			ID:          id,
			Vector:      n.vector,
			MetadataRaw: metaRaw,
			TopLayer:    n.topLayer,
			Connections: n.connections,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&p); err != nil {
		return nil, &vdbcommon.SerializationError{Message: "encoding index", Err: err}
	}
	return buf.Bytes(), nil
}

// Deserialize replaces the graph's contents with the snapshot in data.
func (idx *Index) Deserialize(data []byte) error {
	var p persistedIndex
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return &vdbcommon.SerializationError{Message: "decoding index", Err: err}
	}

	nodes := make(map[vdbcommon.VectorId]*node, len(p.Nodes))
	for _, pn := range p.Nodes {
		var meta map[string]any
		if len(pn.MetadataRaw) > 0 {
			if err := json.Unmarshal(pn.MetadataRaw, &meta); err != nil {
				return &vdbcommon.SerializationError{Message: "unmarshaling node metadata", Err: err}
			}
		}
		nodes[pn.ID] = &node{
			id:          pn.ID,
			vector:      pn.Vector,
			metadata:    meta,
			topLayer:    pn.TopLayer,
			connections: pn.Connections,
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.nodes = nodes
	idx.entryPoint = p.EntryPoint
	idx.config = p.Config
	idx.metric = p.Metric
	idx.dimension = p.Dimension
	return nil
}

func candidateIDs(candidates []candidate) []vdbcommon.VectorId {
	ids := make([]vdbcommon.VectorId, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

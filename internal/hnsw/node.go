package hnsw

import (
	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
)

// node is a single vertex in the HNSW graph: a vector, its metadata, and
// one adjacency slice per layer it participates in (layer 0 .. topLayer).
type node struct {
	id          vdbcommon.VectorId
	vector      []float32
	metadata    map[string]any
	topLayer    int
	connections [][]vdbcommon.VectorId // connections[layer] = neighbor ids
}

func newNode(id vdbcommon.VectorId, vector []float32, metadata map[string]any, topLayer int) *node {
	connections := make([][]vdbcommon.VectorId, topLayer+1)
	return &node{
		id:          id,
		vector:      vector,
		metadata:    metadata,
		topLayer:    topLayer,
		connections: connections,
	}
}

func (n *node) addConnection(layer int, neighbor vdbcommon.VectorId) {
	if layer >= len(n.connections) {
		return
	}
	for _, existing := range n.connections[layer] {
		if existing == neighbor {
			return
		}
	}
	n.connections[layer] = append(n.connections[layer], neighbor)
}

func (n *node) removeConnection(layer int, neighbor vdbcommon.VectorId) bool {
	if layer >= len(n.connections) {
		return false
	}
	for i, existing := range n.connections[layer] {
		if existing == neighbor {
			n.connections[layer] = append(n.connections[layer][:i], n.connections[layer][i+1:]...)
			return true
		}
	}
	return false
}

func (n *node) getConnections(layer int) []vdbcommon.VectorId {
	if layer >= len(n.connections) {
		return nil
	}
	return n.connections[layer]
}

func (n *node) connectionCount(layer int) int {
	if layer >= len(n.connections) {
		return 0
	}
	return len(n.connections[layer])
}

// memoryUsage estimates the node's resident footprint in bytes. It is an
// approximation used only for CollectionStats reporting, not for any
// eviction or budgeting decision.
func (n *node) memoryUsage() int {
	const vectorIdSize = 16 // uuid.UUID
	size := 64              // struct overhead, approximate
	size += len(n.vector) * 4
	for _, layer := range n.connections {
		size += len(layer) * vectorIdSize
	}
	for k, v := range n.metadata {
		size += len(k)
		if s, ok := v.(string); ok {
			size += len(s)
		} else {
			size += 16
		}
	}
	return size
}

// candidate is a (id, distance) pair used while building the max-heap of
// the num_closest best candidates found so far during a layer search.
type candidate struct {
	id       vdbcommon.VectorId
	distance float32
}

// maxHeap keeps the farthest candidate at the root, so the search loop can
// cheaply check "is this new candidate better than my current worst" and
// evict that worst entry once the heap grows past num_closest.
type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].distance > h[j].distance }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minHeap is the search frontier: the nearest unexplored candidate pops
// first so the greedy expansion explores closest-first.
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].distance < h[j].distance }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

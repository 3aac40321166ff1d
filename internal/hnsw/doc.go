// Package hnsw implements the Hierarchical Navigable Small World graph used
// as the core's approximate nearest-neighbor index: per-layer adjacency,
// greedy multi-layer descent, and symmetric edge construction with degree
// caps, insert, k-NN search, and delete.
package hnsw

// Package vdbcommon holds the types, error taxonomy, and distance kernels
// shared by the HNSW index, the storage engine, and the vector store
// coordinator: VectorId/CollectionId, Vector, CollectionConfig/IndexConfig,
// query request/result shapes, and the four supported distance metrics.
package vdbcommon

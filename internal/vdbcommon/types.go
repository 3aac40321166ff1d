package vdbcommon

import (
	"github.com/google/uuid"
)

// VectorId uniquely identifies a vector within a collection.
type VectorId = uuid.UUID

// CollectionId is the unique, process-wide name of a collection.
type CollectionId = string

// VectorType tags the on-disk representation of a vector's components.
// Only Float32 is actually stored by the core; the other tags are
// reserved for a future quantized representation (spec Non-goal).
type VectorType int

const (
	VectorTypeFloat32 VectorType = iota + 1
	VectorTypeFloat16
	VectorTypeInt8
)

func (t VectorType) String() string {
	switch t {
	case VectorTypeFloat32:
		return "float32"
	case VectorTypeFloat16:
		return "float16"
	case VectorTypeInt8:
		return "int8"
	default:
		return "unknown"
	}
}

// DistanceMetric selects how two vectors are compared for similarity.
type DistanceMetric int

const (
	Cosine DistanceMetric = iota + 1
	Euclidean
	DotProduct
	Manhattan
)

func (m DistanceMetric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	case DotProduct:
		return "dot_product"
	case Manhattan:
		return "manhattan"
	default:
		return "unknown"
	}
}

// Vector is a single stored embedding plus its optional JSON-ish metadata.
type Vector struct {
	ID       VectorId
	Data     []float32
	Metadata map[string]any
}

// IndexConfig controls the HNSW graph's connectivity and beam widths.
type IndexConfig struct {
	// MaxConnections (M) is the target number of neighbors per node at
	// layers >= 1; layer 0 allows twice this many.
	MaxConnections int
	// EfConstruction is the beam width used while building the graph.
	EfConstruction int
	// EfSearch is the default beam width used at query time.
	EfSearch int
	// MaxLayer caps how high a node's layer assignment can climb.
	MaxLayer int
}

// DefaultIndexConfig returns the conventional HNSW defaults.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		MaxConnections: 16,
		EfConstruction: 200,
		EfSearch:       50,
		MaxLayer:       16,
	}
}

// Validate checks that the index configuration describes a buildable graph.
func (c IndexConfig) Validate() error {
	if c.MaxConnections < 1 {
		return &ConfigError{Message: "max_connections must be >= 1"}
	}
	if c.EfConstruction < 1 {
		return &ConfigError{Message: "ef_construction must be >= 1"}
	}
	if c.EfSearch < 1 {
		return &ConfigError{Message: "ef_search must be >= 1"}
	}
	if c.MaxLayer < 0 {
		return &ConfigError{Message: "max_layer must be >= 0"}
	}
	return nil
}

// CollectionConfig is the immutable configuration a collection is created
// with. It never changes for the lifetime of the collection.
type CollectionConfig struct {
	Name           CollectionId
	Dimension      int
	DistanceMetric DistanceMetric
	VectorType     VectorType
	IndexConfig    IndexConfig
}

// Validate checks the collection configuration's invariants (data model §3).
func (c CollectionConfig) Validate() error {
	if c.Name == "" {
		return &ConfigError{Message: "collection name must not be empty"}
	}
	if c.Dimension < 1 {
		return &ConfigError{Message: "dimension must be >= 1"}
	}
	switch c.DistanceMetric {
	case Cosine, Euclidean, DotProduct, Manhattan:
	default:
		return &ConfigError{Message: "unknown distance metric"}
	}
	return c.IndexConfig.Validate()
}

// QueryRequest asks for the k nearest vectors to Vector in Collection.
// Filter is not interpreted by the core (spec Non-goal: no metadata
// filtering during search); Query ignores it, and it is not copied into
// QueryResult.
type QueryRequest struct {
	Collection CollectionId
	Vector     []float32
	Limit      int
	EfSearch   *int
	Filter     map[string]any
}

// QueryResult is a single match returned from a query.
type QueryResult struct {
	ID       VectorId
	Distance float32
	Metadata map[string]any
}

// CollectionStats reports size and resource usage for one collection.
type CollectionStats struct {
	Name        CollectionId
	VectorCount int
	Dimension   int
	IndexSize   int
	MemoryUsage int
}

// ServerStats aggregates stats across every collection in the store.
type ServerStats struct {
	TotalVectors     uint64
	TotalCollections uint32
	MemoryUsage      uint64
	DiskUsage        uint64
	UptimeSeconds    uint64
}

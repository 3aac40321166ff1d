package vectorstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/vecdb/internal/hnsw"
	"github.com/Aman-CERP/vecdb/internal/metrics"
	"github.com/Aman-CERP/vecdb/internal/storage"
	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
	"github.com/Aman-CERP/vecdb/internal/vlog"
)

// Store is the vector database's top-level coordinator: every mutating
// operation is durably logged through the storage engine before (or
// alongside) being applied to the in-memory HNSW index for that
// collection, so a crash can never leave the index ahead of the WAL.
type Store struct {
	storage    *storage.Engine
	metrics    metrics.Sink
	log        *slog.Logger
	logCleanup func()
	started    time.Time

	mu      sync.RWMutex
	indexes map[vdbcommon.CollectionId]*hnsw.Index
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMetrics installs a metrics sink other than the no-op default.
func WithMetrics(sink metrics.Sink) Option {
	return func(s *Store) { s.metrics = sink }
}

// WithLogger installs a logger other than vlog's default rotating file
// logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open opens the durable storage engine at dataDir. Every collection found
// there gets a fresh, empty HNSW index with its stored configuration — WAL
// replay restores the collections and their vectors, but the index is not
// reconstituted from them automatically. Call RebuildIndexFromStorage (or
// RebuildAllIndexesFromStorage) to populate an index from what's on disk.
func Open(dataDir string, opts ...Option) (*Store, error) {
	s := &Store{
		metrics: metrics.Noop{},
		started: time.Now(),
		indexes: make(map[vdbcommon.CollectionId]*hnsw.Index),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		if log, cleanup, err := vlog.Setup(vlog.DefaultConfig()); err == nil {
			s.log = log
			s.logCleanup = cleanup
		} else {
			s.log = slog.Default()
		}
	}

	engine, err := storage.OpenEngine(dataDir, s.log)
	if err != nil {
		if s.logCleanup != nil {
			s.logCleanup()
		}
		return nil, err
	}
	s.storage = engine

	if err := s.createEmptyIndexes(); err != nil {
		_ = engine.Close()
		if s.logCleanup != nil {
			s.logCleanup()
		}
		return nil, err
	}

	return s, nil
}

// createEmptyIndexes gives every recovered collection an empty HNSW graph
// built from its stored configuration. This mirrors the rebuild step a
// restart performs after WAL replay: the collection directories and their
// vectors come back, the index does not.
func (s *Store) createEmptyIndexes() error {
	names := s.storage.ListCollections()
	s.log.Info("creating empty indexes for recovered collections", slog.Int("collections", len(names)))

	built := make(map[vdbcommon.CollectionId]*hnsw.Index, len(names))
	for _, name := range names {
		config, err := s.storage.GetCollectionConfig(name)
		if err != nil {
			return err
		}
		built[name] = hnsw.New(config.IndexConfig, config.DistanceMetric, config.Dimension)
	}

	s.mu.Lock()
	s.indexes = built
	s.mu.Unlock()
	return nil
}

// RebuildIndexFromStorage discards collection's in-memory index and
// replaces it with a fresh graph built by replaying every live vector in
// the collection's storage. This is the explicit, opt-in counterpart to
// Open's empty-index default — callers reach for it when they actually
// want the index reconstituted from what's durable on disk. It tries a
// saved snapshot first, since deserializing one is far cheaper than
// reinserting every vector one at a time, but falls back to a full replay
// if no usable snapshot is found.
func (s *Store) RebuildIndexFromStorage(name vdbcommon.CollectionId) error {
	idx, err := s.rebuildIndex(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.indexes[name] = idx
	s.mu.Unlock()
	return nil
}

// RebuildAllIndexesFromStorage rebuilds every collection's index from
// storage. Collections are independent, so this fans out with errgroup the
// same way the rest of the corpus parallelizes independent per-item work.
func (s *Store) RebuildAllIndexesFromStorage(ctx context.Context) error {
	names := s.storage.ListCollections()

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	built := make(map[vdbcommon.CollectionId]*hnsw.Index, len(names))

	for _, name := range names {
		name := name
		g.Go(func() error {
			idx, err := s.rebuildIndex(name)
			if err != nil {
				return err
			}
			mu.Lock()
			built[name] = idx
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	for name, idx := range built {
		s.indexes[name] = idx
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) rebuildIndex(name vdbcommon.CollectionId) (*hnsw.Index, error) {
	config, err := s.storage.GetCollectionConfig(name)
	if err != nil {
		return nil, err
	}

	idx := hnsw.New(config.IndexConfig, config.DistanceMetric, config.Dimension)

	if snapshot, ok, err := s.storage.LoadIndexSnapshot(name); err == nil && ok {
		if err := idx.Deserialize(snapshot); err == nil {
			s.log.Info("rebuilt index from snapshot", slog.String("collection", name))
			return idx, nil
		}
		s.log.Warn("discarding unreadable index snapshot, replaying vectors instead",
			slog.String("collection", name))
		idx = hnsw.New(config.IndexConfig, config.DistanceMetric, config.Dimension)
	}

	vectors, err := s.storage.AllLive(name)
	if err != nil {
		return nil, err
	}
	for _, v := range vectors {
		if err := idx.Insert(v.ID, v.Data, v.Metadata); err != nil {
			return nil, err
		}
	}
	s.log.Info("rebuilt index from storage",
		slog.String("collection", name), slog.Int("vectors", len(vectors)))
	return idx, nil
}

// CheckpointIndex serializes a collection's current in-memory index and
// saves it to storage, so a later RebuildIndexFromStorage can restore it
// without replaying every vector. This is never called automatically —
// Sync and Close deliberately leave it alone so the index stays absent
// after a plain reopen.
func (s *Store) CheckpointIndex(name vdbcommon.CollectionId) error {
	idx, ok := s.index(name)
	if !ok {
		return &vdbcommon.CollectionNotFoundError{Name: name}
	}
	snapshot, err := idx.Serialize()
	if err != nil {
		return err
	}
	return s.storage.SaveIndexSnapshot(name, snapshot)
}

// CreateCollection creates a collection's durable storage and an empty
// HNSW index for it.
func (s *Store) CreateCollection(config vdbcommon.CollectionConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	s.log.Info("creating collection", slog.String("collection", config.Name))
	s.metrics.Counter("vectorstore.collections.created", 1)

	if err := s.storage.CreateCollection(config); err != nil {
		return err
	}

	idx := hnsw.New(config.IndexConfig, config.DistanceMetric, config.Dimension)
	s.mu.Lock()
	s.indexes[config.Name] = idx
	s.mu.Unlock()

	s.log.Info("collection created successfully", slog.String("collection", config.Name))
	return nil
}

// DeleteCollection removes a collection's storage and its index.
func (s *Store) DeleteCollection(name vdbcommon.CollectionId) error {
	s.log.Info("deleting collection", slog.String("collection", name))
	s.metrics.Counter("vectorstore.collections.deleted", 1)

	if err := s.storage.DeleteCollection(name); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.indexes, name)
	s.mu.Unlock()

	s.log.Info("collection deleted successfully", slog.String("collection", name))
	return nil
}

// ListCollections returns the name of every collection.
func (s *Store) ListCollections() []vdbcommon.CollectionId {
	return s.storage.ListCollections()
}

// GetCollectionConfig returns a collection's immutable configuration.
func (s *Store) GetCollectionConfig(name vdbcommon.CollectionId) (*vdbcommon.CollectionConfig, error) {
	return s.storage.GetCollectionConfig(name)
}

// index clones the *hnsw.Index reference under the read lock, matching
// the storage engine's own clone-then-unlock discipline.
func (s *Store) index(name vdbcommon.CollectionId) (*hnsw.Index, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	return idx, ok
}

// Insert durably stores and indexes a single vector.
func (s *Store) Insert(collection vdbcommon.CollectionId, v vdbcommon.Vector) error {
	start := time.Now()
	s.metrics.Counter("vectorstore.vectors.inserted", 1)

	config, err := s.storage.GetCollectionConfig(collection)
	if err != nil {
		return err
	}
	if len(v.Data) != config.Dimension {
		return &vdbcommon.DimensionMismatchError{Expected: config.Dimension, Actual: len(v.Data)}
	}

	if err := s.storage.InsertVector(collection, v); err != nil {
		return err
	}

	idx, ok := s.index(collection)
	if ok {
		if err := idx.Insert(v.ID, v.Data, v.Metadata); err != nil {
			return err
		}
	}

	s.metrics.Observe("vectorstore.insert.duration", time.Since(start).Seconds())
	return nil
}

// BatchInsert durably stores and indexes every vector in vs. The whole
// batch is validated for dimension before anything is written, so a bad
// vector partway through the batch can never leave storage and the index
// disagreeing about how many vectors made it in.
func (s *Store) BatchInsert(collection vdbcommon.CollectionId, vs []vdbcommon.Vector) error {
	start := time.Now()
	s.metrics.Counter("vectorstore.vectors.batch_inserted", uint64(len(vs)))

	if len(vs) == 0 {
		return nil
	}

	config, err := s.storage.GetCollectionConfig(collection)
	if err != nil {
		return err
	}
	for _, v := range vs {
		if len(v.Data) != config.Dimension {
			return &vdbcommon.DimensionMismatchError{Expected: config.Dimension, Actual: len(v.Data)}
		}
	}

	if err := s.storage.BatchInsert(collection, vs); err != nil {
		return err
	}

	idx, ok := s.index(collection)
	if ok {
		for _, v := range vs {
			if err := idx.Insert(v.ID, v.Data, v.Metadata); err != nil {
				return err
			}
		}
	}

	s.metrics.Observe("vectorstore.batch_insert.duration", time.Since(start).Seconds())
	s.log.Info("batch inserted vectors", slog.Int("count", len(vs)), slog.String("collection", collection))
	return nil
}

// Query returns the nearest neighbors to req.Vector in req.Collection.
func (s *Store) Query(req vdbcommon.QueryRequest) ([]vdbcommon.QueryResult, error) {
	start := time.Now()
	s.metrics.Counter("vectorstore.queries", 1)

	config, err := s.storage.GetCollectionConfig(req.Collection)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) != config.Dimension {
		return nil, &vdbcommon.DimensionMismatchError{Expected: config.Dimension, Actual: len(req.Vector)}
	}

	idx, ok := s.index(req.Collection)
	if !ok {
		return nil, &vdbcommon.CollectionNotFoundError{Name: req.Collection}
	}

	matches, err := idx.Search(req.Vector, req.Limit, req.EfSearch)
	if err != nil {
		return nil, err
	}

	results := make([]vdbcommon.QueryResult, len(matches))
	for i, m := range matches {
		results[i] = vdbcommon.QueryResult{ID: m.ID, Distance: m.Distance, Metadata: m.Metadata}
	}

	s.metrics.Observe("vectorstore.query.duration", time.Since(start).Seconds())
	s.metrics.Gauge("vectorstore.query.results", float64(len(results)))
	return results, nil
}

// Get returns a vector by id from durable storage.
func (s *Store) Get(collection vdbcommon.CollectionId, id vdbcommon.VectorId) (*vdbcommon.Vector, error) {
	return s.storage.GetVector(collection, id)
}

// Delete removes a vector from both storage and its index.
func (s *Store) Delete(collection vdbcommon.CollectionId, id vdbcommon.VectorId) (bool, error) {
	s.metrics.Counter("vectorstore.vectors.deleted", 1)

	removed, err := s.storage.DeleteVector(collection, id)
	if err != nil {
		return false, err
	}

	if idx, ok := s.index(collection); ok {
		idx.Delete(id)
	}

	return removed, nil
}

// Update replaces a vector's data and metadata in place: a delete
// followed by an insert, the same tradeoff the reference design makes in
// exchange for never needing an in-place index mutation path.
func (s *Store) Update(collection vdbcommon.CollectionId, v vdbcommon.Vector) error {
	s.metrics.Counter("vectorstore.vectors.updated", 1)

	if _, err := s.Delete(collection, v.ID); err != nil {
		return err
	}
	return s.Insert(collection, v)
}

// GetCollectionStats reports size, dimension, and resource usage for one
// collection, combining storage's on-disk numbers with the index's
// in-memory footprint.
func (s *Store) GetCollectionStats(name vdbcommon.CollectionId) (*vdbcommon.CollectionStats, error) {
	stats, err := s.storage.GetCollectionStats(name)
	if err != nil {
		return nil, err
	}

	if idx, ok := s.index(name); ok {
		idxStats := idx.Stats()
		stats.VectorCount = idxStats.VectorCount
		stats.MemoryUsage += idxStats.MemoryUsage
	}

	return stats, nil
}

// GetServerStats aggregates totals across every collection.
func (s *Store) GetServerStats() (vdbcommon.ServerStats, error) {
	names := s.storage.ListCollections()

	var totalVectors uint64
	var memoryUsage uint64
	for _, name := range names {
		stats, err := s.GetCollectionStats(name)
		if err != nil {
			return vdbcommon.ServerStats{}, err
		}
		totalVectors += uint64(stats.VectorCount)
		memoryUsage += uint64(stats.MemoryUsage)
	}

	diskUsage, err := s.storage.DiskUsage()
	if err != nil {
		return vdbcommon.ServerStats{}, err
	}

	s.metrics.Gauge("vectorstore.collections.total", float64(len(names)))
	s.metrics.Gauge("vectorstore.vectors.total", float64(totalVectors))
	s.metrics.Gauge("vectorstore.memory.usage", float64(memoryUsage))

	return vdbcommon.ServerStats{
		TotalVectors:     totalVectors,
		TotalCollections: uint32(len(names)),
		MemoryUsage:      memoryUsage,
		DiskUsage:        diskUsage,
		UptimeSeconds:    uint64(time.Since(s.started).Seconds()),
	}, nil
}

// Sync flushes every collection's data file and the WAL to durable
// storage. It deliberately does not touch the index: a snapshot is only
// ever written by an explicit CheckpointIndex call, so a plain
// Sync-then-restart cycle always comes back with empty indexes.
func (s *Store) Sync(ctx context.Context) error {
	_ = ctx
	return s.storage.Sync()
}

// Close syncs and releases every resource held by the store.
func (s *Store) Close() error {
	if err := s.Sync(context.Background()); err != nil {
		s.log.Warn("sync before close failed", slog.Any("error", err))
	}
	err := s.storage.Close()
	if s.logCleanup != nil {
		s.logCleanup()
	}
	return err
}

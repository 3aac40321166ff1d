package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
	"github.com/Aman-CERP/vecdb/internal/vlog"
)

// Engine is the durable substrate beneath a vector store: a WAL for
// crash-safe ordering, and one CollectionStorage per collection. A
// gofrs/flock advisory lock on the data directory keeps a second process
// from opening the same store concurrently and corrupting the WAL.
type Engine struct {
	dataDir    string
	log        *slog.Logger
	logCleanup func()
	lock       *flock.Flock
	wal        *WAL

	mu          sync.RWMutex
	collections map[vdbcommon.CollectionId]*CollectionStorage
}

// OpenEngine opens the storage engine rooted at dataDir, acquiring an
// exclusive lock on the directory and replaying the WAL to recover from
// any crash since the last clean shutdown. With no logger supplied it tries
// to stand up vlog's rotating file logger, falling back to slog.Default()
// if that fails — the same tolerant pattern the CLI commands use.
func OpenEngine(dataDir string, log *slog.Logger) (*Engine, error) {
	var logCleanup func()
	if log == nil {
		if setupLog, cleanup, err := vlog.Setup(vlog.DefaultConfig()); err == nil {
			log = setupLog
			logCleanup = cleanup
		} else {
			log = slog.Default()
		}
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, &vdbcommon.StorageError{Message: "creating data directory", Err: err}
	}

	lockPath := filepath.Join(dataDir, ".vecdb.lock")
	dirLock := flock.New(lockPath)
	acquired, err := dirLock.TryLock()
	if err != nil {
		return nil, &vdbcommon.StorageError{Message: "acquiring data directory lock", Err: err}
	}
	if !acquired {
		return nil, &vdbcommon.StorageError{Message: fmt.Sprintf("data directory %s is already in use by another process", dataDir)}
	}

	wal, err := OpenWAL(filepath.Join(dataDir, "wal"))
	if err != nil {
		_ = dirLock.Unlock()
		return nil, err
	}

	e := &Engine{
		dataDir:     dataDir,
		log:         log,
		logCleanup:  logCleanup,
		lock:        dirLock,
		wal:         wal,
		collections: make(map[vdbcommon.CollectionId]*CollectionStorage),
	}

	if err := e.recover(); err != nil {
		_ = dirLock.Unlock()
		if logCleanup != nil {
			logCleanup()
		}
		return nil, err
	}

	return e, nil
}

// recover replays every validated WAL operation in order, reconstructing
// whatever state was lost between the last checkpoint and a crash.
func (e *Engine) recover() error {
	recovery := NewRecoveryManager(e.dataDir, e.log)
	ops, err := recovery.RecoverFromWAL(e.wal)
	if err != nil {
		return err
	}

	e.log.Info("recovering operations from WAL", slog.Int("count", len(ops)))
	for _, op := range ops {
		if err := e.applyOperation(op); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyOperation(op WALOperation) error {
	switch op.Kind {
	case OpCreateCollection:
		dir := filepath.Join(e.dataDir, op.Config.Name)
		cs, err := NewCollectionStorage(dir, op.Config)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.collections[op.Config.Name] = cs
		e.mu.Unlock()
	case OpDeleteCollection:
		e.mu.Lock()
		delete(e.collections, op.Collection)
		e.mu.Unlock()
	case OpInsertVector:
		storage := e.lookupForReplay(op.Collection)
		if storage == nil {
			return nil
		}
		v, err := fromWire(op.Vector)
		if err != nil {
			return err
		}
		return storage.Insert(v)
	case OpBatchInsert:
		storage := e.lookupForReplay(op.Collection)
		if storage == nil {
			return nil
		}
		vs, err := fromWireSlice(op.Vectors)
		if err != nil {
			return err
		}
		return storage.BatchInsert(vs)
	case OpDeleteVector:
		storage := e.lookupForReplay(op.Collection)
		if storage == nil {
			return nil
		}
		_, err := storage.Delete(op.VectorID)
		return err
	}
	return nil
}

func (e *Engine) lookupForReplay(name vdbcommon.CollectionId) *CollectionStorage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collections[name]
}

// lookup clones the *CollectionStorage reference under the read lock and
// releases it before returning, so callers never hold the registry lock
// across the I/O that follows.
func (e *Engine) lookup(name vdbcommon.CollectionId) (*CollectionStorage, error) {
	e.mu.RLock()
	cs, ok := e.collections[name]
	e.mu.RUnlock()
	if !ok {
		return nil, &vdbcommon.CollectionNotFoundError{Name: name}
	}
	return cs, nil
}

// CreateCollection durably records and creates a new collection.
func (e *Engine) CreateCollection(config vdbcommon.CollectionConfig) error {
	e.mu.RLock()
	_, exists := e.collections[config.Name]
	e.mu.RUnlock()
	if exists {
		return &vdbcommon.CollectionExistsError{Name: config.Name}
	}

	if err := e.wal.Append(WALOperation{Kind: OpCreateCollection, Config: config}); err != nil {
		return err
	}

	dir := filepath.Join(e.dataDir, config.Name)
	cs, err := NewCollectionStorage(dir, config)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.collections[config.Name] = cs
	e.mu.Unlock()

	e.log.Info("created collection", slog.String("collection", config.Name))
	return nil
}

// DeleteCollection logs the deletion to the WAL, then removes the
// collection's in-memory entry and on-disk directory.
func (e *Engine) DeleteCollection(name vdbcommon.CollectionId) error {
	e.mu.RLock()
	cs, exists := e.collections[name]
	e.mu.RUnlock()
	if !exists {
		return &vdbcommon.CollectionNotFoundError{Name: name}
	}

	if err := e.wal.Append(WALOperation{Kind: OpDeleteCollection, Collection: name}); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.collections, name)
	e.mu.Unlock()

	_ = cs.Close()
	dir := filepath.Join(e.dataDir, name)
	if err := os.RemoveAll(dir); err != nil {
		return &vdbcommon.StorageError{Message: "removing collection directory", Err: err}
	}

	e.log.Info("deleted collection", slog.String("collection", name))
	return nil
}

// InsertVector logs and durably stores a single vector.
func (e *Engine) InsertVector(collection vdbcommon.CollectionId, v vdbcommon.Vector) error {
	cs, err := e.lookup(collection)
	if err != nil {
		return err
	}

	wire, err := toWire(v)
	if err != nil {
		return err
	}
	if err := e.wal.Append(WALOperation{Kind: OpInsertVector, Collection: collection, Vector: wire}); err != nil {
		return err
	}

	return cs.Insert(v)
}

// BatchInsert logs and durably stores a batch of vectors as one WAL entry.
func (e *Engine) BatchInsert(collection vdbcommon.CollectionId, vs []vdbcommon.Vector) error {
	cs, err := e.lookup(collection)
	if err != nil {
		return err
	}

	wires, err := toWireSlice(vs)
	if err != nil {
		return err
	}
	if err := e.wal.Append(WALOperation{Kind: OpBatchInsert, Collection: collection, Vectors: wires}); err != nil {
		return err
	}

	return cs.BatchInsert(vs)
}

// GetVector returns a collection's live vector for id, if any.
func (e *Engine) GetVector(collection vdbcommon.CollectionId, id vdbcommon.VectorId) (*vdbcommon.Vector, error) {
	cs, err := e.lookup(collection)
	if err != nil {
		return nil, err
	}
	return cs.Get(id)
}

// DeleteVector logs and applies a tombstone delete, reporting whether the
// vector was live.
func (e *Engine) DeleteVector(collection vdbcommon.CollectionId, id vdbcommon.VectorId) (bool, error) {
	cs, err := e.lookup(collection)
	if err != nil {
		return false, err
	}

	if err := e.wal.Append(WALOperation{Kind: OpDeleteVector, Collection: collection, VectorID: id}); err != nil {
		return false, err
	}

	return cs.Delete(id)
}

// AllLive returns every currently-live vector in a collection.
func (e *Engine) AllLive(collection vdbcommon.CollectionId) ([]vdbcommon.Vector, error) {
	cs, err := e.lookup(collection)
	if err != nil {
		return nil, err
	}
	return cs.AllLive()
}

// ListCollections returns every collection's name.
func (e *Engine) ListCollections() []vdbcommon.CollectionId {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]vdbcommon.CollectionId, 0, len(e.collections))
	for name := range e.collections {
		names = append(names, name)
	}
	return names
}

// GetCollectionConfig returns a collection's immutable configuration.
func (e *Engine) GetCollectionConfig(name vdbcommon.CollectionId) (*vdbcommon.CollectionConfig, error) {
	cs, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	cfg := cs.Config()
	return &cfg, nil
}

// GetCollectionStats reports a collection's on-disk size and vector count.
func (e *Engine) GetCollectionStats(name vdbcommon.CollectionId) (*vdbcommon.CollectionStats, error) {
	cs, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	stats, err := cs.Stats()
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// SaveIndexSnapshot persists a collection's serialized HNSW index.
func (e *Engine) SaveIndexSnapshot(collection vdbcommon.CollectionId, data []byte) error {
	cs, err := e.lookup(collection)
	if err != nil {
		return err
	}
	return cs.SaveIndexSnapshot(data)
}

// LoadIndexSnapshot reads a collection's previously saved index snapshot.
func (e *Engine) LoadIndexSnapshot(collection vdbcommon.CollectionId) ([]byte, bool, error) {
	cs, err := e.lookup(collection)
	if err != nil {
		return nil, false, err
	}
	return cs.LoadIndexSnapshot()
}

// Sync flushes the WAL and every collection's data file to disk. It never
// truncates the WAL: collections are reconstituted purely by replaying it
// on the next open (there is no separate on-disk config record), so a
// truncated WAL after a plain sync would make every collection vanish on
// restart. Truncate is a distinct, separately-invoked operation reserved
// for post-checkpoint cleanup once something else durably records
// collection configuration (spec.md §4.5).
func (e *Engine) Sync() error {
	if err := e.wal.Sync(); err != nil {
		return err
	}

	e.mu.RLock()
	all := make([]*CollectionStorage, 0, len(e.collections))
	for _, cs := range e.collections {
		all = append(all, cs)
	}
	e.mu.RUnlock()

	for _, cs := range all {
		if err := cs.Sync(); err != nil {
			return err
		}
	}

	return nil
}

// CheckConsistency walks every collection directory and reports (without
// repairing) empty-file and missing-file anomalies.
func (e *Engine) CheckConsistency() []string {
	return NewRecoveryManager(e.dataDir, e.log).CheckConsistency()
}

// CreateBackup recursively copies every collection's data directory to
// backupDir.
func (e *Engine) CreateBackup(backupDir string) error {
	return NewRecoveryManager(e.dataDir, e.log).CreateBackup(backupDir)
}

// DiskUsage sums the on-disk size of every file under the data directory:
// each collection's data and index files, the WAL, and the lock file.
func (e *Engine) DiskUsage() (uint64, error) {
	var total uint64
	err := filepath.Walk(e.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return 0, &vdbcommon.StorageError{Message: "computing disk usage", Err: err}
	}
	return total, nil
}

// Close releases every collection's file handles, the WAL, and the data
// directory lock.
func (e *Engine) Close() error {
	e.mu.RLock()
	all := make([]*CollectionStorage, 0, len(e.collections))
	for _, cs := range e.collections {
		all = append(all, cs)
	}
	e.mu.RUnlock()

	for _, cs := range all {
		_ = cs.Close()
	}
	_ = e.wal.Close()
	if e.logCleanup != nil {
		e.logCleanup()
	}
	return e.lock.Unlock()
}

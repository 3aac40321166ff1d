package storage

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
)

const hotReadCacheSize = 1024

// recordKind tags a data_file record as a live vector or a tombstone left
// behind by a delete, so the id->offset map can be rebuilt from the file
// alone on startup without consulting the WAL.
type recordKind byte

const (
	recordLive      recordKind = 1
	recordTombstone recordKind = 2
)

type dataRecord struct {
	Kind   recordKind
	ID     vdbcommon.VectorId
	Vector walVectorWire
}

// CollectionStorage holds one collection's durable vector bytes: an
// append-only data file plus an id->offset index kept in memory and
// rebuilt by scanning the data file on open. Deletes are tombstones —
// appended, never reclaimed in place — so Get/rebuild only ever need to
// look at the latest record for a given id.
type CollectionStorage struct {
	dir       string
	config    vdbcommon.CollectionConfig
	dataFile  *AppendStorage
	indexPath string

	mu      sync.RWMutex
	offsets map[vdbcommon.VectorId]int64

	cache *lru.Cache[vdbcommon.VectorId, vdbcommon.Vector]
}

// NewCollectionStorage opens (or creates) the on-disk files for a
// collection and rebuilds its id->offset map by scanning vectors.bin.
func NewCollectionStorage(dir string, config vdbcommon.CollectionConfig) (*CollectionStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &vdbcommon.StorageError{Message: "creating collection directory", Err: err}
	}

	dataFile, err := OpenAppendStorage(filepath.Join(dir, "vectors.bin"))
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[vdbcommon.VectorId, vdbcommon.Vector](hotReadCacheSize)
	if err != nil {
		return nil, &vdbcommon.StorageError{Message: "creating hot-read cache", Err: err}
	}

	cs := &CollectionStorage{
		dir:       dir,
		config:    config,
		dataFile:  dataFile,
		indexPath: filepath.Join(dir, "index.bin"),
		offsets:   make(map[vdbcommon.VectorId]int64),
		cache:     cache,
	}

	if err := cs.rebuildOffsets(); err != nil {
		return nil, err
	}

	return cs, nil
}

// rebuildOffsets scans the data file from the start, replaying live and
// tombstone records in order to reconstruct the current id->offset map.
func (cs *CollectionStorage) rebuildOffsets() error {
	return cs.dataFile.ForEachRecord(func(offset int64, data []byte) error {
		var rec dataRecord
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
			return &vdbcommon.SerializationError{Message: "decoding data record during rebuild", Err: err}
		}
		switch rec.Kind {
		case recordLive:
			cs.offsets[rec.ID] = offset
		case recordTombstone:
			delete(cs.offsets, rec.ID)
		}
		return nil
	})
}

func (cs *CollectionStorage) Config() vdbcommon.CollectionConfig {
	return cs.config
}

// Insert appends a new live record and indexes it.
func (cs *CollectionStorage) Insert(v vdbcommon.Vector) error {
	if len(v.Data) != cs.config.Dimension {
		return &vdbcommon.DimensionMismatchError{Expected: cs.config.Dimension, Actual: len(v.Data)}
	}

	wire, err := toWire(v)
	if err != nil {
		return err
	}
	rec := dataRecord{Kind: recordLive, ID: v.ID, Vector: wire}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return &vdbcommon.SerializationError{Message: "encoding data record", Err: err}
	}

	offset, err := cs.dataFile.AppendRecord(buf.Bytes())
	if err != nil {
		return err
	}

	cs.mu.Lock()
	cs.offsets[v.ID] = offset
	cs.mu.Unlock()
	cs.cache.Add(v.ID, v)

	return nil
}

// BatchInsert inserts every vector in vs, failing on the first error.
func (cs *CollectionStorage) BatchInsert(vs []vdbcommon.Vector) error {
	for _, v := range vs {
		if err := cs.Insert(v); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the live vector for id, if any.
func (cs *CollectionStorage) Get(id vdbcommon.VectorId) (*vdbcommon.Vector, error) {
	if v, ok := cs.cache.Get(id); ok {
		return &v, nil
	}

	cs.mu.RLock()
	offset, ok := cs.offsets[id]
	cs.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	data, next, found, err := cs.dataFile.ReadRecord(offset)
	_ = next
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var rec dataRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, &vdbcommon.SerializationError{Message: "decoding data record", Err: err}
	}
	v, err := fromWire(rec.Vector)
	if err != nil {
		return nil, err
	}
	cs.cache.Add(id, v)
	return &v, nil
}

// Delete appends a tombstone for id and reports whether it was live.
func (cs *CollectionStorage) Delete(id vdbcommon.VectorId) (bool, error) {
	cs.mu.Lock()
	_, existed := cs.offsets[id]
	delete(cs.offsets, id)
	cs.mu.Unlock()

	if !existed {
		return false, nil
	}

	rec := dataRecord{Kind: recordTombstone, ID: id}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return false, &vdbcommon.SerializationError{Message: "encoding tombstone", Err: err}
	}
	if _, err := cs.dataFile.AppendRecord(buf.Bytes()); err != nil {
		return false, err
	}
	cs.cache.Remove(id)

	return true, nil
}

// Count returns the number of currently-live vectors.
func (cs *CollectionStorage) Count() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.offsets)
}

// AllLive returns every currently-live vector, used to rebuild an HNSW
// index from storage after a restart.
func (cs *CollectionStorage) AllLive() ([]vdbcommon.Vector, error) {
	cs.mu.RLock()
	ids := make([]vdbcommon.VectorId, 0, len(cs.offsets))
	for id := range cs.offsets {
		ids = append(ids, id)
	}
	cs.mu.RUnlock()

	out := make([]vdbcommon.Vector, 0, len(ids))
	for _, id := range ids {
		v, err := cs.Get(id)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// SaveIndexSnapshot atomically writes the serialized HNSW index to
// index.bin, so a later restart can load it directly instead of replaying
// every vector through Insert again.
func (cs *CollectionStorage) SaveIndexSnapshot(data []byte) error {
	if err := renameio.WriteFile(cs.indexPath, data, 0o644); err != nil {
		return &vdbcommon.StorageError{Message: "writing index snapshot", Err: err}
	}
	return nil
}

// LoadIndexSnapshot reads a previously saved index snapshot, if any.
func (cs *CollectionStorage) LoadIndexSnapshot() ([]byte, bool, error) {
	data, err := os.ReadFile(cs.indexPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &vdbcommon.StorageError{Message: "reading index snapshot", Err: err}
	}
	return data, true, nil
}

// Stats reports size and resource usage for this collection.
func (cs *CollectionStorage) Stats() (vdbcommon.CollectionStats, error) {
	indexSize := 0
	if info, err := os.Stat(cs.indexPath); err == nil {
		indexSize = int(info.Size())
	}

	return vdbcommon.CollectionStats{
		Name:        cs.config.Name,
		VectorCount: cs.Count(),
		Dimension:   cs.config.Dimension,
		IndexSize:   indexSize,
		MemoryUsage: int(cs.dataFile.Size()) + indexSize,
	}, nil
}

// Sync flushes the data file to disk.
func (cs *CollectionStorage) Sync() error {
	return cs.dataFile.Sync()
}

// Close releases the collection's file handles.
func (cs *CollectionStorage) Close() error {
	return cs.dataFile.Close()
}

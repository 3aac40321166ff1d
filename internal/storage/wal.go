package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
)

// WALOpKind tags which operation a WAL entry carries.
type WALOpKind int

const (
	OpCreateCollection WALOpKind = iota + 1
	OpDeleteCollection
	OpInsertVector
	OpBatchInsert
	OpDeleteVector
)

// walVectorWire is the gob-friendly projection of vdbcommon.Vector:
// metadata travels as JSON so it round-trips through gob without
// per-value type registration, matching the hnsw package's node encoding.
type walVectorWire struct {
	ID          vdbcommon.VectorId
	Data        []float32
	MetadataRaw []byte
}

// WALOperation is the payload of a single WAL entry: Kind selects the
// operation, and only the fields that operation uses are meaningful.
type WALOperation struct {
	Kind       WALOpKind
	Collection vdbcommon.CollectionId
	Config     vdbcommon.CollectionConfig
	Vector     walVectorWire
	Vectors    []walVectorWire
	VectorID   vdbcommon.VectorId
}

// walEntry is the framed, checksummed unit actually written to the log.
type walEntry struct {
	ID        uuid.UUID
	Timestamp int64
	Checksum  uint32
	Operation WALOperation
}

// WAL is an append-only, fsync-before-return log of every mutating
// operation applied to the store. Entries are replayed in order during
// recovery to rebuild state after a crash.
type WAL struct {
	path string
	file *os.File
}

// OpenWAL opens or creates the log file at path, creating parent
// directories as needed.
func OpenWAL(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &vdbcommon.StorageError{Message: "creating WAL directory", Err: err}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &vdbcommon.StorageError{Message: "opening WAL file", Err: err}
	}

	return &WAL{path: path, file: file}, nil
}

// Append writes op to the log, fsyncing before returning so a crash right
// after Append never loses an acknowledged operation.
func (w *WAL) Append(op WALOperation) error {
	var opBuf bytes.Buffer
	if err := gob.NewEncoder(&opBuf).Encode(&op); err != nil {
		return &vdbcommon.SerializationError{Message: "encoding WAL operation", Err: err}
	}
	checksum := crc32.ChecksumIEEE(opBuf.Bytes())

	entry := walEntry{
		ID:        uuid.New(),
		Timestamp: time.Now().Unix(),
		Checksum:  checksum,
		Operation: op,
	}

	var entryBuf bytes.Buffer
	if err := gob.NewEncoder(&entryBuf).Encode(&entry); err != nil {
		return &vdbcommon.SerializationError{Message: "encoding WAL entry", Err: err}
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(entryBuf.Len()))

	if _, err := w.file.Write(header[:]); err != nil {
		return &vdbcommon.StorageError{Message: "writing WAL header", Err: err}
	}
	if _, err := w.file.Write(entryBuf.Bytes()); err != nil {
		return &vdbcommon.StorageError{Message: "writing WAL entry", Err: err}
	}
	if err := w.file.Sync(); err != nil {
		return &vdbcommon.StorageError{Message: "syncing WAL", Err: err}
	}

	return nil
}

// ReadAll replays every entry in the log in order. Entries whose checksum
// doesn't match their payload are skipped rather than treated as fatal —
// a torn write at the tail of the log (the last entry, mid-append, during
// a crash) is expected and must not block recovery of everything before it.
func (w *WAL) ReadAll() ([]WALOperation, error) {
	file, err := os.Open(w.path)
	if err != nil {
		return nil, &vdbcommon.StorageError{Message: "opening WAL for replay", Err: err}
	}
	defer file.Close()

	var ops []WALOperation
	var header [4]byte
	for {
		if _, err := io.ReadFull(file, header[:]); err != nil {
			break
		}
		length := binary.LittleEndian.Uint32(header[:])

		entryBuf := make([]byte, length)
		if _, err := io.ReadFull(file, entryBuf); err != nil {
			break // truncated tail entry; stop replay here
		}

		var entry walEntry
		if err := gob.NewDecoder(bytes.NewReader(entryBuf)).Decode(&entry); err != nil {
			continue // corrupt entry; skip and keep reading
		}

		var opBuf bytes.Buffer
		if err := gob.NewEncoder(&opBuf).Encode(&entry.Operation); err != nil {
			continue
		}
		if crc32.ChecksumIEEE(opBuf.Bytes()) != entry.Checksum {
			continue
		}

		ops = append(ops, entry.Operation)
	}

	return ops, nil
}

// Truncate clears the log after a successful checkpoint, writing the
// empty file atomically via renameio so a crash mid-truncate can never
// leave a half-written log.
func (w *WAL) Truncate() error {
	if err := w.file.Close(); err != nil {
		return &vdbcommon.StorageError{Message: "closing WAL before truncate", Err: err}
	}
	if err := renameio.WriteFile(w.path, nil, 0o644); err != nil {
		return &vdbcommon.StorageError{Message: "truncating WAL", Err: err}
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return &vdbcommon.StorageError{Message: "reopening WAL after truncate", Err: err}
	}
	w.file = file
	return nil
}

// Sync fsyncs the log file. Every Append already fsyncs before returning,
// so this exists for the caller-facing symmetry spec.md's sync() draws
// between "fsync the WAL" and "fsync every collection's data file" rather
// than because an Append can leave unsynced bytes behind.
func (w *WAL) Sync() error {
	if err := w.file.Sync(); err != nil {
		return &vdbcommon.StorageError{Message: "syncing WAL", Err: err}
	}
	return nil
}

// Size returns the WAL file's current byte size.
func (w *WAL) Size() (int64, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return 0, &vdbcommon.StorageError{Message: "statting WAL", Err: err}
	}
	return info.Size(), nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	return w.file.Close()
}

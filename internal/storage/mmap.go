package storage

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/blevesearch/mmap-go"

	"github.com/Aman-CERP/vecdb/internal/vdbcommon"
)

const (
	initialMmapSize = 1024 * 1024 // 1MiB
	growthFactor    = 2
)

// AppendStorage is a memory-mapped, append-only byte log. Every record is
// written as a 4-byte little-endian length prefix followed by the record
// bytes, so the whole file can be replayed by iterating from offset 0. A
// single mutex serializes append/grow/sync/read: none of these operations
// are frequent enough on their own to need finer-grained locking, and
// growing the file invalidates the mapping out from under any concurrent
// reader.
type AppendStorage struct {
	mu       sync.Mutex
	file     *os.File
	mapping  mmap.MMap
	size     int64
	position int64
}

// OpenAppendStorage opens or creates the file at path, mapping it into
// memory. A brand-new file is pre-sized to initialMmapSize. The write
// position is not taken from the file's size, since position — not file
// size — marks the logical end of written data: it is recovered by
// recoverPosition, which scans the length-prefixed records from offset 0.
func OpenAppendStorage(path string) (*AppendStorage, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &vdbcommon.StorageError{Message: "opening storage file", Err: err}
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, &vdbcommon.StorageError{Message: "statting storage file", Err: err}
	}

	size := info.Size()
	if size == 0 {
		size = initialMmapSize
		if err := file.Truncate(size); err != nil {
			_ = file.Close()
			return nil, &vdbcommon.StorageError{Message: "sizing storage file", Err: err}
		}
	}

	mapping, err := mmap.MapRegion(file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		_ = file.Close()
		return nil, &vdbcommon.StorageError{Message: "mapping storage file", Err: err}
	}

	s := &AppendStorage{file: file, mapping: mapping, size: size}
	s.position = s.recoverPosition()
	return s, nil
}

// recoverPosition finds the logical end of written data in a reopened
// file. The file is always pre-grown to a round size with zero bytes, so
// the first record whose length prefix reads as 0 marks the unwritten
// tail — every record framed by AppendRecord gob-encodes a non-empty
// struct, so a real record length is never 0.
func (s *AppendStorage) recoverPosition() int64 {
	pos := int64(0)
	for pos+4 <= s.size {
		length := binary.LittleEndian.Uint32(s.mapping[pos : pos+4])
		if length == 0 {
			break
		}
		next := pos + 4 + int64(length)
		if next > s.size {
			break
		}
		pos = next
	}
	return pos
}

// Append writes data at the current position, growing the file first if it
// doesn't fit. It returns the offset the data was written at.
func (s *AppendStorage) Append(data []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needed := s.position + int64(len(data))
	if needed > s.size {
		if err := s.growLocked(needed * growthFactor); err != nil {
			return 0, err
		}
	}

	offset := s.position
	copy(s.mapping[offset:offset+int64(len(data))], data)
	s.position += int64(len(data))
	return offset, nil
}

// AppendRecord writes data framed with its own length prefix, the unit the
// WAL and per-collection files are replayed in.
func (s *AppendStorage) AppendRecord(data []byte) (int64, error) {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(data)))

	s.mu.Lock()
	defer s.mu.Unlock()

	needed := s.position + int64(len(header)) + int64(len(data))
	if needed > s.size {
		if err := s.growLocked(needed * growthFactor); err != nil {
			return 0, err
		}
	}

	offset := s.position
	copy(s.mapping[offset:offset+4], header[:])
	copy(s.mapping[offset+4:offset+4+int64(len(data))], data)
	s.position += 4 + int64(len(data))
	return offset, nil
}

// Read returns a copy of length bytes starting at offset.
func (s *AppendStorage) Read(offset int64, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset+int64(length) > s.size {
		return nil, &vdbcommon.StorageError{Message: "read beyond storage boundary"}
	}
	out := make([]byte, length)
	copy(out, s.mapping[offset:offset+int64(length)])
	return out, nil
}

// ReadRecord reads a single length-prefixed record written by
// AppendRecord, returning the record bytes and the offset immediately
// after it.
func (s *AppendStorage) ReadRecord(offset int64) (data []byte, next int64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset+4 > s.position {
		return nil, offset, false, nil
	}
	length := binary.LittleEndian.Uint32(s.mapping[offset : offset+4])
	recordEnd := offset + 4 + int64(length)
	if recordEnd > s.position {
		return nil, offset, false, nil
	}
	out := make([]byte, length)
	copy(out, s.mapping[offset+4:recordEnd])
	return out, recordEnd, true, nil
}

// Position returns the current logical write offset.
func (s *AppendStorage) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Size returns the current backing file size (which may exceed Position).
func (s *AppendStorage) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Sync flushes the mapping and the underlying file to disk.
func (s *AppendStorage) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mapping.Flush(); err != nil {
		return &vdbcommon.StorageError{Message: "flushing mapping", Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &vdbcommon.StorageError{Message: "syncing storage file", Err: err}
	}
	return nil
}

// Close unmaps and closes the backing file.
func (s *AppendStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mapping.Unmap(); err != nil {
		return &vdbcommon.StorageError{Message: "unmapping storage file", Err: err}
	}
	return s.file.Close()
}

// growLocked resizes the file and remaps it. Callers must hold s.mu.
func (s *AppendStorage) growLocked(newSize int64) error {
	if err := s.mapping.Unmap(); err != nil {
		return &vdbcommon.StorageError{Message: "unmapping before grow", Err: err}
	}
	if err := s.file.Truncate(newSize); err != nil {
		return &vdbcommon.StorageError{Message: "growing storage file", Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &vdbcommon.StorageError{Message: "syncing storage file after grow", Err: err}
	}
	mapping, err := mmap.MapRegion(s.file, int(newSize), mmap.RDWR, 0, 0)
	if err != nil {
		return &vdbcommon.StorageError{Message: "remapping storage file", Err: err}
	}
	s.mapping = mapping
	s.size = newSize
	return nil
}

// ForEachRecord iterates every length-prefixed record from offset 0 up to
// the current write position, stopping early if fn returns an error.
func (s *AppendStorage) ForEachRecord(fn func(offset int64, data []byte) error) error {
	offset := int64(0)
	for {
		data, next, ok, err := s.ReadRecord(offset)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(offset, data); err != nil {
			return err
		}
		offset = next
	}
}

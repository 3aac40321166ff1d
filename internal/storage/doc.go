// Package storage implements the durable substrate beneath the vector
// store: a write-ahead log for crash-safe mutation ordering, memory-mapped
// append-only files for vector and index bytes, and a recovery manager
// that replays the WAL against on-disk collection state after a restart.
package storage

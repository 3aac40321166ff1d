// Package vlog provides structured, file-based logging with rotation for
// the storage engine and vector store. When no logger is supplied, those
// call Setup with DefaultConfig for a rotating JSON file sink (falling back
// to slog.Default if that fails); a caller embedding the core can route its
// own slog.Logger in instead.
package vlog

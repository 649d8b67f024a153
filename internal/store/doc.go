// Package store implements the atomic file-backed state store.
//
// Every higher-level feature persists JSON documents through this package.
// Access is serialized per key by a FIFO queue so concurrent read-modify-
// write cycles against the same document never interleave; the wait for a
// queue slot is bounded and fails with ErrLockTimeout instead of
// deadlocking. Documents that fail to parse are treated as absent rather
// than fatal. Writes go through a temp file and rename so a crash
// mid-write cannot corrupt the previous version.
package store

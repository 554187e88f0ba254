// Package core defines the FIM event model of the harvester.
//
// # Overview
//
// Change notifications reach the harvester in three wire shapes:
//   - Delta: an incremental change record produced by a live scanner
//   - SyncMsg: a synchronization message (full state, integrity clear, integrity check)
//   - ControlMessage: a loosely typed JSON command (delete agent, delete element, ...)
//
// RawEvent wraps exactly one of them. NewFimContext classifies the RawEvent once into
// an Operation, an AffectedComponentType and an OriginTable, and the resulting
// FimContext exposes every field through accessors that return empty values when the
// upstream field is absent. Derived fields (sanitized path, hashed path, registry key,
// ISO-8601 mtime) are computed lazily and at most once per context.
//
// # Errors
//
// Classification failures are returned as *ClassificationError (errors.Is
// ErrClassification). An integrity clear for a component this harvester does not
// track is not an error: the context is returned unclassified and Classified reports
// false.
//
// # Concurrency
//
// A FimContext belongs to the task processing its event. Derived fields are guarded by
// sync.Once, so concurrent reads observe the same value.
package core

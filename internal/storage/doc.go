// Package storage defines the contract between backends and the storage
// engines that hold their entries.
//
// # Overview
//
// An Engine stores entries keyed by DN, iterates them by base DN and scope,
// and declares which attribute indexes it maintains. Physical layout is the
// engine's business; two implementations ship with the server:
//
//   - storage/memory: entries in maps, indexes as roaring bitmaps
//   - storage/badgerdb: entries and posting lists in BadgerDB
//
// Engines that keep indexes also implement Indexer, which turns a filter
// into a candidate set and rebuilds or verifies the indexes. Engines that
// can stream a consistent copy of themselves implement Snapshotter.
//
// # Index Keys
//
// Both engines derive index keys the same way (see IndexKeys):
//
//   - equality: the lower-cased value
//   - presence: a single empty key per attribute
//   - substring: lower-cased 3-grams of the value
//   - ordering: the lower-cased value, compared bytewise
//   - approximate: the value with case and whitespace folded
//
// Candidate sets are supersets of the matching entries. Callers always
// re-evaluate the filter against each candidate.
package storage

// Package store implements the record store of a collection: the mapping from a
// record id to its vector, metadata and tombstone state.
//
// Every record occupies a uint32 slot. The slot doubles as the node id of the
// collection's HNSW graph, so a record and its graph node are always addressed
// by the same number. Slots freed by compaction are reused smallest first.
//
// The store is not safe for concurrent mutation. A collection serializes writers
// with its write lock and appends every mutation to the write-ahead log before
// calling into the store.
package store

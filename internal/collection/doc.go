// Package collection implements a single vector collection: the record store,
// its HNSW index and, when persistence is on, the write-ahead log and
// snapshots that make it durable.
//
// Every mutation is appended to the WAL and synced before it touches memory.
// Queries take a read lock and never block each other; mutations and snapshot
// capture exclude each other per collection only.
package collection

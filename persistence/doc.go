// Package persistence provides the little-endian binary primitives and CRC32
// checksumming shared by the record store, the HNSW graph and snapshot files.
//
// Writer and Reader carry a sticky error: after the first failure every call is
// a no-op and Err reports the original cause, so encoders can be written as a
// straight sequence of calls with a single check at the end.
//
// Reader enforces upper bounds on length prefixes. A corrupt prefix surfaces as
// ErrCorrupt instead of an attempt to allocate gigabytes.
package persistence

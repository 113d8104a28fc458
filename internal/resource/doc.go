// Package resource bounds the resources consumed by a database.
//
// A Controller governs three things:
//
//   - Vector memory: bytes held by stored vectors, checked before a write is
//     accepted (fail-fast, never blocks).
//   - Background jobs: snapshots and compactions share a weighted semaphore.
//   - Background IO: snapshot and archive traffic goes through a token bucket
//     so that foreground writes keep their disk bandwidth.
//
// A nil *Controller imposes no limits.
package resource

// Package wal implements the per-collection write-ahead log.
//
// Every mutation of a collection is appended here, and made durable with
// fdatasync, before it is applied in memory. Entries carry a gapless sequence
// number, so replay order always equals application order.
//
// # File format
//
//	header: magic "VDBWAL\x00\x01" | version u16 | flags u16 | base seq u64 | crc32 u32
//	frame:  crc32 u32 | kind u8 | seq u64 | timestamp i64 | len u32 | payload
//
// The frame checksum covers everything after the checksum field. The base
// sequence is the sequence number the log continues from; it advances when
// entries covered by a snapshot are truncated away.
//
// # Recovery
//
// Open scans the log and stops at the first torn frame, checksum mismatch or
// sequence gap. Everything from that point on is cut off, and the returned
// Report carries the reason wrapped in ErrCorrupt so the caller can warn the
// operator. Startup is never refused because of a damaged tail.
//
// # Append failures
//
// A failed write or sync rolls the file back to its pre-append size and is
// retried with exponential backoff. The sequence number is only consumed once an
// append is durable.
package wal

// Package snapshot persists point-in-time images of a collection.
//
// A snapshot file is named snapshot-<seq>.snap, where seq is the last WAL
// sequence number reflected in the image. The body is opaque to this package;
// it is optionally compressed with LZ4 or Zstandard and protected by a CRC32.
//
//	header: magic "VDBSNAP\x01" | version u16 | compression u8 | reserved u8 |
//	        seq u64 | raw length u64 | body length u64 | crc32(body) u32
//
// Files are written to a temporary sibling and renamed into place, so a crash
// never leaves a torn snapshot behind. Older snapshots are garbage collected
// once a newer one is durable.
package snapshot

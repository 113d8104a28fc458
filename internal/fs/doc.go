// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: filesystem operations (open, remove, rename, etc.)
//
// # Implementations
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that injects write, sync, close and rename failures
//
// # Durability helpers
//
// [Datasync] flushes file data with fdatasync(2) on Linux and falls back to
// fsync elsewhere. [SyncDir] persists directory entries after a rename.
// [WriteFileAtomic] combines both into the temp-file-then-rename publish used for
// snapshots and collection manifests.
//
// This package intentionally does NOT include context.Context parameters.
// Local filesystem calls are not interruptible at the syscall level; remote
// storage goes through the blobstore package, which is context aware.
package fs

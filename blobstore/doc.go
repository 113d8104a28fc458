// Package blobstore abstracts the remote storage that collection snapshots are
// archived to.
//
// A Store holds immutable named blobs. Names use forward slashes; the first
// path element is the collection name:
//
//	<collection>/collection.json
//	<collection>/snapshot-<seq>.snap
//	<collection>/LATEST
//
// LATEST holds the file name of the newest complete snapshot and is written
// last, so a reader that follows it never sees a partially uploaded archive.
//
// # Implementations
//
//   - LocalStore: a directory on the local file system
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 (s3.CommitStore adds DynamoDB-guarded LATEST updates)
//   - minio.Store: MinIO and other S3-compatible services
package blobstore

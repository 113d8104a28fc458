// Package s3 implements blobstore.Store on Amazon S3.
//
// Uploads go through the SDK's multipart upload manager. CommitStore adds
// DynamoDB conditional writes for LATEST pointers, so that two writers racing
// on the same collection archive cannot silently overwrite each other.
package s3

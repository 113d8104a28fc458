// Package minio implements blobstore.Store for MinIO and other S3-compatible
// object stores.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//		Secure: false,
//	})
//	store := vminio.NewStore(client, "vecdb", "archive/")
package minio

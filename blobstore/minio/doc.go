// Package minio provides a blobstore.BlobStore backed by MinIO or any other
// S3-compatible object storage reachable through the MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	store := minioblob.NewStore(client, "chunks", "team-a/")
//
// NewFromURL builds the same from a minio:// URL, which is how the remote
// chunk source is configured from files and environment variables.
package minio

// Package s3 provides an S3 implementation of blobstore.BlobStore, used as
// the remote source chunks are fetched from and published to.
//
//	store, err := s3.New(ctx, "chunk-bucket",
//	    s3.WithPrefix("chunks/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// Blobs are read with ranged GetObject requests, so wrapping the store in
// blobstore.CachingStore turns repeated section reads into cache hits.
// Writes stream through the SDK multipart uploader.
package s3

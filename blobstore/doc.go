// Package blobstore provides the storage abstraction behind chunk files.
//
// Chunks are immutable once published, so a blob is opened read-only and read
// by offset. The same interface serves three roles:
//
//   - the local chunk cache (LocalStore, mmap backed),
//   - remote chunk sources the locator downloads from (s3.Store, minio.Store),
//   - tests (MemoryStore).
//
// CachingStore adds a block cache in front of any store; it is meant for
// remote stores where chunks are probed in place instead of downloaded.
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Blob reads take a context so that remote range requests observe
// cancellation of a discovery request.
package blobstore

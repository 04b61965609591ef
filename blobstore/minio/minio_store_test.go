package minio

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkidx/blobstore"
)

func TestNewFromURL(t *testing.T) {
	s, err := NewFromURL("minio://ak:sk@localhost:9000/chunks/team/a?secure=false")
	require.NoError(t, err)
	assert.Equal(t, "chunks", s.bucket)
	assert.Equal(t, "team/a", s.prefix)
	assert.Equal(t, "team/a/chunk-00001.sidx", s.key("chunk-00001.sidx"))

	_, err = NewFromURL("s3://bucket")
	assert.Error(t, err)

	_, err = NewFromURL("minio://localhost:9000/")
	assert.Error(t, err)

	_, err = NewFromURL("minio://localhost:9000/b?secure=maybe")
	assert.Error(t, err)
}

func TestStore_KeyWithoutPrefix(t *testing.T) {
	s := NewStore(nil, "b", "/")
	assert.Equal(t, "x", s.key("x"))
}

// TestMinioStore_Integration requires a running MinIO instance.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err = client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	bucket := "test-chunkidx"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")

	data := []byte("hello minio chunk")
	require.NoError(t, store.Put(ctx, "chunk-00001.sidx", data))

	blob, err := store.Open(ctx, "chunk-00001.sidx")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, len(data))
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	require.Equal(t, data, buf[:n])

	rc, err := blob.ReadRange(ctx, 6, 5)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(got))

	w, err := store.Create(ctx, "chunk-00002.sidx")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-00001.sidx", "chunk-00002.sidx"}, names)

	require.NoError(t, store.Delete(ctx, "chunk-00001.sidx"))
	require.NoError(t, store.Delete(ctx, "chunk-00002.sidx"))
	_, err = store.Open(ctx, "chunk-00001.sidx")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

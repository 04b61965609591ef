package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/chunkidx/internal/cache"
)

// DefaultBlockSize is the cache block size used when none is given.
const DefaultBlockSize = 64 << 10

// CachingStore wraps a (usually remote) BlobStore and caches reads in
// fixed-size blocks. Chunk blobs are immutable, so blocks never go stale
// unless the blob is rewritten through this store.
type CachingStore struct {
	inner     BlobStore
	cache     cache.BlockCache
	blockSize int64
	fills     singleflight.Group
}

// NewCachingStore creates a new CachingStore.
// blockSize defaults to DefaultBlockSize if <= 0.
func NewCachingStore(inner BlobStore, c cache.BlockCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}
}

// Open opens a blob whose reads go through the block cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{store: s, inner: b, name: name}, nil
}

// Create passes through; writes are not cached.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.cache.Invalidate(cache.ForPath(name))
	return s.inner.Create(ctx, name)
}

// Put writes through and drops cached blocks of name.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Invalidate(cache.ForPath(name))
	return s.inner.Put(ctx, name, data)
}

// Delete removes the blob and its cached blocks.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Invalidate(cache.ForPath(name))
	return s.inner.Delete(ctx, name)
}

// List passes through.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type cachingBlob struct {
	store *CachingStore
	inner Blob
	name  string
}

func (b *cachingBlob) Close() error { return b.inner.Close() }

func (b *cachingBlob) Size() int64 { return b.inner.Size() }

func (b *cachingBlob) key(blk int64) cache.Key {
	return cache.Key{Kind: cache.KindBlob, Path: b.name, Offset: uint64(blk)}
}

// ReadAt fills missing blocks of the requested range, then copies from the cache.
func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), size)

	bs := b.store.blockSize
	first, last := off/bs, (end-1)/bs

	blocks, err := b.blocks(ctx, first, last)
	if err != nil {
		return 0, err
	}

	n := 0
	for i, data := range blocks {
		blkStart := (first + int64(i)) * bs
		lo := max(off, blkStart) - blkStart
		if lo >= int64(len(data)) {
			break
		}
		n += copy(p[n:], data[lo:])
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// blocks returns the blocks first..last, loading contiguous runs of missing
// blocks with one backend read each.
func (b *cachingBlob) blocks(ctx context.Context, first, last int64) ([][]byte, error) {
	out := make([][]byte, last-first+1)

	type run struct{ start, count int64 }
	var runs []run
	for blk := first; blk <= last; blk++ {
		if data, ok := b.store.cache.Get(ctx, b.key(blk)); ok {
			out[blk-first] = data
			continue
		}
		if len(runs) > 0 && runs[len(runs)-1].start+runs[len(runs)-1].count == blk {
			runs[len(runs)-1].count++
		} else {
			runs = append(runs, run{start: blk, count: 1})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, r := range runs {
		g.Go(func() error {
			loaded, err := b.fill(gctx, r.start, r.count)
			if err != nil {
				return err
			}
			for i, data := range loaded {
				out[r.start-first+int64(i)] = data
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fill reads a run of blocks from the inner blob. Concurrent fills of the
// same run share one backend read.
func (b *cachingBlob) fill(ctx context.Context, start, count int64) ([][]byte, error) {
	bs := b.store.blockSize
	flightKey := fmt.Sprintf("%s@%d+%d", b.name, start, count)

	v, err, _ := b.store.fills.Do(flightKey, func() (any, error) {
		byteStart := start * bs
		byteLen := min(count*bs, b.Size()-byteStart)
		if byteLen <= 0 {
			return [][]byte(nil), nil
		}

		buf := make([]byte, byteLen)
		n, err := b.inner.ReadAt(ctx, buf, byteStart)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		buf = buf[:n]

		blocks := make([][]byte, 0, count)
		for i := int64(0); i < count && i*bs < int64(len(buf)); i++ {
			// Copy so a cached block does not pin the whole run buffer.
			blk := append([]byte(nil), buf[i*bs:min((i+1)*bs, int64(len(buf)))]...)
			b.store.cache.Set(ctx, b.key(start+i), blk)
			blocks = append(blocks, blk)
		}
		return blocks, nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", b.name, err)
	}
	return v.([][]byte), nil
}

// ReadRange streams the range through the block cache.
func (b *cachingBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	return newSectionReader(ctx, b, off, length)
}

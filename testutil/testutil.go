package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/codec"
	"github.com/hupe1980/chunkidx/model"
)

// HashSize is the content hash width used by test chunks.
const HashSize = 32

// SymbolsIndex maps symbol names to the internal hash ids of files defining them.
var SymbolsIndex = chunk.NewIndexID("symbols", codec.String{}, codec.Uint32List{})

// SizesIndex maps file names to their sizes.
var SizesIndex = chunk.NewIndexID("sizes", codec.String{}, codec.Uint64{})

// HashOf returns the test content hash of s.
func HashOf(s string) []byte {
	sum := blake3.Sum256([]byte(s))
	return sum[:]
}

// Chunk describes a test chunk.
type Chunk struct {
	ID          model.ChunkID
	Files       []string
	Symbols     map[string][]uint32
	Sizes       map[string]uint64
	Compression chunkfile.Compression
}

func (c Chunk) writer(tb testing.TB) *chunkfile.Writer {
	tb.Helper()

	hashSize := HashSize
	if len(c.Files) == 0 {
		hashSize = 0
	}
	w := chunkfile.NewWriter(c.ID, hashSize)
	w.SetHashCompression(c.Compression)
	for i, f := range c.Files {
		require.NoError(tb, w.AddHash(HashOf(f), model.InternalHashID(i+1)))
	}

	if c.Symbols != nil {
		idx, err := w.AddIndex(SymbolsIndex.Name(), codec.String{}.Name(), codec.Uint32List{}.Name(), c.Compression)
		require.NoError(tb, err)
		for name, ids := range c.Symbols {
			v, err := codec.Uint32List{}.Append(nil, ids)
			require.NoError(tb, err)
			require.NoError(tb, idx.Put([]byte(name), v))
		}
	}
	if c.Sizes != nil {
		idx, err := w.AddIndex(SizesIndex.Name(), codec.String{}.Name(), codec.Uint64{}.Name(), c.Compression)
		require.NoError(tb, err)
		for name, size := range c.Sizes {
			v, _ := codec.Uint64{}.Append(nil, size)
			require.NoError(tb, idx.Put([]byte(name), v))
		}
	}
	return w
}

// Bytes encodes the chunk.
func (c Chunk) Bytes(tb testing.TB) ([]byte, chunkfile.Digest) {
	tb.Helper()
	data, d, err := c.writer(tb).Bytes()
	require.NoError(tb, err)
	return data, d
}

// Write stores the chunk under its canonical file name.
func (c Chunk) Write(tb testing.TB, store blobstore.BlobStore) chunkfile.Digest {
	tb.Helper()
	d, _, err := c.writer(tb).WriteBlob(context.Background(), store, chunkfile.FileName(c.ID))
	require.NoError(tb, err)
	return d
}

// Handle opens the chunk from memory. The caller owns the returned reference.
func (c Chunk) Handle(tb testing.TB, opts ...chunk.Option) *chunk.Handle {
	tb.Helper()
	store := blobstore.NewMemoryStore()
	c.Write(tb, store)
	b, err := store.Open(context.Background(), chunkfile.FileName(c.ID))
	require.NoError(tb, err)
	h, err := chunk.Open(context.Background(), b, opts...)
	require.NoError(tb, err)
	return h
}

// Corrupt encodes the chunk and flips the first stored byte of section.
// The header and section table stay valid, so the damage only shows when
// the section is loaded.
func (c Chunk) Corrupt(tb testing.TB, section string) []byte {
	tb.Helper()
	data, _ := c.Bytes(tb)

	r, err := chunkfile.Open(context.Background(), blobstore.NewBytesBlob(data))
	require.NoError(tb, err)
	info, ok := r.Section(section)
	require.True(tb, ok, "chunk has no section %q", section)
	require.NoError(tb, r.Close())

	data[info.Offset] ^= 0xFF
	return data
}

// OpenBytes opens an encoded chunk from memory.
func OpenBytes(tb testing.TB, data []byte, opts ...chunk.Option) *chunk.Handle {
	tb.Helper()
	h, err := chunk.Open(context.Background(), blobstore.NewBytesBlob(data), opts...)
	require.NoError(tb, err)
	return h
}

// RecordingObserver collects section failures.
type RecordingObserver struct {
	mu     sync.Mutex
	Events []ObservedFailure
}

// ObservedFailure is one recorded section failure.
type ObservedFailure struct {
	Chunk model.ChunkID
	Kind  string
	Err   error
}

// SectionFailed implements chunk.Observer.
func (o *RecordingObserver) SectionFailed(id model.ChunkID, kind string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Events = append(o.Events, ObservedFailure{Chunk: id, Kind: kind, Err: err})
}

// Failures returns a copy of the recorded failures.
func (o *RecordingObserver) Failures() []ObservedFailure {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ObservedFailure(nil), o.Events...)
}

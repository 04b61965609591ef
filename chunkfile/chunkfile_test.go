package chunkfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/internal/hash"
	"github.com/hupe1980/chunkidx/model"
)

func hashOf(s string) []byte {
	sum := blake3.Sum256([]byte(s))
	return sum[:]
}

func buildSample(t *testing.T, c Compression) []byte {
	t.Helper()
	w := NewWriter(7, 32)
	w.SetHashCompression(c)
	for i := 1; i <= 50; i++ {
		require.NoError(t, w.AddHash(hashOf(fmt.Sprint("file-", i)), model.InternalHashID(i)))
	}

	idx, err := w.AddIndex("symbols", "string", "uint32", c)
	require.NoError(t, err)
	for i := range 200 {
		require.NoError(t, idx.Put([]byte(fmt.Sprintf("sym-%04d", i)), binary.BigEndian.AppendUint32(nil, uint32(i))))
	}

	_, err = w.AddIndex("empty", "string", "bytes", c)
	require.NoError(t, err)

	data, digest, err := w.Bytes()
	require.NoError(t, err)
	assert.Equal(t, Digest(blake3.Sum256(data)), digest)
	return data
}

func openBytes(t *testing.T, data []byte) *Reader {
	t.Helper()
	store := blobstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "c", data))
	b, err := store.Open(ctx, "c")
	require.NoError(t, err)
	r, err := Open(ctx, b)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			ctx := context.Background()
			r := openBytes(t, buildSample(t, c))

			assert.Equal(t, model.ChunkID(7), r.ChunkID())
			assert.Equal(t, 32, r.HashSize())
			assert.Equal(t, []string{"empty", "symbols"}, r.Indexes())

			ht, err := r.HashTable(ctx)
			require.NoError(t, err)
			require.Equal(t, 50, ht.Len())
			id, ok := ht.Lookup(hashOf("file-17"))
			require.True(t, ok)
			assert.Equal(t, model.InternalHashID(17), id)
			_, ok = ht.Lookup(hashOf("missing"))
			assert.False(t, ok)
			_, ok = ht.Lookup([]byte("short"))
			assert.False(t, ok)

			idx, err := r.Index(ctx, "symbols")
			require.NoError(t, err)
			assert.Equal(t, 200, idx.Len())
			v, ok := idx.Get([]byte("sym-0123"))
			require.True(t, ok)
			assert.Equal(t, uint32(123), binary.BigEndian.Uint32(v))
			_, ok = idx.Get([]byte("sym-9999"))
			assert.False(t, ok)

			var visited int
			idx.ForEach(func(k, _ []byte) bool {
				visited++
				return visited < 10
			})
			assert.Equal(t, 10, visited)

			empty, err := r.Index(ctx, "empty")
			require.NoError(t, err)
			assert.Equal(t, 0, empty.Len())

			_, err = r.Index(ctx, "absent")
			assert.ErrorIs(t, err, ErrInvalidChunk)
		})
	}
}

func TestCompressionShrinks(t *testing.T) {
	w := NewWriter(1, 0)
	idx, err := w.AddIndex("repetitive", "string", "bytes", CompressionZSTD)
	require.NoError(t, err)
	for i := range 500 {
		require.NoError(t, idx.Put([]byte(fmt.Sprintf("k%05d", i)), bytes.Repeat([]byte("abc"), 50)))
	}
	data, _, err := w.Bytes()
	require.NoError(t, err)

	r := openBytes(t, data)
	s, ok := r.Section("repetitive")
	require.True(t, ok)
	assert.Equal(t, CompressionZSTD, s.Compression)
	assert.Less(t, s.StoredLen, s.RawLen)

	ht, err := r.HashTable(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ht)
}

func TestWriterValidation(t *testing.T) {
	w := NewWriter(1, 4)
	require.Error(t, w.AddHash([]byte{1, 2, 3}, 1), "wrong width")
	require.Error(t, w.AddHash([]byte{1, 2, 3, 4}, 0), "reserved id")
	require.NoError(t, w.AddHash([]byte{1, 2, 3, 4}, 1))
	require.Error(t, w.AddHash([]byte{1, 2, 3, 4}, 2), "duplicate hash")
	require.Error(t, w.AddHash([]byte{1, 2, 3, 5}, 1), "duplicate id")

	_, err := w.AddIndex(HashSectionName, "", "", CompressionNone)
	require.Error(t, err)
	idx, err := w.AddIndex("a", "string", "string", CompressionNone)
	require.NoError(t, err)
	_, err = w.AddIndex("a", "string", "string", CompressionNone)
	require.Error(t, err)
	require.NoError(t, idx.Put([]byte("k"), nil))
	require.Error(t, idx.Put([]byte("k"), nil))

	require.Error(t, NewWriter(1, 0).AddHash([]byte{1}, 1), "no hash table")

	_, _, err = NewWriter(model.MaxChunkID+1, 0).Bytes()
	require.Error(t, err)
}

func TestOpenRejectsCorruption(t *testing.T) {
	ctx := context.Background()
	good := buildSample(t, CompressionNone)

	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}

	cases := map[string][]byte{
		"truncated header": good[:10],
		"bad magic": mutate(func(b []byte) []byte {
			b[0] ^= 0xFF
			return b
		}),
		"bad version": mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[4:], 99)
			return b
		}),
		"table crc": mutate(func(b []byte) []byte {
			b[HeaderSize+1] ^= 0xFF
			return b
		}),
		"table overruns file": mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[12:], uint32(len(b)))
			return b
		}),
		"truncated body": good[:len(good)-5],
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			require.NoError(t, store.Put(ctx, "c", data))
			b, err := store.Open(ctx, "c")
			require.NoError(t, err)
			_, err = Open(ctx, b)
			assert.ErrorIs(t, err, ErrInvalidChunk)
		})
	}
}

func TestSectionChecksumIsLazy(t *testing.T) {
	ctx := context.Background()
	data := buildSample(t, CompressionNone)

	r := openBytes(t, data)
	s, ok := r.Section("symbols")
	require.True(t, ok)

	corrupt := append([]byte(nil), data...)
	corrupt[s.Offset+3] ^= 0xFF

	r = openBytes(t, corrupt)
	// The header and table are intact, so Open succeeds and the damage only
	// surfaces when the section is loaded.
	_, err := r.Index(ctx, "symbols")
	assert.ErrorIs(t, err, ErrInvalidChunk)

	ht, err := r.HashTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, ht.Len())
}

func TestWriteBlobAndDigest(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewLocalStore(t.TempDir())

	w := NewWriter(3, 32)
	require.NoError(t, w.AddHash(hashOf("a"), 1))
	digest, size, err := w.WriteBlob(ctx, store, FileName(3))
	require.NoError(t, err)

	b, err := store.Open(ctx, FileName(3))
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, size, b.Size())

	got, err := DigestBlob(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	parsed, err := ParseDigest(digest.String())
	require.NoError(t, err)
	assert.Equal(t, digest, parsed)
	_, err = ParseDigest("abcd")
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "chunk-00042.sidx", FileName(42))

	id, ok := ParseFileName("chunk-00042.sidx")
	require.True(t, ok)
	assert.Equal(t, model.ChunkID(42), id)

	for _, bad := range []string{"chunk-.sidx", "chunk-42.bin", "other-42.sidx", "chunk-99999999.sidx", "chunk-x.sidx"} {
		_, ok := ParseFileName(bad)
		assert.False(t, ok, bad)
	}
}

// rewriteTable applies fn to every section descriptor and reseals the table.
func rewriteTable(t *testing.T, data []byte, fn func(s *SectionInfo)) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	h := decodeHeader(out)
	table := out[HeaderSize : HeaderSize+int(h.TableLen)]

	in := newPayloadBuffer(table)
	pb := newPayloadBuffer(nil)
	pb.writeUint16(in.readUint16())
	n := in.readUint32()
	pb.writeUint32(n)
	for range n {
		s := decodeSection(in)
		fn(&s)
		encodeSection(pb, s)
	}
	require.NoError(t, in.err)
	require.NoError(t, pb.err)
	require.Len(t, pb.buf, len(table))

	copy(table, pb.buf)
	h.TableCRC = hash.CRC32C(table)
	copy(out, encodeHeader(h))
	return out
}

func TestOpenRejectsImplausibleSections(t *testing.T) {
	ctx := context.Background()
	good := buildSample(t, CompressionNone)

	cases := map[string]func(s *SectionInfo){
		"record count exceeds body": func(s *SectionInfo) {
			if s.Name == "symbols" {
				s.Records = 0xFFFFFFFF
			}
		},
		"raw length at 4 GiB": func(s *SectionInfo) {
			if s.Name == "symbols" {
				s.RawLen = 1 << 32
			}
		},
	}

	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			data := rewriteTable(t, good, fn)
			store := blobstore.NewMemoryStore()
			require.NoError(t, store.Put(ctx, "c", data))
			b, err := store.Open(ctx, "c")
			require.NoError(t, err)
			_, err = Open(ctx, b)
			assert.ErrorIs(t, err, ErrInvalidChunk)
		})
	}
}

func TestParseIndexBoundsRecordCount(t *testing.T) {
	raw := []byte{1, 'a', 1, 'x', 1, 'b', 1, 'y'}

	idx, err := parseIndex(SectionInfo{Name: "ix", Records: 2}, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	_, err = parseIndex(SectionInfo{Name: "ix", Records: 0xFFFFFFFF}, raw)
	assert.ErrorIs(t, err, ErrInvalidChunk)
}

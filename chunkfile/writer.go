package chunkfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/internal/hash"
	"github.com/hupe1980/chunkidx/model"
)

// Writer assembles a chunk container in memory.
//
//	w := chunkfile.NewWriter(7, 32)
//	_ = w.AddHash(sum[:], 1)
//	idx, _ := w.AddIndex("symbols", "string", "uint32-list", chunkfile.CompressionZSTD)
//	_ = idx.Put([]byte("Foo"), encodedIDs)
//	digest, size, err := w.WriteTo(f)
type Writer struct {
	id       model.ChunkID
	hashSize int
	hashes   map[string]model.InternalHashID
	ids      map[model.InternalHashID]struct{}
	indexes  []*IndexBuilder
	names    map[string]struct{}
	hashComp Compression
}

// NewWriter creates a writer for chunk id. hashSize is the fixed width of
// content hashes; 0 means the chunk has no hash table.
func NewWriter(id model.ChunkID, hashSize int) *Writer {
	return &Writer{
		id:       id,
		hashSize: hashSize,
		hashes:   make(map[string]model.InternalHashID),
		ids:      make(map[model.InternalHashID]struct{}),
		names:    make(map[string]struct{}),
	}
}

// SetHashCompression sets the compression of the hash table section.
func (w *Writer) SetHashCompression(c Compression) {
	w.hashComp = c
}

// AddHash maps a content hash to its chunk-local id. Ids must be non-zero
// and unique, hashes must have the configured width and be unique.
func (w *Writer) AddHash(h []byte, id model.InternalHashID) error {
	if w.hashSize == 0 {
		return errors.New("chunkfile: writer has no hash table")
	}
	if len(h) != w.hashSize {
		return fmt.Errorf("chunkfile: hash width %d, want %d", len(h), w.hashSize)
	}
	if id == 0 {
		return errors.New("chunkfile: internal hash id 0 is reserved")
	}
	if _, dup := w.hashes[string(h)]; dup {
		return fmt.Errorf("chunkfile: duplicate hash %x", h)
	}
	if _, dup := w.ids[id]; dup {
		return fmt.Errorf("chunkfile: duplicate internal hash id %d", id)
	}
	w.hashes[string(h)] = id
	w.ids[id] = struct{}{}
	return nil
}

// IndexBuilder collects the records of one index section.
type IndexBuilder struct {
	info    SectionInfo
	records map[string][]byte
}

// AddIndex starts a new index section named after its index kind.
func (w *Writer) AddIndex(name, keyCodec, valueCodec string, c Compression) (*IndexBuilder, error) {
	if name == "" || name == HashSectionName {
		return nil, fmt.Errorf("chunkfile: invalid index name %q", name)
	}
	if _, dup := w.names[name]; dup {
		return nil, fmt.Errorf("chunkfile: duplicate index %q", name)
	}
	w.names[name] = struct{}{}
	b := &IndexBuilder{
		info: SectionInfo{
			Kind:        SectionIndex,
			Name:        name,
			KeyCodec:    keyCodec,
			ValueCodec:  valueCodec,
			Compression: c,
		},
		records: make(map[string][]byte),
	}
	w.indexes = append(w.indexes, b)
	return b, nil
}

// Put adds a record. Keys are unique within a section.
func (b *IndexBuilder) Put(key, value []byte) error {
	if _, dup := b.records[string(key)]; dup {
		return fmt.Errorf("chunkfile: index %q: duplicate key %q", b.info.Name, key)
	}
	b.records[string(key)] = append([]byte(nil), value...)
	return nil
}

// Len returns the number of records added so far.
func (b *IndexBuilder) Len() int {
	return len(b.records)
}

func (b *IndexBuilder) encode() []byte {
	keys := make([]string, 0, len(b.records))
	for k := range b.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		v := b.records[k]
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

func (w *Writer) encodeHashes() []byte {
	keys := make([]string, 0, len(w.hashes))
	for k := range w.hashes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := w.hashSize + 4
	buf := make([]byte, 0, len(keys)*rec)
	for _, k := range keys {
		buf = append(buf, k...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(w.hashes[k]))
	}
	return buf
}

// WriteTo encodes the container to out and returns its digest and size.
func (w *Writer) WriteTo(out io.Writer) (Digest, int64, error) {
	var digest Digest
	if !w.id.Valid() {
		return digest, 0, fmt.Errorf("chunkfile: chunk id %d out of range", w.id)
	}
	if w.hashSize > 65535 {
		return digest, 0, fmt.Errorf("chunkfile: hash width %d too large", w.hashSize)
	}

	type body struct {
		info   SectionInfo
		stored []byte
	}
	var bodies []body

	add := func(info SectionInfo, raw []byte, records int) error {
		stored, used, err := compress(raw, info.Compression)
		if err != nil {
			return fmt.Errorf("chunkfile: section %q: %w", info.Name, err)
		}
		info.Compression = used
		info.StoredLen = uint64(len(stored))
		info.RawLen = uint64(len(raw))
		info.Records = uint32(records)
		info.CRC = hash.CRC32C(stored)
		bodies = append(bodies, body{info: info, stored: stored})
		return nil
	}

	if w.hashSize > 0 {
		info := SectionInfo{Kind: SectionHash, Name: HashSectionName, Compression: w.hashComp}
		if err := add(info, w.encodeHashes(), len(w.hashes)); err != nil {
			return digest, 0, err
		}
	}
	for _, b := range w.indexes {
		if err := add(b.info, b.encode(), len(b.records)); err != nil {
			return digest, 0, err
		}
	}

	encodeTable := func() ([]byte, error) {
		pb := newPayloadBuffer(nil)
		pb.writeUint16(uint16(w.hashSize))
		pb.writeUint32(uint32(len(bodies)))
		for _, b := range bodies {
			encodeSection(pb, b.info)
		}
		return pb.buf, pb.err
	}

	// Offsets are fixed width, so the table length does not depend on them.
	table, err := encodeTable()
	if err != nil {
		return digest, 0, fmt.Errorf("chunkfile: encode table: %w", err)
	}
	off := uint64(HeaderSize + len(table))
	for i := range bodies {
		bodies[i].info.Offset = off
		off += bodies[i].info.StoredLen
	}
	if table, err = encodeTable(); err != nil {
		return digest, 0, fmt.Errorf("chunkfile: encode table: %w", err)
	}

	header := encodeHeader(Header{
		Magic:    Magic,
		Version:  Version,
		ChunkID:  w.id,
		TableLen: uint32(len(table)),
		TableCRC: hash.CRC32C(table),
	})

	h := blake3.New()
	mw := io.MultiWriter(out, h)

	var n int64
	write := func(p []byte) error {
		m, err := mw.Write(p)
		n += int64(m)
		return err
	}
	if err := write(header); err != nil {
		return digest, n, err
	}
	if err := write(table); err != nil {
		return digest, n, err
	}
	for _, b := range bodies {
		if err := write(b.stored); err != nil {
			return digest, n, err
		}
	}

	copy(digest[:], h.Sum(nil))
	return digest, n, nil
}

// Bytes encodes the container into memory.
func (w *Writer) Bytes() ([]byte, Digest, error) {
	var buf bytes.Buffer
	d, _, err := w.WriteTo(&buf)
	if err != nil {
		return nil, d, err
	}
	return buf.Bytes(), d, nil
}

// WriteBlob writes the container to store under name. The blob only becomes
// visible if the whole container was written.
func (w *Writer) WriteBlob(ctx context.Context, store blobstore.BlobStore, name string) (Digest, int64, error) {
	wb, err := store.Create(ctx, name)
	if err != nil {
		return Digest{}, 0, err
	}
	d, n, err := w.WriteTo(wb)
	if err != nil {
		_ = wb.Abort()
		return Digest{}, 0, err
	}
	if err := wb.Sync(); err != nil {
		_ = wb.Abort()
		return Digest{}, 0, err
	}
	if err := wb.Close(); err != nil {
		return Digest{}, 0, err
	}
	return d, n, nil
}

// DigestReader computes the digest of a container stream.
func DigestReader(r io.Reader) (Digest, int64, error) {
	var d Digest
	h := blake3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return d, n, err
	}
	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// DigestBlob computes the digest of a stored container.
func DigestBlob(ctx context.Context, b blobstore.Blob) (Digest, error) {
	if m, ok := b.(blobstore.Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			return Digest{}, err
		}
		return Digest(blake3.Sum256(data)), nil
	}
	if b.Size() == 0 {
		return Digest(blake3.Sum256(nil)), nil
	}
	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return Digest{}, err
	}
	defer rc.Close()
	d, _, err := DigestReader(rc)
	return d, err
}

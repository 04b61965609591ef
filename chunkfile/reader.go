package chunkfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/internal/hash"
	"github.com/hupe1980/chunkidx/model"
)

// Index offsets are stored as uint32, so raw sections stay below 4 GiB.
const maxRawLen = 1 << 32

// Reader gives read-only access to a chunk container. The header and section
// table are validated by Open; section bodies are loaded on demand.
// A Reader is safe for concurrent use.
type Reader struct {
	blob     blobstore.Blob
	header   Header
	hashSize int
	sections []SectionInfo
	byName   map[string]int
	hashIdx  int // -1 if absent
}

// Open validates the header and section table of b. The Reader takes
// ownership of b and closes it on Close, also when Open fails.
func Open(ctx context.Context, b blobstore.Blob) (*Reader, error) {
	r, err := open(ctx, b)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return r, nil
}

func open(ctx context.Context, b blobstore.Blob) (*Reader, error) {
	size := b.Size()
	if size < HeaderSize {
		return nil, invalidf("file too small (%d bytes)", size)
	}

	hb := make([]byte, HeaderSize)
	if err := readFull(ctx, b, hb, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := decodeHeader(hb)
	if h.Magic != Magic {
		return nil, invalidf("bad magic %#x", h.Magic)
	}
	if h.Version != Version {
		return nil, invalidf("unsupported version %d", h.Version)
	}
	if !h.ChunkID.Valid() {
		return nil, invalidf("chunk id %d out of range", h.ChunkID)
	}
	if h.TableLen > maxTableLen || int64(HeaderSize)+int64(h.TableLen) > size {
		return nil, invalidf("table length %d exceeds file", h.TableLen)
	}

	table := make([]byte, h.TableLen)
	if err := readFull(ctx, b, table, HeaderSize); err != nil {
		return nil, fmt.Errorf("read section table: %w", err)
	}
	if !hash.VerifyCRC32C(table, h.TableCRC) {
		return nil, invalidf("section table checksum mismatch")
	}

	pb := newPayloadBuffer(table)
	r := &Reader{
		blob:     b,
		header:   h,
		hashSize: int(pb.readUint16()),
		byName:   make(map[string]int),
		hashIdx:  -1,
	}
	n := pb.readUint32()
	if pb.err == nil && uint64(n) > uint64(pb.remaining()) {
		return nil, invalidf("section count %d exceeds table", n)
	}
	for i := range int(n) {
		s := decodeSection(pb)
		if pb.err != nil {
			break
		}
		if err := r.validateSection(s, size); err != nil {
			return nil, err
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, invalidf("duplicate section %q", s.Name)
		}
		r.byName[s.Name] = i
		if s.Kind == SectionHash {
			r.hashIdx = i
		}
		r.sections = append(r.sections, s)
	}
	if pb.err != nil {
		return nil, invalidf("truncated section table: %v", pb.err)
	}
	if pb.remaining() != 0 {
		return nil, invalidf("%d trailing bytes in section table", pb.remaining())
	}
	return r, nil
}

func (r *Reader) validateSection(s SectionInfo, size int64) error {
	switch s.Kind {
	case SectionHash:
		if r.hashIdx >= 0 {
			return invalidf("more than one hash table")
		}
		if r.hashSize == 0 {
			return invalidf("hash table without hash width")
		}
		if s.RawLen != uint64(s.Records)*uint64(r.hashSize+4) {
			return invalidf("hash table length %d does not match %d records", s.RawLen, s.Records)
		}
	case SectionIndex:
		if s.Name == "" || s.Name == HashSectionName {
			return invalidf("invalid index name %q", s.Name)
		}
		// every record carries at least two uvarint lengths
		if uint64(s.Records) > s.RawLen/2 {
			return invalidf("index %q: %d records do not fit %d bytes", s.Name, s.Records, s.RawLen)
		}
	default:
		return invalidf("section %q: unknown kind %d", s.Name, uint8(s.Kind))
	}
	if s.Compression > CompressionZSTD {
		return invalidf("section %q: unknown compression %d", s.Name, uint8(s.Compression))
	}
	if s.RawLen >= maxRawLen {
		return invalidf("section %q: raw length %d too large", s.Name, s.RawLen)
	}
	end := s.Offset + s.StoredLen
	if s.Offset < HeaderSize || end < s.Offset || end > uint64(size) {
		return invalidf("section %q: range [%d,%d) outside file of %d bytes", s.Name, s.Offset, end, size)
	}
	return nil
}

// readFull reads len(p) bytes at off or fails.
func readFull(ctx context.Context, b blobstore.Blob, p []byte, off int64) error {
	n, err := b.ReadAt(ctx, p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// Header returns the container header.
func (r *Reader) Header() Header { return r.header }

// ChunkID returns the chunk id recorded in the header.
func (r *Reader) ChunkID() model.ChunkID { return r.header.ChunkID }

// HashSize returns the width of content hashes, 0 if the chunk has none.
func (r *Reader) HashSize() int { return r.hashSize }

// Size returns the container size in bytes.
func (r *Reader) Size() int64 { return r.blob.Size() }

// Sections returns all sections in file order.
func (r *Reader) Sections() []SectionInfo {
	return append([]SectionInfo(nil), r.sections...)
}

// Section looks up a section by name.
func (r *Reader) Section(name string) (SectionInfo, bool) {
	i, ok := r.byName[name]
	if !ok {
		return SectionInfo{}, false
	}
	return r.sections[i], true
}

// Indexes returns the sorted names of all index sections.
func (r *Reader) Indexes() []string {
	var names []string
	for _, s := range r.sections {
		if s.Kind == SectionIndex {
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Close closes the underlying blob.
func (r *Reader) Close() error {
	return r.blob.Close()
}

// load reads, verifies and decompresses a section body.
func (r *Reader) load(ctx context.Context, s SectionInfo) ([]byte, error) {
	var stored []byte
	if m, ok := r.blob.(blobstore.Mappable); ok {
		data, err := m.Bytes()
		if err != nil {
			return nil, err
		}
		stored = data[s.Offset : s.Offset+s.StoredLen]
	} else {
		stored = make([]byte, s.StoredLen)
		if err := readFull(ctx, r.blob, stored, int64(s.Offset)); err != nil {
			return nil, fmt.Errorf("section %q: %w", s.Name, err)
		}
	}
	if !hash.VerifyCRC32C(stored, s.CRC) {
		return nil, invalidf("section %q: checksum mismatch", s.Name)
	}
	raw, err := decompress(stored, s.Compression, s.RawLen)
	if err != nil {
		return nil, fmt.Errorf("section %q: %w", s.Name, err)
	}
	return raw, nil
}

// HashTable loads the hash table. It returns (nil, nil) if the chunk has none.
func (r *Reader) HashTable(ctx context.Context) (*HashTable, error) {
	if r.hashIdx < 0 {
		return nil, nil
	}
	s := r.sections[r.hashIdx]
	raw, err := r.load(ctx, s)
	if err != nil {
		return nil, err
	}
	t := &HashTable{data: raw, width: r.hashSize, n: int(s.Records)}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Index loads an index section by name.
func (r *Reader) Index(ctx context.Context, name string) (*IndexSection, error) {
	s, ok := r.Section(name)
	if !ok || s.Kind != SectionIndex {
		return nil, fmt.Errorf("%w: no index section %q", ErrInvalidChunk, name)
	}
	raw, err := r.load(ctx, s)
	if err != nil {
		return nil, err
	}
	return parseIndex(s, raw)
}

// HashTable maps fixed-width content hashes to chunk-local ids.
type HashTable struct {
	data  []byte
	width int
	n     int
}

func (t *HashTable) record(i int) ([]byte, model.InternalHashID) {
	off := i * (t.width + 4)
	return t.data[off : off+t.width], model.InternalHashID(binary.LittleEndian.Uint32(t.data[off+t.width:]))
}

func (t *HashTable) validate() error {
	var prev []byte
	for i := range t.n {
		h, id := t.record(i)
		if id == 0 {
			return invalidf("hash table: reserved id 0 at record %d", i)
		}
		if prev != nil && bytes.Compare(prev, h) >= 0 {
			return invalidf("hash table: records not strictly sorted at %d", i)
		}
		prev = h
	}
	return nil
}

// Len returns the number of hashes.
func (t *HashTable) Len() int { return t.n }

// Width returns the hash width in bytes.
func (t *HashTable) Width() int { return t.width }

// Lookup binary searches for h.
func (t *HashTable) Lookup(h []byte) (model.InternalHashID, bool) {
	if len(h) != t.width {
		return 0, false
	}
	i := sort.Search(t.n, func(i int) bool {
		k, _ := t.record(i)
		return bytes.Compare(k, h) >= 0
	})
	if i == t.n {
		return 0, false
	}
	k, id := t.record(i)
	if !bytes.Equal(k, h) {
		return 0, false
	}
	return id, true
}

// ForEach visits all records in hash order until fn returns false.
func (t *HashTable) ForEach(fn func(h []byte, id model.InternalHashID) bool) {
	for i := range t.n {
		if !fn(t.record(i)) {
			return
		}
	}
}

// IndexSection is a decoded, sorted key/value section.
type IndexSection struct {
	info SectionInfo
	data []byte
	// [start, end) of the key and value of record i
	keys [][2]uint32
	vals [][2]uint32
}

func parseIndex(s SectionInfo, raw []byte) (*IndexSection, error) {
	if uint64(len(raw)) >= maxRawLen {
		return nil, invalidf("index %q: raw length %d too large", s.Name, len(raw))
	}
	n := min(int(s.Records), len(raw)/2)
	idx := &IndexSection{
		info: s,
		data: raw,
		keys: make([][2]uint32, 0, n),
		vals: make([][2]uint32, 0, n),
	}
	field := func(pos int) (int, int, error) {
		l, n := binary.Uvarint(raw[pos:])
		if n <= 0 {
			return 0, 0, invalidf("index %q: bad length at %d", s.Name, pos)
		}
		start := pos + n
		if l > uint64(len(raw)-start) {
			return 0, 0, invalidf("index %q: field at %d overruns section", s.Name, pos)
		}
		return start, start + int(l), nil
	}

	pos := 0
	var prev []byte
	for pos < len(raw) {
		ks, ke, err := field(pos)
		if err != nil {
			return nil, err
		}
		vs, ve, err := field(ke)
		if err != nil {
			return nil, err
		}
		key := raw[ks:ke]
		if prev != nil && bytes.Compare(prev, key) >= 0 {
			return nil, invalidf("index %q: keys not strictly sorted at record %d", s.Name, len(idx.keys))
		}
		prev = key
		idx.keys = append(idx.keys, [2]uint32{uint32(ks), uint32(ke)})
		idx.vals = append(idx.vals, [2]uint32{uint32(vs), uint32(ve)})
		pos = ve
	}
	if len(idx.keys) != int(s.Records) {
		return nil, invalidf("index %q: %d records, header says %d", s.Name, len(idx.keys), s.Records)
	}
	return idx, nil
}

// Info returns the section descriptor.
func (s *IndexSection) Info() SectionInfo { return s.info }

// Len returns the number of records.
func (s *IndexSection) Len() int { return len(s.keys) }

func (s *IndexSection) key(i int) []byte {
	k := s.keys[i]
	return s.data[k[0]:k[1]]
}

func (s *IndexSection) value(i int) []byte {
	v := s.vals[i]
	return s.data[v[0]:v[1]]
}

// Get returns the value stored under key. The result aliases section memory,
// which for memory-mapped blobs is only valid until the Reader is closed.
func (s *IndexSection) Get(key []byte) ([]byte, bool) {
	i := sort.Search(len(s.keys), func(i int) bool {
		return bytes.Compare(s.key(i), key) >= 0
	})
	if i == len(s.keys) || !bytes.Equal(s.key(i), key) {
		return nil, false
	}
	return s.value(i), true
}

// ForEach visits records in key order until fn returns false.
func (s *IndexSection) ForEach(fn func(key, value []byte) bool) {
	for i := range s.keys {
		if !fn(s.key(i), s.value(i)) {
			return
		}
	}
}

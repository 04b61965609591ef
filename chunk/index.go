package chunk

import (
	"fmt"

	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/codec"
	"github.com/hupe1980/chunkidx/model"
)

// IndexID names one index kind together with its key and value codecs.
// It selects a section by kind; it does not refer to a particular chunk.
type IndexID[K, V any] struct {
	name  string
	key   codec.Record[K]
	value codec.Record[V]
}

// NewIndexID creates an IndexID.
func NewIndexID[K, V any](name string, key codec.Record[K], value codec.Record[V]) IndexID[K, V] {
	return IndexID[K, V]{name: name, key: key, value: value}
}

// Name returns the index kind name.
func (id IndexID[K, V]) Name() string { return id.name }

// KeyCodec returns the key codec.
func (id IndexID[K, V]) KeyCodec() codec.Record[K] { return id.key }

// ValueCodec returns the value codec.
func (id IndexID[K, V]) ValueCodec() codec.Record[V] { return id.value }

func (id IndexID[K, V]) String() string {
	return fmt.Sprintf("%s(%s→%s)", id.name, id.key.Name(), id.value.Name())
}

// Index is a read-only typed view of one index section of one chunk.
type Index[K, V any] struct {
	id      IndexID[K, V]
	chunk   model.ChunkID
	section *chunkfile.IndexSection
}

// Chunk returns the chunk the section belongs to.
func (x *Index[K, V]) Chunk() model.ChunkID { return x.chunk }

// Name returns the index kind name.
func (x *Index[K, V]) Name() string { return x.id.name }

// Len returns the number of keys.
func (x *Index[K, V]) Len() int { return x.section.Len() }

// Get returns the value stored under key.
func (x *Index[K, V]) Get(key K) (V, bool, error) {
	var zero V
	k, err := x.id.key.Append(nil, key)
	if err != nil {
		return zero, false, fmt.Errorf("chunk %d: index %q: encode key: %w", x.chunk, x.id.name, err)
	}
	raw, ok := x.section.Get(k)
	if !ok {
		return zero, false, nil
	}
	v, err := x.id.value.Decode(raw)
	if err != nil {
		return zero, false, x.decodeErr("value", err)
	}
	return v, true, nil
}

// ForEach visits all records in key byte order until fn returns false.
// A record that fails to decode stops the iteration with an error.
func (x *Index[K, V]) ForEach(fn func(K, V) bool) error {
	var err error
	x.section.ForEach(func(kb, vb []byte) bool {
		var k K
		var v V
		if k, err = x.id.key.Decode(kb); err != nil {
			err = x.decodeErr("key", err)
			return false
		}
		if v, err = x.id.value.Decode(vb); err != nil {
			err = x.decodeErr("value", err)
			return false
		}
		return fn(k, v)
	})
	return err
}

func (x *Index[K, V]) decodeErr(what string, err error) error {
	return fmt.Errorf("chunk %d: index %q: decode %s: %w: %w", x.chunk, x.id.name, what, chunkfile.ErrInvalidChunk, err)
}

// OpenIndex returns the typed section of kind id in h. It opens the section
// on first use and reuses it afterwards. ok is false when the chunk does not
// provide the kind or stores it with other codecs, and when loading the
// section failed. Load failures are reported to the handle's Observer once
// and stay in effect; a codec mismatch is reported on every such call and
// leaves the section usable for callers with matching codecs.
func OpenIndex[K, V any](h *Handle, id IndexID[K, V]) (*Index[K, V], bool) {
	if h == nil {
		return nil, false
	}
	info, ok := h.reader.Section(id.name)
	if !ok || info.Kind != chunkfile.SectionIndex {
		return nil, false
	}
	if info.KeyCodec != id.key.Name() || info.ValueCodec != id.value.Name() {
		h.reportSection(id.name, fmt.Errorf("chunk %d: index %q: stored as %s→%s, requested %s→%s: %w",
			h.id, id.name, info.KeyCodec, info.ValueCodec, id.key.Name(), id.value.Name(), ErrCodecMismatch))
		return nil, false
	}

	s := h.slot(id.name)
	s.once.Do(func() {
		s.val, s.err = h.reader.Index(h.ctx(), id.name)
		if s.err != nil {
			s.err = h.storageErr(fmt.Sprintf("index %q", id.name), s.err)
			h.reportSection(id.name, s.err)
		}
	})
	if s.err != nil {
		return nil, false
	}
	return &Index[K, V]{id: id, chunk: h.id, section: s.val.(*chunkfile.IndexSection)}, true
}

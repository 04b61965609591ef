package codec

import (
	"encoding/binary"
	"fmt"
)

// Record is a typed codec for one key or value type of an index section.
//
// Encodings of keys must preserve equality: two equal keys always encode to
// the same bytes, since lookups compare encoded keys.
type Record[T any] interface {
	// Append encodes v and appends the result to dst.
	Append(dst []byte, v T) ([]byte, error)
	// Decode decodes a single record.
	Decode(b []byte) (T, error)
	// Name is the stable codec name stored in chunk section headers.
	Name() string
}

// String encodes strings as their raw UTF-8 bytes.
type String struct{}

func (String) Append(dst []byte, v string) ([]byte, error) { return append(dst, v...), nil }
func (String) Decode(b []byte) (string, error)              { return string(b), nil }
func (String) Name() string                                 { return "string" }

// Bytes stores byte slices verbatim. Decode copies.
type Bytes struct{}

func (Bytes) Append(dst []byte, v []byte) ([]byte, error) { return append(dst, v...), nil }
func (Bytes) Decode(b []byte) ([]byte, error)             { return append([]byte(nil), b...), nil }
func (Bytes) Name() string                                { return "bytes" }

// Uint32 encodes big-endian so that byte order matches numeric order.
type Uint32 struct{}

func (Uint32) Append(dst []byte, v uint32) ([]byte, error) {
	return binary.BigEndian.AppendUint32(dst, v), nil
}

func (Uint32) Decode(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("uint32 record: want 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func (Uint32) Name() string { return "uint32" }

// Uint64 encodes big-endian so that byte order matches numeric order.
type Uint64 struct{}

func (Uint64) Append(dst []byte, v uint64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(dst, v), nil
}

func (Uint64) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("uint64 record: want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func (Uint64) Name() string { return "uint64" }

// Uint32List encodes a list of ids (e.g. file or hash ids) as uvarint deltas
// of the ascending-sorted input. Decode returns the ids in ascending order.
type Uint32List struct{}

func (Uint32List) Append(dst []byte, v []uint32) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(v)))
	var prev uint32
	for i, x := range v {
		if i > 0 && x < prev {
			return nil, fmt.Errorf("uint32 list record: input not sorted at %d", i)
		}
		dst = binary.AppendUvarint(dst, uint64(x-prev))
		prev = x
	}
	return dst, nil
}

func (Uint32List) Decode(b []byte) ([]uint32, error) {
	n, k := binary.Uvarint(b)
	if k <= 0 {
		return nil, fmt.Errorf("uint32 list record: bad length")
	}
	if n > uint64(len(b)) {
		return nil, fmt.Errorf("uint32 list record: length %d exceeds record size", n)
	}
	b = b[k:]
	out := make([]uint32, 0, n)
	var prev uint64
	for i := uint64(0); i < n; i++ {
		d, k := binary.Uvarint(b)
		if k <= 0 {
			return nil, fmt.Errorf("uint32 list record: truncated at %d", i)
		}
		prev += d
		if prev > 0xFFFFFFFF {
			return nil, fmt.Errorf("uint32 list record: overflow at %d", i)
		}
		out = append(out, uint32(prev))
		b = b[k:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("uint32 list record: %d trailing bytes", len(b))
	}
	return out, nil
}

func (Uint32List) Name() string { return "uint32-list" }

// Structured encodes arbitrary values through a Codec (JSON by default).
type Structured[T any] struct {
	Codec Codec
}

func (s Structured[T]) codec() Codec {
	if s.Codec == nil {
		return Default
	}
	return s.Codec
}

func (s Structured[T]) Append(dst []byte, v T) ([]byte, error) {
	b, err := s.codec().Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(dst, b...), nil
}

func (s Structured[T]) Decode(b []byte) (T, error) {
	var v T
	err := s.codec().Unmarshal(b, &v)
	return v, err
}

// Name is "struct/<codec name>"; the codec name is part of the section contract.
func (s Structured[T]) Name() string { return "struct/" + s.codec().Name() }

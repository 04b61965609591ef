package chunkfile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/chunkidx/model"
)

const (
	// Magic identifies a chunk container ("SIDX").
	Magic uint32 = 0x53494458
	// Version is the container format version written by this package.
	Version uint32 = 1
	// HeaderSize is the size of the fixed header in bytes.
	HeaderSize = 24
	// Ext is the file extension of chunk containers.
	Ext = ".sidx"

	maxTableLen = 16 << 20
)

// ErrInvalidChunk is returned for structurally malformed containers.
var ErrInvalidChunk = errors.New("invalid chunk")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidChunk, fmt.Sprintf(format, args...))
}

// SectionKind distinguishes the hash table from index sections.
type SectionKind uint8

const (
	SectionHash  SectionKind = 1
	SectionIndex SectionKind = 2
)

func (k SectionKind) String() string {
	switch k {
	case SectionHash:
		return "hash"
	case SectionIndex:
		return "index"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Compression is the codec a section body is stored with.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses the names produced by Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// Header is the fixed-size container header.
type Header struct {
	Magic    uint32
	Version  uint32
	ChunkID  model.ChunkID
	TableLen uint32
	TableCRC uint32
}

// SectionInfo describes one section as recorded in the section table.
type SectionInfo struct {
	Kind        SectionKind
	Name        string
	KeyCodec    string
	ValueCodec  string
	Compression Compression
	Offset      uint64
	StoredLen   uint64
	RawLen      uint64
	Records     uint32
	CRC         uint32
}

// HashSectionName is the name of the hash table section.
const HashSectionName = "hashes"

// FileName returns the canonical cache file name of a chunk.
func FileName(id model.ChunkID) string {
	return fmt.Sprintf("chunk-%05d%s", uint32(id), Ext)
}

// ParseFileName extracts the chunk id from a canonical file name.
func ParseFileName(name string) (model.ChunkID, bool) {
	s, ok := strings.CutPrefix(name, "chunk-")
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, Ext)
	if !ok || s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	id := model.ChunkID(n)
	if !id.Valid() {
		return 0, false
	}
	return id, true
}

// Digest is the blake3-256 digest of a whole container file.
type Digest [32]byte

// String returns the lower-case hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler. The zero digest encodes
// as an empty string.
func (d Digest) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := ParseDigest(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest parses a hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest: %w", err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("parse digest: want %d bytes, got %d", len(d), len(b))
	}
	copy(d[:], b)
	return d, nil
}

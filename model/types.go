package model

import (
	"fmt"
	"strings"
)

// ChunkID identifies an attached chunk within a process lifetime.
type ChunkID uint32

// MaxChunkID is the largest chunk id that fits into a HashID.
const MaxChunkID ChunkID = 0xFFFF

// Valid reports whether the id can be encoded into a HashID.
func (id ChunkID) Valid() bool {
	return id <= MaxChunkID
}

// String returns a string representation of the ChunkID.
func (id ChunkID) String() string {
	return fmt.Sprintf("chunk-%d", uint32(id))
}

// InternalHashID is the chunk-local sequence number assigned to a content hash
// when the chunk was built. Zero is reserved.
type InternalHashID uint32

// HashID is a content hash id that is unique across all attached chunks.
type HashID uint64

// NullHashID denotes a content hash that is not present in any attached chunk.
const NullHashID HashID = 0

const (
	chunkShift = 32
	epochShift = 48
	chunkMask  = 0xFFFF
	// MaxEpoch is the largest attach epoch that fits into a HashID.
	MaxEpoch = 0x7FFF
)

// MakeHashID packs an internal id, its owning chunk and the chunk's attach epoch.
// The epoch is truncated to 15 bits.
func MakeHashID(internal InternalHashID, chunk ChunkID, epoch uint16) HashID {
	return HashID(uint64(internal) |
		uint64(chunk&chunkMask)<<chunkShift |
		uint64(epoch&MaxEpoch)<<epochShift)
}

// Decode splits the HashID into its internal id and chunk id.
func (h HashID) Decode() (InternalHashID, ChunkID) {
	return InternalHashID(uint32(h)), ChunkID((uint64(h) >> chunkShift) & chunkMask)
}

// Internal returns the chunk-local part of the HashID.
func (h HashID) Internal() InternalHashID {
	return InternalHashID(uint32(h))
}

// Chunk returns the owning chunk of the HashID.
func (h HashID) Chunk() ChunkID {
	return ChunkID((uint64(h) >> chunkShift) & chunkMask)
}

// Epoch returns the attach epoch the HashID was issued under.
func (h HashID) Epoch() uint16 {
	return uint16((uint64(h) >> epochShift) & MaxEpoch)
}

// IsNull reports whether h is NullHashID.
func (h HashID) IsNull() bool {
	return h == NullHashID || h.Internal() == 0
}

// String returns a string representation of the HashID.
func (h HashID) String() string {
	if h.IsNull() {
		return "HashID(null)"
	}
	return fmt.Sprintf("HashID(%d:%d@%d)", h.Chunk(), h.Internal(), h.Epoch())
}

// ProjectID identifies the project a discovery request is issued for.
type ProjectID string

// OrderEntry describes one dependency of a project (a library or a module).
// The chunk subsystem only relies on its identity key.
type OrderEntry struct {
	Kind    string `json:"kind" yaml:"kind"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Key returns the stable identity key of the entry ("kind:name:version").
func (e OrderEntry) Key() string {
	return e.Kind + ":" + e.Name + ":" + e.Version
}

// String returns a string representation of the OrderEntry.
func (e OrderEntry) String() string {
	return e.Key()
}

// ParseOrderEntry parses the "kind:name[:version]" form produced by Key.
func ParseOrderEntry(s string) (OrderEntry, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return OrderEntry{}, fmt.Errorf("invalid order entry %q: want kind:name[:version]", s)
	}
	e := OrderEntry{Kind: parts[0], Name: parts[1]}
	if len(parts) == 3 {
		e.Version = parts[2]
	}
	return e, nil
}

// Package model defines core types shared by the chunk subsystem.
//
// # Identity Types
//
//   - ChunkID: Identifier of an attached chunk (uint32, at most MaxChunkID)
//   - InternalHashID: Chunk-local content hash sequence number (uint32)
//   - HashID: Global content hash id packing (internal id, chunk id, epoch)
//
// # Discovery Types
//
//   - OrderEntry: Dependency descriptor used as input to chunk discovery
//   - ProjectID: Identity of the project a discovery request belongs to
//
// # HashID Layout
//
//	bit 63       always zero
//	bits 48..62  attach epoch of the owning chunk
//	bits 32..47  chunk id
//	bits 0..31   internal hash id (never zero)
//
// NullHashID (zero) means "not present in any attached chunk".
package model

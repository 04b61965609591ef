// Package chunkfile implements the on-disk chunk container.
//
// A container is a 24 byte header, a CRC32C protected section table and the
// section bodies:
//
//	Header (little endian)
//	  Magic     u32  "SIDX"
//	  Version   u32
//	  ChunkID   u32
//	  TableLen  u32
//	  TableCRC  u32
//	  Reserved  u32
//	Table
//	  HashSize  u16
//	  Count     u32
//	  Count × { Kind u8, Name, KeyCodec, ValueCodec str16,
//	            Compression u8, Offset, StoredLen, RawLen u64,
//	            Records u32, CRC u32 }
//	Bodies
//	  hash table: sorted (hash | u32 id) records
//	  index:      sorted (uvarint len | key | uvarint len | value) records
//
// Bodies may be compressed with LZ4 or zstd. The blake3 digest of the whole
// file identifies a chunk's content in catalogs.
//
// Structural problems are reported as errors wrapping ErrInvalidChunk; I/O
// problems are returned as they are.
package chunkfile

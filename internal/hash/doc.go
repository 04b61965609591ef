// Package hash provides the checksum used by the chunk container format.
//
// Every section of a chunk file and its section table carry a
// CRC32-Castagnoli (CRC32C) checksum. Go's crc32 package uses the SSE4.2 and
// ARM CRC instructions when available, so verifying a section on first open
// costs little compared to decompressing it.
//
//	checksum := hash.CRC32C(data)
//
//	h := hash.NewCRC32C()
//	h.Write(part1)
//	h.Write(part2)
//	checksum := h.Sum32()
package hash

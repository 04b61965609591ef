// Package mmap maps chunk files read-only into memory.
//
// Attached chunks are immutable, so a read-only shared mapping lets hash table
// probes and uncompressed sections be served without copying through kernel
// buffers.
//
//	m, err := mmap.Open("chunk-00000042.sidx")
//	if err != nil { ... }
//	defer m.Close()
//	data := m.Bytes()
//
// Unix uses mmap(2)/madvise(2); Windows uses CreateFileMapping/MapViewOfFile
// and ignores access hints.
//
// Close is idempotent. Callers must not touch slices returned by Bytes after
// Close returns; the chunk registry guarantees this by closing a chunk only
// when its last reader has released it.
package mmap

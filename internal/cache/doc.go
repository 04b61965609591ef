// Package cache provides in-memory LRU caching for immutable blocks.
//
// Blocks are fixed-size byte ranges of remote blobs, keyed by blob path and
// block index. Blobs are immutable once published, so entries only need to
// be dropped when a blob is rewritten or deleted.
//
// ShardedLRUBlockCache distributes keys over independently locked shards.
// Both caches can charge their bytes to a resource.Controller memory limit.
package cache

package cache

import (
	"context"
)

// Kind separates key spaces.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindBlob         // blocks of blobs read from a remote store
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Key identifies one immutable block of a blob.
type Key struct {
	Kind Kind
	Path string
	// Offset is the block index within the blob.
	Offset uint64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches a block. The cache retains b; callers must not modify it afterwards.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	Close() error
	Stats() Stats
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Rejected  int64 // Set calls that did not fit the capacity or memory limit
	Bytes     int64
	Entries   int
}

// HitRatio returns hits / (hits + misses), or 0 without traffic.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s Stats) add(o Stats) Stats {
	return Stats{
		Hits:      s.Hits + o.Hits,
		Misses:    s.Misses + o.Misses,
		Evictions: s.Evictions + o.Evictions,
		Rejected:  s.Rejected + o.Rejected,
		Bytes:     s.Bytes + o.Bytes,
		Entries:   s.Entries + o.Entries,
	}
}

// ForPath matches every blob block read from path.
func ForPath(path string) func(Key) bool {
	return func(k Key) bool { return k.Path == path }
}

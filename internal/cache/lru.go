package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/chunkidx/internal/resource"
)

// LRUBlockCache is a byte-capacity bounded LRU BlockCache.
type LRUBlockCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[Key]*list.Element
	order    *list.List // front = most recently used
	rc       *resource.Controller

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	rejected  atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRUBlockCache creates a new LRU cache with the given capacity in bytes.
// If rc is non-nil, cached bytes are also charged against its memory limit.
func NewLRUBlockCache(capacity int64, rc *resource.Controller) *LRUBlockCache {
	return &LRUBlockCache{
		capacity: capacity,
		items:    make(map[Key]*list.Element),
		order:    list.New(),
		rc:       rc,
	}
}

// Get returns a cached block.
func (c *LRUBlockCache) Get(_ context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.order.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// Set caches a block. Blocks larger than the capacity are rejected.
func (c *LRUBlockCache) Set(_ context.Context, key Key, b []byte) {
	n := int64(len(b))
	if n > c.capacity {
		c.rejected.Add(1)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Blocks are immutable, so an existing entry only needs a touch.
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return
	}

	// Evict locally first; this returns memory to rc before acquiring.
	for c.size+n > c.capacity {
		if !c.evictOldest() {
			break
		}
	}

	if !c.rc.TryAcquireMemory(n) {
		c.rejected.Add(1)
		return
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: b})
	c.size += n
}

// Invalidate removes entries matching the predicate.
func (c *LRUBlockCache) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if predicate(el.Value.(*entry).key) {
			c.remove(el)
		}
		el = next
	}
}

// Close drops every entry and returns its memory to the controller.
func (c *LRUBlockCache) Close() error {
	c.Invalidate(func(Key) bool { return true })
	return nil
}

// Stats returns the cache counters.
func (c *LRUBlockCache) Stats() Stats {
	c.mu.Lock()
	size, entries := c.size, len(c.items)
	c.mu.Unlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Rejected:  c.rejected.Load(),
		Bytes:     size,
		Entries:   entries,
	}
}

// Size returns the current size of the cache in bytes.
func (c *LRUBlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRUBlockCache) evictOldest() bool {
	el := c.order.Back()
	if el == nil {
		return false
	}
	c.remove(el)
	c.evictions.Add(1)
	return true
}

func (c *LRUBlockCache) remove(el *list.Element) {
	c.order.Remove(el)
	e := el.Value.(*entry)
	delete(c.items, e.key)
	n := int64(len(e.value))
	c.size -= n
	c.rc.ReleaseMemory(n)
}

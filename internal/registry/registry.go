// Package registry tracks the set of attached chunks.
//
// Readers never lock: the current set is an immutable view published through
// an atomic pointer and replaced wholesale on every attach or detach.
// Handles handed out by Acquire and Snapshot are reference counted, so a
// detached chunk stays readable until its last borrower releases it.
package registry

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/model"
)

var (
	// ErrConflictingChunk is returned when a chunk id is attached twice with
	// different content.
	ErrConflictingChunk = errors.New("conflicting chunk")

	// ErrClosed is returned by Attach after Close.
	ErrClosed = errors.New("registry closed")
)

// Entry is an attached handle together with the epoch it was attached under.
type Entry struct {
	Handle *chunk.Handle
	Epoch  uint16
}

type view struct {
	version uint64
	byID    map[model.ChunkID]Entry
	sorted  []Entry // ascending by chunk id
	ids     *roaring.Bitmap
}

func emptyView(version uint64) *view {
	return &view{
		version: version,
		byID:    make(map[model.ChunkID]Entry),
		ids:     roaring.New(),
	}
}

// derive copies v with one id added or removed.
func (v *view) derive(add *Entry, remove model.ChunkID) *view {
	next := &view{
		version: v.version + 1,
		byID:    make(map[model.ChunkID]Entry, len(v.byID)+1),
		ids:     v.ids.Clone(),
	}
	for id, e := range v.byID {
		if add == nil && id == remove {
			continue
		}
		next.byID[id] = e
	}
	if add != nil {
		id := add.Handle.ID()
		next.byID[id] = *add
		next.ids.Add(uint32(id))
	} else {
		next.ids.Remove(uint32(remove))
	}

	next.sorted = make([]Entry, 0, len(next.byID))
	for _, e := range next.byID {
		next.sorted = append(next.sorted, e)
	}
	slices.SortFunc(next.sorted, func(a, b Entry) int {
		return cmp.Compare(a.Handle.ID(), b.Handle.ID())
	})
	return next
}

// Registry is the set of attached chunks. It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex // serialises writers
	cur    atomic.Pointer[view]
	epochs map[model.ChunkID]uint16 // last epoch per id, kept across detach
	closed bool
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{
		epochs: make(map[model.ChunkID]uint16),
		logger: logger,
	}
	r.cur.Store(emptyView(0))
	return r
}

// Attach registers h. It returns true if h was added, in which case the
// registry takes over the caller's reference. It returns false without error
// if a chunk with the same id and digest is already attached; the caller
// keeps its reference then. A present id with a different digest is
// ErrConflictingChunk.
func (r *Registry) Attach(h *chunk.Handle) (bool, error) {
	id := h.ID()
	if !id.Valid() {
		return false, fmt.Errorf("registry: chunk id %d out of range", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrClosed
	}

	cur := r.cur.Load()
	if e, ok := cur.byID[id]; ok {
		if e.Handle.Digest() == h.Digest() {
			return false, nil
		}
		return false, fmt.Errorf("registry: chunk %d attached with digest %s, got %s: %w",
			id, e.Handle.Digest(), h.Digest(), ErrConflictingChunk)
	}

	epoch := (r.epochs[id] + 1) & model.MaxEpoch
	r.epochs[id] = epoch

	r.cur.Store(cur.derive(&Entry{Handle: h, Epoch: epoch}, 0))
	r.logger.Debug("chunk attached", "chunk", uint32(id), "epoch", epoch, "digest", h.Digest().String())
	return true, nil
}

// Detach removes id and drops the registry's reference. It returns false if
// id was not attached.
func (r *Registry) Detach(id model.ChunkID) bool {
	r.mu.Lock()
	cur := r.cur.Load()
	e, ok := cur.byID[id]
	if ok {
		r.cur.Store(cur.derive(nil, id))
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.logger.Debug("chunk detached", "chunk", uint32(id), "epoch", e.Epoch)
	e.Handle.DecRef()
	return true
}

// Acquire returns a borrowed reference to the handle of id. The caller must
// call DecRef on it. Acquire never performs I/O.
func (r *Registry) Acquire(id model.ChunkID) (*chunk.Handle, bool) {
	e, ok := r.AcquireEntry(id)
	return e.Handle, ok
}

// AcquireEntry is Acquire returning the attach epoch as well.
func (r *Registry) AcquireEntry(id model.ChunkID) (Entry, bool) {
	for {
		v := r.cur.Load()
		e, ok := v.byID[id]
		if !ok {
			return Entry{}, false
		}
		if e.Handle.TryIncRef() {
			return e, true
		}
		// Detached and closed concurrently; retry on the newer view.
		if r.cur.Load() == v {
			return Entry{}, false
		}
		runtime.Gosched()
	}
}

// Contains reports whether id is attached.
func (r *Registry) Contains(id model.ChunkID) bool {
	_, ok := r.cur.Load().byID[id]
	return ok
}

// Len returns the number of attached chunks.
func (r *Registry) Len() int {
	return len(r.cur.Load().byID)
}

// IDs returns the attached chunk ids in ascending order.
func (r *Registry) IDs() []model.ChunkID {
	v := r.cur.Load()
	ids := make([]model.ChunkID, 0, len(v.sorted))
	for _, e := range v.sorted {
		ids = append(ids, e.Handle.ID())
	}
	return ids
}

// Bitmap returns a copy of the attached id set.
func (r *Registry) Bitmap() *roaring.Bitmap {
	return r.cur.Load().ids.Clone()
}

// Epoch returns the attach epoch of id.
func (r *Registry) Epoch(id model.ChunkID) (uint16, bool) {
	e, ok := r.cur.Load().byID[id]
	return e.Epoch, ok
}

// Version returns a counter bumped by every attach and detach.
func (r *Registry) Version() uint64 {
	return r.cur.Load().version
}

// Snapshot returns a point-in-time view holding a reference on every handle.
// Later attach or detach calls do not affect it. Release must be called.
func (r *Registry) Snapshot() *Snapshot {
	for {
		v := r.cur.Load()
		acquired := make([]Entry, 0, len(v.sorted))
		ok := true
		for _, e := range v.sorted {
			if !e.Handle.TryIncRef() {
				ok = false
				break
			}
			acquired = append(acquired, e)
		}
		if ok {
			return &Snapshot{entries: acquired, version: v.version}
		}
		for _, e := range acquired {
			e.Handle.DecRef()
		}
		runtime.Gosched()
	}
}

// Close detaches every chunk. Attach fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cur := r.cur.Load()
	r.cur.Store(emptyView(cur.version + 1))
	r.mu.Unlock()

	for _, e := range cur.sorted {
		e.Handle.DecRef()
	}
}

// Snapshot is a consistent, ordered set of borrowed handles.
type Snapshot struct {
	entries  []Entry
	version  uint64
	released atomic.Bool
}

// Entries returns the entries in ascending chunk id order.
func (s *Snapshot) Entries() []Entry { return s.entries }

// Len returns the number of chunks in the snapshot.
func (s *Snapshot) Len() int { return len(s.entries) }

// Version returns the registry version the snapshot was taken at.
func (s *Snapshot) Version() uint64 { return s.version }

// Release drops the snapshot's references. It is idempotent.
func (s *Snapshot) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	for _, e := range s.entries {
		e.Handle.DecRef()
	}
}

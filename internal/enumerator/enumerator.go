// Package enumerator resolves content hashes to global HashIDs across the
// attached chunks.
package enumerator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/internal/registry"
	"github.com/hupe1980/chunkidx/model"
)

// DefaultMemoSize is the default number of memoised hash lookups.
const DefaultMemoSize = 4096

type memoEntry struct {
	version uint64
	id      model.HashID
}

// Stats reports memo effectiveness.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Enumerator maps content hashes to HashIDs. It is safe for concurrent use.
type Enumerator struct {
	reg    *registry.Registry
	memo   *lru.Cache[string, memoEntry] // nil when disabled
	logger *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates an Enumerator over reg. A memoSize of zero disables the memo.
func New(reg *registry.Registry, memoSize int, logger *slog.Logger) (*Enumerator, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Enumerator{reg: reg, logger: logger}
	if memoSize > 0 {
		memo, err := lru.New[string, memoEntry](memoSize)
		if err != nil {
			return nil, fmt.Errorf("enumerator: memo: %w", err)
		}
		e.memo = memo
	}
	return e, nil
}

// Enumerate returns the HashID of hash in the first attached chunk (by chunk
// id) whose table contains it, or model.NullHashID. A chunk whose hash table
// cannot be read fails the call with an error wrapping
// chunk.ErrStorageUnavailable.
func (e *Enumerator) Enumerate(ctx context.Context, hash []byte) (model.HashID, error) {
	if len(hash) == 0 {
		return model.NullHashID, nil
	}

	key := string(hash)
	if e.memo != nil {
		if m, ok := e.memo.Get(key); ok && m.version == e.reg.Version() {
			e.hits.Add(1)
			return m.id, nil
		}
	}
	e.misses.Add(1)

	snap := e.reg.Snapshot()
	defer snap.Release()

	id := model.NullHashID
	for _, entry := range snap.Entries() {
		if err := ctx.Err(); err != nil {
			return model.NullHashID, err
		}
		internal, ok, err := entry.Handle.LookupHash(hash)
		if err != nil {
			return model.NullHashID, fmt.Errorf("enumerate %x: %w", hash, err)
		}
		if ok {
			id = model.MakeHashID(internal, entry.Handle.ID(), entry.Epoch)
			break
		}
	}

	if e.memo != nil {
		// Tagged with the snapshot version, so a mutation since then
		// invalidates the entry.
		e.memo.Add(key, memoEntry{version: snap.Version(), id: id})
	}
	return id, nil
}

// Resolve decodes h and returns a borrowed reference to its chunk, which the
// caller must release with DecRef. It fails when h is null, its chunk is not
// attached, or the chunk was re-attached since h was issued.
func (e *Enumerator) Resolve(h model.HashID) (*chunk.Handle, model.InternalHashID, bool) {
	if h.IsNull() {
		return nil, 0, false
	}
	internal, id := h.Decode()
	entry, ok := e.reg.AcquireEntry(id)
	if !ok {
		return nil, 0, false
	}
	if entry.Epoch != h.Epoch() {
		entry.Handle.DecRef()
		e.logger.Debug("stale hash id", "hash_id", h.String(), "epoch", entry.Epoch)
		return nil, 0, false
	}
	return entry.Handle, internal, true
}

// Purge drops all memoised lookups.
func (e *Enumerator) Purge() {
	if e.memo != nil {
		e.memo.Purge()
	}
}

// Stats returns memo hit and miss counts.
func (e *Enumerator) Stats() Stats {
	return Stats{Hits: e.hits.Load(), Misses: e.misses.Load()}
}

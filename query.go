package chunkidx

import (
	"sync"
	"time"

	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/model"
)

// GetChunk returns the index of kind id stored in chunk chunkID. It reports
// false if the chunk is not attached, does not provide the kind, or the
// kind failed to open. The returned release function must be called when
// the index is no longer used; until then the chunk stays open even if it
// is detached.
func GetChunk[K, V any](m *Manager, id chunk.IndexID[K, V], chunkID model.ChunkID) (*chunk.Index[K, V], func(), bool) {
	if m.closed.Load() {
		return nil, nil, false
	}
	h, ok := m.reg.Acquire(chunkID)
	if !ok {
		return nil, nil, false
	}
	idx, ok := chunk.OpenIndex(h, id)
	if !ok {
		h.DecRef()
		return nil, nil, false
	}
	return idx, sync.OnceFunc(h.DecRef), true
}

// ProcessChunks calls pred with the index of kind id of every attached
// chunk providing it, in ascending chunk id order, until pred returns false.
// Chunks attached while it runs are not visited. A panicking pred is
// recovered and the chunk treated as having contributed nothing. Indexes
// must not be retained after pred returns.
func ProcessChunks[K, V any](m *Manager, id chunk.IndexID[K, V], pred func(*chunk.Index[K, V]) bool) error {
	return TryProcessChunks(m, id, func(idx *chunk.Index[K, V]) (bool, error) {
		return pred(idx), nil
	})
}

// TryProcessChunks is ProcessChunks with a failing visitor. A visitor error
// is logged and iteration continues, unless the error wraps ErrAbort: then
// iteration stops and the error is returned.
func TryProcessChunks[K, V any](m *Manager, id chunk.IndexID[K, V], visit func(*chunk.Index[K, V]) (bool, error)) error {
	if m.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	st, err := m.fan.Process(id.Name(), func(h *chunk.Handle) (bool, error) {
		idx, ok := chunk.OpenIndex(h, id)
		if !ok {
			return true, nil
		}
		return visit(idx)
	})
	m.metrics.RecordFanout(st.Visited, st.Failed, time.Since(start))
	return err
}

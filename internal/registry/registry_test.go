package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/model"
	"github.com/hupe1980/chunkidx/testutil"
)

func handle(t *testing.T, id model.ChunkID, files ...string) *chunk.Handle {
	t.Helper()
	if len(files) == 0 {
		files = []string{"f"}
	}
	return testutil.Chunk{ID: id, Files: files}.Handle(t)
}

func TestAttachDetach(t *testing.T) {
	r := New(nil)
	defer r.Close()

	h := handle(t, 3)
	added, err := r.Attach(h)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, r.Contains(3))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, uint64(1), r.Version())

	// Same content: idempotent, caller keeps its reference.
	dup := handle(t, 3)
	added, err = r.Attach(dup)
	require.NoError(t, err)
	assert.False(t, added)
	dup.DecRef()
	assert.Equal(t, uint64(1), r.Version())

	got, ok := r.Acquire(3)
	require.True(t, ok)
	assert.Same(t, h, got)
	got.DecRef()

	assert.True(t, r.Detach(3))
	assert.False(t, r.Detach(3))
	assert.False(t, r.Contains(3))
	_, ok = r.Acquire(3)
	assert.False(t, ok)
	assert.Equal(t, int64(0), h.Refs(), "registry reference dropped")
}

func TestAttachConflictingDigest(t *testing.T) {
	r := New(nil)
	defer r.Close()

	_, err := r.Attach(handle(t, 1, "a"))
	require.NoError(t, err)

	other := handle(t, 1, "b")
	defer other.DecRef()
	added, err := r.Attach(other)
	assert.False(t, added)
	assert.ErrorIs(t, err, ErrConflictingChunk)
}

func TestEpochAdvancesOnReattach(t *testing.T) {
	r := New(nil)
	defer r.Close()

	_, err := r.Attach(handle(t, 9))
	require.NoError(t, err)
	e1, ok := r.Epoch(9)
	require.True(t, ok)

	require.True(t, r.Detach(9))
	_, ok = r.Epoch(9)
	assert.False(t, ok)

	_, err = r.Attach(handle(t, 9))
	require.NoError(t, err)
	e2, ok := r.Epoch(9)
	require.True(t, ok)
	assert.NotEqual(t, e1, e2)

	entry, ok := r.AcquireEntry(9)
	require.True(t, ok)
	assert.Equal(t, e2, entry.Epoch)
	entry.Handle.DecRef()
}

func TestSnapshotIsolation(t *testing.T) {
	r := New(nil)
	defer r.Close()

	for _, id := range []model.ChunkID{5, 1, 3} {
		_, err := r.Attach(handle(t, id))
		require.NoError(t, err)
	}
	assert.Equal(t, []model.ChunkID{1, 3, 5}, r.IDs())
	assert.Equal(t, []uint32{1, 3, 5}, r.Bitmap().ToArray())

	snap := r.Snapshot()
	h3 := snap.Entries()[1].Handle

	require.True(t, r.Detach(3))
	_, err := r.Attach(handle(t, 7))
	require.NoError(t, err)

	var ids []model.ChunkID
	for _, e := range snap.Entries() {
		ids = append(ids, e.Handle.ID())
	}
	assert.Equal(t, []model.ChunkID{1, 3, 5}, ids, "snapshot unaffected by later changes")
	assert.Equal(t, int64(1), h3.Refs(), "detached handle kept alive by the snapshot")

	// A detached chunk remains readable through the snapshot.
	_, found, err := h3.LookupHash(testutil.HashOf("f"))
	require.NoError(t, err)
	assert.True(t, found)

	snap.Release()
	snap.Release()
	assert.Equal(t, int64(0), h3.Refs())
	assert.Equal(t, []model.ChunkID{1, 5, 7}, r.IDs())
}

func TestCloseDetachesAll(t *testing.T) {
	r := New(nil)
	h := handle(t, 1)
	_, err := r.Attach(h)
	require.NoError(t, err)

	r.Close()
	r.Close()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int64(0), h.Refs())

	late := handle(t, 2)
	defer late.DecRef()
	_, err = r.Attach(late)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentAttachDetachAndRead(t *testing.T) {
	r := New(nil)
	defer r.Close()

	const ids = 8
	handles := make([][]*chunk.Handle, ids)
	for i := range ids {
		for range 20 {
			handles[i] = append(handles[i], handle(t, model.ChunkID(i)))
		}
	}

	var stop atomic.Bool
	var readers sync.WaitGroup
	for w := range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for n := w; !stop.Load(); n++ {
				snap := r.Snapshot()
				prev := model.ChunkID(0)
				for i, e := range snap.Entries() {
					if i > 0 && e.Handle.ID() <= prev {
						t.Errorf("snapshot not ordered")
					}
					prev = e.Handle.ID()
					if _, _, err := e.Handle.LookupHash(testutil.HashOf("f")); err != nil {
						t.Errorf("lookup on borrowed handle: %v", err)
					}
				}
				snap.Release()

				if h, ok := r.Acquire(model.ChunkID(n % ids)); ok {
					h.DecRef()
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for i := range ids {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for _, h := range handles[i] {
				added, err := r.Attach(h)
				if err != nil && !errors.Is(err, ErrConflictingChunk) {
					t.Errorf("attach: %v", err)
				}
				if !added {
					h.DecRef()
					continue
				}
				r.Detach(model.ChunkID(i))
			}
		}()
	}
	writers.Wait()
	stop.Store(true)
	readers.Wait()

	assert.Equal(t, 0, r.Len())
	for i := range handles {
		for _, h := range handles[i] {
			assert.Equal(t, int64(0), h.Refs())
		}
	}
}

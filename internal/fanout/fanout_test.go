package fanout

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/internal/registry"
	"github.com/hupe1980/chunkidx/model"
	"github.com/hupe1980/chunkidx/testutil"
)

func newRegistry(t *testing.T, ids ...model.ChunkID) *registry.Registry {
	t.Helper()
	reg := registry.New(nil)
	t.Cleanup(reg.Close)
	for _, id := range ids {
		c := testutil.Chunk{
			ID:      id,
			Files:   []string{fmt.Sprintf("f%d", id)},
			Symbols: map[string][]uint32{"sym": {1}},
		}
		_, err := reg.Attach(c.Handle(t))
		require.NoError(t, err)
	}
	return reg
}

func record(visited *[]model.ChunkID, cont func(model.ChunkID) bool) Visitor {
	return func(h *chunk.Handle) (bool, error) {
		*visited = append(*visited, h.ID())
		return cont(h.ID()), nil
	}
}

func TestProcess_VisitsAllInOrder(t *testing.T) {
	p := New(newRegistry(t, 2, 1, 3), nil, nil)
	var visited []model.ChunkID
	st, err := p.Process("symbols", record(&visited, func(model.ChunkID) bool { return true }))
	require.NoError(t, err)
	assert.Equal(t, []model.ChunkID{1, 2, 3}, visited)
	assert.Equal(t, Stats{Visited: 3}, st)
}

func TestProcess_ShortCircuit(t *testing.T) {
	p := New(newRegistry(t, 1, 2, 3), nil, nil)
	var visited []model.ChunkID
	st, err := p.Process("symbols", record(&visited, func(id model.ChunkID) bool { return id != 2 }))
	require.NoError(t, err)
	assert.Equal(t, []model.ChunkID{1, 2}, visited)
	assert.True(t, st.Stopped)
}

func TestProcess_SkipsChunksWithoutKind(t *testing.T) {
	reg := newRegistry(t, 1)
	_, err := reg.Attach(testutil.Chunk{ID: 2, Files: []string{"x"}}.Handle(t))
	require.NoError(t, err)

	var visited []model.ChunkID
	_, err = New(reg, nil, nil).Process("symbols", record(&visited, func(model.ChunkID) bool { return true }))
	require.NoError(t, err)
	assert.Equal(t, []model.ChunkID{1}, visited)
}

func TestProcess_FailuresDoNotStopIteration(t *testing.T) {
	var failed []model.ChunkID
	p := New(newRegistry(t, 1, 2, 3), nil, func(id model.ChunkID, err error) {
		failed = append(failed, id)
	})

	var visited []model.ChunkID
	st, err := p.Process("symbols", func(h *chunk.Handle) (bool, error) {
		visited = append(visited, h.ID())
		switch h.ID() {
		case 1:
			panic("boom")
		case 2:
			return false, errors.New("broken")
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []model.ChunkID{1, 2, 3}, visited)
	assert.Equal(t, []model.ChunkID{1, 2}, failed)
	assert.Equal(t, Stats{Visited: 3, Failed: 2}, st)
}

func TestProcess_Abort(t *testing.T) {
	p := New(newRegistry(t, 1, 2, 3), nil, nil)
	var visited []model.ChunkID
	_, err := p.Process("symbols", func(h *chunk.Handle) (bool, error) {
		visited = append(visited, h.ID())
		if h.ID() == 2 {
			return false, fmt.Errorf("stop here: %w", ErrAbort)
		}
		return true, nil
	})
	assert.ErrorIs(t, err, ErrAbort)
	assert.Equal(t, []model.ChunkID{1, 2}, visited)
}

func TestProcess_SnapshotExcludesLateAttach(t *testing.T) {
	reg := newRegistry(t, 1, 2)
	p := New(reg, nil, nil)

	var visited []model.ChunkID
	_, err := p.Process("symbols", func(h *chunk.Handle) (bool, error) {
		visited = append(visited, h.ID())
		if h.ID() == 1 {
			late := testutil.Chunk{ID: 9, Files: []string{"late"}, Symbols: map[string][]uint32{"s": {1}}}
			if _, err := reg.Attach(late.Handle(t)); err != nil {
				return false, err
			}
			reg.Detach(2)
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []model.ChunkID{1, 2}, visited, "detached chunk still visited, late chunk not")
	assert.Equal(t, []model.ChunkID{1, 9}, reg.IDs())
}

package resource

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	rc := NewController(Config{MemoryLimitBytes: 100})

	assert.True(t, rc.TryAcquireMemory(60))
	assert.False(t, rc.TryAcquireMemory(50))
	assert.ErrorIs(t, rc.AcquireMemory(50), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(60), rc.MemoryUsage())

	rc.ReleaseMemory(60)
	assert.Equal(t, int64(0), rc.MemoryUsage())
	assert.NoError(t, rc.AcquireMemory(100))
}

func TestController_NilIsUnlimited(t *testing.T) {
	var rc *Controller

	assert.True(t, rc.TryAcquireMemory(1<<40))
	rc.ReleaseMemory(1 << 40)
	assert.Equal(t, int64(0), rc.MemoryUsage())
	require.NoError(t, rc.AcquireFetch(context.Background()))
	rc.ReleaseFetch()
	require.NoError(t, rc.AcquireIO(context.Background(), 1<<30))
}

func TestController_FetchSlots(t *testing.T) {
	rc := NewController(Config{MaxConcurrentFetches: 1})
	require.Equal(t, int64(1), rc.Config().MaxConcurrentFetches)

	require.NoError(t, rc.AcquireFetch(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rc.AcquireFetch(ctx), "second slot must block until ctx expires")

	rc.ReleaseFetch()
	require.NoError(t, rc.AcquireFetch(context.Background()))
	rc.ReleaseFetch()
}

func TestController_AcquireIOLargerThanBurst(t *testing.T) {
	rc := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	// Burst equals the per-second limit; a request of twice the burst is split.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rc.AcquireIO(ctx, 1<<20+10))
}

func TestRateLimitedReader(t *testing.T) {
	rc := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	data := bytes.Repeat([]byte("x"), 4096)

	r := NewRateLimitedReader(context.Background(), bytes.NewReader(data), rc)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	drained := NewController(Config{IOLimitBytesPerSec: 1})
	_, err = NewRateLimitedReader(ctx, bytes.NewReader(data), drained).Read(make([]byte, 16))
	assert.Error(t, err)
}

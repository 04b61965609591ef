package chunkidx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/internal/cache"
	"github.com/hupe1980/chunkidx/internal/enumerator"
	"github.com/hupe1980/chunkidx/internal/fanout"
	"github.com/hupe1980/chunkidx/internal/registry"
	"github.com/hupe1980/chunkidx/internal/resource"
	"github.com/hupe1980/chunkidx/locator"
	"github.com/hupe1980/chunkidx/model"
)

// Manager owns the attached chunks of one host process and exposes the
// query surface over them. It is safe for concurrent use.
type Manager struct {
	logger  *Logger
	metrics MetricsCollector

	reg     *registry.Registry
	enum    *enumerator.Enumerator
	fan     *fanout.Processor
	loc     *locator.Locator
	blocks  cache.BlockCache // nil without WithBlockCache
	handles []chunk.Option

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a Manager. Nothing is attached until LocateIndexes or
// AttachExistingChunk is called.
func New(optFns ...Option) (*Manager, error) {
	o := applyOptions(optFns)

	dir := o.cacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("chunkidx: no cache directory configured: %w", err)
		}
		dir = filepath.Join(base, "chunkidx")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chunkidx: create cache directory: %w", err)
	}

	m := &Manager{
		logger:  o.logger,
		metrics: o.metricsCollector,
		reg:     registry.New(o.logger.Logger),
	}

	enum, err := enumerator.New(m.reg, o.hashCacheSize, o.logger.Logger)
	if err != nil {
		return nil, err
	}
	m.enum = enum
	m.fan = fanout.New(m.reg, o.logger.Logger, nil)

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     o.blockCacheBytes,
		MaxConcurrentFetches: int64(o.fetchConcurrency),
		IOLimitBytesPerSec:   o.ioLimit,
	})

	remote := o.remote
	if remote != nil && o.blockCacheBytes > 0 {
		m.blocks = cache.NewShardedLRUBlockCache(o.blockCacheBytes, rc)
		remote = blobstore.NewCachingStore(remote, m.blocks, blobstore.DefaultBlockSize)
	}

	m.handles = []chunk.Option{
		chunk.WithLogger(o.logger.Logger),
		chunk.WithObserver(&sectionObserver{metrics: m.metrics, next: o.observer}),
	}

	locOpts := []locator.Option{
		locator.WithLogger(o.logger.Logger),
		locator.WithFetchConcurrency(o.fetchConcurrency),
		locator.WithReadChunkSize(o.readChunkSize),
		locator.WithResources(rc),
		locator.WithHandleOptions(m.handles...),
		locator.WithHooks(locator.Hooks{
			OnFetch: func(_ model.ChunkID, n int64, d time.Duration, err error) {
				m.metrics.RecordFetch(n, d, err)
			},
			OnAttach: func(h *chunk.Handle, from locator.State) {
				source := "local"
				if from == locator.StateFetching {
					source = "fetched"
				}
				m.metrics.RecordAttach(source)
				m.logger.LogAttach(context.Background(), h.ID(), source, nil)
			},
		}),
	}
	if remote != nil {
		locOpts = append(locOpts, locator.WithRemote(remote))
	}
	if o.catalog != nil {
		locOpts = append(locOpts, locator.WithCatalog(o.catalog))
	}
	m.loc = locator.New(m.reg, blobstore.NewLocalStore(dir), locOpts...)

	return m, nil
}

// CacheDir returns the local chunk cache directory.
func (m *Manager) CacheDir() string {
	return m.loc.CacheDir()
}

// TryEnumerateContentHash returns the HashID of hash in the first attached
// chunk containing it, or model.NullHashID when no chunk does. Only storage
// failures are errors; they wrap ErrStorageUnavailable.
func (m *Manager) TryEnumerateContentHash(ctx context.Context, hash []byte) (model.HashID, error) {
	if m.closed.Load() {
		return model.NullHashID, ErrClosed
	}
	start := time.Now()
	id, err := m.enum.Enumerate(ctx, hash)
	m.metrics.RecordEnumerate(!id.IsNull(), time.Since(start), err)
	if err != nil {
		m.logger.LogEnumerate(ctx, id, err)
	}
	return id, err
}

// ResolveHashID returns a borrowed handle to the chunk a HashID belongs to
// plus its chunk-local id. HashIDs issued before the chunk was detached do
// not resolve, even if the same chunk id was attached again. The handle
// must be released with DecRef.
func (m *Manager) ResolveHashID(h model.HashID) (*chunk.Handle, model.InternalHashID, bool) {
	if m.closed.Load() {
		return nil, 0, false
	}
	return m.enum.Resolve(h)
}

// LocateIndexes discovers, downloads and attaches the chunks relevant to
// entries. Per-chunk failures are listed in the result; the error is only
// set for catalog failures and conflicting chunks. Cancelling ctx, or
// progress reporting cancellation, leaves already attached chunks attached.
func (m *Manager) LocateIndexes(ctx context.Context, project model.ProjectID, entries []model.OrderEntry, progress locator.Progress) (*locator.Result, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	res, err := m.loc.LocateIndexes(ctx, locator.Request{
		Project:  project,
		Entries:  entries,
		Progress: progress,
	})
	m.logger.LogLocate(ctx, project, res, err)
	return res, err
}

// AttachExistingChunk attaches a chunk that is already in the cache
// directory, skipping discovery and download. It returns false if the chunk
// cannot be opened.
func (m *Manager) AttachExistingChunk(ctx context.Context, id model.ChunkID, project model.ProjectID) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	ok, err := m.loc.AttachExistingChunk(ctx, id, project)
	if err != nil {
		err = translateError("attach", id, err)
		m.logger.WithProject(project).LogAttach(ctx, id, "local", err)
		return false, err
	}
	return ok, nil
}

// AttachCached attaches every chunk in the cache directory and returns the
// ids now attached from it. Chunks that cannot be opened are skipped.
func (m *Manager) AttachCached(ctx context.Context, project model.ProjectID) ([]model.ChunkID, error) {
	ids, err := m.loc.CachedChunks(ctx)
	if err != nil {
		return nil, err
	}
	var attached []model.ChunkID
	var errs []error
	for _, id := range ids {
		ok, err := m.AttachExistingChunk(ctx, id, project)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			attached = append(attached, id)
		}
	}
	return attached, errors.Join(errs...)
}

// Watch attaches chunks as they appear in the cache directory until ctx is
// done. onAttach, if not nil, is called for every newly attached chunk.
func (m *Manager) Watch(ctx context.Context, project model.ProjectID, onAttach func(model.ChunkID, error)) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.loc.Watch(ctx, func(id model.ChunkID) {
		if m.reg.Contains(id) {
			return
		}
		ok, err := m.AttachExistingChunk(ctx, id, project)
		if onAttach != nil && (ok || err != nil) {
			onAttach(id, err)
		}
	})
}

// DetachChunk removes a chunk. Readers holding it keep it open until they
// release it. It returns false if the chunk was not attached.
func (m *Manager) DetachChunk(id model.ChunkID) bool {
	ok := m.reg.Detach(id)
	if ok {
		m.metrics.RecordDetach()
	}
	m.logger.LogDetach(context.Background(), id, ok)
	return ok
}

// Chunks returns the attached chunk ids in ascending order.
func (m *Manager) Chunks() []model.ChunkID {
	return m.reg.IDs()
}

// Contains reports whether id is attached.
func (m *Manager) Contains(id model.ChunkID) bool {
	return m.reg.Contains(id)
}

// sectionObserver forwards section failures to metrics and the user's
// observer.
type sectionObserver struct {
	metrics MetricsCollector
	next    chunk.Observer
}

func (o *sectionObserver) SectionFailed(id model.ChunkID, kind string, err error) {
	if errors.Is(err, ErrStorageUnavailable) {
		o.metrics.RecordStorageFailure(kind)
	}
	if o.next != nil {
		o.next.SectionFailed(id, kind, err)
	}
}

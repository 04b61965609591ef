package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/internal/registry"
	"github.com/hupe1980/chunkidx/internal/resource"
	"github.com/hupe1980/chunkidx/model"
)

// DefaultReadChunkSize is the size of one streamed download piece.
const DefaultReadChunkSize = 1 << 20

// Hooks observe locator activity. Nil fields are skipped.
type Hooks struct {
	// OnFetch runs after every download attempt.
	OnFetch func(id model.ChunkID, bytes int64, d time.Duration, err error)
	// OnAttach runs after a chunk was added to the registry.
	OnAttach func(h *chunk.Handle, from State)
}

// Option configures a Locator.
type Option func(*Locator)

// WithRemote sets the store chunks are fetched from.
func WithRemote(s blobstore.BlobStore) Option {
	return func(l *Locator) { l.remote = s }
}

// WithCatalog sets the discovery catalog.
func WithCatalog(c Catalog) Option {
	return func(l *Locator) { l.catalog = c }
}

// WithReadChunkSize sets the download piece size. Progress and
// cancellation are checked once per piece.
func WithReadChunkSize(n int64) Option {
	return func(l *Locator) {
		if n > 0 {
			l.readChunkSize = n
		}
	}
}

// WithFetchConcurrency sets how many candidates are processed at once.
func WithFetchConcurrency(n int) Option {
	return func(l *Locator) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithResources sets the controller limiting fetch slots and IO bandwidth.
func WithResources(rc *resource.Controller) Option {
	return func(l *Locator) { l.resources = rc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locator) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithHandleOptions sets options applied to every opened chunk handle.
func WithHandleOptions(opts ...chunk.Option) Option {
	return func(l *Locator) { l.handleOpts = append(l.handleOpts, opts...) }
}

// WithHooks sets activity hooks.
func WithHooks(h Hooks) Option {
	return func(l *Locator) { l.hooks = h }
}

// Locator discovers, fetches and attaches chunks.
type Locator struct {
	reg           *registry.Registry
	local         *blobstore.LocalStore
	remote        blobstore.BlobStore
	catalog       Catalog
	readChunkSize int64
	concurrency   int
	resources     *resource.Controller
	logger        *slog.Logger
	handleOpts    []chunk.Option
	hooks         Hooks

	flight    singleflight.Group
	dlMu      sync.Mutex
	downloads map[string]*download
}

// New creates a Locator attaching into reg and caching chunks in local.
func New(reg *registry.Registry, local *blobstore.LocalStore, opts ...Option) *Locator {
	l := &Locator{
		reg:           reg,
		local:         local,
		readChunkSize: DefaultReadChunkSize,
		concurrency:   1,
		logger:        slog.New(slog.DiscardHandler),
		downloads:     make(map[string]*download),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CacheDir returns the local cache directory.
func (l *Locator) CacheDir() string {
	return l.local.Root()
}

// LocateIndexes resolves the request's entries to candidate chunks and makes
// each of them available. It returns a result even when the error is
// non-nil, except for catalog failures.
func (l *Locator) LocateIndexes(ctx context.Context, req Request) (*Result, error) {
	if l.catalog == nil {
		return nil, errors.New("locator: no catalog configured")
	}
	if req.Progress == nil {
		req.Progress = NopProgress{}
	}

	res := &Result{
		RequestID: uuid.NewString(),
		Project:   req.Project,
		States:    make(map[model.ChunkID]State),
	}
	logger := l.logger.With("request_id", res.RequestID, "project", string(req.Project))
	start := time.Now()

	r := &run{
		ctx:      ctx,
		progress: req.Progress,
		res:      res,
		logger:   logger,
	}
	if r.cancelled() {
		res.finish()
		return res, nil
	}

	req.Progress.ReportProgress(0, "resolving chunks")
	cands, err := l.catalog.Resolve(ctx, req.Project, req.Entries)
	if err != nil {
		if r.cancelled() {
			res.finish()
			return res, nil
		}
		return nil, fmt.Errorf("locator: resolve %d entries: %w: %w", len(req.Entries), ErrFetchFailed, err)
	}
	cands = r.coalesce(cands)
	r.mu.Lock()
	r.fractions = make(map[model.ChunkID]float64, len(cands))
	r.total = len(cands)
	r.mu.Unlock()
	logger.Info("locating chunks", "entries", len(req.Entries), "candidates", len(cands))

	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for _, c := range cands {
		if r.cancelled() {
			break
		}
		g.Go(func() error { return l.process(r, c) })
	}
	err = g.Wait()

	// Everything not started or not finished ended by cancellation.
	r.mu.Lock()
	for id, s := range res.States {
		if !s.Terminal() {
			res.States[id] = StateCancelled
		}
	}
	r.mu.Unlock()
	res.finish()

	req.Progress.ReportProgress(1, "done")
	logger.Info("located chunks",
		"attached", len(res.Attached),
		"already_attached", len(res.AlreadyAttached),
		"cancelled", len(res.Cancelled),
		"failed", len(res.Failures),
		"duration", time.Since(start))
	return res, err
}

// process runs the state machine for one candidate. Only hard failures are
// returned.
func (l *Locator) process(r *run, c Candidate) error {
	id := c.ChunkID
	if r.cancelled() {
		return nil
	}
	r.set(id, StateResolving)

	if entry, ok := l.reg.AcquireEntry(id); ok {
		digest := entry.Handle.Digest()
		entry.Handle.DecRef()
		if c.Digest.IsZero() || c.Digest == digest {
			r.set(id, StateAlreadyAttached)
			r.advance(id, 1, fmt.Sprintf("chunk %d already attached", id))
			return nil
		}
		err := fmt.Errorf("chunk %d: attached digest %s, catalog says %s: %w",
			id, digest, c.Digest, registry.ErrConflictingChunk)
		r.fail(id, err)
		return err
	}

	h, from, err := l.materialize(r, c)
	if err != nil {
		if errors.Is(err, ErrCancelled) || r.cancelled() {
			r.set(id, StateCancelled)
			return nil
		}
		r.fail(id, err)
		return nil
	}

	r.set(id, StateAttaching)
	added, err := l.reg.Attach(h)
	if err != nil {
		h.DecRef()
		r.fail(id, err)
		if errors.Is(err, registry.ErrConflictingChunk) {
			return err
		}
		return nil
	}
	if !added {
		h.DecRef()
		r.set(id, StateAlreadyAttached)
	} else {
		r.set(id, StateAttached)
		if l.hooks.OnAttach != nil {
			l.hooks.OnAttach(h, from)
		}
	}
	r.advance(id, 1, fmt.Sprintf("attached chunk %d", id))
	return nil
}

// AttachExistingChunk attaches a chunk that is already in the local cache.
// It reports false when the chunk cannot be opened; a conflicting chunk is
// an error. A chunk that is already attached with the same content counts as
// success.
func (l *Locator) AttachExistingChunk(ctx context.Context, id model.ChunkID, project model.ProjectID) (bool, error) {
	logger := l.logger.With("chunk", uint32(id), "project", string(project))
	if !id.Valid() {
		logger.Warn("chunk id out of range")
		return false, nil
	}
	h, err := l.openLocal(ctx, id, chunkfile.Digest{})
	if err != nil {
		logger.Warn("cannot open cached chunk", "error", err)
		return false, nil
	}
	added, err := l.reg.Attach(h)
	if err != nil {
		h.DecRef()
		return false, err
	}
	if !added {
		h.DecRef()
		return true, nil
	}
	if l.hooks.OnAttach != nil {
		l.hooks.OnAttach(h, StateFoundLocal)
	}
	return true, nil
}

// CachedChunks lists the chunk ids present in the local cache.
func (l *Locator) CachedChunks(ctx context.Context) ([]model.ChunkID, error) {
	names, err := l.local.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var ids []model.ChunkID
	for _, name := range names {
		if id, ok := chunkfile.ParseFileName(name); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *Locator) openLocal(ctx context.Context, id model.ChunkID, digest chunkfile.Digest) (*chunk.Handle, error) {
	name := chunkfile.FileName(id)
	b, err := l.local.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	opts := append([]chunk.Option{
		chunk.WithExpectedID(id),
		chunk.WithSource(l.local.Path(name)),
		chunk.WithDigest(digest),
	}, l.handleOpts...)
	return chunk.Open(ctx, b, opts...)
}

// run is the shared state of one LocateIndexes call.
type run struct {
	ctx      context.Context
	progress Progress
	logger   *slog.Logger

	mu        sync.Mutex
	res       *Result
	fractions map[model.ChunkID]float64
	total     int
}

func (r *run) cancelled() bool {
	return r.ctx.Err() != nil || r.progress.IsCancelled()
}

// coalesce drops duplicate and out-of-range candidates and marks the rest
// pending.
func (r *run) coalesce(cands []Candidate) []Candidate {
	seen := roaring.New()
	out := cands[:0:0]
	for _, c := range cands {
		if !c.ChunkID.Valid() {
			r.fail(c.ChunkID, fmt.Errorf("chunk id %d out of range: %w", c.ChunkID, chunkfile.ErrInvalidChunk))
			continue
		}
		if !seen.CheckedAdd(uint32(c.ChunkID)) {
			continue
		}
		r.set(c.ChunkID, StatePending)
		out = append(out, c)
	}
	return out
}

func (r *run) set(id model.ChunkID, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.States[id] = s
}

func (r *run) fail(id model.ChunkID, err error) {
	r.mu.Lock()
	r.res.States[id] = StateFailed
	r.res.Failures = append(r.res.Failures, Failure{ChunkID: id, Err: err, Reason: err.Error()})
	r.mu.Unlock()

	r.logger.Warn("chunk unavailable", "chunk", uint32(id), "error", err)
	r.advance(id, 1, fmt.Sprintf("chunk %d failed", id))
}

// advance records the progress of one candidate and reports the overall
// fraction.
func (r *run) advance(id model.ChunkID, fraction float64, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total == 0 {
		return
	}
	r.fractions[id] = fraction
	var sum float64
	for _, f := range r.fractions {
		sum += f
	}
	r.progress.ReportProgress(sum/float64(r.total), msg)
}

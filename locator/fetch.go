package locator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/zeebo/blake3"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/internal/resource"
	"github.com/hupe1980/chunkidx/model"
)

const (
	lockDir       = ".locks"
	lockRetryWait = 50 * time.Millisecond
)

// download is one shared fetch of a chunk file. Runs that need the same
// file join it, receive its progress, and abandon it only together.
type download struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	waiters map[*run]struct{}
}

// materialize returns an open handle for c, fetching it first unless a
// matching copy is already cached.
func (l *Locator) materialize(r *run, c Candidate) (*chunk.Handle, State, error) {
	if h, ok := l.cached(r.ctx, r.logger, c); ok {
		r.set(c.ChunkID, StateFoundLocal)
		return h, StateFoundLocal, nil
	}
	if l.remote == nil {
		return nil, StateFailed, fmt.Errorf("chunk %d not cached and no remote configured: %w", c.ChunkID, ErrFetchFailed)
	}

	r.set(c.ChunkID, StateFetching)
	for {
		digest, err := l.awaitDownload(r, c)
		if errors.Is(err, ErrCancelled) && !r.cancelled() {
			// The download was abandoned by the runs that owned it.
			continue
		}
		if err != nil {
			return nil, StateFailed, err
		}
		if r.cancelled() {
			return nil, StateCancelled, ErrCancelled
		}

		h, err := l.openLocal(r.ctx, c.ChunkID, digest)
		if err != nil {
			return nil, StateFailed, fmt.Errorf("open fetched chunk: %w", err)
		}
		return h, StateFetching, nil
	}
}

// awaitDownload joins the download of c, starting it if none is running,
// and waits until it finishes or r is cancelled.
func (l *Locator) awaitDownload(r *run, c Candidate) (chunkfile.Digest, error) {
	name := chunkfile.FileName(c.ChunkID)

	l.dlMu.Lock()
	d, ok := l.downloads[name]
	if !ok {
		ctx, cancel := context.WithCancel(context.WithoutCancel(r.ctx))
		d = &download{ctx: ctx, cancel: cancel, logger: r.logger, waiters: make(map[*run]struct{})}
		l.downloads[name] = d
	}
	d.waiters[r] = struct{}{}
	ch := l.flight.DoChan(name, func() (any, error) {
		return l.fetchLocked(d, c)
	})
	l.dlMu.Unlock()
	defer l.leave(name, d, r)

	tick := time.NewTicker(lockRetryWait)
	defer tick.Stop()
	for {
		select {
		case res := <-ch:
			if res.Err != nil {
				return chunkfile.Digest{}, res.Err
			}
			return res.Val.(chunkfile.Digest), nil
		case <-r.ctx.Done():
			return chunkfile.Digest{}, ErrCancelled
		case <-tick.C:
			if r.cancelled() {
				return chunkfile.Digest{}, ErrCancelled
			}
		}
	}
}

// leave removes r from d. The last run to leave cancels the download.
func (l *Locator) leave(name string, d *download, r *run) {
	l.dlMu.Lock()
	defer l.dlMu.Unlock()
	delete(d.waiters, r)
	if len(d.waiters) > 0 {
		return
	}
	d.cancel()
	if l.downloads[name] == d {
		delete(l.downloads, name)
	}
}

// abandoned reports whether every run waiting on d has been cancelled.
func (l *Locator) abandoned(d *download) bool {
	if d.ctx.Err() != nil {
		return true
	}
	for _, r := range l.waiting(d) {
		if !r.cancelled() {
			return false
		}
	}
	return true
}

func (l *Locator) waiting(d *download) []*run {
	l.dlMu.Lock()
	defer l.dlMu.Unlock()
	runs := make([]*run, 0, len(d.waiters))
	for r := range d.waiters {
		runs = append(runs, r)
	}
	return runs
}

// report forwards download progress to every run still waiting on d.
func (l *Locator) report(d *download, id model.ChunkID, fraction float64, msg string) {
	for _, r := range l.waiting(d) {
		if !r.cancelled() {
			r.advance(id, fraction, msg)
		}
	}
}

// cached opens the cached copy of c if it exists and matches the catalog.
// Stale or unreadable copies are removed.
func (l *Locator) cached(ctx context.Context, logger *slog.Logger, c Candidate) (*chunk.Handle, bool) {
	h, err := l.openLocal(ctx, c.ChunkID, chunkfile.Digest{})
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			logger.Warn("discarding unreadable cached chunk", "chunk", uint32(c.ChunkID), "error", err)
			_ = l.local.Delete(ctx, chunkfile.FileName(c.ChunkID))
		}
		return nil, false
	}
	if !c.Digest.IsZero() && h.Digest() != c.Digest {
		logger.Warn("discarding stale cached chunk", "chunk", uint32(c.ChunkID),
			"cached", h.Digest().String(), "want", c.Digest.String())
		h.DecRef()
		_ = l.local.Delete(ctx, chunkfile.FileName(c.ChunkID))
		return nil, false
	}
	return h, true
}

// fetchLocked downloads c under the cross-process lock for its cache file.
func (l *Locator) fetchLocked(d *download, c Candidate) (chunkfile.Digest, error) {
	name := chunkfile.FileName(c.ChunkID)
	lockPath := filepath.Join(l.local.Root(), lockDir, name+".lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return chunkfile.Digest{}, fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(d.ctx, lockRetryWait)
	if err != nil || !locked {
		if d.ctx.Err() != nil {
			return chunkfile.Digest{}, ErrCancelled
		}
		return chunkfile.Digest{}, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() { _ = lock.Unlock() }()

	// Another process may have completed the download while we waited.
	if h, ok := l.cached(d.ctx, d.logger, c); ok {
		digest := h.Digest()
		h.DecRef()
		return digest, nil
	}

	start := time.Now()
	digest, n, err := l.fetch(d, c)
	if l.hooks.OnFetch != nil {
		l.hooks.OnFetch(c.ChunkID, n, time.Since(start), err)
	}
	return digest, err
}

// fetch streams c from the remote store into the cache, one piece at a
// time, checking for cancellation before each piece.
func (l *Locator) fetch(d *download, c Candidate) (chunkfile.Digest, int64, error) {
	ctx := d.ctx
	if err := l.resources.AcquireFetch(ctx); err != nil {
		return chunkfile.Digest{}, 0, ErrCancelled
	}
	defer l.resources.ReleaseFetch()

	src, err := l.remote.Open(ctx, c.BlobName())
	if err != nil {
		return chunkfile.Digest{}, 0, fmt.Errorf("open remote %s: %w: %w", c.BlobName(), ErrFetchFailed, err)
	}
	defer func() { _ = src.Close() }()

	size := src.Size()
	if c.Size > 0 && size != c.Size {
		return chunkfile.Digest{}, 0, fmt.Errorf("remote %s has %d bytes, catalog says %d: %w",
			c.BlobName(), size, c.Size, ErrDigestMismatch)
	}

	dst, err := l.local.Create(ctx, chunkfile.FileName(c.ChunkID))
	if err != nil {
		return chunkfile.Digest{}, 0, fmt.Errorf("create cache file: %w: %w", ErrFetchFailed, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = dst.Abort()
		}
	}()

	hasher := blake3.New()
	out := io.MultiWriter(dst, hasher)
	buf := make([]byte, min(l.readChunkSize, max(size, 1)))

	var done int64
	for done < size {
		if l.abandoned(d) {
			return chunkfile.Digest{}, done, ErrCancelled
		}
		n := min(l.readChunkSize, size-done)
		copied, err := l.copyPiece(ctx, out, src, done, n, buf)
		done += copied
		if err != nil {
			if ctx.Err() != nil {
				return chunkfile.Digest{}, done, ErrCancelled
			}
			return chunkfile.Digest{}, done, fmt.Errorf("read %s at %d: %w: %w", c.BlobName(), done, ErrFetchFailed, err)
		}
		l.report(d, c.ChunkID, 0.9*float64(done)/float64(size),
			fmt.Sprintf("fetching chunk %d: %d/%d bytes", c.ChunkID, done, size))
	}

	var digest chunkfile.Digest
	copy(digest[:], hasher.Sum(nil))
	if !c.Digest.IsZero() && digest != c.Digest {
		return chunkfile.Digest{}, done, fmt.Errorf("remote %s has digest %s, catalog says %s: %w",
			c.BlobName(), digest, c.Digest, ErrDigestMismatch)
	}

	if err := dst.Close(); err != nil {
		return chunkfile.Digest{}, done, fmt.Errorf("commit cache file: %w: %w", ErrFetchFailed, err)
	}
	committed = true
	d.logger.Debug("fetched chunk", "chunk", uint32(c.ChunkID), "bytes", done, "digest", digest.String())
	return digest, done, nil
}

func (l *Locator) copyPiece(ctx context.Context, out io.Writer, src blobstore.Blob, off, n int64, buf []byte) (int64, error) {
	rc, err := src.ReadRange(ctx, off, n)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	copied, err := io.CopyBuffer(out, resource.NewRateLimitedReader(ctx, io.LimitReader(rc, n), l.resources), buf)
	if err != nil {
		return copied, err
	}
	if copied != n {
		return copied, io.ErrUnexpectedEOF
	}
	return copied, nil
}

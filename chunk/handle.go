package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/model"
)

var (
	// ErrStorageUnavailable marks chunk bytes that cannot be read or are corrupt.
	ErrStorageUnavailable = errors.New("chunk storage unavailable")

	// ErrCodecMismatch marks a section requested with codecs other than the
	// ones it was written with. It wraps chunkfile.ErrInvalidChunk.
	ErrCodecMismatch = fmt.Errorf("%w: codec mismatch", chunkfile.ErrInvalidChunk)
)

// Observer receives section failures that are not returned to callers.
type Observer interface {
	SectionFailed(chunk model.ChunkID, kind string, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(chunk model.ChunkID, kind string, err error)

// SectionFailed implements Observer.
func (f ObserverFunc) SectionFailed(chunk model.ChunkID, kind string, err error) {
	f(chunk, kind, err)
}

type noopObserver struct{}

func (noopObserver) SectionFailed(model.ChunkID, string, error) {}

// Option configures a Handle.
type Option func(*options)

type options struct {
	observer   Observer
	logger     *slog.Logger
	digest     chunkfile.Digest
	expectedID *model.ChunkID
	source     string
}

// WithObserver sets the observer for section failures.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) {
		if l != nil {
			opts.logger = l
		}
	}
}

// WithDigest supplies an already verified content digest, so Open does not
// have to hash the container.
func WithDigest(d chunkfile.Digest) Option {
	return func(opts *options) { opts.digest = d }
}

// WithExpectedID makes Open fail with chunkfile.ErrInvalidChunk unless the
// container header carries id.
func WithExpectedID(id model.ChunkID) Option {
	return func(opts *options) { opts.expectedID = &id }
}

// WithSource records where the chunk was loaded from (for logs).
func WithSource(s string) Option {
	return func(opts *options) { opts.source = s }
}

// Handle is one opened, immutable chunk.
type Handle struct {
	id     model.ChunkID
	digest chunkfile.Digest
	source string
	reader *chunkfile.Reader
	kinds  []string

	observer Observer
	logger   *slog.Logger

	hashOnce  sync.Once
	hashTable *chunkfile.HashTable
	hashErr   error

	mu    sync.Mutex
	slots map[string]*sectionSlot

	refs    atomic.Int64
	onClose atomic.Value // func()
}

type sectionSlot struct {
	once sync.Once
	val  any
	err  error
}

// Open opens the container in b and returns a Handle holding one reference.
// The handle owns b. Structural problems are reported as
// chunkfile.ErrInvalidChunk.
func Open(ctx context.Context, b blobstore.Blob, opts ...Option) (*Handle, error) {
	o := options{observer: noopObserver{}, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	if o.digest.IsZero() {
		d, err := chunkfile.DigestBlob(ctx, b)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("chunk: digest: %w: %w", ErrStorageUnavailable, err)
		}
		o.digest = d
	}

	r, err := chunkfile.Open(ctx, b)
	if err != nil {
		if !errors.Is(err, chunkfile.ErrInvalidChunk) {
			err = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return nil, fmt.Errorf("chunk: open %s: %w", o.source, err)
	}
	if o.expectedID != nil && r.ChunkID() != *o.expectedID {
		_ = r.Close()
		return nil, fmt.Errorf("chunk: open %s: header says chunk %d, want %d: %w",
			o.source, r.ChunkID(), *o.expectedID, chunkfile.ErrInvalidChunk)
	}
	return New(r, o.digest, opts...), nil
}

// New wraps an opened reader. The handle owns r and holds one reference.
func New(r *chunkfile.Reader, digest chunkfile.Digest, opts ...Option) *Handle {
	o := options{observer: noopObserver{}, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	h := &Handle{
		id:       r.ChunkID(),
		digest:   digest,
		source:   o.source,
		reader:   r,
		kinds:    r.Indexes(),
		observer: o.observer,
		logger:   o.logger.With("chunk", uint32(r.ChunkID())),
		slots:    make(map[string]*sectionSlot),
	}
	h.refs.Store(1)
	var f func()
	h.onClose.Store(f)
	return h
}

// ID returns the chunk id.
func (h *Handle) ID() model.ChunkID { return h.id }

// Digest returns the content digest of the container.
func (h *Handle) Digest() chunkfile.Digest { return h.digest }

// Source returns where the chunk was loaded from, if known.
func (h *Handle) Source() string { return h.source }

// Size returns the container size in bytes.
func (h *Handle) Size() int64 { return h.reader.Size() }

// Kinds returns the sorted index kinds the chunk provides.
func (h *Handle) Kinds() []string {
	return append([]string(nil), h.kinds...)
}

// Provides reports whether the chunk has a section for kind. A provided
// kind can still turn out absent if it fails to open.
func (h *Handle) Provides(kind string) bool {
	info, ok := h.reader.Section(kind)
	return ok && info.Kind == chunkfile.SectionIndex
}

// HasHashTable reports whether the chunk carries a content hash table.
func (h *Handle) HasHashTable() bool {
	return h.reader.HashSize() > 0
}

// LookupHash maps a content hash to its chunk-local id. Storage failures
// are returned as errors wrapping ErrStorageUnavailable.
func (h *Handle) LookupHash(hash []byte) (model.InternalHashID, bool, error) {
	if !h.HasHashTable() {
		return 0, false, nil
	}
	h.hashOnce.Do(func() {
		h.hashTable, h.hashErr = h.reader.HashTable(h.ctx())
		if h.hashErr != nil {
			h.hashErr = h.storageErr("hash table", h.hashErr)
			h.reportSection(chunkfile.HashSectionName, h.hashErr)
		}
	})
	if h.hashErr != nil {
		return 0, false, h.hashErr
	}
	if h.hashTable == nil {
		return 0, false, nil
	}
	id, ok := h.hashTable.Lookup(hash)
	return id, ok, nil
}

func (h *Handle) ctx() context.Context {
	return context.Background()
}

func (h *Handle) slot(kind string) *sectionSlot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.slots[kind]
	if !ok {
		s = &sectionSlot{}
		h.slots[kind] = s
	}
	return s
}

func (h *Handle) storageErr(what string, err error) error {
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("chunk %d: %s: %w: %w", h.id, what, ErrStorageUnavailable, err)
}

func (h *Handle) reportSection(kind string, err error) {
	h.logger.Warn("chunk section unavailable", "kind", kind, "error", err)
	h.observer.SectionFailed(h.id, kind, err)
}

// IncRef adds a reference. The caller must already hold one.
func (h *Handle) IncRef() {
	h.refs.Add(1)
}

// TryIncRef adds a reference unless the handle is already closed.
func (h *Handle) TryIncRef() bool {
	for {
		refs := h.refs.Load()
		if refs <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// DecRef drops a reference and closes the container when it was the last.
func (h *Handle) DecRef() {
	switch n := h.refs.Add(-1); {
	case n == 0:
		if err := h.reader.Close(); err != nil {
			h.logger.Warn("close chunk", "error", err)
		}
		if f := h.onClose.Load().(func()); f != nil {
			f()
		}
	case n < 0:
		panic(fmt.Sprintf("chunk %d: reference count below zero", h.id))
	}
}

// Refs returns the current reference count.
func (h *Handle) Refs() int64 {
	return h.refs.Load()
}

// SetOnClose registers f to run after the container is closed.
func (h *Handle) SetOnClose(f func()) {
	h.onClose.Store(f)
}

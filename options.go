package chunkidx

import (
	"log/slog"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/internal/enumerator"
	"github.com/hupe1980/chunkidx/locator"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	cacheDir         string
	remote           blobstore.BlobStore
	catalog          locator.Catalog
	fetchConcurrency int
	ioLimit          int64
	readChunkSize    int64
	blockCacheBytes  int64
	hashCacheSize    int
	observer         chunk.Observer
}

// Option configures a Manager.
type Option func(*options)

// WithLogger configures structured logging. Pass nil to disable logging.
//
// Example with JSON logging:
//
//	m, _ := chunkidx.New(chunkidx.WithLogger(chunkidx.NewJSONLogger(slog.LevelInfo)))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector. Pass nil to disable
// metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &chunkidx.BasicMetricsCollector{}
//	m, _ := chunkidx.New(chunkidx.WithMetricsCollector(metrics))
//	// ... use m ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithCacheDir sets the directory chunks are cached in. It defaults to
// chunkidx below the user cache directory.
func WithCacheDir(dir string) Option {
	return func(o *options) {
		o.cacheDir = dir
	}
}

// WithRemote sets the store chunks are downloaded from.
func WithRemote(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.remote = store
	}
}

// WithCatalog sets the discovery catalog used by LocateIndexes.
func WithCatalog(c locator.Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithFetchConcurrency sets how many candidate chunks are processed at
// once. The default of 1 keeps progress reports in catalog order.
func WithFetchConcurrency(n int) Option {
	return func(o *options) {
		o.fetchConcurrency = n
	}
}

// WithIOLimit caps download bandwidth in bytes per second. 0 means
// unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithReadChunkSize sets the download piece size. Progress and
// cancellation are checked once per piece.
func WithReadChunkSize(n int64) Option {
	return func(o *options) {
		o.readChunkSize = n
	}
}

// WithBlockCache caches remote reads in memory, up to capacityBytes. A
// download retried after cancellation or failure is then served from the
// cache for the blocks already read.
func WithBlockCache(capacityBytes int64) Option {
	return func(o *options) {
		o.blockCacheBytes = capacityBytes
	}
}

// WithHashCacheSize sets the number of memoised content hash lookups.
// 0 disables the memo.
func WithHashCacheSize(n int) Option {
	return func(o *options) {
		o.hashCacheSize = n
	}
}

// WithObserver receives index kinds that fail to open.
func WithObserver(obs chunk.Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fetchConcurrency: 1,
		readChunkSize:    locator.DefaultReadChunkSize,
		hashCacheSize:    enumerator.DefaultMemoSize,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.fetchConcurrency <= 0 {
		o.fetchConcurrency = 1
	}
	return o
}

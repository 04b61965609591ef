package chunkidx

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordAttach is called after a chunk was attached. source is "local"
	// for cached chunks and "fetched" for downloaded ones.
	RecordAttach(source string)

	// RecordDetach is called after a chunk was detached.
	RecordDetach()

	// RecordFetch is called after each download attempt.
	RecordFetch(bytes int64, duration time.Duration, err error)

	// RecordEnumerate is called after each content hash lookup.
	RecordEnumerate(found bool, duration time.Duration, err error)

	// RecordFanout is called after each fan-out.
	RecordFanout(visited, failed int, duration time.Duration)

	// RecordStorageFailure is called when an index kind of a chunk cannot
	// be opened.
	RecordStorageFailure(kind string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAttach(string)                        {}
func (NoopMetricsCollector) RecordDetach()                              {}
func (NoopMetricsCollector) RecordFetch(int64, time.Duration, error)    {}
func (NoopMetricsCollector) RecordEnumerate(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordFanout(int, int, time.Duration)       {}
func (NoopMetricsCollector) RecordStorageFailure(string)                {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AttachCount         atomic.Int64
	DetachCount         atomic.Int64
	FetchCount          atomic.Int64
	FetchErrors         atomic.Int64
	FetchBytes          atomic.Int64
	FetchTotalNanos     atomic.Int64
	EnumerateCount      atomic.Int64
	EnumerateHits       atomic.Int64
	EnumerateErrors     atomic.Int64
	EnumerateTotalNanos atomic.Int64
	FanoutCount         atomic.Int64
	FanoutVisited       atomic.Int64
	FanoutFailed        atomic.Int64
	StorageFailures     atomic.Int64
}

// RecordAttach implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAttach(string) {
	b.AttachCount.Add(1)
}

// RecordDetach implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDetach() {
	b.DetachCount.Add(1)
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(bytes int64, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchBytes.Add(bytes)
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordEnumerate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEnumerate(found bool, duration time.Duration, err error) {
	b.EnumerateCount.Add(1)
	b.EnumerateTotalNanos.Add(duration.Nanoseconds())
	if found {
		b.EnumerateHits.Add(1)
	}
	if err != nil {
		b.EnumerateErrors.Add(1)
	}
}

// RecordFanout implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFanout(visited, failed int, _ time.Duration) {
	b.FanoutCount.Add(1)
	b.FanoutVisited.Add(int64(visited))
	b.FanoutFailed.Add(int64(failed))
}

// RecordStorageFailure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStorageFailure(string) {
	b.StorageFailures.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AttachCount:       b.AttachCount.Load(),
		DetachCount:       b.DetachCount.Load(),
		FetchCount:        b.FetchCount.Load(),
		FetchErrors:       b.FetchErrors.Load(),
		FetchBytes:        b.FetchBytes.Load(),
		FetchAvgNanos:     avg(b.FetchTotalNanos.Load(), b.FetchCount.Load()),
		EnumerateCount:    b.EnumerateCount.Load(),
		EnumerateHits:     b.EnumerateHits.Load(),
		EnumerateErrors:   b.EnumerateErrors.Load(),
		EnumerateAvgNanos: avg(b.EnumerateTotalNanos.Load(), b.EnumerateCount.Load()),
		FanoutCount:       b.FanoutCount.Load(),
		FanoutVisited:     b.FanoutVisited.Load(),
		FanoutFailed:      b.FanoutFailed.Load(),
		StorageFailures:   b.StorageFailures.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AttachCount       int64
	DetachCount       int64
	FetchCount        int64
	FetchErrors       int64
	FetchBytes        int64
	FetchAvgNanos     int64
	EnumerateCount    int64
	EnumerateHits     int64
	EnumerateErrors   int64
	EnumerateAvgNanos int64
	FanoutCount       int64
	FanoutVisited     int64
	FanoutFailed      int64
	StorageFailures   int64
}

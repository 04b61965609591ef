// Package resource governs the resources chunk downloads and caches share.
//
//   - Memory: block cache accounting with an optional hard limit (fail-fast)
//   - Fetch slots: bound on concurrent chunk downloads (blocking semaphore)
//   - IO: download bandwidth (token bucket)
//
// A nil *Controller is valid and imposes no limits.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     256 << 20,
//	    MaxConcurrentFetches: 4,
//	    IOLimitBytesPerSec:   50 << 20,
//	})
//
//	if err := rc.AcquireFetch(ctx); err != nil { ... }
//	defer rc.ReleaseFetch()
//	r := resource.NewRateLimitedReader(ctx, body, rc)
package resource

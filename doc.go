// Package chunkidx attaches precomputed, externally produced index chunks to
// a running index engine, so dependency sources need not be indexed locally.
//
// A Manager owns the set of attached chunks. Chunks are immutable container
// files (see package chunkfile) holding a content hash table and any number
// of typed key/value index sections.
//
// # Quick Start
//
//	cat, _ := catalog.LoadStatic(ctx, remote, catalog.DefaultManifestName)
//	m, _ := chunkidx.New(
//	    chunkidx.WithCacheDir("/var/cache/chunkidx"),
//	    chunkidx.WithRemote(remote),
//	    chunkidx.WithCatalog(cat),
//	)
//	defer m.Close()
//
//	res, _ := m.LocateIndexes(ctx, "my-project", entries, nil)
//	fmt.Println(res.Attached, res.Failures)
//
// # Queries
//
// Index kinds are named by typed identifiers:
//
//	var Symbols = chunk.NewIndexID("symbols", codec.String{}, codec.Uint32List{})
//
//	// One chunk.
//	idx, release, ok := chunkidx.GetChunk(m, Symbols, 3)
//	if ok {
//	    defer release()
//	    ids, found, err := idx.Get("main")
//	}
//
//	// All chunks, stopping early.
//	_ = chunkidx.ProcessChunks(m, Symbols, func(idx *chunk.Index[string, []uint32]) bool {
//	    _, found, _ := idx.Get("main")
//	    return !found
//	})
//
// # Content hashes
//
// TryEnumerateContentHash maps a file digest to a HashID that packs the
// chunk-local id, the chunk id and the chunk's attach epoch. A HashID issued
// before a chunk was detached never resolves to a chunk attached later under
// the same id. model.NullHashID means "not in any attached chunk"; storage
// failures are returned as errors instead.
//
// # Failures
//
// Per-chunk failures never abort an operation. An index kind that cannot be
// opened is treated as absent and reported to the Observer; a chunk that
// cannot be downloaded is listed in the locate result. Only cancellation,
// ErrAbort and conflicting chunks surface as errors.
package chunkidx

// Package locator makes chunks available for a project's dependencies.
//
// A discovery request asks a Catalog which chunks are relevant to a set of
// order entries. Every candidate chunk then runs through its own state
// machine:
//
//	Pending → Resolving → FoundLocal | Fetching → Attaching → Attached | Failed
//
// with Cancelled for candidates never started because the request was
// cancelled and AlreadyAttached for chunks the registry already holds.
//
// Fetched chunks are streamed from a remote blob store into the local cache
// directory, verified against the catalog's blake3 digest and size, and
// renamed into place atomically. A per-chunk file lock keeps concurrent
// processes from downloading the same chunk twice.
//
// A failing candidate never aborts the others. Failures are collected in the
// Result; only a catalog failure or a conflicting chunk is returned as an
// error.
package locator

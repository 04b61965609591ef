package chunkidx

import (
	"errors"
	"fmt"

	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/internal/fanout"
	"github.com/hupe1980/chunkidx/internal/registry"
	"github.com/hupe1980/chunkidx/locator"
	"github.com/hupe1980/chunkidx/model"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrStorageUnavailable means chunk bytes are missing or corrupt. The
	// chunk is treated as absent for the affected index kind.
	ErrStorageUnavailable = chunk.ErrStorageUnavailable

	// ErrInvalidChunk means a chunk is structurally malformed. It is never
	// attached.
	ErrInvalidChunk = chunkfile.ErrInvalidChunk

	// ErrCodecMismatch means an index kind was requested with codecs other
	// than it was written with. It wraps ErrInvalidChunk.
	ErrCodecMismatch = chunk.ErrCodecMismatch

	// ErrFetchFailed means a candidate chunk could not be downloaded.
	ErrFetchFailed = locator.ErrFetchFailed

	// ErrCancelled marks work abandoned on request.
	ErrCancelled = locator.ErrCancelled

	// ErrConflictingChunk means a chunk id is already attached with
	// different content.
	ErrConflictingChunk = registry.ErrConflictingChunk

	// ErrClosed is returned after Close.
	ErrClosed = registry.ErrClosed

	// ErrAbort stops TryProcessChunks when returned by the visitor.
	ErrAbort = fanout.ErrAbort
)

// ChunkError reports a hard failure tied to one chunk.
//
// The original underlying error can be accessed via errors.Unwrap.
type ChunkError struct {
	ChunkID model.ChunkID
	Op      string
	cause   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunkidx: %s chunk %d: %v", e.Op, e.ChunkID, e.cause)
}

func (e *ChunkError) Unwrap() error { return e.cause }

func translateError(op string, id model.ChunkID, err error) error {
	if err == nil {
		return nil
	}
	var ce *ChunkError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, ErrConflictingChunk) || errors.Is(err, ErrInvalidChunk) {
		return &ChunkError{ChunkID: id, Op: op, cause: err}
	}
	return err
}

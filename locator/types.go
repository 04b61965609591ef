package locator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/chunkidx/chunkfile"
	"github.com/hupe1980/chunkidx/model"
)

var (
	// ErrFetchFailed marks a candidate whose bytes could not be obtained.
	ErrFetchFailed = errors.New("chunk fetch failed")

	// ErrDigestMismatch marks a download whose content differs from the
	// catalog's digest or size.
	ErrDigestMismatch = fmt.Errorf("%w: digest mismatch", ErrFetchFailed)

	// ErrCancelled marks work abandoned because the request was cancelled.
	// It is a terminal state, not a failure.
	ErrCancelled = errors.New("cancelled")
)

// Candidate is one chunk a catalog considers relevant.
type Candidate struct {
	ChunkID model.ChunkID    `json:"chunk_id" yaml:"chunk_id"`
	Blob    string           `json:"blob,omitempty" yaml:"blob,omitempty"`
	Digest  chunkfile.Digest `json:"digest,omitzero" yaml:"digest,omitempty"`
	Size    int64            `json:"size,omitempty" yaml:"size,omitempty"`
	Entry   string           `json:"entry,omitempty" yaml:"entry,omitempty"`
}

// BlobName returns the remote blob name, defaulting to the canonical
// chunk file name.
func (c Candidate) BlobName() string {
	if c.Blob != "" {
		return c.Blob
	}
	return chunkfile.FileName(c.ChunkID)
}

// Catalog maps order entries to candidate chunks.
type Catalog interface {
	Resolve(ctx context.Context, project model.ProjectID, entries []model.OrderEntry) ([]Candidate, error)
}

// CatalogFunc adapts a function to Catalog.
type CatalogFunc func(ctx context.Context, project model.ProjectID, entries []model.OrderEntry) ([]Candidate, error)

// Resolve implements Catalog.
func (f CatalogFunc) Resolve(ctx context.Context, project model.ProjectID, entries []model.OrderEntry) ([]Candidate, error) {
	return f(ctx, project, entries)
}

// Progress receives progress reports and is polled for cancellation.
type Progress interface {
	ReportProgress(fraction float64, message string)
	IsCancelled() bool
}

// NopProgress ignores reports and is never cancelled.
type NopProgress struct{}

// ReportProgress implements Progress.
func (NopProgress) ReportProgress(float64, string) {}

// IsCancelled implements Progress.
func (NopProgress) IsCancelled() bool { return false }

// Request is one discovery request.
type Request struct {
	Project  model.ProjectID
	Entries  []model.OrderEntry
	Progress Progress
}

// State is the per-candidate discovery state.
type State int

// Candidate states.
const (
	StatePending State = iota
	StateResolving
	StateFoundLocal
	StateFetching
	StateAttaching
	StateAttached
	StateFailed
	StateCancelled
	StateAlreadyAttached
)

var stateNames = [...]string{
	StatePending:         "pending",
	StateResolving:       "resolving",
	StateFoundLocal:      "found_local",
	StateFetching:        "fetching",
	StateAttaching:       "attaching",
	StateAttached:        "attached",
	StateFailed:          "failed",
	StateCancelled:       "cancelled",
	StateAlreadyAttached: "already_attached",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateAttached, StateFailed, StateCancelled, StateAlreadyAttached:
		return true
	default:
		return false
	}
}

// Failure records why one candidate failed.
type Failure struct {
	ChunkID model.ChunkID `json:"chunk_id"`
	Err     error         `json:"-"`
	Reason  string        `json:"reason"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("chunk %d: %v", f.ChunkID, f.Err)
}

// Unwrap returns the underlying error.
func (f Failure) Unwrap() error { return f.Err }

// Result is the outcome of a discovery request. Lists are sorted by chunk id.
type Result struct {
	RequestID       string                  `json:"request_id"`
	Project         model.ProjectID         `json:"project"`
	Attached        []model.ChunkID         `json:"attached"`
	AlreadyAttached []model.ChunkID         `json:"already_attached"`
	Cancelled       []model.ChunkID         `json:"cancelled"`
	Failures        []Failure               `json:"failures"`
	States          map[model.ChunkID]State `json:"states"`
}

// OK reports whether every candidate ended attached.
func (r *Result) OK() bool {
	return len(r.Failures) == 0 && len(r.Cancelled) == 0
}

func (r *Result) finish() {
	r.Attached, r.AlreadyAttached, r.Cancelled = nil, nil, nil
	for id, s := range r.States {
		switch s {
		case StateAttached:
			r.Attached = append(r.Attached, id)
		case StateAlreadyAttached:
			r.AlreadyAttached = append(r.AlreadyAttached, id)
		case StateCancelled:
			r.Cancelled = append(r.Cancelled, id)
		}
	}
	slices.Sort(r.Attached)
	slices.Sort(r.AlreadyAttached)
	slices.Sort(r.Cancelled)
	slices.SortFunc(r.Failures, func(a, b Failure) int { return int(a.ChunkID) - int(b.ChunkID) })
}

// Package catalog provides discovery catalogs for the locator.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/goccy/go-json"

	"github.com/hupe1980/chunkidx/blobstore"
	"github.com/hupe1980/chunkidx/locator"
	"github.com/hupe1980/chunkidx/model"
)

// ManifestVersion is the current manifest format version.
const ManifestVersion = 1

// DefaultManifestName is the blob name manifests are stored under.
const DefaultManifestName = "catalog.json"

// Manifest is the serialised form of a Static catalog.
type Manifest struct {
	Version int             `json:"version"`
	Chunks  []ManifestChunk `json:"chunks"`
}

// ManifestChunk lists one chunk and the order entries it covers.
type ManifestChunk struct {
	locator.Candidate
	Entries []string `json:"entries"`
}

// Static is an in-memory catalog. Entries are matched by their full key and
// then without version, so "lib:foo:" covers every version of foo.
type Static struct {
	mu      sync.RWMutex
	chunks  map[model.ChunkID]ManifestChunk
	byEntry map[string][]model.ChunkID
}

var _ locator.Catalog = (*Static)(nil)

// NewStatic creates an empty catalog.
func NewStatic() *Static {
	return &Static{
		chunks:  make(map[model.ChunkID]ManifestChunk),
		byEntry: make(map[string][]model.ChunkID),
	}
}

// Add registers a chunk for the given entry keys, replacing any previous
// registration of the same chunk id.
func (s *Static) Add(c locator.Candidate, entries ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.chunks[c.ChunkID]; ok {
		for _, e := range old.Entries {
			s.byEntry[e] = slices.DeleteFunc(s.byEntry[e], func(id model.ChunkID) bool { return id == c.ChunkID })
		}
	}
	s.chunks[c.ChunkID] = ManifestChunk{Candidate: c, Entries: slices.Clone(entries)}
	for _, e := range entries {
		s.byEntry[e] = append(s.byEntry[e], c.ChunkID)
	}
}

// Len returns the number of chunks.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Resolve implements locator.Catalog.
func (s *Static) Resolve(ctx context.Context, _ model.ProjectID, entries []model.OrderEntry) ([]locator.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []locator.Candidate
	seen := make(map[model.ChunkID]bool)
	for _, e := range entries {
		ids := s.byEntry[e.Key()]
		if len(ids) == 0 {
			ids = s.byEntry[model.OrderEntry{Kind: e.Kind, Name: e.Name}.Key()]
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			c := s.chunks[id].Candidate
			c.Entry = e.Key()
			out = append(out, c)
		}
	}
	return out, nil
}

// Manifest returns the catalog content ordered by chunk id.
func (s *Static) Manifest() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := Manifest{Version: ManifestVersion}
	for _, c := range s.chunks {
		m.Chunks = append(m.Chunks, c)
	}
	slices.SortFunc(m.Chunks, func(a, b ManifestChunk) int { return int(a.ChunkID) - int(b.ChunkID) })
	return m
}

// MarshalJSON implements json.Marshaler.
func (s *Static) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Manifest())
}

// ParseStatic decodes a JSON manifest.
func ParseStatic(data []byte) (*Static, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("catalog: decode manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("catalog: unsupported manifest version %d", m.Version)
	}
	s := NewStatic()
	for i, c := range m.Chunks {
		if !c.ChunkID.Valid() {
			return nil, fmt.Errorf("catalog: chunk %d at position %d out of range", c.ChunkID, i)
		}
		if _, dup := s.chunks[c.ChunkID]; dup {
			return nil, fmt.Errorf("catalog: chunk %d listed twice", c.ChunkID)
		}
		s.Add(c.Candidate, c.Entries...)
	}
	return s, nil
}

// LoadStatic reads a JSON manifest from store. A missing manifest yields an
// empty catalog.
func LoadStatic(ctx context.Context, store blobstore.BlobStore, name string) (*Static, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return NewStatic(), nil
		}
		return nil, fmt.Errorf("catalog: open %s: %w", name, err)
	}
	defer func() { _ = b.Close() }()

	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", name, err)
	}
	return ParseStatic(data)
}

// SaveStatic writes s to store as a JSON manifest.
func SaveStatic(ctx context.Context, store blobstore.BlobStore, name string, s *Static) error {
	data, err := json.MarshalIndent(s.Manifest(), "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode manifest: %w", err)
	}
	return store.Put(ctx, name, data)
}

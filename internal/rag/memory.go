package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore implements VectorStore with in-process brute-force cosine
// similarity. It is intended for development and tests; nothing survives a
// restart. Safe for concurrent use.
type MemoryStore struct {
	// embedder converts chunk and query text into vectors.
	embedder Embedder

	// mu protects collections.
	mu sync.RWMutex

	// collections maps derived collection name to its entries.
	collections map[string][]memoryEntry
}

// memoryEntry is one committed chunk with its embedding and assigned id.
type memoryEntry struct {
	id     string
	chunk  Chunk
	vector []float32
}

// NewMemoryStore constructs a MemoryStore using the given embedder.
func NewMemoryStore(embedder Embedder) (*MemoryStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: memory store requires an embedder")
	}
	return &MemoryStore{
		embedder:    embedder,
		collections: make(map[string][]memoryEntry),
	}, nil
}

// EnsureCollection creates the tenant's collection if absent.
func (s *MemoryStore) EnsureCollection(_ context.Context, tenant string) (string, error) {
	name, err := CollectionName(tenant)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = nil
	}
	return name, nil
}

// GetByMetadata returns entry ids and modified times grouped by metadata value.
func (s *MemoryStore) GetByMetadata(ctx context.Context, tenant, key string, values []string) (map[string]MetadataHit, error) {
	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(values))
	for _, v := range values {
		wanted[v] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]MetadataHit)
	for _, e := range s.collections[name] {
		v, ok := metadataValue(e.chunk, key)
		if !ok || !wanted[v] {
			continue
		}
		hit := out[v]
		hit.IDs = append(hit.IDs, e.id)
		hit.Modified = e.chunk.Modified
		out[v] = hit
	}
	return out, nil
}

// DeleteByIDs removes entries by id. Empty input is a no-op success.
func (s *MemoryStore) DeleteByIDs(ctx context.Context, tenant string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return err
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.collections[name]
	kept := entries[:0]
	for _, e := range entries {
		if !drop[e.id] {
			kept = append(kept, e)
		}
	}
	s.collections[name] = kept
	return nil
}

// DeleteByMetadata resolves ids for the given values and deletes them.
func (s *MemoryStore) DeleteByMetadata(ctx context.Context, tenant, key string, values []string) error {
	return deleteByMetadata(ctx, s, tenant, key, values)
}

// AddChunks embeds and commits the chunks, returning the assigned ids.
func (s *MemoryStore) AddChunks(ctx context.Context, tenant string, chunks []Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, backendErr("embed", err)
	}
	if len(vectors) != len(chunks) {
		return nil, backendErr("embed", fmt.Errorf("expected %d vectors, got %d", len(chunks), len(vectors)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(chunks))
	for i, c := range chunks {
		id := uuid.NewString()
		s.collections[name] = append(s.collections[name], memoryEntry{
			id:     id,
			chunk:  c,
			vector: vectors[i],
		})
		ids = append(ids, id)
	}
	return ids, nil
}

// Search embeds the query and returns the top-k entries by cosine similarity.
func (s *MemoryStore) Search(ctx context.Context, tenant, query string, k int, filters []MetadataFilter) ([]SearchHit, error) {
	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, backendErr("embed query", err)
	}
	if len(vectors) != 1 {
		return nil, backendErr("embed query", fmt.Errorf("expected 1 vector, got %d", len(vectors)))
	}
	qv := vectors[0]

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []SearchHit
	for _, e := range s.collections[name] {
		if !matchesFilters(e.chunk, filters) {
			continue
		}
		hits = append(hits, SearchHit{
			Chunk: e.chunk,
			Score: cosine(qv, e.vector),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Close releases nothing; the store is purely in-process.
func (s *MemoryStore) Close() error { return nil }

// metadataValue extracts the named metadata field from a chunk.
func metadataValue(c Chunk, key string) (string, bool) {
	switch key {
	case "source":
		return c.Source, true
	case "title":
		return c.Title, true
	case "type":
		return c.MediaType, true
	case "provider":
		return c.Provider, true
	default:
		return "", false
	}
}

// matchesFilters reports whether the chunk satisfies the OR-of-IN predicate.
// An empty filter list matches everything (unscoped search).
func matchesFilters(c Chunk, filters []MetadataFilter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		v, ok := metadataValue(c, f.Key)
		if !ok {
			continue
		}
		for _, want := range f.Values {
			if v == want {
				return true
			}
		}
	}
	return false
}

// deleteByMetadata implements the shared resolve-then-delete composition:
// ids are looked up via GetByMetadata and removed via DeleteByIDs. Empty
// values succeed trivially.
func deleteByMetadata(ctx context.Context, s VectorStore, tenant, key string, values []string) error {
	if len(values) == 0 {
		return nil
	}

	hits, err := s.GetByMetadata(ctx, tenant, key, values)
	if err != nil {
		return err
	}

	var ids []string
	for _, h := range hits {
		ids = append(ids, h.IDs...)
	}
	return s.DeleteByIDs(ctx, tenant, ids)
}

// cosine returns the cosine similarity of a and b, or 0 when either vector
// has zero magnitude or the dimensions differ.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

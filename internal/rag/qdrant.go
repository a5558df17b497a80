package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// scrollPageSize bounds how many entries one GetByMetadata page returns.
// Qdrant enforces a server-side cap, so the lookup paginates with an offset
// cursor until the page comes back short.
const scrollPageSize = 1024

// QdrantConfig holds connection parameters for a Qdrant vector store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// VectorSize is the dimensionality of the stored embeddings. It must
	// match the embedding model's output dimension.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// TrustAmbiguousDelete treats a delete call that returns no status as a
	// success instead of an error. Off by default: Qdrant reports real
	// operation statuses, so an absent one indicates a broken response.
	TrustAmbiguousDelete bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance. Each
// tenant maps to its own Qdrant collection, created on first use.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// embedder converts chunk and query text into vectors.
	embedder Embedder

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// log is the structured logger for backend quirk diagnostics.
	log *slog.Logger
}

// NewQdrantStore connects to Qdrant and returns a ready-to-use store.
// Collections are created lazily per tenant by EnsureCollection.
func NewQdrantStore(cfg *QdrantConfig, embedder Embedder, log *slog.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: qdrant store requires an embedder")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("rag: qdrant store requires a vector size")
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: qdrant client: %w", err)
	}

	return &QdrantStore{client: client, embedder: embedder, cfg: cfg, log: log}, nil
}

// EnsureCollection creates the tenant's collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, tenant string) (string, error) {
	name, err := CollectionName(tenant)
	if err != nil {
		return "", err
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return "", backendErr("collection exists", err)
	}
	if exists {
		return name, nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return "", backendErr("create collection", err)
	}
	return name, nil
}

// GetByMetadata scrolls the tenant's collection for entries whose metadata
// key matches any of the given values, paginating past the server-side cap.
func (s *QdrantStore) GetByMetadata(ctx context.Context, tenant, key string, values []string) (map[string]MetadataHit, error) {
	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return map[string]MetadataHit{}, nil
	}

	filter, err := buildQdrantFilter([]MetadataFilter{{Key: key, Values: values}})
	if err != nil {
		return nil, err
	}

	out := make(map[string]MetadataHit)
	limit := uint32(scrollPageSize)
	var offset *qdrant.PointId

	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Filter:         filter,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude(key, "modified"),
		})
		if err != nil {
			return nil, backendErr("scroll", err)
		}

		for _, p := range points {
			val := p.GetPayload()[key].GetStringValue()
			if val == "" {
				continue
			}
			hit := out[val]
			hit.IDs = append(hit.IDs, p.GetId().GetUuid())
			hit.Modified = p.GetPayload()["modified"].GetIntegerValue()
			out[val] = hit
		}

		if len(points) < scrollPageSize {
			return out, nil
		}
		offset = points[len(points)-1].GetId()
	}
}

// DeleteByIDs removes entries by their point ids. Empty input is a no-op
// success. A delete response without an operation status is handled per the
// TrustAmbiguousDelete policy.
func (s *QdrantStore) DeleteByIDs(ctx context.Context, tenant string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	name, err := s.EnsureCollection(ctx, tenant)
	if err != nil {
		return err
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	result, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return backendErr("delete", err)
	}
	if result == nil {
		if s.cfg.TrustAmbiguousDelete {
			s.log.Warn("qdrant: delete returned no status, trusting as success",
				slog.String("collection", name),
				slog.Int("ids", len(ids)),
			)
			return nil
		}
		return backendErr("delete", fmt.Errorf("no operation status returned"))
	}
	return nil
}

// DeleteByMetadata resolves ids for the given values and deletes them.
func (s *QdrantStore) DeleteByMetadata(ctx context.Context, tenant, key string, values []string) error {
	return deleteByMetadata(ctx, s, tenant, key, values)
}

// AddChunks embeds the chunks and upserts them as points with the fixed
// payload schema, returning the generated point ids.
func (s *QdrantStore) AddChunks(ctx context.Context, tenant string, chunks []Chunk) ([]string, error) {
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

	ids := make([]string, 0, len(chunks))
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		id := uuid.NewString()
		ids = append(ids, id)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"text":        c.Text,
				"title":       c.Title,
				"type":        c.MediaType,
				"source":      c.Source,
				"start_index": int64(c.StartOffset),
				"modified":    c.Modified,
				"provider":    c.Provider,
			}),
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
	}); err != nil {
		return nil, backendErr("upsert", err)
	}
	return ids, nil
}

// Search embeds the query and runs a cosine similarity query, optionally
// narrowed by the OR-of-IN metadata filter.
func (s *QdrantStore) Search(ctx context.Context, tenant, query string, k int, filters []MetadataFilter) ([]SearchHit, error) {
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

	var filter *qdrant.Filter
	if len(filters) > 0 {
		filter, err = buildQdrantFilter(filters)
		if err != nil {
			return nil, err
		}
	}

	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vectors[0]...),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, backendErr("query", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		p := r.GetPayload()
		hits = append(hits, SearchHit{
			Chunk: Chunk{
				Text:        p["text"].GetStringValue(),
				Title:       p["title"].GetStringValue(),
				MediaType:   p["type"].GetStringValue(),
				Source:      p["source"].GetStringValue(),
				Modified:    p["modified"].GetIntegerValue(),
				Provider:    p["provider"].GetStringValue(),
				StartOffset: int(p["start_index"].GetIntegerValue()),
			},
			Score: r.GetScore(),
		})
	}
	return hits, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildQdrantFilter constructs the OR-of-IN predicate: a single filter is
// `key IN values`, multiple filters form a disjunction. An empty filter
// list is a programmer error; callers pass nil for unscoped searches.
func buildQdrantFilter(filters []MetadataFilter) (*qdrant.Filter, error) {
	if len(filters) == 0 {
		return nil, backendErr("build filter", fmt.Errorf("filter list must not be empty"))
	}

	conditions := make([]*qdrant.Condition, 0, len(filters))
	for _, f := range filters {
		if f.Key == "" || len(f.Values) == 0 {
			return nil, backendErr("build filter", fmt.Errorf("filter for %q has no values", f.Key))
		}
		conditions = append(conditions, qdrant.NewMatchKeywords(f.Key, f.Values...))
	}

	return &qdrant.Filter{Should: conditions}, nil
}

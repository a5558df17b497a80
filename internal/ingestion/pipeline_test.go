package ingestion

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jskala/ragdex/internal/rag"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 4)
		for j, r := range text {
			v[j%4] += float32(r)
		}
		out[i] = v
	}
	return out, nil
}

func newPipeline(t *testing.T) (*Pipeline, rag.VectorStore) {
	t.Helper()

	store, err := rag.NewMemoryStore(stubEmbedder{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p, err := NewPipeline(store, &Config{ChunkSize: 100}, slog.Default())
	require.NoError(t, err)
	return p, store
}

func textDoc(source, text string, modified string) Document {
	return Document{
		SourceID:  source,
		Title:     source,
		MediaType: "text/plain",
		Modified:  modified,
		Provider:  "files",
		Content:   []byte(text),
	}
}

func TestIngestCommitsChunks(t *testing.T) {
	t.Parallel()

	p, store := newPipeline(t)
	ctx := context.Background()

	ok, err := p.Ingest(ctx, "u1", []Document{textDoc("a.txt", "hello ingestion world", "10")})
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := store.GetByMetadata(ctx, "u1", "source", []string{"a.txt"})
	require.NoError(t, err)
	require.Contains(t, found, "a.txt")
	assert.Equal(t, int64(10), found["a.txt"].Modified)
}

func TestIngestSkipsOlderVersion(t *testing.T) {
	t.Parallel()

	p, store := newPipeline(t)
	ctx := context.Background()

	ok, err := p.Ingest(ctx, "u1", []Document{textDoc("a.txt", "version ten", "10")})
	require.NoError(t, err)
	require.True(t, ok)

	before, err := store.GetByMetadata(ctx, "u1", "source", []string{"a.txt"})
	require.NoError(t, err)

	// An older version must leave the store untouched.
	ok, err = p.Ingest(ctx, "u1", []Document{textDoc("a.txt", "version five", "5")})
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := store.GetByMetadata(ctx, "u1", "source", []string{"a.txt"})
	require.NoError(t, err)
	assert.Equal(t, before["a.txt"].IDs, after["a.txt"].IDs)
	assert.Equal(t, int64(10), after["a.txt"].Modified)
}

func TestIngestReplacesStaleVersion(t *testing.T) {
	t.Parallel()

	p, store := newPipeline(t)
	ctx := context.Background()

	ok, err := p.Ingest(ctx, "u1", []Document{textDoc("a.txt", "version ten", "10")})
	require.NoError(t, err)
	require.True(t, ok)

	oldHits, err := store.GetByMetadata(ctx, "u1", "source", []string{"a.txt"})
	require.NoError(t, err)
	oldIDs := oldHits["a.txt"].IDs

	ok, err = p.Ingest(ctx, "u1", []Document{textDoc("a.txt", "version twenty", "20")})
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := store.GetByMetadata(ctx, "u1", "source", []string{"a.txt"})
	require.NoError(t, err)
	require.Contains(t, after, "a.txt")
	assert.Equal(t, int64(20), after["a.txt"].Modified)
	for _, id := range oldIDs {
		assert.NotContains(t, after["a.txt"].IDs, id)
	}
}

func TestIngestIdempotentReingestion(t *testing.T) {
	t.Parallel()

	p, store := newPipeline(t)
	ctx := context.Background()

	doc := textDoc("a.txt", "the same document twice", "10")

	ok, err := p.Ingest(ctx, "u1", []Document{doc})
	require.NoError(t, err)
	require.True(t, ok)

	first, err := store.GetByMetadata(ctx, "u1", "source", []string{"a.txt"})
	require.NoError(t, err)

	ok, err = p.Ingest(ctx, "u1", []Document{doc})
	require.NoError(t, err)
	assert.True(t, ok)

	second, err := store.GetByMetadata(ctx, "u1", "source", []string{"a.txt"})
	require.NoError(t, err)
	assert.Equal(t, first["a.txt"].IDs, second["a.txt"].IDs)
}

func TestIngestNonNumericModifiedCoercesToZero(t *testing.T) {
	t.Parallel()

	p, store := newPipeline(t)
	ctx := context.Background()

	ok, err := p.Ingest(ctx, "u1", []Document{textDoc("a.txt", "first version", "not-a-number")})
	require.NoError(t, err)
	require.True(t, ok)

	found, err := store.GetByMetadata(ctx, "u1", "source", []string{"a.txt"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), found["a.txt"].Modified)

	// A numeric timestamp strictly beats the coerced zero.
	ok, err = p.Ingest(ctx, "u1", []Document{textDoc("a.txt", "second version", "1")})
	require.NoError(t, err)
	assert.True(t, ok)

	found, err = store.GetByMetadata(ctx, "u1", "source", []string{"a.txt"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), found["a.txt"].Modified)
}

func TestIngestDropsUndecodableDocument(t *testing.T) {
	t.Parallel()

	p, store := newPipeline(t)
	ctx := context.Background()

	ok, err := p.Ingest(ctx, "u1", []Document{
		textDoc("good.txt", "healthy document", "10"),
		{SourceID: "bad.pdf", Title: "bad.pdf", MediaType: "application/pdf", Modified: "10", Provider: "files", Content: []byte("not a pdf")},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := store.GetByMetadata(ctx, "u1", "source", []string{"good.txt", "bad.pdf"})
	require.NoError(t, err)
	assert.Contains(t, found, "good.txt")
	assert.NotContains(t, found, "bad.pdf")
}

func TestIngestTenantIsolation(t *testing.T) {
	t.Parallel()

	p, store := newPipeline(t)
	ctx := context.Background()

	ok, err := p.Ingest(ctx, "tenant-a", []Document{textDoc("a.txt", "alpha tenant document", "10")})
	require.NoError(t, err)
	require.True(t, ok)

	hits, err := store.Search(ctx, "tenant-b", "alpha tenant document", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIngestLargeBatchAcrossWorkers(t *testing.T) {
	t.Parallel()

	store, err := rag.NewMemoryStore(stubEmbedder{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// A small task budget forces worker recycling mid-batch.
	p, err := NewPipeline(store, &Config{ChunkSize: 100, Workers: 3, WorkerTaskBudget: 2}, slog.Default())
	require.NoError(t, err)

	var docs []Document
	for i := 0; i < 20; i++ {
		source := "doc-" + strings.Repeat("x", i%3) + string(rune('a'+i%26))
		docs = append(docs, textDoc(source+".txt", "document body "+source, "10"))
	}

	ok, err := p.Ingest(context.Background(), "u1", docs)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidSourceID(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidSourceID("files__default: 557"))
	assert.False(t, ValidSourceID("files__default:557"))
	assert.False(t, ValidSourceID("files: 557"))
	assert.False(t, ValidSourceID("a.txt"))

	assert.True(t, ValidProviderID("files__default"))
	assert.False(t, ValidProviderID("files"))
}

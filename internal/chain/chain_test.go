package chain

import (
	"context"
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

// fakeGenerator records the prompt it was asked to complete and returns a
// canned answer.
type fakeGenerator struct {
	lastPrompt string
	lastStop   []string
	answer     string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string, stop []string) (string, error) {
	g.lastPrompt = prompt
	g.lastStop = stop
	return g.answer, nil
}

func (g *fakeGenerator) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func newChain(t *testing.T, gen rag.Generator) (*Chain, rag.VectorStore) {
	t.Helper()

	store, err := rag.NewMemoryStore(stubEmbedder{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c, err := New(store, gen, &Config{TopK: 5, MaxContextTokens: 1000, ReservedTokens: 100}, nil)
	require.NoError(t, err)
	return c, store
}

func seedChunks(t *testing.T, store rag.VectorStore, tenant string, chunks []rag.Chunk) {
	t.Helper()
	_, err := store.AddChunks(context.Background(), tenant, chunks)
	require.NoError(t, err)
}

func TestAnswerReturnsSources(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{answer: "  the answer  "}
	c, store := newChain(t, gen)
	ctx := context.Background()

	seedChunks(t, store, "u1", []rag.Chunk{
		{Text: "alpha facts here", Source: "files__d: 1", Title: "Alpha", Provider: "files"},
		{Text: "more alpha facts", Source: "files__d: 1", Title: "Alpha", Provider: "files"},
		{Text: "beta facts", Source: "files__d: 2", Title: "Beta", Provider: "files"},
	})

	out, err := c.Answer(ctx, "u1", "alpha facts here", 5, nil, "")
	require.NoError(t, err)

	assert.Equal(t, "the answer", out.Answer)
	// Duplicate sources collapse; rank order is preserved.
	assert.Equal(t, []string{"files__d: 1", "files__d: 2"}, out.Sources)
	assert.Contains(t, gen.lastPrompt, "alpha facts here")
	assert.Contains(t, gen.lastPrompt, "Alpha")
	assert.Nil(t, gen.lastStop)
}

func TestAnswerNoContext(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{answer: "unused"}
	c, _ := newChain(t, gen)

	_, err := c.Answer(context.Background(), "u1", "anything", 5, nil, "")
	assert.ErrorIs(t, err, ErrNoContext)
	assert.Empty(t, gen.lastPrompt)
}

func TestAnswerStopSequence(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{answer: "answer"}
	c, store := newChain(t, gen)

	seedChunks(t, store, "u1", []rag.Chunk{
		{Text: "some context", Source: "files__d: 1", Provider: "files"},
	})

	_, err := c.Answer(context.Background(), "u1", "some context", 5, nil, "<|end|>")
	require.NoError(t, err)
	assert.Equal(t, []string{"<|end|>"}, gen.lastStop)
}

func TestAnswerScopedByProvider(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{answer: "answer"}
	c, store := newChain(t, gen)
	ctx := context.Background()

	seedChunks(t, store, "u1", []rag.Chunk{
		{Text: "shared text", Source: "files__d: 1", Provider: "files"},
		{Text: "shared text", Source: "mail__m: 1", Provider: "mail"},
	})

	out, err := c.Answer(ctx, "u1", "shared text", 5, &Scope{Type: ScopeProvider, List: []string{"mail"}}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"mail__m: 1"}, out.Sources)
}

func TestRetrieveInvalidScopeFallsBack(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{answer: "answer"}
	c, store := newChain(t, gen)
	ctx := context.Background()

	seedChunks(t, store, "u1", []rag.Chunk{
		{Text: "findable text", Source: "files__d: 1", Provider: "files"},
	})

	// Scope with an empty list cannot be turned into a filter; the search
	// proceeds unscoped instead of failing.
	hits, err := c.Retrieve(ctx, "u1", "findable text", 5, &Scope{Type: ScopeProvider})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = c.Retrieve(ctx, "u1", "findable text", 5, &Scope{Type: "folder", List: []string{"x"}})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestAnswerWithoutContext(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{answer: "direct answer"}
	c, _ := newChain(t, gen)

	out, err := c.AnswerWithoutContext(context.Background(), "raw question", "", "")
	require.NoError(t, err)
	assert.Equal(t, "direct answer", out.Answer)
	assert.Empty(t, out.Sources)
	assert.Equal(t, "raw question", gen.lastPrompt)

	_, err = c.AnswerWithoutContext(context.Background(), "templated question", "Reply briefly.\n{question}", "")
	require.NoError(t, err)
	assert.Contains(t, gen.lastPrompt, "templated question")
	assert.Contains(t, gen.lastPrompt, "Reply briefly.")
}

func TestSourcesDeduplicates(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	c, store := newChain(t, gen)
	ctx := context.Background()

	seedChunks(t, store, "u1", []rag.Chunk{
		{Text: "topic text one", Source: "files__d: 1", Title: "One", Provider: "files"},
		{Text: "topic text two", Source: "files__d: 1", Title: "One", Provider: "files"},
		{Text: "topic text three", Source: "files__d: 2", Title: "Two", Provider: "files"},
		{Text: "topic text four", Source: "files__d: 3", Title: "Three", Provider: "files"},
	})

	results, err := c.Sources(ctx, "u1", "topic text", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEqual(t, results[0].SourceID, results[1].SourceID)
}

func TestSourcesEmptyIndex(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	c, _ := newChain(t, gen)

	results, err := c.Sources(context.Background(), "u1", "anything", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

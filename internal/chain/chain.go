// Package chain implements the retrieval and prompt budgeting flow: it
// searches the vector store for context chunks, fits them into the
// generation model's token budget, and invokes the model.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jskala/ragdex/internal/rag"
)

// ScopeType restricts a similarity search to a metadata subset.
type ScopeType string

const (
	// ScopeProvider limits results to sources from the listed providers.
	ScopeProvider ScopeType = "provider"

	// ScopeSource limits results to the listed source ids.
	ScopeSource ScopeType = "source"
)

// Scope is an optional retrieval restriction.
type Scope struct {
	Type ScopeType
	List []string
}

var (
	// ErrContextTooSmall reports that the token budget cannot fit the
	// prompt template even with an empty query. This is a configuration
	// problem and must prevent any generation call.
	ErrContextTooSmall = errors.New("chain: context budget too small to fit the template")

	// ErrNoContext reports that retrieval returned zero chunks for a
	// context-required query. Callers may fall back to a no-context
	// prompt; it is not a backend failure.
	ErrNoContext = errors.New("chain: no context documents retrieved")
)

// answerTemplate is the default prompt for context-backed answers. The
// {context} and {question} slots are filled by BuildPrompt.
const answerTemplate = `You are an assistant that answers questions using excerpts from the user's own documents.
Use the following documents as context to answer the question at the end. The documents come from a search index and may include unrelated material, so judge their relevance before relying on them.
If the answer is not in the context or you are unsure, say that you don't know instead of guessing. Answer the question directly, in the same language the question was asked in, without referring to the context itself.

QUESTION:
-----------------

{question}

-----------------
END OF QUESTION

CONTEXT:
-----------------

{context}

-----------------
END OF CONTEXT

Answer the question:
`

// Config holds the configuration for the retrieval chain.
type Config struct {
	// TopK is the number of chunks requested from the store when the
	// caller passes 0. Defaults to 20.
	TopK int

	// MaxContextTokens is the generation model's total context window.
	// Defaults to 8192.
	MaxContextTokens int

	// ReservedTokens is the budget kept free for the generated answer.
	// Defaults to 4096.
	ReservedTokens int
}

// Chain combines a vector store and a generation model into the query
// answering flow.
type Chain struct {
	// store performs similarity search.
	store rag.VectorStore

	// gen produces answers and counts prompt tokens.
	gen rag.Generator

	// cfg holds the resolved chain configuration.
	cfg *Config

	// log is the structured logger for scope fallback diagnostics.
	log *slog.Logger
}

// New constructs a Chain from the provided dependencies and config.
func New(store rag.VectorStore, gen rag.Generator, cfg *Config, log *slog.Logger) (*Chain, error) {
	if store == nil {
		return nil, fmt.Errorf("chain: store must not be nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("chain: generator must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 8192
	}
	if cfg.ReservedTokens <= 0 {
		cfg.ReservedTokens = 4096
	}
	if log == nil {
		log = slog.Default()
	}

	return &Chain{store: store, gen: gen, cfg: cfg, log: log.With(slog.String("component", "chain"))}, nil
}

// Retrieve runs a similarity search, optionally scoped. A scope that
// cannot be turned into a filter is logged and dropped rather than
// failing the request.
func (c *Chain) Retrieve(ctx context.Context, tenant, query string, k int, scope *Scope) ([]rag.SearchHit, error) {
	if k <= 0 {
		k = c.cfg.TopK
	}

	var filters []rag.MetadataFilter
	if scope != nil {
		built, err := scopeFilter(scope)
		if err != nil {
			c.log.Warn("invalid scope, falling back to unscoped search",
				slog.String("scope_type", string(scope.Type)),
				slog.Any("error", err))
		} else {
			filters = built
		}
	}

	hits, err := c.store.Search(ctx, tenant, query, k, filters)
	if err != nil {
		return nil, fmt.Errorf("chain: context search: %w", err)
	}
	return hits, nil
}

// scopeFilter translates a Scope into a store metadata filter.
func scopeFilter(scope *Scope) ([]rag.MetadataFilter, error) {
	if scope.Type != ScopeProvider && scope.Type != ScopeSource {
		return nil, fmt.Errorf("chain: unknown scope type %q", scope.Type)
	}
	if len(scope.List) == 0 {
		return nil, fmt.Errorf("chain: scope list must not be empty")
	}
	return []rag.MetadataFilter{{Key: string(scope.Type), Values: scope.List}}, nil
}

// Output is the result of an answered query.
type Output struct {
	// Answer is the generated response.
	Answer string

	// Sources lists the deduplicated source ids of the chunks that were
	// retrieved for the answer, in rank order.
	Sources []string
}

// Answer retrieves context for the query, builds a budgeted prompt and
// invokes the generation model. It returns ErrNoContext when retrieval
// finds nothing, so callers can decide on a no-context fallback.
func (c *Chain) Answer(ctx context.Context, tenant, query string, k int, scope *Scope, endSeparator string) (*Output, error) {
	hits, err := c.Retrieve(ctx, tenant, query, k, scope)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, ErrNoContext
	}

	prompt, err := BuildPrompt(c.gen, answerTemplate, query, contextChunks(hits),
		c.cfg.MaxContextTokens, c.cfg.ReservedTokens)
	if err != nil {
		return nil, err
	}

	answer, err := c.generate(ctx, prompt, endSeparator)
	if err != nil {
		return nil, err
	}
	return &Output{Answer: answer, Sources: uniqueSources(hits)}, nil
}

// AnswerWithoutContext answers the query with no retrieved context. With
// an empty template the raw query is sent as the prompt; otherwise the
// template is budgeted the same way as a context prompt, with zero chunks.
func (c *Chain) AnswerWithoutContext(ctx context.Context, query, template, endSeparator string) (*Output, error) {
	prompt := query
	if template != "" {
		var err error
		prompt, err = BuildPrompt(c.gen, template, query, nil,
			c.cfg.MaxContextTokens, c.cfg.ReservedTokens)
		if err != nil {
			return nil, err
		}
	}

	answer, err := c.generate(ctx, prompt, endSeparator)
	if err != nil {
		return nil, err
	}
	return &Output{Answer: answer, Sources: []string{}}, nil
}

func (c *Chain) generate(ctx context.Context, prompt, endSeparator string) (string, error) {
	var stop []string
	if endSeparator != "" {
		stop = []string{endSeparator}
	}

	answer, err := c.gen.Generate(ctx, prompt, stop)
	if err != nil {
		return "", fmt.Errorf("chain: generation: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// SearchResult is one document found by Sources.
type SearchResult struct {
	SourceID string `json:"sourceId"`
	Title    string `json:"title"`
}

// Sources runs a document-level search: it over-fetches chunks at twice
// the requested limit to absorb duplicate sources, then returns the first
// distinct sources in rank order. An empty result is not an error.
func (c *Chain) Sources(ctx context.Context, tenant, query string, limit int, scope *Scope) ([]SearchResult, error) {
	if limit <= 0 {
		limit = c.cfg.TopK
	}

	hits, err := c.Retrieve(ctx, tenant, query, limit*2, scope)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	results := make([]SearchResult, 0, limit)
	for _, hit := range hits {
		if hit.Source == "" {
			c.log.Warn("chunk without source id in doc search, skipping")
			continue
		}
		if _, dup := seen[hit.Source]; dup {
			continue
		}
		if len(results) >= limit {
			break
		}
		seen[hit.Source] = struct{}{}
		results = append(results, SearchResult{SourceID: hit.Source, Title: hit.Title})
	}
	return results, nil
}

// contextChunks flattens hits into prompt chunks, with each chunk's title
// inserted as its own line before the text.
func contextChunks(hits []rag.SearchHit) []string {
	chunks := make([]string, 0, len(hits)*2)
	for _, hit := range hits {
		if hit.Title != "" {
			chunks = append(chunks, hit.Title)
		}
		chunks = append(chunks, hit.Text)
	}
	return chunks
}

// uniqueSources deduplicates hit source ids preserving rank order.
func uniqueSources(hits []rag.SearchHit) []string {
	seen := make(map[string]struct{})
	sources := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Source == "" {
			continue
		}
		if _, dup := seen[hit.Source]; dup {
			continue
		}
		seen[hit.Source] = struct{}{}
		sources = append(sources, hit.Source)
	}
	return sources
}

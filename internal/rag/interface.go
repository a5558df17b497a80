// Package rag defines the core types and interfaces for the document
// indexing and retrieval pipeline: the vector-store contract, the embedding
// and generation model interfaces, and the metadata filter model shared by
// every backend variant. Concrete implementations (Qdrant, SQLite, memory)
// satisfy these interfaces so the rest of the system never depends on a
// specific backend.
package rag

import (
	"context"
	"errors"
	"fmt"
)

// Chunk is a bounded span of a document's decoded text, the unit of
// embedding and retrieval. Chunks are immutable once committed.
type Chunk struct {
	// Text is the chunk's normalized text content.
	Text string

	// Source is the source identifier of the document this chunk came from.
	Source string

	// Title is the human-readable name or subject of the source.
	Title string

	// MediaType is the declared media type of the source document.
	MediaType string

	// Modified is the source document's last-modified time (Unix seconds).
	Modified int64

	// Provider identifies the system that supplied the source document.
	Provider string

	// StartOffset is the byte offset of this chunk within the decoded text.
	StartOffset int
}

// SearchHit is a chunk returned by a similarity search, with its score.
type SearchHit struct {
	// Chunk is the retrieved chunk, reconstructed from the stored fields.
	Chunk

	// Score is the similarity score assigned by the backend (higher is
	// more relevant). Zero when the backend does not report one.
	Score float32
}

// MetadataHit references the index entries stored under one metadata value,
// carrying only what staleness comparison and deletion need.
type MetadataHit struct {
	// IDs are the store-assigned identifiers of every entry with this value.
	IDs []string

	// Modified is the stored last-modified time of the entries.
	Modified int64
}

// MetadataFilter restricts a search to entries whose metadata key matches
// any of the given values (key IN values). Multiple filters combine as a
// disjunction.
type MetadataFilter struct {
	// Key is the metadata field name (e.g. "source", "provider").
	Key string

	// Values are the accepted values for the field.
	Values []string
}

// VectorStore is the uniform contract over heterogeneous vector-store
// backends. Exactly one implementation is active per process, selected from
// configuration at startup. Implementations must be safe for concurrent use.
//
// Collection lifecycle is per tenant: every operation takes the tenant
// identifier and is scoped to that tenant's collection, which is created on
// first use. Cross-tenant queries are never performed.
type VectorStore interface {
	// EnsureCollection creates the tenant's collection and field schema if
	// absent and returns the derived collection name. It is idempotent.
	EnsureCollection(ctx context.Context, tenant string) (string, error)

	// GetByMetadata returns, for each of the given values present in the
	// tenant's collection, the entry ids and stored modified time. Values
	// with no matching entries are omitted from the result. The result size
	// is unbounded; stores that enforce a cap document it.
	GetByMetadata(ctx context.Context, tenant, key string, values []string) (map[string]MetadataHit, error)

	// DeleteByIDs removes entries by their store-assigned ids. Empty input
	// is a no-op success. A backend returning an ambiguous result is treated
	// per the backend's trust policy, not as an error.
	DeleteByIDs(ctx context.Context, tenant string, ids []string) error

	// DeleteByMetadata resolves entry ids for the given metadata values via
	// GetByMetadata and deletes them. Empty values succeed trivially.
	DeleteByMetadata(ctx context.Context, tenant, key string, values []string) error

	// AddChunks embeds and commits the given chunks, returning the
	// store-assigned ids. The embed+commit step is not transactional;
	// callers measure success as len(ids) == len(chunks).
	AddChunks(ctx context.Context, tenant string, chunks []Chunk) ([]string, error)

	// Search performs a similarity search for the query text, returning up
	// to k hits ranked by relevance. A nil or empty filter list means an
	// unscoped search; a non-empty list is an OR-of-IN predicate.
	Search(ctx context.Context, tenant, query string, k int, filters []MetadataFilter) ([]SearchHit, error)

	// Close releases the backend connection.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their embeddings. The returned
	// slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenCounter reports how many tokens a text costs under a specific
// model's tokenizer (or a conservative estimate of it).
type TokenCounter interface {
	// CountTokens returns the token count of text.
	CountTokens(text string) int
}

// Generator produces text completions for an assembled prompt. It also
// exposes the token accounting the prompt budgeter needs, since token cost
// is a property of the generation model.
// Implementations must be safe to call from multiple goroutines.
type Generator interface {
	TokenCounter

	// Generate returns the model's completion for prompt. Generation stops
	// at the first occurrence of any stop sequence.
	Generate(ctx context.Context, prompt string, stop []string) (string, error)
}

// ErrInvalidTenant is returned when a tenant identifier fails validation.
// It is a configuration error: surfaced directly, never retried.
var ErrInvalidTenant = errors.New("rag: invalid tenant identifier")

// BackendError wraps a vector-store failure so callers can distinguish
// "store unreachable" from "nothing found". It is recoverable: the caller
// may retry the whole request.
type BackendError struct {
	// Op names the failed store operation.
	Op string

	// Err is the underlying backend error.
	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("rag: backend %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *BackendError) Unwrap() error { return e.Err }

// backendErr wraps err as a *BackendError for the named operation.
func backendErr(op string, err error) error {
	return &BackendError{Op: op, Err: err}
}

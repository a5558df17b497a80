package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jskala/ragdex/internal/chain"
	"github.com/jskala/ragdex/internal/ingestion"
	"github.com/jskala/ragdex/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP (requests/second).
	// Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics. If nil a fresh
	// registry is created and served at GET /metrics.
	Registry *prometheus.Registry
}

// ingester is the interface handleIngest calls to load documents.
// *ingestion.Pipeline satisfies it; tests inject a fake.
type ingester interface {
	Ingest(ctx context.Context, tenant string, docs []ingestion.Document) (bool, error)
}

// answerer is the interface the query and search handlers call.
// *chain.Chain satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, tenant, query string, k int, scope *chain.Scope, endSeparator string) (*chain.Output, error)
	AnswerWithoutContext(ctx context.Context, query, template, endSeparator string) (*chain.Output, error)
	Sources(ctx context.Context, tenant, query string, limit int, scope *chain.Scope) ([]chain.SearchResult, error)
}

// deleter is the subset of the vector store the delete handlers need.
type deleter interface {
	DeleteByMetadata(ctx context.Context, tenant, key string, values []string) error
}

// Server is the HTTP server that exposes the ingestion and query pipelines.
type Server struct {
	// pipeline loads documents for /api/ingest.
	pipeline ingester
	// chain answers queries for /api/query and /api/search.
	chain answerer
	// store handles /api/delete/* requests.
	store deleter
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus metrics for this server instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestDocument is one document in the POST /api/ingest body.
type ingestDocument struct {
	// SourceID identifies the document, in the form "provider__app: id".
	SourceID string `json:"sourceId"`
	// Title is the human-readable document name.
	Title string `json:"title"`
	// MediaType is the declared content type.
	MediaType string `json:"mediaType"`
	// Modified is the document's modification time as a Unix epoch string.
	Modified string `json:"modified"`
	// Provider is the originating application key, e.g. "files__default".
	Provider string `json:"provider"`
	// Content is the raw document payload.
	Content string `json:"content"`
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// UserID is the tenant whose index receives the documents.
	UserID string `json:"userId"`
	// Documents is the batch to load.
	Documents []ingestDocument `json:"documents"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	// Loaded is true when every document in the batch was committed.
	Loaded bool `json:"loaded"`
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// UserID is the tenant whose index is searched.
	UserID string `json:"userId"`
	// Query is the user's natural language question.
	Query string `json:"query"`
	// UseContext disables retrieval when false; the query is answered
	// directly. Defaults to true when omitted.
	UseContext *bool `json:"useContext,omitempty"`
	// ScopeType restricts retrieval to "provider" or "source" scoped hits.
	ScopeType string `json:"scopeType,omitempty"`
	// ScopeList is the provider or source id list for the scope.
	ScopeList []string `json:"scopeList,omitempty"`
	// Limit is the number of chunks to retrieve. Zero means the default.
	Limit int `json:"limit,omitempty"`
	// EndSeparator is an optional stop sequence for generation.
	EndSeparator string `json:"endSeparator,omitempty"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	// Answer is the generated response text.
	Answer string `json:"answer"`
	// Sources lists the deduplicated source ids behind the answer.
	Sources []string `json:"sources"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// UserID is the tenant whose index is searched.
	UserID string `json:"userId"`
	// Query is the search text.
	Query string `json:"query"`
	// Limit is the maximum number of distinct documents to return.
	Limit int `json:"limit,omitempty"`
	// ScopeType restricts the search to "provider" or "source" scoped hits.
	ScopeType string `json:"scopeType,omitempty"`
	// ScopeList is the provider or source id list for the scope.
	ScopeList []string `json:"scopeList,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Results are the distinct documents found, in rank order.
	Results []chain.SearchResult `json:"results"`
}

// deleteSourcesRequest is the JSON body for POST /api/delete/sources.
type deleteSourcesRequest struct {
	// UserID is the tenant whose entries are deleted.
	UserID string `json:"userId"`
	// SourceIDs lists the source ids to remove.
	SourceIDs []string `json:"sourceIds"`
}

// deleteProviderRequest is the JSON body for POST /api/delete/provider.
type deleteProviderRequest struct {
	// UserID is the tenant whose entries are deleted.
	UserID string `json:"userId"`
	// ProviderID is the provider whose documents are removed, e.g.
	// "files__default".
	ProviderID string `json:"providerId"`
}

// deleteResponse is the JSON response for the delete endpoints.
type deleteResponse struct {
	// Success is true when the deletion completed.
	Success bool `json:"success"`
}

// errorResponse is the JSON body for error replies.
type errorResponse struct {
	// Error is the human-readable failure reason.
	Error string `json:"error"`
}

var _ deleter = (rag.VectorStore)(nil)

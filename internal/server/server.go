// Package server implements the HTTP server that exposes the ragdex
// ingestion, query and deletion pipelines as a REST API.
// The server is started by the `ragdex serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jskala/ragdex/internal/chain"
	"github.com/jskala/ragdex/internal/ingestion"
	"github.com/jskala/ragdex/internal/logging"
	"github.com/jskala/ragdex/internal/rag"
)

// New constructs a Server from the provided pipeline, chain and store.
func New(pipeline ingester, ch answerer, store deleter, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if ch == nil {
		return nil, fmt.Errorf("server: chain must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full generation round trip.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		pipeline: pipeline,
		chain:    ch,
		store:    store,
		cfg:      cfg,
		log:      cfg.Logger.With(slog.String("component", "server")),
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.Registry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("api authentication disabled: no API key configured")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/delete/sources", s.handleDeleteSources)
	mux.HandleFunc("POST /api/delete/provider", s.handleDeleteProvider)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	var handler http.Handler = mux
	handler = authMiddleware(cfg.APIKey, handler)
	handler = rl.middleware(handler)
	handler = requestLogger(cfg.Logger, s.metrics, handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Handler returns the server's root handler, including middleware.
// Exposed for tests that drive the server through httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleIngest handles POST /api/ingest. Source and provider ids are
// validated here, at the boundary; the pipeline itself trusts its input.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents must not be empty")
		return
	}

	docs := make([]ingestion.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		if !ingestion.ValidSourceID(d.SourceID) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid source id %q", d.SourceID))
			return
		}
		docs = append(docs, ingestion.Document{
			SourceID:  d.SourceID,
			Title:     d.Title,
			MediaType: d.MediaType,
			Modified:  d.Modified,
			Provider:  d.Provider,
			Content:   []byte(d.Content),
		})
	}

	loaded, err := s.pipeline.Ingest(r.Context(), req.UserID, docs)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ingestBatchesTotal.WithLabelValues(outcome).Inc()
	s.metrics.ingestDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		writeStoreError(w, r, err, "ingest failed")
		return
	}
	s.metrics.ingestDocumentsTotal.Add(float64(len(docs)))

	writeJSON(w, http.StatusOK, ingestResponse{Loaded: loaded})
}

// handleQuery handles POST /api/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	useContext := req.UseContext == nil || *req.UseContext

	var out *chain.Output
	var err error
	if useContext {
		out, err = s.chain.Answer(r.Context(), req.UserID, req.Query,
			req.Limit, scopeFromRequest(req.ScopeType, req.ScopeList), req.EndSeparator)
	} else {
		out, err = s.chain.AnswerWithoutContext(r.Context(), req.Query, "", req.EndSeparator)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, chain.ErrNoContext) {
			outcome = "no_context"
		}
	}
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, chain.ErrNoContext):
		writeError(w, http.StatusUnprocessableEntity, "no relevant documents found")
		return
	case errors.Is(err, chain.ErrContextTooSmall):
		logging.FromContext(r.Context()).Error("context budget misconfigured", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "context budget too small")
		return
	default:
		writeStoreError(w, r, err, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{Answer: out.Answer, Sources: out.Sources})
}

// handleSearch handles POST /api/search for document-level search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := s.chain.Sources(r.Context(), req.UserID, req.Query,
		req.Limit, scopeFromRequest(req.ScopeType, req.ScopeList))
	if err != nil {
		writeStoreError(w, r, err, "search failed")
		return
	}
	if results == nil {
		results = []chain.SearchResult{}
	}

	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

// handleDeleteSources handles POST /api/delete/sources.
func (s *Server) handleDeleteSources(w http.ResponseWriter, r *http.Request) {
	var req deleteSourcesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	for _, id := range req.SourceIDs {
		if !ingestion.ValidSourceID(id) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid source id %q", id))
			return
		}
	}

	if err := s.store.DeleteByMetadata(r.Context(), req.UserID, "source", req.SourceIDs); err != nil {
		writeStoreError(w, r, err, "delete failed")
		return
	}
	s.metrics.deleteRequestsTotal.WithLabelValues("sources").Inc()

	writeJSON(w, http.StatusOK, deleteResponse{Success: true})
}

// handleDeleteProvider handles POST /api/delete/provider.
func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	var req deleteProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if !ingestion.ValidProviderID(req.ProviderID) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid provider id %q", req.ProviderID))
		return
	}

	if err := s.store.DeleteByMetadata(r.Context(), req.UserID, "provider", []string{req.ProviderID}); err != nil {
		writeStoreError(w, r, err, "delete failed")
		return
	}
	s.metrics.deleteRequestsTotal.WithLabelValues("provider").Inc()

	writeJSON(w, http.StatusOK, deleteResponse{Success: true})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// scopeFromRequest builds a retrieval scope from the request fields.
// An empty scope type means unscoped retrieval.
func scopeFromRequest(scopeType string, scopeList []string) *chain.Scope {
	if scopeType == "" {
		return nil
	}
	return &chain.Scope{Type: chain.ScopeType(scopeType), List: scopeList}
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps pipeline and store errors onto HTTP statuses.
// Invalid tenants are the caller's fault; everything else is a 500 whose
// detail goes to the log, not the client.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, rag.ErrInvalidTenant) {
		writeError(w, http.StatusBadRequest, "invalid userId")
		return
	}
	logging.FromContext(r.Context()).Error(msg, slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, msg)
}

package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jskala/ragdex/internal/chain"
	"github.com/jskala/ragdex/internal/ingestion"
	"github.com/jskala/ragdex/internal/lifecycle"
	"github.com/jskala/ragdex/internal/logging"
	"github.com/jskala/ragdex/internal/model"
	"github.com/jskala/ragdex/internal/rag"
)

// runtime bundles the lazily-constructed resources a command needs: the
// lifecycle manager owning the model clients and store, plus the pipeline
// and chain wired on top of them.
type runtime struct {
	// Manager owns the embedder, generator and store handles.
	Manager *lifecycle.Manager
	// Store is the lazy vector-store adapter.
	Store *lifecycle.LazyStore
	// Pipeline is the document ingestion pipeline.
	Pipeline *ingestion.Pipeline
	// Chain is the query answering chain.
	Chain *chain.Chain
}

// Close offloads every managed resource.
func (r *runtime) Close() {
	r.Manager.Close()
}

// newRuntime builds the runtime from environment variables. Nothing is
// connected yet: every resource is constructed on first use and offloaded
// again after IDLE_OFFLOAD_MINUTES without traffic.
func newRuntime(log *slog.Logger) (*runtime, error) {
	embedderHandle := lifecycle.NewHandle("embedder",
		func() (rag.Embedder, error) { return model.EmbedderFromEnv() },
		nil, logging.Component(log, "lifecycle"))

	generatorHandle := lifecycle.NewHandle("generator",
		func() (rag.Generator, error) { return model.GeneratorFromEnv() },
		nil, logging.Component(log, "lifecycle"))

	storeCfg, err := storeConfigFromEnv()
	if err != nil {
		return nil, err
	}

	lazyEmbedder := lifecycle.NewLazyEmbedder(embedderHandle)
	storeHandle := lifecycle.NewHandle("store",
		func() (rag.VectorStore, error) { return rag.NewStore(storeCfg, lazyEmbedder, log) },
		func(s rag.VectorStore) error { return s.Close() },
		logging.Component(log, "lifecycle"))

	mgr := lifecycle.NewManager(embedderHandle, generatorHandle, storeHandle, &lifecycle.Config{
		IdleTimeout: time.Duration(getEnvInt("IDLE_OFFLOAD_MINUTES", 15)) * time.Minute,
	}, log)

	store := lifecycle.NewLazyStore(storeHandle)
	gen := lifecycle.NewLazyGenerator(generatorHandle)

	pipeline, err := ingestion.NewPipeline(store, &ingestion.Config{
		ChunkSize: getEnvInt("CHUNK_SIZE", 0),
		Workers:   getEnvInt("WORKER_POOL_SIZE", 0),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	ch, err := chain.New(store, gen, &chain.Config{
		TopK:             getEnvInt("RETRIEVAL_TOP_K", 0),
		MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 0),
		ReservedTokens:   getEnvInt("RESERVED_TOKENS", 0),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}

	return &runtime{Manager: mgr, Store: store, Pipeline: pipeline, Chain: ch}, nil
}

// storeConfigFromEnv resolves the vector store selection and its backend
// parameters from the environment.
func storeConfigFromEnv() (*rag.StoreConfig, error) {
	kind := getEnvOrDefault("VECTOR_STORE", "qdrant")

	cfg := &rag.StoreConfig{Kind: kind}
	switch kind {
	case "qdrant":
		cfg.Qdrant = rag.QdrantConfig{
			Host:                 getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:                 getEnvInt("QDRANT_PORT", 6334),
			VectorSize:           uint64(model.DefaultDimensions(model.EmbeddingBackend())), //nolint:gosec // dimensions are bounded
			APIKey:               os.Getenv("QDRANT_API_KEY"),
			UseTLS:               os.Getenv("QDRANT_TLS") == "true",
			TrustAmbiguousDelete: os.Getenv("QDRANT_TRUST_AMBIGUOUS_DELETE") == "true",
		}
	case "sqlite":
		cfg.Path = getEnvOrDefault("SQLITE_PATH", "ragdex.db")
	case "memory":
	default:
		return nil, fmt.Errorf("unknown VECTOR_STORE %q (want qdrant, sqlite or memory)", kind)
	}
	return cfg, nil
}

// parseScope turns the --scope-type/--scope flag pair into a chain scope.
// Both empty means unscoped.
func parseScope(scopeType string, scopeList []string) *chain.Scope {
	if scopeType == "" {
		return nil
	}
	return &chain.Scope{Type: chain.ScopeType(scopeType), List: scopeList}
}

// getEnvOrDefault returns the env var value or the fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as an int, or the fallback when
// unset or unparsable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

package rag

import (
	"fmt"
	"log/slog"
)

// StoreConfig selects and configures a vector store backend.
type StoreConfig struct {
	// Kind selects the backend: "qdrant", "sqlite" or "memory".
	Kind string

	// Path is the database file location for the sqlite backend.
	Path string

	// Qdrant holds connection parameters for the qdrant backend.
	Qdrant QdrantConfig
}

// NewStore builds the vector store named by cfg.Kind. An unknown kind is a
// configuration error, not a silent fallback.
func NewStore(cfg *StoreConfig, embedder Embedder, log *slog.Logger) (VectorStore, error) {
	switch cfg.Kind {
	case "qdrant":
		return NewQdrantStore(&cfg.Qdrant, embedder, log)
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("rag: sqlite store requires a database path")
		}
		return NewSQLiteStore(cfg.Path, embedder)
	case "memory":
		return NewMemoryStore(embedder)
	default:
		return nil, fmt.Errorf("rag: unknown vector store kind %q", cfg.Kind)
	}
}

package model

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jskala/ragdex/internal/rag"
)

// Default models per backend.
const (
	defaultOllamaEmbedModel = "nomic-embed-text"
	defaultOllamaGenModel   = "llama3"
	defaultOpenAIEmbedModel = "text-embedding-3-small"
	defaultOpenAIGenModel   = "gpt-4o-mini"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536

	defaultAzureAPIVersion = "2025-04-01-preview"
)

// DefaultDimensions returns the embedding vector size for the given
// backend name. Vector-store collection creation needs this before any
// embedding call is made. EMBEDDING_DIMENSIONS always takes precedence.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// EmbeddingBackend resolves the embedding backend name from the
// environment: EMBEDDING_PROVIDER, inheriting MODEL_PROVIDER, defaulting
// to "ollama".
func EmbeddingBackend() string {
	if backend := os.Getenv("EMBEDDING_PROVIDER"); backend != "" {
		return backend
	}
	return getEnvOrDefault("MODEL_PROVIDER", "ollama")
}

// EmbedderFromEnv constructs a rag.Embedder using cascading defaults:
// embedding-specific variables override the generation model's settings,
// which in turn fall back to per-backend defaults.
func EmbedderFromEnv() (rag.Embedder, error) {
	backend := EmbeddingBackend()

	switch backend {
	case "ollama":
		host := os.Getenv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllama(&OllamaConfig{
			Host:       host,
			EmbedModel: getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaEmbedModel),
			GenModel:   getEnvOrDefault("MODEL_NAME", defaultOllamaGenModel),
		}), nil

	case "openai", "azure":
		cfg, err := openAIConfigFromEnv(backend, "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT")
		if err != nil {
			return nil, err
		}
		cfg.EmbedModel = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIEmbedModel)
		cfg.Dimensions = getEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions)
		return NewOpenAI(cfg), nil

	default:
		return nil, fmt.Errorf("model: unknown embedding backend %q, valid values: ollama, openai, azure", backend)
	}
}

// GeneratorFromEnv constructs a rag.Generator from MODEL_PROVIDER and its
// backend-specific variables.
func GeneratorFromEnv() (rag.Generator, error) {
	backend := getEnvOrDefault("MODEL_PROVIDER", "ollama")

	switch backend {
	case "ollama":
		return NewOllama(&OllamaConfig{
			Host:       getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
			EmbedModel: getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaEmbedModel),
			GenModel:   getEnvOrDefault("MODEL_NAME", defaultOllamaGenModel),
		}), nil

	case "openai", "azure":
		cfg, err := openAIConfigFromEnv(backend, "MODEL_API_KEY", "MODEL_ENDPOINT")
		if err != nil {
			return nil, err
		}
		cfg.GenModel = getEnvOrDefault("MODEL_NAME", defaultOpenAIGenModel)
		return NewOpenAI(cfg), nil

	default:
		return nil, fmt.Errorf("model: unknown generation backend %q, valid values: ollama, openai, azure", backend)
	}
}

// openAIConfigFromEnv resolves shared OpenAI/Azure connection settings.
// keyVar and endpointVar name the component-specific overrides consulted
// before the provider-wide variables.
func openAIConfigFromEnv(backend, keyVar, endpointVar string) (*OpenAIConfig, error) {
	if backend == "azure" {
		apiKey := os.Getenv(keyVar)
		if apiKey == "" {
			apiKey = os.Getenv("AZURE_OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("model: azure requires AZURE_OPENAI_API_KEY or %s", keyVar)
		}
		endpoint := os.Getenv(endpointVar)
		if endpoint == "" {
			endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("model: azure requires AZURE_OPENAI_ENDPOINT or %s", endpointVar)
		}
		return &OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", defaultAzureAPIVersion),
		}, nil
	}

	apiKey := os.Getenv(keyVar)
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("model: openai requires OPENAI_API_KEY or %s", keyVar)
	}
	baseURL := os.Getenv(endpointVar)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIConfig{BaseURL: baseURL, APIKey: apiKey}, nil
}

// getEnvOrDefault returns the named environment variable, or fallback if
// it is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable,
// or fallback if it is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// Package model provides the embedding and generation clients behind the
// rag.Embedder and rag.Generator interfaces. Each backend (Ollama, OpenAI,
// Azure OpenAI) is reached over plain HTTP; no SDK dependencies are
// required. Token counting uses a conservative 4-characters-per-token
// heuristic so budgets hold across backends with different tokenizers.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// charsPerToken is the conservative character-to-token ratio used for
// estimation. Under-estimating leaves headroom for tokenizer overhead.
const charsPerToken = 4

// estimateTokens returns a rough token count using the character heuristic.
func estimateTokens(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Ollama talks to a local Ollama server for both embeddings and text
// generation. It is safe for concurrent use. No API key is required.
type Ollama struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// embedModel is the embedding model name (e.g. "nomic-embed-text").
	embedModel string
	// genModel is the generation model name (e.g. "llama3").
	genModel string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an Ollama client.
type OllamaConfig struct {
	// Host is the Ollama server base URL.
	Host string
	// EmbedModel is the embedding model name.
	EmbedModel string
	// GenModel is the generation model name.
	GenModel string
	// Timeout bounds each HTTP request. Defaults to 120s: local
	// generation on CPU can be slow.
	Timeout time.Duration
}

// NewOllama constructs an Ollama client from the given config.
func NewOllama(cfg *OllamaConfig) *Ollama {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Ollama{
		host:       cfg.Host,
		embedModel: cfg.EmbedModel,
		genModel:   cfg.GenModel,
		client:     &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed converts a batch of texts into their embeddings. The returned
// slice is parallel to the input slice.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result ollamaEmbedResponse
	err := o.post(ctx, "/api/embed", ollamaEmbedRequest{Model: o.embedModel, Input: texts}, &result, result.errMsg)
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

func (r *ollamaEmbedResponse) errMsg() string { return r.Error }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (r *ollamaGenerateResponse) errMsg() string { return r.Error }

// Generate completes the prompt with the generation model. Stop sequences
// terminate generation when emitted.
func (o *Ollama) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	body := ollamaGenerateRequest{
		Model:  o.genModel,
		Prompt: prompt,
		Stream: false,
	}
	if len(stop) > 0 {
		body.Options = map[string]any{"stop": stop}
	}

	var result ollamaGenerateResponse
	if err := o.post(ctx, "/api/generate", body, &result, result.errMsg); err != nil {
		return "", err
	}
	return result.Response, nil
}

// CountTokens estimates the token count of text for budget arithmetic.
func (o *Ollama) CountTokens(text string) int {
	return estimateTokens(text)
}

// post sends a JSON request to the Ollama API and decodes the response
// into out. errMsg extracts the backend's error string after decoding.
func (o *Ollama) post(ctx context.Context, path string, body, out any, errMsg func() string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if m := errMsg(); m != "" {
			msg = m
		}
		return fmt.Errorf("ollama: %s", msg)
	}
	return nil
}

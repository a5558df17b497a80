package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OpenAI talks to the OpenAI (or Azure OpenAI) REST API for embeddings and
// chat-based generation. It is safe for concurrent use.
type OpenAI struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1" or an
	// Azure "/openai" endpoint).
	baseURL string
	// apiKey is the Bearer token (OpenAI) or api-key header value (Azure).
	apiKey string
	// embedModel is the embedding model name.
	embedModel string
	// genModel is the generation model name.
	genModel string
	// dimensions is the desired embedding vector length (0 = model default).
	dimensions int
	// azure selects Azure-style auth and deployment-scoped URLs.
	azure bool
	// apiVersion is the Azure api-version query param (ignored for OpenAI).
	apiVersion string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAI client.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// EmbedModel is the embedding model name (e.g. "text-embedding-3-small").
	EmbedModel string
	// GenModel is the generation model name (e.g. "gpt-4o-mini").
	GenModel string
	// Dimensions is the desired embedding vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version. Ignored when Azure is false.
	APIVersion string
	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration
}

// NewOpenAI constructs an OpenAI client from the given config.
func NewOpenAI(cfg *OpenAIConfig) *OpenAI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		embedModel: cfg.EmbedModel,
		genModel:   cfg.GenModel,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: timeout},
	}
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiError struct {
	Message string `json:"message"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *openaiError `json:"error,omitempty"`
}

// Embed converts a batch of texts into their embeddings. The returned
// slice is parallel to the input slice.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := openaiEmbedRequest{Input: texts, Model: o.embedModel}
	if o.dimensions > 0 {
		body.Dimensions = o.dimensions
	}

	url := o.baseURL + "/embeddings"
	if o.azure {
		url = o.baseURL + "/deployments/" + o.embedModel + "/embeddings?api-version=" + o.apiVersion
	}

	var result openaiEmbedResponse
	if err := o.post(ctx, url, body, &result, func() *openaiError { return result.Error }); err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai: embedding index %d out of range [0, %d)", d.Index, len(texts))
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

type openaiChatRequest struct {
	Model    string              `json:"model"`
	Messages []openaiChatMessage `json:"messages"`
	Stop     []string            `json:"stop,omitempty"`
}

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiChatMessage `json:"message"`
	} `json:"choices"`
	Error *openaiError `json:"error,omitempty"`
}

// Generate completes the prompt through the chat completions endpoint.
func (o *OpenAI) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	body := openaiChatRequest{
		Model:    o.genModel,
		Messages: []openaiChatMessage{{Role: "user", Content: prompt}},
		Stop:     stop,
	}

	url := o.baseURL + "/chat/completions"
	if o.azure {
		url = o.baseURL + "/deployments/" + o.genModel + "/chat/completions?api-version=" + o.apiVersion
	}

	var result openaiChatResponse
	if err := o.post(ctx, url, body, &result, func() *openaiError { return result.Error }); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: response contained no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// CountTokens estimates the token count of text for budget arithmetic.
func (o *OpenAI) CountTokens(text string) int {
	return estimateTokens(text)
}

// post sends a JSON request with backend-appropriate auth headers and
// decodes the response into out.
func (o *OpenAI) post(ctx context.Context, url string, body, out any, errField func() *openaiError) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.azure {
		req.Header.Set("api-key", o.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if e := errField(); e != nil && e.Message != "" {
			msg = e.Message
		}
		return fmt.Errorf("openai: %s", msg)
	}
	return nil
}

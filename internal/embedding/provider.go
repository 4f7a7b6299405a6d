package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/engram-sh/engram/internal/storage"
)

// Provider produces a vector for a text. Implementations may call a local
// model or a remote API; the cache treats them as black boxes and tolerates
// non-determinism because rows are keyed by content, not by vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f ProviderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// HashProvider is the deterministic fallback provider: FastVector padded or
// repeated into the requested dimension. It never fails and needs no
// network, which makes it the default when no real provider is configured.
type HashProvider struct {
	Dim int
}

// Embed derives a deterministic vector of h.Dim components.
func (h HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	base := FastVector(text)
	if h.Dim <= len(base) {
		return base[:h.Dim], nil
	}
	vec := make([]float32, h.Dim)
	for i := range vec {
		vec[i] = base[i%len(base)]
	}
	return vec, nil
}

// OllamaProvider calls a local Ollama server's /api/embed endpoint.
type OllamaProvider struct {
	BaseURL string
	Model   string
	Timeout time.Duration

	client *http.Client
}

// NewOllamaProvider creates a provider against the given Ollama base URL
// (default http://localhost:11434) and embedding model.
func NewOllamaProvider(baseURL, model string, timeout time.Duration) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed requests an embedding from Ollama. Failures are wrapped in
// ErrProvider so callers can fall back to the hash-derived vector.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", storage.ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", storage.ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", storage.ErrProvider, resp.StatusCode, msg)
	}

	var respData ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", storage.ErrProvider, err)
	}
	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: ollama returned no embedding", storage.ErrProvider)
	}
	return respData.Embeddings[0], nil
}

// Package embedding provides the text-to-vector provider used to fill in
// a memory's embedding at create/search time, plus a TTL cache in front
// of it so repeated queries for the same text skip the network round
// trip.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/synapsed/synapsed/internal/errs"
	"github.com/synapsed/synapsed/internal/logging"
)

var log = logging.GetLogger("embedding")

// Provider generates a vector embedding for a piece of text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OllamaConfig configures the Ollama-backed provider.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

func (c OllamaConfig) withDefaults() OllamaConfig {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "nomic-embed-text"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// OllamaProvider calls a local Ollama server's /api/embeddings endpoint.
type OllamaProvider struct {
	cfg        OllamaConfig
	httpClient *http.Client
	dimension  int
}

// NewOllamaProvider creates an OllamaProvider. dimension is the known
// output width of cfg.Model (768 for nomic-embed-text), used to validate
// responses and to satisfy Provider.Dimension without a round trip.
func NewOllamaProvider(cfg OllamaConfig, dimension int) *OllamaProvider {
	cfg = cfg.withDefaults()
	return &OllamaProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		dimension:  dimension,
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests an embedding for text from the Ollama server.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: p.cfg.Model, Prompt: text})
	if err != nil {
		return nil, errs.Embedding("embed: failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Embedding("embed: failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errs.Embedding("embed: request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errs.Embedding(fmt.Sprintf("embed: server returned %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Embedding("embed: failed to decode response", err)
	}
	if len(out.Embedding) == 0 {
		return nil, errs.Embedding("embed: server returned an empty embedding", nil)
	}
	if p.dimension > 0 && len(out.Embedding) != p.dimension {
		return nil, errs.Embedding(fmt.Sprintf("embed: expected %d dimensions, got %d", p.dimension, len(out.Embedding)), nil)
	}

	return out.Embedding, nil
}

// Dimension returns the configured output width.
func (p *OllamaProvider) Dimension() int { return p.dimension }

// MockProvider returns a deterministic, content-derived embedding without
// any network call, for tests and offline development.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a MockProvider that emits vectors of width dim.
func NewMockProvider(dim int) *MockProvider {
	return &MockProvider{dimension: dim}
}

// Embed derives a deterministic pseudo-embedding from text's bytes, so
// the same text always maps to the same vector (useful for repeatable
// cache/search tests) without depending on an embedding model.
func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, p.dimension)
	if len(text) == 0 {
		return out, nil
	}
	for i := range out {
		b := text[i%len(text)]
		out[i] = float32(b) / 255.0
	}
	return out, nil
}

// Dimension returns the configured output width.
func (p *MockProvider) Dimension() int { return p.dimension }

// CachedProvider wraps a Provider with a TTL+size-bounded LRU cache keyed
// on the exact query text, avoiding a network round trip for repeated
// identical queries (a common pattern for hot search terms).
type CachedProvider struct {
	inner Provider
	cache *lru.LRU[string, []float32]
}

// NewCachedProvider wraps inner with an expirable LRU cache of the given
// size and TTL.
func NewCachedProvider(inner Provider, size int, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: lru.NewLRU[string, []float32](size, nil, ttl),
	}
}

// Embed returns a cached embedding when text has been seen within the
// TTL window; otherwise it calls through to inner and caches the result.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

// Dimension returns the wrapped provider's output width.
func (c *CachedProvider) Dimension() int { return c.inner.Dimension() }

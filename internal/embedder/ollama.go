package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	// BaseURL is the Ollama server address. Default: "http://localhost:11434".
	BaseURL string

	// Model is an Ollama embedding model, e.g. "nomic-embed-text".
	Model string

	// Dimension is the known output size for Model; Ollama doesn't report
	// this out of band, so callers supply it from the model's card.
	// Default: 768 (nomic-embed-text's size).
	Dimension int

	Timeout time.Duration
}

// OllamaProvider embeds text via a local Ollama server's /api/embeddings
// endpoint, one text per request (Ollama has no native batch endpoint).
type OllamaProvider struct {
	client    *http.Client
	baseURL   string
	model     string
	dimension int
}

// NewOllamaProvider builds a provider from cfg.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OllamaProvider{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

func (p *OllamaProvider) Name() string      { return "ollama" }
func (p *OllamaProvider) Dimension() int    { return p.dimension }
func (p *OllamaProvider) MaxBatchSize() int { return 1 }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error"`
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedder/ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder/ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder/ollama: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder/ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder/ollama: status %d: %s", resp.StatusCode, string(data))
	}

	var out ollamaEmbedResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("embedder/ollama: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("embedder/ollama: %s", out.Error)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedder/ollama: empty embedding")
	}
	return normalize(out.Embedding), nil
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

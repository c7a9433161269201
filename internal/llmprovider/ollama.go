package llmprovider

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

	// DefaultModel is used for every Generate call.
	DefaultModel string

	// Timeout bounds each HTTP request. Default: 2 minutes.
	Timeout time.Duration
}

// OllamaProvider implements Provider against a local Ollama server's
// non-streaming /api/generate endpoint.
type OllamaProvider struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

// NewOllamaProvider builds a provider from cfg.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &OllamaProvider{
		client:       &http.Client{Timeout: cfg.Timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaGenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	NumPredit int    `json:"num_predict,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (p *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:     p.defaultModel,
		Prompt:    prompt,
		Stream:    false,
		NumPredit: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", wrapErr("ollama", p.defaultModel, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", wrapErr("ollama", p.defaultModel, fmt.Errorf("status %d: %s", resp.StatusCode, string(data)))
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if out.Error != "" {
		return "", wrapErr("ollama", p.defaultModel, fmt.Errorf("%s", out.Error))
	}
	if out.Response == "" {
		return "", ErrEmptyResponse
	}
	return out.Response, nil
}

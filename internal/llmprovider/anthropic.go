package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// DefaultModel is used when Generate isn't given a more specific model
	// via WithModel. Default: "claude-sonnet-4-20250514".
	DefaultModel string

	// MaxRetries is the number of retry attempts for transient failures.
	// Default: 3.
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff between
	// retries. Default: 1 second.
	RetryDelay time.Duration
}

// AnthropicProvider implements Provider against Anthropic's Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAnthropicProvider builds a provider from cfg, applying defaults for
// any unset optional fields.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate sends prompt as a single user message and returns the
// concatenated text of the response's content blocks.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var message *anthropic.Message
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		message, err = p.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if !isRetryableAnthropicError(err) {
			return "", wrapErr("anthropic", p.defaultModel, err)
		}
		if attempt == p.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.retryDelay * (1 << uint(attempt))):
		}
	}
	if err != nil {
		return "", wrapErr("anthropic", p.defaultModel, fmt.Errorf("max retries exceeded: %w", err))
	}

	var text strings.Builder
	for _, block := range message.Content {
		if tb := block.AsText(); tb.Text != "" {
			text.WriteString(tb.Text)
		}
	}
	if text.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}

func isRetryableAnthropicError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	msg := err.Error()
	for _, substr := range []string{"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

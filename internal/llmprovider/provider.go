// Package llmprovider wraps the LLM backends used by the agent's ReAct
// control loop (think/act/reflect/final-answer prompts) behind a single
// non-streaming Generate call. Unlike a chat SDK wrapper built for
// multi-turn tool calling, every call here is a single prompt in, a single
// completion out — the control loop owns turn structure and prompt
// templating itself.
package llmprovider

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when a provider call succeeds at the
// transport level but yields no text content to return.
var ErrEmptyResponse = errors.New("llmprovider: empty response")

// Provider generates a single completion for a prompt. Implementations own
// their own retry/backoff for transient transport failures; callers layer
// any additional policy (e.g. the call executor's retry budget) on top.
type Provider interface {
	// Generate returns the model's completion text for prompt, capped at
	// maxTokens output tokens. A non-positive maxTokens falls back to the
	// provider's own default.
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)

	// Name identifies the provider for logging and metrics.
	Name() string
}

// ProviderError wraps a transport-level failure with the provider and model
// that produced it, so callers can log or classify without type-switching
// on SDK-specific error types.
type ProviderError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s[%s]: %v", e.Provider, e.Model, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func wrapErr(provider, model string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Model: model, Cause: err}
}

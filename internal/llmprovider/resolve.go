package llmprovider

import "fmt"

// Config is the subset of the process configuration this package needs to
// build a Provider, mirroring internal/config.LLMConfig's shape so callers
// can pass that struct directly without an import cycle.
type Config struct {
	Provider string

	AnthropicAPIKey       string
	AnthropicBaseURL      string
	AnthropicDefaultModel string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIDefaultModel string

	OllamaBaseURL      string
	OllamaDefaultModel string
}

// New builds the configured Provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.AnthropicAPIKey,
			BaseURL:      cfg.AnthropicBaseURL,
			DefaultModel: cfg.AnthropicDefaultModel,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			DefaultModel: cfg.OpenAIDefaultModel,
		})
	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			BaseURL:      cfg.OllamaBaseURL,
			DefaultModel: cfg.OllamaDefaultModel,
		}), nil
	default:
		return nil, fmt.Errorf("llmprovider: unknown provider %q", cfg.Provider)
	}
}

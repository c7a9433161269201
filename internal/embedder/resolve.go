package embedder

import "fmt"

// Config mirrors internal/config.EmbedderConfig's shape so callers can
// build a Provider without an import cycle.
type Config struct {
	Provider string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string

	OllamaBaseURL string
}

// New builds the configured Provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.Model,
		})
	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			BaseURL: cfg.OllamaBaseURL,
			Model:   cfg.Model,
		}), nil
	default:
		return nil, fmt.Errorf("embedder: unknown provider %q", cfg.Provider)
	}
}

// Package config loads and validates the process-wide configuration bundle.
//
// A Config is loaded once at process start (via Load) from YAML with
// $include merging and os.ExpandEnv environment-variable expansion (see
// loader.go), then validated (Validate) into an aggregated
// *ValidationError. The result is treated as immutable for the life of
// the process: components hold a reference, never a copy they might
// diverge from.
package config

import (
	"fmt"
	"time"
)

// Config is the single process-wide configuration bundle.
type Config struct {
	Version int `yaml:"version"`

	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`

	LLM         LLMConfig         `yaml:"llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedder    EmbedderConfig    `yaml:"embedder"`

	RAG        RAGConfig        `yaml:"rag"`
	Selector   SelectorConfig   `yaml:"selector"`
	Quality    QualityConfig    `yaml:"quality"`
	ReactLoop  ReactLoopConfig  `yaml:"react_loop"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Streaming  StreamingConfig  `yaml:"streaming"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig configures the process's own listen ports. The HTTP/gRPC
// handler wiring itself lives outside this module; these ports are carried
// only so an embedding binary has somewhere to read them from.
type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig is the relational-store collaborator's connection:
// FunctionSchema, Conversation, ConversationMessage, UserProfile, and
// SyncEvent all live behind this one DSN.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// CacheConfig is the registry's read-through cache DSN/TTL. An empty DSN
// keeps the cache in-process (the default).
type CacheConfig struct {
	DSN string        `yaml:"dsn"`
	TTL time.Duration `yaml:"ttl"`
}

// LLMConfig selects and configures the LLM collaborator binding; three
// provider bindings are supported, and the choice is configuration.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai, ollama

	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Ollama    OllamaConfig    `yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

type OllamaConfig struct {
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// VectorStoreConfig is the vector-index collaborator's connection:
// host/port/collection.
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"` // memory, pgvector
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	DSN        string `yaml:"dsn"`
}

// EmbedderConfig is the embedder collaborator's configuration: provider,
// model id, and credentials.
type EmbedderConfig struct {
	Provider string `yaml:"provider"` // openai, ollama
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// RAGConfig holds the retriever's tunables (K1 default 20, K2 default 5).
type RAGConfig struct {
	TopK1   int  `yaml:"top_k1"`
	TopK2   int  `yaml:"top_k2"`
	Rerank  bool `yaml:"rerank"`
}

// SelectorConfig holds the hybrid selector's per-tier tunables.
type SelectorConfig struct {
	RuleThreshold float64       `yaml:"rule_threshold"`
	RAGTimeout    time.Duration `yaml:"rag_timeout"`
	LLMTopK       int           `yaml:"llm_top_k"`
	LLMMaxCandidates int        `yaml:"llm_max_candidates"`
}

// QualityConfig holds the quality validator's gating threshold (default 0.75).
type QualityConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// ReactLoopConfig holds the ReAct controller's tunables.
type ReactLoopConfig struct {
	MaxSteps       int           `yaml:"max_steps"` // default 5
	ThinkTimeout   time.Duration `yaml:"think_timeout"`
	ActTimeout     time.Duration `yaml:"act_timeout"`
	ReflectTimeout time.Duration `yaml:"reflect_timeout"`
	FinalTimeout   time.Duration `yaml:"final_timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
}

// ExecutorConfig holds the retry executor's defaults, including the
// per-function default timeout.
type ExecutorConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AppName        string        `yaml:"app_name"`
	AppVersion     string        `yaml:"app_version"`
}

// StreamingConfig controls user-facing streaming pacing: chars per frame
// and min/max delay, set independently for the final-answer and
// internal-step channels.
type StreamingConfig struct {
	FinalAnswer StreamPacing `yaml:"final_answer"`
	Steps       StreamPacing `yaml:"steps"`
	BufferSize  int          `yaml:"buffer_size"`
}

type StreamPacing struct {
	CharsPerFrame int           `yaml:"chars_per_frame"`
	MinDelay      time.Duration `yaml:"min_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
}

// LoggingConfig mirrors internal/observability's Logger configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// TracingConfig mirrors internal/observability's tracer configuration.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Defaults returns a Config with every tunable set to its documented
// default.
func Defaults() *Config {
	return &Config{
		Version: CurrentVersion,
		Server:  ServerConfig{Host: "0.0.0.0", MetricsPort: 9090},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 2 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		},
		Cache: CacheConfig{TTL: 30 * time.Second},
		LLM:   LLMConfig{Provider: "anthropic"},
		VectorStore: VectorStoreConfig{
			Backend: "memory",
			Port:    5432,
		},
		Embedder: EmbedderConfig{Provider: "openai", Model: "text-embedding-3-small"},
		RAG:      RAGConfig{TopK1: 20, TopK2: 5, Rerank: true},
		Selector: SelectorConfig{
			RuleThreshold:    0.85,
			RAGTimeout:       10 * time.Second,
			LLMTopK:          5,
			LLMMaxCandidates: 15,
		},
		Quality: QualityConfig{Threshold: 0.75},
		ReactLoop: ReactLoopConfig{
			MaxSteps:       5,
			ThinkTimeout:   15 * time.Second,
			ActTimeout:     15 * time.Second,
			ReflectTimeout: 15 * time.Second,
			FinalTimeout:   20 * time.Second,
			MaxTokens:      1024,
		},
		Executor: ExecutorConfig{
			DefaultTimeout: 30 * time.Second,
			MaxAttempts:    3,
			AppName:        "conduit-agent",
			AppVersion:     "1.0.0",
		},
		Streaming: StreamingConfig{
			FinalAnswer: StreamPacing{CharsPerFrame: 8, MinDelay: 10 * time.Millisecond, MaxDelay: 60 * time.Millisecond},
			Steps:       StreamPacing{CharsPerFrame: 32, MinDelay: 0, MaxDelay: 20 * time.Millisecond},
			BufferSize:  64,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{ServiceName: "conduit-agent"},
	}
}

// Load reads path (resolving $include directives, expanding ${VAR}
// references) and decodes it onto Defaults(), then validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidationError describes one invalid field; ValidationErrors aggregates
// every failure found by Validate in a single pass.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every ValidationError found by Validate.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	msg := fmt.Sprintf("%d config validation error(s):", len(e.Errors))
	for _, sub := range e.Errors {
		msg += "\n  - " + sub.Error()
	}
	return msg
}

func (e *ValidationErrors) add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// Validate checks the bundle for obviously broken settings and returns an
// aggregated *ValidationErrors (or nil) rather than failing on the first
// problem found.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama", "":
	default:
		errs.add("llm.provider", fmt.Sprintf("unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.Provider == "anthropic" && c.LLM.Anthropic.APIKey == "" {
		errs.add("llm.anthropic.api_key", "required when llm.provider is anthropic")
	}
	if c.LLM.Provider == "openai" && c.LLM.OpenAI.APIKey == "" {
		errs.add("llm.openai.api_key", "required when llm.provider is openai")
	}

	switch c.VectorStore.Backend {
	case "memory", "pgvector", "":
	default:
		errs.add("vector_store.backend", fmt.Sprintf("unknown backend %q", c.VectorStore.Backend))
	}
	if c.VectorStore.Backend == "pgvector" && c.VectorStore.DSN == "" {
		errs.add("vector_store.dsn", "required when vector_store.backend is pgvector")
	}

	switch c.Embedder.Provider {
	case "openai", "ollama", "":
	default:
		errs.add("embedder.provider", fmt.Sprintf("unknown provider %q", c.Embedder.Provider))
	}

	if c.RAG.TopK1 <= 0 {
		errs.add("rag.top_k1", "must be positive")
	}
	if c.RAG.TopK2 <= 0 {
		errs.add("rag.top_k2", "must be positive")
	}
	if c.RAG.TopK2 > c.RAG.TopK1 {
		errs.add("rag.top_k2", "must not exceed rag.top_k1")
	}
	if c.Selector.RuleThreshold < 0 || c.Selector.RuleThreshold > 1 {
		errs.add("selector.rule_threshold", "must be in [0,1]")
	}
	if c.Quality.Threshold < 0 || c.Quality.Threshold > 1 {
		errs.add("quality.threshold", "must be in [0,1]")
	}
	if c.ReactLoop.MaxSteps <= 0 {
		errs.add("react_loop.max_steps", "must be positive")
	}
	if c.Executor.MaxAttempts <= 0 {
		errs.add("executor.max_attempts", "must be positive")
	}

	if len(errs.Errors) == 0 {
		return nil
	}
	return errs
}

// Package reactloop implements the think/act/observe/reflect state
// machine that drives one query from context assembly through function
// selection, parameter synthesis, and retried execution to a
// quality-gated final answer.
package reactloop

import "time"

// Config holds the controller's per-phase tunables.
type Config struct {
	MaxSteps       int
	ThinkTimeout   time.Duration
	ActTimeout     time.Duration
	ReflectTimeout time.Duration
	FinalTimeout   time.Duration

	// EventBufferSize bounds the stream-event channel; once full, the
	// oldest buffered event is dropped to make room rather than blocking
	// the loop, since a stalled consumer must never deadlock it.
	EventBufferSize int

	// LLMMaxTokens caps each THINK/ACT/REFLECT/FINAL completion.
	LLMMaxTokens int
}

// DefaultConfig returns the controller's baseline timeouts and limits.
func DefaultConfig() Config {
	return Config{
		MaxSteps:        5,
		ThinkTimeout:    15 * time.Second,
		ActTimeout:      15 * time.Second,
		ReflectTimeout:  15 * time.Second,
		FinalTimeout:    20 * time.Second,
		EventBufferSize: 32,
		LLMMaxTokens:    512,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.ThinkTimeout <= 0 {
		c.ThinkTimeout = d.ThinkTimeout
	}
	if c.ActTimeout <= 0 {
		c.ActTimeout = d.ActTimeout
	}
	if c.ReflectTimeout <= 0 {
		c.ReflectTimeout = d.ReflectTimeout
	}
	if c.FinalTimeout <= 0 {
		c.FinalTimeout = d.FinalTimeout
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = d.EventBufferSize
	}
	if c.LLMMaxTokens <= 0 {
		c.LLMMaxTokens = d.LLMMaxTokens
	}
	return c
}

// Package embedder turns text into the fixed-length vectors the retrieval
// and vector-index collaborators operate on. Every implementation returns
// L2-normalized vectors so callers can compare them with plain cosine
// similarity (a dot product) without re-normalizing at query time.
package embedder

import (
	"context"
	"errors"
	"math"
)

// ErrUnsupportedModel is returned when a provider doesn't recognize the
// configured model name and so can't report its output dimension.
var ErrUnsupportedModel = errors.New("embedder: unsupported model")

// Provider embeds text into vectors for similarity search.
type Provider interface {
	// Embed returns the normalized embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds multiple texts in one call where the backend
	// supports batching; falls back to sequential Embed calls otherwise.
	// The returned slice has the same length and order as texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the provider for logging and metrics.
	Name() string

	// Dimension is the length of vectors this provider returns.
	Dimension() int

	// MaxBatchSize bounds how many texts a single EmbedBatch call accepts.
	MaxBatchSize() int
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func chunk(texts []string, size int) [][]string {
	if size <= 0 || len(texts) <= size {
		return [][]string{texts}
	}
	var out [][]string
	for i := 0; i < len(texts); i += size {
		end := i + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[i:end])
	}
	return out
}

// Package vectorindex stores function-schema embeddings and serves
// nearest-neighbor search over them for the RAG retriever. Records are
// keyed by function_id, not by a generic document or memory chunk id:
// this index exists to find functions, not conversation memory.
package vectorindex

import "context"

// Record is a function embedding to index.
type Record struct {
	FunctionID string
	Category   string
	Embedding  []float32
}

// Filter narrows a Search to a category, mirroring the registry's own
// FunctionFilter.Category.
type Filter struct {
	Category string
}

// ScoredRecord is a search hit: the function id and its cosine similarity
// to the query embedding (higher is closer; embeddings are expected
// L2-normalized so this is a plain dot product).
type ScoredRecord struct {
	FunctionID string
	Category   string
	Score      float32
}

// Index stores and searches function embeddings.
type Index interface {
	// Insert adds or replaces a single record.
	Insert(ctx context.Context, rec Record) error

	// InsertBatch adds or replaces multiple records in one call.
	InsertBatch(ctx context.Context, recs []Record) error

	// Search returns the topK records closest to query, optionally
	// restricted by filter, ordered by descending score.
	Search(ctx context.Context, query []float32, topK int, filter Filter) ([]ScoredRecord, error)

	// DeleteByID removes a record. Deleting a missing id is a no-op.
	DeleteByID(ctx context.Context, functionID string) error

	// Count returns the number of indexed records.
	Count(ctx context.Context) (int, error)

	// Clear removes every indexed record.
	Clear(ctx context.Context) error

	Close() error
}

func cosine(a, b []float32) float32 {
	var dot float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot
}

package vectorindex

import (
	"context"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory Index, suitable for tests and for running
// the retriever without a vector database.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]Record)}
}

func (idx *MemoryIndex) Insert(ctx context.Context, rec Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.records[rec.FunctionID] = rec
	return nil
}

func (idx *MemoryIndex) InsertBatch(ctx context.Context, recs []Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, rec := range recs {
		idx.records[rec.FunctionID] = rec
	}
	return nil
}

func (idx *MemoryIndex) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scored := make([]ScoredRecord, 0, len(idx.records))
	for _, rec := range idx.records {
		if filter.Category != "" && rec.Category != filter.Category {
			continue
		}
		scored = append(scored, ScoredRecord{
			FunctionID: rec.FunctionID,
			Category:   rec.Category,
			Score:      cosine(query, rec.Embedding),
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (idx *MemoryIndex) DeleteByID(ctx context.Context, functionID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.records, functionID)
	return nil
}

func (idx *MemoryIndex) Count(ctx context.Context) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records), nil
}

func (idx *MemoryIndex) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.records = make(map[string]Record)
	return nil
}

func (idx *MemoryIndex) Close() error { return nil }

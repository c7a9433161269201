// Package ragretriever implements the two-stage (vector search then
// optional rerank) function retrieval the hybrid selector's RAG tier and
// the ReAct controller call into.
package ragretriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/conduit/internal/embedder"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/vectorindex"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Candidate is a ranked retrieval hit.
type Candidate struct {
	Function *models.FunctionSchema
	Score    float32
}

// Stats summarizes the retriever's index state.
type Stats struct {
	IndexedFunctions int
}

// Retriever keeps the vector index current via Index/IndexBatch/Delete
// and serves Retrieve's two-stage search.
type Retriever struct {
	registry *registry.Service
	embedder embedder.Provider
	index    vectorindex.Index

	defaultTopK1 int
	defaultTopK2 int
}

// Option configures a Retriever at construction time.
type Option func(*Retriever)

// WithDefaultTopK sets the stage-1 (k1) and stage-2 (k2) result counts used
// when Retrieve is called with topK1/topK2 <= 0.
func WithDefaultTopK(k1, k2 int) Option {
	return func(r *Retriever) {
		r.defaultTopK1 = k1
		r.defaultTopK2 = k2
	}
}

// New builds a Retriever with default stage sizes K1=20, K2=5.
func New(reg *registry.Service, emb embedder.Provider, idx vectorindex.Index, opts ...Option) *Retriever {
	r := &Retriever{
		registry:     reg,
		embedder:     emb,
		index:        idx,
		defaultTopK1: 20,
		defaultTopK2: 5,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildEmbeddingText renders the text embedded for a function, per spec
// §4.3: a " | "-joined concatenation of the non-empty fields.
func BuildEmbeddingText(fn *models.FunctionSchema) string {
	var parts []string
	if fn.Name != "" {
		parts = append(parts, "Function: "+fn.Name)
	}
	if fn.Description != "" {
		parts = append(parts, "Description: "+fn.Description)
	}
	if fn.Category != "" {
		parts = append(parts, "Category: "+fn.Category)
	}
	if names := fn.ParameterNames(); len(names) > 0 {
		parts = append(parts, "Parameters: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, " | ")
}

// Index embeds fn and upserts it into the vector index.
func (r *Retriever) Index(ctx context.Context, fn *models.FunctionSchema) error {
	vec, err := r.embedder.Embed(ctx, BuildEmbeddingText(fn))
	if err != nil {
		return fmt.Errorf("ragretriever: embed %s: %w", fn.FunctionID, err)
	}
	return r.index.Insert(ctx, vectorindex.Record{
		FunctionID: fn.FunctionID,
		Category:   fn.Category,
		Embedding:  vec,
	})
}

// IndexBatch embeds and upserts multiple functions in one call.
func (r *Retriever) IndexBatch(ctx context.Context, fns []*models.FunctionSchema) error {
	if len(fns) == 0 {
		return nil
	}
	texts := make([]string, len(fns))
	for i, fn := range fns {
		texts[i] = BuildEmbeddingText(fn)
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("ragretriever: embed batch: %w", err)
	}
	recs := make([]vectorindex.Record, len(fns))
	for i, fn := range fns {
		recs[i] = vectorindex.Record{FunctionID: fn.FunctionID, Category: fn.Category, Embedding: vecs[i]}
	}
	return r.index.InsertBatch(ctx, recs)
}

// Delete removes a function from the vector index; deleting an unindexed
// id is a no-op.
func (r *Retriever) Delete(ctx context.Context, functionID string) error {
	return r.index.DeleteByID(ctx, functionID)
}

// IndexSnapshot embeds and upserts a function directly from a SyncEvent's
// new_snapshot map, without reading the registry. This is what
// internal/syncpipeline's worker calls for INSERT/UPDATE events, building
// its RAG document straight from the event's own data.
func (r *Retriever) IndexSnapshot(ctx context.Context, functionID string, snap map[string]any) error {
	if snap == nil {
		return fmt.Errorf("ragretriever: index snapshot %s: empty snapshot", functionID)
	}
	name, _ := snap["name"].(string)
	description, _ := snap["description"].(string)
	category, _ := snap["category"].(string)

	var paramNames []string
	switch v := snap["parameter_names"].(type) {
	case []string:
		paramNames = v
	case []any:
		for _, p := range v {
			if s, ok := p.(string); ok {
				paramNames = append(paramNames, s)
			}
		}
	}

	var parts []string
	if name != "" {
		parts = append(parts, "Function: "+name)
	}
	if description != "" {
		parts = append(parts, "Description: "+description)
	}
	if category != "" {
		parts = append(parts, "Category: "+category)
	}
	if len(paramNames) > 0 {
		parts = append(parts, "Parameters: "+strings.Join(paramNames, ", "))
	}
	text := strings.Join(parts, " | ")

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("ragretriever: embed snapshot %s: %w", functionID, err)
	}
	return r.index.Insert(ctx, vectorindex.Record{FunctionID: functionID, Category: category, Embedding: vec})
}

// Stats reports the index's current size.
func (r *Retriever) Stats(ctx context.Context) (Stats, error) {
	count, err := r.index.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("ragretriever: stats: %w", err)
	}
	return Stats{IndexedFunctions: count}, nil
}

// rerankWeight mirrors the rule tier's convention of weighting earlier
// results more heavily, but here it's a fixed 0.8/0.2 split between
// vector-similarity and token-overlap.
const (
	vectorWeight = 0.8
	overlapWeight = 0.2
)

// Retrieve performs the two-stage retrieval: cosine top-K1 vector search,
// then (if rerank) a token-overlap-weighted rescoring down to top-K2.
// topK1/topK2 <= 0 use the retriever's configured defaults.
func (r *Retriever) Retrieve(ctx context.Context, query, categoryFilter string, rerank bool, topK1, topK2 int) ([]Candidate, error) {
	if topK1 <= 0 {
		topK1 = r.defaultTopK1
	}
	if topK2 <= 0 {
		topK2 = r.defaultTopK2
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ragretriever: embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, queryVec, topK1, vectorindex.Filter{Category: categoryFilter})
	if err != nil {
		return nil, fmt.Errorf("ragretriever: search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		fn, err := r.registry.Get(ctx, hit.FunctionID)
		if err != nil {
			continue // the function may have been deleted after indexing but before the sync pipeline caught up
		}
		candidates = append(candidates, Candidate{Function: fn, Score: hit.Score})
	}

	if !rerank {
		if len(candidates) > topK2 {
			candidates = candidates[:topK2]
		}
		return candidates, nil
	}

	queryTokens := tokenize(query)
	for i := range candidates {
		overlap := tokenOverlapRatio(queryTokens, tokenize(candidates[i].Function.Name+" "+candidates[i].Function.Description))
		candidates[i].Score = float32(vectorWeight)*candidates[i].Score + float32(overlapWeight)*float32(overlap)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > topK2 {
		candidates = candidates[:topK2]
	}
	return candidates, nil
}

func tokenize(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// tokenOverlapRatio computes |Q∩F| / max(|Q|, 1).
func tokenOverlapRatio(query, candidate map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	overlap := 0
	for tok := range query {
		if _, ok := candidate[tok]; ok {
			overlap++
		}
	}
	denom := len(query)
	if denom < 1 {
		denom = 1
	}
	return float64(overlap) / float64(denom)
}

package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

// MemoryStore is an in-memory Store, suitable for tests and for embedding
// the registry without a relational store.
type MemoryStore struct {
	mu        sync.RWMutex
	functions map[string]*models.FunctionSchema
	events    EventLogger
}

// NewMemoryStore creates an in-memory registry store. events may be nil,
// in which case mutations are not logged (used by tests that only exercise
// CRUD semantics).
func NewMemoryStore(events EventLogger) *MemoryStore {
	return &MemoryStore{
		functions: make(map[string]*models.FunctionSchema),
		events:    events,
	}
}

func (s *MemoryStore) Create(ctx context.Context, fn *models.FunctionSchema) error {
	if fn == nil || fn.FunctionID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	if _, exists := s.functions[fn.FunctionID]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	now := time.Now()
	fn.CreatedAt, fn.UpdatedAt = now, now
	if fn.Version == 0 {
		fn.Version = 1
	}
	cp := *fn
	s.functions[fn.FunctionID] = &cp
	s.mu.Unlock()

	return s.logEvent(ctx, fn.FunctionID, models.SyncOpInsert, nil, snapshot(fn))
}

func (s *MemoryStore) Get(ctx context.Context, functionID string) (*models.FunctionSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.functions[functionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *fn
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, fn *models.FunctionSchema) error {
	if fn == nil || fn.FunctionID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	existing, ok := s.functions[fn.FunctionID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	old := *existing
	merged := mergeFunction(&old, fn)
	merged.UpdatedAt = time.Now()
	merged.Version = old.Version + 1
	s.functions[fn.FunctionID] = merged
	s.mu.Unlock()

	return s.logEvent(ctx, fn.FunctionID, models.SyncOpUpdate, snapshot(&old), snapshot(merged))
}

func (s *MemoryStore) Delete(ctx context.Context, functionID string) error {
	s.mu.Lock()
	existing, ok := s.functions[functionID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.functions, functionID)
	s.mu.Unlock()

	return s.logEvent(ctx, functionID, models.SyncOpDelete, snapshot(existing), nil)
}

func (s *MemoryStore) List(ctx context.Context, filter models.FunctionFilter, page models.Page) ([]*models.FunctionSchema, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.filtered(filter)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, page), len(all), nil
}

// Search performs a lexical OR match over name, description, and id,
// ordered by call_count descending.
func (s *MemoryStore) Search(ctx context.Context, text string, filter models.FunctionFilter, page models.Page) ([]*models.FunctionSchema, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(text))
	candidates := s.filtered(filter)
	matched := make([]*models.FunctionSchema, 0, len(candidates))
	for _, fn := range candidates {
		if needle == "" ||
			strings.Contains(strings.ToLower(fn.Name), needle) ||
			strings.Contains(strings.ToLower(fn.Description), needle) ||
			strings.Contains(strings.ToLower(fn.FunctionID), needle) {
			matched = append(matched, fn)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CallCount > matched[j].CallCount })
	return paginate(matched, page), len(matched), nil
}

func (s *MemoryStore) filtered(filter models.FunctionFilter) []*models.FunctionSchema {
	out := make([]*models.FunctionSchema, 0, len(s.functions))
	for _, fn := range s.functions {
		if filter.Category != "" && fn.Category != filter.Category {
			continue
		}
		if filter.Deprecated != nil && fn.Deprecated != *filter.Deprecated {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(fn.Tags, filter.Tags) {
			continue
		}
		cp := *fn
		out = append(out, &cp)
	}
	return out
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func paginate(fns []*models.FunctionSchema, page models.Page) []*models.FunctionSchema {
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(fns) {
		offset = len(fns)
	}
	end := len(fns)
	if page.Limit > 0 && offset+page.Limit < end {
		end = offset + page.Limit
	}
	return fns[offset:end]
}

// RecordUsage updates the running average response time and all-time
// success rate for a function.
func (s *MemoryStore) RecordUsage(ctx context.Context, functionID string, responseTimeMs float64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.functions[functionID]
	if !ok {
		return ErrNotFound
	}
	applyUsage(fn, responseTimeMs, success)
	return nil
}

// applyUsage mutates fn's running counters in place:
// avg_response_time_ms <- (avg*(n-1) + sample)/n; success_rate is the
// all-time running percentage of successful calls.
func applyUsage(fn *models.FunctionSchema, responseTimeMs float64, success bool) {
	successes := fn.SuccessRate / 100 * float64(fn.CallCount)
	fn.CallCount++
	n := float64(fn.CallCount)
	fn.AvgResponseTimeMs = (fn.AvgResponseTimeMs*(n-1) + responseTimeMs) / n
	if success {
		successes++
	}
	fn.SuccessRate = successes / n * 100
	fn.LastCalledAt = time.Now()
}

func (s *MemoryStore) Statistics(ctx context.Context) (models.FunctionStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := models.FunctionStatistics{ByCategory: make(map[string]int)}
	for _, fn := range s.functions {
		stats.TotalFunctions++
		if fn.Deprecated {
			stats.DeprecatedFunctions++
		}
		stats.ByCategory[fn.Category]++
		stats.TotalCalls += fn.CallCount
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }

// logEvent has no *sql.Tx to share — MemoryStore's mutation already
// happened under s.mu, not a database transaction — so it passes a nil
// ExecerContext. An EventLogger backed by a relational store should not
// be paired with a MemoryStore in production; NoopEventLogger and the
// sync pipeline's own MemoryStore both ignore exec entirely.
func (s *MemoryStore) logEvent(ctx context.Context, functionID string, op models.SyncOperation, old, new map[string]any) error {
	if s.events == nil {
		return nil
	}
	return s.events.LogEvent(ctx, nil, "function", functionID, op, old, new)
}

func mergeFunction(base, patch *models.FunctionSchema) *models.FunctionSchema {
	merged := *base
	if patch.Name != "" {
		merged.Name = patch.Name
	}
	if patch.Description != "" {
		merged.Description = patch.Description
	}
	if patch.Category != "" {
		merged.Category = patch.Category
	}
	if patch.Endpoint != "" {
		merged.Endpoint = patch.Endpoint
	}
	if patch.HTTPMethod != "" {
		merged.HTTPMethod = patch.HTTPMethod
	}
	if patch.Parameters.Properties != nil {
		merged.Parameters = patch.Parameters
	}
	if patch.ResponseSchema != nil {
		merged.ResponseSchema = patch.ResponseSchema
	}
	if patch.CacheTTLSeconds != 0 {
		merged.CacheTTLSeconds = patch.CacheTTLSeconds
	}
	if patch.TimeoutSeconds != 0 {
		merged.TimeoutSeconds = patch.TimeoutSeconds
	}
	if patch.Tags != nil {
		merged.Tags = patch.Tags
	}
	merged.AuthRequired = patch.AuthRequired
	merged.Deprecated = patch.Deprecated
	return &merged
}

// snapshot renders fn into the plain map carried on a SyncEvent's
// old/new_snapshot fields. It carries every field the sync pipeline's
// worker needs to build an embedding input ("Function: ... Description:
// ... Category: ... Parameters: ...") directly from the event, without a
// round trip back through the registry.
func snapshot(fn *models.FunctionSchema) map[string]any {
	if fn == nil {
		return nil
	}
	names := fn.ParameterNames()
	sort.Strings(names)
	return map[string]any{
		"function_id":     fn.FunctionID,
		"name":            fn.Name,
		"description":     fn.Description,
		"category":        fn.Category,
		"parameter_names": names,
		"deprecated":      fn.Deprecated,
		"version":         fn.Version,
	}
}

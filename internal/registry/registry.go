package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

// Service is a Store plus the read-through cache, parameter-schema
// validation, and bulk-import helper that don't belong on the Store
// interface itself. This is the type the rest of the system depends on.
type Service struct {
	store Store
	cache *readThroughCache
}

// NewService wraps store with a read-through cache of the given TTL. A
// non-positive ttl uses DefaultCacheTTL.
func NewService(store Store, ttl time.Duration) *Service {
	return &Service{store: store, cache: newReadThroughCache(ttl)}
}

// Create validates fn.Parameters as well-formed JSON Schema before
// delegating to the Store; fails with ErrAlreadyExists on a colliding
// function_id.
func (s *Service) Create(ctx context.Context, fn *models.FunctionSchema) error {
	if fn == nil {
		return ErrNotFound
	}
	if err := validateParameterSchema(fn.Parameters); err != nil {
		return err
	}
	if err := s.store.Create(ctx, fn); err != nil {
		return err
	}
	s.cache.set(fn)
	return nil
}

// Get reads through the cache, falling back to the Store on a miss or
// expiry and repopulating the cache on success.
func (s *Service) Get(ctx context.Context, functionID string) (*models.FunctionSchema, error) {
	if cached, ok := s.cache.get(functionID); ok {
		return cached, nil
	}
	fn, err := s.store.Get(ctx, functionID)
	if err != nil {
		return nil, err
	}
	s.cache.set(fn)
	return fn, nil
}

// Update validates the patch's parameter schema (when supplied) and
// invalidates the cache entry for functionID on success.
func (s *Service) Update(ctx context.Context, fn *models.FunctionSchema) error {
	if fn == nil {
		return ErrNotFound
	}
	if fn.Parameters.Properties != nil {
		if err := validateParameterSchema(fn.Parameters); err != nil {
			return err
		}
	}
	if err := s.store.Update(ctx, fn); err != nil {
		return err
	}
	s.cache.invalidate(fn.FunctionID)
	return nil
}

// Delete removes functionID and invalidates its cache entry. Returns
// ErrNotFound on a miss, so a second delete of the same id is
// distinguishable from the first at the Store layer.
func (s *Service) Delete(ctx context.Context, functionID string) error {
	if err := s.store.Delete(ctx, functionID); err != nil {
		return err
	}
	s.cache.invalidate(functionID)
	return nil
}

func (s *Service) List(ctx context.Context, filter models.FunctionFilter, page models.Page) ([]*models.FunctionSchema, int, error) {
	return s.store.List(ctx, filter, page)
}

// Search performs the lexical OR match over name/description/id, ordered
// by call_count descending.
func (s *Service) Search(ctx context.Context, text string, filter models.FunctionFilter, page models.Page) ([]*models.FunctionSchema, int, error) {
	return s.store.Search(ctx, text, filter, page)
}

// RecordUsage updates the function's running usage counters and
// invalidates its cache entry, since the cached copy's counters are now
// stale.
func (s *Service) RecordUsage(ctx context.Context, functionID string, responseTimeMs float64, success bool) error {
	if err := s.store.RecordUsage(ctx, functionID, responseTimeMs, success); err != nil {
		return err
	}
	s.cache.invalidate(functionID)
	return nil
}

func (s *Service) Statistics(ctx context.Context) (models.FunctionStatistics, error) {
	return s.store.Statistics(ctx)
}

func (s *Service) Close() error {
	return s.store.Close()
}

// BulkImport creates or overwrites each item independently, reporting
// per-item success/failure rather than failing the whole batch. When
// overwrite is false, an existing function_id is reported as a failure
// rather than silently skipped, so callers can tell a no-op from an
// intended overwrite.
func (s *Service) BulkImport(ctx context.Context, items []*models.FunctionSchema, overwrite bool) models.BulkImportResult {
	result := models.BulkImportResult{Failed: make(map[string]string)}
	for _, item := range items {
		if item == nil || item.FunctionID == "" {
			continue
		}
		if err := validateParameterSchema(item.Parameters); err != nil {
			result.Failed[item.FunctionID] = err.Error()
			continue
		}

		err := s.store.Create(ctx, item)
		if err == ErrAlreadyExists && overwrite {
			err = s.store.Update(ctx, item)
		} else if err == ErrAlreadyExists {
			result.Failed[item.FunctionID] = fmt.Sprintf("function_id %q already exists", item.FunctionID)
			continue
		}
		if err != nil {
			result.Failed[item.FunctionID] = err.Error()
			continue
		}
		s.cache.invalidate(item.FunctionID)
		result.Succeeded = append(result.Succeeded, item.FunctionID)
	}
	return result
}

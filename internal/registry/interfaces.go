// Package registry is the authoritative CRUD store for FunctionSchema
// rows. Every successful create/update/delete writes a SyncEvent in the
// same transaction as the entity change, handing off to
// internal/syncpipeline to keep the vector index eventually consistent.
package registry

import (
	"context"
	"database/sql"
	"errors"

	"github.com/haasonsaas/conduit/pkg/models"
)

var (
	// ErrNotFound is returned when a function_id has no matching row.
	ErrNotFound = errors.New("registry: not found")
	// ErrAlreadyExists is returned by Create when function_id collides.
	ErrAlreadyExists = errors.New("registry: already exists")
)

// ExecerContext is satisfied by both *sql.DB and *sql.Tx. A relational
// EventLogger executes its INSERT against whatever handle the caller
// passes, so when that handle is the registry's own in-flight *sql.Tx the
// SyncEvent write lands in the same transaction as the entity mutation
// instead of autocommitting on a separate connection.
type ExecerContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogger records a SyncEvent alongside a registry mutation. exec is
// the handle the write must go through: the registry's own *sql.Tx for a
// relational Store, or nil for a non-relational Store (MemoryStore) where
// no shared transaction exists. internal/syncpipeline implements this
// against its own store; registry itself depends only on this narrow
// capability, never on syncpipeline's concrete store types.
type EventLogger interface {
	LogEvent(ctx context.Context, exec ExecerContext, entityType, entityID string, op models.SyncOperation, oldSnapshot, newSnapshot map[string]any) error
}

// NoopEventLogger discards every event. Useful for tests and for running
// the registry without the sync pipeline wired in.
type NoopEventLogger struct{}

func (NoopEventLogger) LogEvent(ctx context.Context, exec ExecerContext, entityType, entityID string, op models.SyncOperation, oldSnapshot, newSnapshot map[string]any) error {
	return nil
}

// Store is the persistence contract for FunctionSchema rows. Cockroach and
// in-memory implementations share these semantics: Create fails with
// ErrAlreadyExists on a colliding function_id, Get/Update/Delete fail with
// ErrNotFound on a miss.
type Store interface {
	Create(ctx context.Context, fn *models.FunctionSchema) error
	Get(ctx context.Context, functionID string) (*models.FunctionSchema, error)
	Update(ctx context.Context, fn *models.FunctionSchema) error
	Delete(ctx context.Context, functionID string) error
	List(ctx context.Context, filter models.FunctionFilter, page models.Page) ([]*models.FunctionSchema, int, error)
	Search(ctx context.Context, text string, filter models.FunctionFilter, page models.Page) ([]*models.FunctionSchema, int, error)
	RecordUsage(ctx context.Context, functionID string, responseTimeMs float64, success bool) error
	Statistics(ctx context.Context) (models.FunctionStatistics, error)
	Close() error
}

// Package syncpipeline implements an application-level change-data-capture
// pipeline: every function registry mutation is logged as a durable
// SyncEvent in the same transaction as the entity change, and a worker
// drains the queue to keep the vector index eventually consistent with
// the registry.
package syncpipeline

import (
	"context"
	"errors"

	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/pkg/models"
)

// DefaultMaxRetries is the retry cap a SyncEvent is created with when the
// caller doesn't specify one.
const DefaultMaxRetries = 3

// ErrEventNotFound is returned when an event_id has no matching row.
var ErrEventNotFound = errors.New("syncpipeline: event not found")

// Store is the durable SyncEvent queue: registry.Service depends on it
// (through the narrower registry.EventLogger capability) to log events,
// and Worker depends on it to claim and resolve them.
type Store interface {
	// LogEvent creates a new event in pending status. exec is the handle
	// the INSERT executes against: the registry's own *sql.Tx when this
	// Store backs a relational registry.Store (so the SyncEvent commits
	// atomically with the entity mutation), or nil when there is no
	// surrounding transaction to share (e.g. MemoryStore, or a caller
	// logging an event outside of a registry mutation).
	LogEvent(ctx context.Context, exec registry.ExecerContext, entityType, entityID string, op models.SyncOperation, oldSnapshot, newSnapshot map[string]any) error

	// ClaimBatch atomically transitions up to batchSize claimable events
	// (pending, or failed with retries remaining) to processing, stamps
	// processed_at, and returns them ordered by created_at ascending. The
	// status flip is a single-flight per event even under concurrent
	// callers: claimed atomically with respect to concurrent workers.
	ClaimBatch(ctx context.Context, batchSize int) ([]*models.SyncEvent, error)

	// MarkSynced moves an event to its terminal synced state.
	MarkSynced(ctx context.Context, eventID int64) error

	// MarkFailed moves an event to failed, incrementing retry_count and
	// recording a truncated error message.
	MarkFailed(ctx context.Context, eventID int64, errMessage string) error

	// Statistics summarizes queue depth by status plus the most recent
	// failures, capped at 10.
	Statistics(ctx context.Context) (models.SyncStatistics, error)

	Close() error
}

// Indexer is the narrow capability the worker needs from the vector-index
// side of the pipeline: embed-and-upsert from a registry snapshot, and
// delete by id. internal/ragretriever.Retriever implements this.
type Indexer interface {
	IndexSnapshot(ctx context.Context, functionID string, snapshot map[string]any) error
	Delete(ctx context.Context, functionID string) error
}

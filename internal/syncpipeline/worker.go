package syncpipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/pkg/models"
)

// WorkerConfig controls the poll cadence and concurrency of a Worker.
type WorkerConfig struct {
	// PollInterval is how often Run ticks the queue when it's empty.
	PollInterval time.Duration
	// BatchSize is the number of events claimed per tick.
	BatchSize int
	// MaxConcurrentEntities bounds how many distinct entity_id groups are
	// processed at once; events sharing an entity_id are always processed
	// sequentially, in order, within their own goroutine.
	MaxConcurrentEntities int
}

// DefaultWorkerConfig returns the worker's baseline poll/batch settings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:          2 * time.Second,
		BatchSize:             50,
		MaxConcurrentEntities: 8,
	}
}

// Worker drains the Store's event queue and applies each event to the
// Indexer, keeping the vector index eventually consistent with the
// function registry under a per-entity-id ordering guarantee.
type Worker struct {
	store   Store
	indexer Indexer
	cfg     WorkerConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewWorker builds a Worker. logger and metrics may be nil.
func NewWorker(store Store, indexer Indexer, cfg WorkerConfig, logger *observability.Logger, metrics *observability.Metrics) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWorkerConfig().BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerConfig().PollInterval
	}
	if cfg.MaxConcurrentEntities <= 0 {
		cfg.MaxConcurrentEntities = DefaultWorkerConfig().MaxConcurrentEntities
	}
	return &Worker{store: store, indexer: indexer, cfg: cfg, logger: logger, metrics: metrics}
}

// Run ticks on cfg.PollInterval, claiming and processing batches until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessBatch(ctx); err != nil && w.logger != nil {
			w.logger.Error(ctx, "syncpipeline: process batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// BatchOutcome summarizes one ProcessBatch call.
type BatchOutcome struct {
	Claimed int
	Synced  int
	Failed  int
}

// ProcessBatch claims up to cfg.BatchSize events and applies them to the
// index. Events are grouped by entity_id and each group is processed
// in claim order by a single goroutine, so two events for the same
// function can never be applied out of order or concurrently; distinct
// entities are processed concurrently up to MaxConcurrentEntities.
func (w *Worker) ProcessBatch(ctx context.Context) (BatchOutcome, error) {
	batchStart := time.Now()
	events, err := w.store.ClaimBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return BatchOutcome{}, fmt.Errorf("syncpipeline: claim batch: %w", err)
	}
	if len(events) == 0 {
		return BatchOutcome{}, nil
	}

	groups := make(map[string][]*models.SyncEvent)
	var order []string
	for _, ev := range events {
		if _, seen := groups[ev.EntityID]; !seen {
			order = append(order, ev.EntityID)
		}
		groups[ev.EntityID] = append(groups[ev.EntityID], ev)
	}

	var (
		mu      sync.Mutex
		outcome BatchOutcome
		wg      sync.WaitGroup
		sem     = make(chan struct{}, w.cfg.MaxConcurrentEntities)
	)
	outcome.Claimed = len(events)

	for _, entityID := range order {
		group := groups[entityID]
		wg.Add(1)
		sem <- struct{}{}
		go func(group []*models.SyncEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			synced, failed := w.processGroup(ctx, group)
			mu.Lock()
			outcome.Synced += synced
			outcome.Failed += failed
			mu.Unlock()
		}(group)
	}
	wg.Wait()

	if w.metrics != nil {
		// Derived from the claimed events' now-terminal in-memory
		// SyncStatus (processGroup stamps it on each *models.SyncEvent),
		// so the per-operation breakdown needs no extra store round-trip.
		syncedByOp := make(map[string]int)
		failedByOp := make(map[string]int)
		for _, ev := range events {
			switch ev.SyncStatus {
			case models.SyncStatusSynced:
				syncedByOp[string(ev.Operation)]++
			case models.SyncStatusFailed:
				failedByOp[string(ev.Operation)]++
			}
		}
		w.metrics.RecordSyncBatch(time.Since(batchStart).Seconds(), syncedByOp, failedByOp)
	}

	return outcome, nil
}

// processGroup applies every event for one entity_id strictly in order,
// stopping at the first failure so a later event for the same entity
// never gets applied ahead of an unresolved earlier one. It mutates each
// event's in-memory SyncStatus to its terminal value so the caller can
// derive a per-operation breakdown without a second store round-trip.
func (w *Worker) processGroup(ctx context.Context, events []*models.SyncEvent) (synced, failed int) {
	for i, ev := range events {
		if err := w.applyEvent(ctx, ev); err != nil {
			if w.metrics != nil {
				w.metrics.RecordError("syncpipeline", "SyncProcessingError")
			}
			if markErr := w.store.MarkFailed(ctx, ev.EventID, err.Error()); markErr != nil && w.logger != nil {
				w.logger.Error(ctx, "syncpipeline: mark failed", "event_id", ev.EventID, "error", markErr)
			}
			ev.SyncStatus = models.SyncStatusFailed
			failed++
			failed += w.blockRemaining(ctx, events[i+1:])
			return synced, failed
		}
		if err := w.store.MarkSynced(ctx, ev.EventID); err != nil {
			if w.logger != nil {
				w.logger.Error(ctx, "syncpipeline: mark synced", "event_id", ev.EventID, "error", err)
			}
			ev.SyncStatus = models.SyncStatusFailed
			failed++
			failed += w.blockRemaining(ctx, events[i+1:])
			return synced, failed
		}
		ev.SyncStatus = models.SyncStatusSynced
		synced++
	}
	return synced, failed
}

// blockRemaining is called on the tail of a group once an earlier event in
// it is unresolved. ClaimBatch already flipped these events to processing,
// which isn't itself claimable again, so leaving them untouched would
// strand them forever; blockRemaining pushes them back through MarkFailed
// so they become claimable on a future tick (ordered, as always, behind
// the earlier event that blocked them) instead of being applied now.
func (w *Worker) blockRemaining(ctx context.Context, events []*models.SyncEvent) int {
	for _, ev := range events {
		if err := w.store.MarkFailed(ctx, ev.EventID, "blocked: an earlier event for this entity is unresolved"); err != nil && w.logger != nil {
			w.logger.Error(ctx, "syncpipeline: mark blocked", "event_id", ev.EventID, "error", err)
		}
		ev.SyncStatus = models.SyncStatusFailed
	}
	return len(events)
}

// applyEvent is idempotent: indexing the same snapshot twice or deleting
// an already-deleted id both succeed, so a retried event after a crash
// between MarkSynced and the next tick never corrupts the index.
func (w *Worker) applyEvent(ctx context.Context, ev *models.SyncEvent) error {
	switch ev.Operation {
	case models.SyncOpInsert, models.SyncOpUpdate:
		if err := w.indexer.IndexSnapshot(ctx, ev.EntityID, ev.NewSnapshot); err != nil {
			return fmt.Errorf("index %s: %w", ev.EntityID, err)
		}
	case models.SyncOpDelete:
		if err := w.indexer.Delete(ctx, ev.EntityID); err != nil {
			return fmt.Errorf("delete %s: %w", ev.EntityID, err)
		}
	default:
		return fmt.Errorf("unknown operation %q", ev.Operation)
	}
	return nil
}

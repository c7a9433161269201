package syncpipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/pkg/models"
)

// MemoryStore is an in-memory Store, suitable for tests and for running
// the pipeline without a relational store.
type MemoryStore struct {
	mu      sync.Mutex
	events  map[int64]*models.SyncEvent
	nextID  int64
	nowFunc func() time.Time
}

// NewMemoryStore creates an empty in-memory sync-event queue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[int64]*models.SyncEvent),
		nowFunc: time.Now,
	}
}

// LogEvent ignores exec: there is no real transaction to share against an
// in-memory map, and the mutation it's paired with already happened under
// the caller's own lock before this is invoked.
func (s *MemoryStore) LogEvent(ctx context.Context, exec registry.ExecerContext, entityType, entityID string, op models.SyncOperation, oldSnapshot, newSnapshot map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.events[s.nextID] = &models.SyncEvent{
		EventID:     s.nextID,
		EntityType:  entityType,
		EntityID:    entityID,
		Operation:   op,
		OldSnapshot: oldSnapshot,
		NewSnapshot: newSnapshot,
		SyncStatus:  models.SyncStatusPending,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   s.nowFunc(),
	}
	return nil
}

// ClaimBatch selects claimable events in created_at order, flips them to
// processing under the store's single mutex (satisfying the single-flight
// requirement trivially for the in-memory case), and returns copies so
// callers can't mutate the store's state out of band.
func (s *MemoryStore) ClaimBatch(ctx context.Context, batchSize int) ([]*models.SyncEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimable []*models.SyncEvent
	for _, ev := range s.events {
		if ev.Claimable() {
			claimable = append(claimable, ev)
		}
	}
	sort.Slice(claimable, func(i, j int) bool {
		if claimable[i].CreatedAt.Equal(claimable[j].CreatedAt) {
			return claimable[i].EventID < claimable[j].EventID
		}
		return claimable[i].CreatedAt.Before(claimable[j].CreatedAt)
	})
	if batchSize > 0 && len(claimable) > batchSize {
		claimable = claimable[:batchSize]
	}

	now := s.nowFunc()
	out := make([]*models.SyncEvent, 0, len(claimable))
	for _, ev := range claimable {
		ev.SyncStatus = models.SyncStatusProcessing
		ev.ProcessedAt = now
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) MarkSynced(ctx context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.SyncStatus = models.SyncStatusSynced
	ev.SyncedAt = s.nowFunc()
	ev.ErrorMessage = ""
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, eventID int64, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.SyncStatus = models.SyncStatusFailed
	ev.ErrorMessage = truncate(errMessage, 1000)
	ev.RetryCount++
	return nil
}

func (s *MemoryStore) Statistics(ctx context.Context) (models.SyncStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.SyncStatistics{ByStatus: make(map[string]int)}
	var failed []*models.SyncEvent
	for _, ev := range s.events {
		stats.TotalEvents++
		stats.ByStatus[string(ev.SyncStatus)]++
		switch ev.SyncStatus {
		case models.SyncStatusFailed:
			cp := *ev
			failed = append(failed, &cp)
		}
	}
	stats.Pending = stats.ByStatus[string(models.SyncStatusPending)]
	stats.Synced = stats.ByStatus[string(models.SyncStatusSynced)]
	stats.Failed = stats.ByStatus[string(models.SyncStatusFailed)]

	sort.Slice(failed, func(i, j int) bool { return failed[i].CreatedAt.After(failed[j].CreatedAt) })
	if len(failed) > 10 {
		failed = failed[:10]
	}
	stats.RecentFailures = failed
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

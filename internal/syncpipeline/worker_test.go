package syncpipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/conduit/pkg/models"
)

// fakeIndexer records every IndexSnapshot/Delete call it receives, in
// call order, per function_id, with an injectable failure for the next
// call against a given id.
type fakeIndexer struct {
	mu       sync.Mutex
	calls    map[string][]string // function_id -> ordered op log
	failNext map[string]error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{calls: make(map[string][]string), failNext: make(map[string]error)}
}

func (f *fakeIndexer) IndexSnapshot(ctx context.Context, functionID string, snapshot map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext[functionID]; err != nil {
		delete(f.failNext, functionID)
		return err
	}
	name, _ := snapshot["name"].(string)
	f.calls[functionID] = append(f.calls[functionID], "index:"+name)
	return nil
}

func (f *fakeIndexer) Delete(ctx context.Context, functionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext[functionID]; err != nil {
		delete(f.failNext, functionID)
		return err
	}
	f.calls[functionID] = append(f.calls[functionID], "delete")
	return nil
}

func (f *fakeIndexer) log(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls[id]))
	copy(out, f.calls[id])
	return out
}

func TestWorker_ProcessBatch_PerEntityOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Three updates for the same entity, interleaved with a different
	// entity's events. If the worker processed the queue as one flat
	// batch instead of grouping by entity_id, a race between goroutines
	// could apply "v2" before "v1".
	require.NoError(t, store.LogEvent(ctx, nil, "function", "fn-1", models.SyncOpInsert, nil, map[string]any{"name": "v1"}))
	require.NoError(t, store.LogEvent(ctx, nil, "function", "fn-2", models.SyncOpInsert, nil, map[string]any{"name": "other"}))
	require.NoError(t, store.LogEvent(ctx, nil, "function", "fn-1", models.SyncOpUpdate, nil, map[string]any{"name": "v2"}))
	require.NoError(t, store.LogEvent(ctx, nil, "function", "fn-1", models.SyncOpUpdate, nil, map[string]any{"name": "v3"}))

	indexer := newFakeIndexer()
	w := NewWorker(store, indexer, WorkerConfig{BatchSize: 10, MaxConcurrentEntities: 4}, nil, nil)

	outcome, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, outcome.Claimed)
	assert.Equal(t, 4, outcome.Synced)
	assert.Equal(t, 0, outcome.Failed)

	assert.Equal(t, []string{"index:v1", "index:v2", "index:v3"}, indexer.log("fn-1"))
	assert.Equal(t, []string{"index:other"}, indexer.log("fn-2"))

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Synced)
	assert.Equal(t, 0, stats.Pending)
}

func TestWorker_ProcessBatch_StopsGroupOnFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.LogEvent(ctx, nil, "function", "fn-1", models.SyncOpInsert, nil, map[string]any{"name": "v1"}))
	require.NoError(t, store.LogEvent(ctx, nil, "function", "fn-1", models.SyncOpUpdate, nil, map[string]any{"name": "v2"}))

	indexer := newFakeIndexer()
	indexer.failNext["fn-1"] = fmt.Errorf("boom")
	w := NewWorker(store, indexer, WorkerConfig{BatchSize: 10, MaxConcurrentEntities: 4}, nil, nil)

	outcome, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Claimed)
	assert.Equal(t, 0, outcome.Synced)
	assert.Equal(t, 2, outcome.Failed)

	// v1 failed; v2 must never be applied while v1 remains unresolved,
	// even though v2's own indexing attempt would have succeeded.
	assert.Empty(t, indexer.log("fn-1"))

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)
	require.Len(t, stats.RecentFailures, 2)

	// v1 genuinely failed; v2 was blocked behind it, not attempted.
	var v1, v2 *models.SyncEvent
	for _, ev := range stats.RecentFailures {
		if ev.NewSnapshot["name"] == "v1" {
			v1 = ev
		} else {
			v2 = ev
		}
	}
	require.NotNil(t, v1)
	require.NotNil(t, v2)
	assert.Equal(t, 1, v1.RetryCount)
	assert.Contains(t, v1.ErrorMessage, "boom")
	assert.Equal(t, 1, v2.RetryCount)
	assert.Contains(t, v2.ErrorMessage, "blocked")

	// Retrying now: v1's failed indexing attempt succeeds this time, and
	// v2 — still in the same group, still ordered after v1 — applies
	// right behind it in the same tick.
	outcome, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Claimed)
	assert.Equal(t, 2, outcome.Synced)
	assert.Equal(t, 0, outcome.Failed)
	assert.Equal(t, []string{"index:v1", "index:v2"}, indexer.log("fn-1"))
}

func TestWorker_ApplyEvent_DeleteIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	indexer := newFakeIndexer()
	w := NewWorker(store, indexer, DefaultWorkerConfig(), nil, nil)

	require.NoError(t, store.LogEvent(ctx, nil, "function", "fn-1", models.SyncOpDelete, map[string]any{"name": "v1"}, nil))
	require.NoError(t, store.LogEvent(ctx, nil, "function", "fn-1", models.SyncOpDelete, map[string]any{"name": "v1"}, nil))

	outcome, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Synced)
	assert.Equal(t, []string{"delete", "delete"}, indexer.log("fn-1"))
}

func TestWorker_ProcessBatch_Empty(t *testing.T) {
	store := NewMemoryStore()
	w := NewWorker(store, newFakeIndexer(), DefaultWorkerConfig(), nil, nil)
	outcome, err := w.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchOutcome{}, outcome)
}

func TestMemoryStore_ClaimBatch_RespectsBatchSize(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.LogEvent(ctx, nil, "function", fmt.Sprintf("fn-%d", i), models.SyncOpInsert, nil, map[string]any{"name": "v"}))
	}
	events, err := store.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, models.SyncStatusProcessing, ev.SyncStatus)
	}
}

func TestMemoryStore_MarkFailed_RetryExhaustion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.LogEvent(ctx, nil, "function", "fn-1", models.SyncOpInsert, nil, map[string]any{"name": "v"}))

	events, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	id := events[0].EventID

	for i := 0; i < DefaultMaxRetries; i++ {
		require.NoError(t, store.MarkFailed(ctx, id, "transient"))
	}

	// retry_count now equals max_retries: no longer claimable.
	more, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	store := NewMemoryStore()
	w := NewWorker(store, newFakeIndexer(), WorkerConfig{PollInterval: 5 * time.Millisecond, BatchSize: 10, MaxConcurrentEntities: 2}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

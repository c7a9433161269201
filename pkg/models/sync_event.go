package models

import "time"

// SyncOperation identifies the registry mutation kind a SyncEvent records.
type SyncOperation string

const (
	SyncOpInsert SyncOperation = "INSERT"
	SyncOpUpdate SyncOperation = "UPDATE"
	SyncOpDelete SyncOperation = "DELETE"
)

// SyncStatus is a SyncEvent's position in the CDC lifecycle.
// synced is terminal; an event only re-enters processing while
// retry_count < max_retries.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusProcessing SyncStatus = "processing"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusFailed     SyncStatus = "failed"
)

// SyncEvent is a durable, ordered record of one registry mutation, created
// by the Function Registry in the same transaction as the entity change
// and drained by the sync worker into the vector index.
type SyncEvent struct {
	EventID      int64          `json:"event_id"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Operation    SyncOperation  `json:"operation"`
	OldSnapshot  map[string]any `json:"old_snapshot,omitempty"`
	NewSnapshot  map[string]any `json:"new_snapshot,omitempty"`
	SyncStatus   SyncStatus     `json:"sync_status"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ProcessedAt  time.Time      `json:"processed_at,omitempty"`
	SyncedAt     time.Time      `json:"synced_at,omitempty"`
}

// Claimable reports whether the event is eligible for the worker to claim:
// still pending, or failed with retries remaining.
func (e *SyncEvent) Claimable() bool {
	if e.SyncStatus == SyncStatusPending {
		return true
	}
	return e.SyncStatus == SyncStatusFailed && e.RetryCount < e.MaxRetries
}

// SyncStatistics summarizes the sync queue's current state, including the
// most recent failures for operational visibility.
type SyncStatistics struct {
	TotalEvents    int              `json:"total_events"`
	ByStatus       map[string]int   `json:"by_status"`
	Pending        int              `json:"pending"`
	Synced         int              `json:"synced"`
	Failed         int              `json:"failed"`
	RecentFailures []*SyncEvent     `json:"recent_failures,omitempty"` // newest first, capped at 10
}

// BatchResult reports the outcome of one ProcessBatch call.
type BatchResult struct {
	TotalProcessed int                 `json:"total_processed"`
	Successful     int                 `json:"successful"`
	Failed         int                 `json:"failed"`
	Errors         []BatchResultError  `json:"errors,omitempty"`
}

// BatchResultError names one failed event within a processed batch.
type BatchResultError struct {
	EventID  int64  `json:"event_id"`
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

package syncpipeline

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// CockroachConfig configures the Cockroach/Postgres-backed event store.
type CockroachConfig struct {
	DSN string
	// DB reuses an existing connection; when set, DSN is ignored and the
	// store never closes it.
	DB *sql.DB
	// RunMigrations applies the embedded schema on startup. Default true.
	RunMigrations bool
}

// cockroachStore persists SyncEvent rows in a `sync_events` table.
type cockroachStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewCockroachStore opens (or reuses) a Postgres/CockroachDB connection
// for the sync pipeline's event queue.
func NewCockroachStore(ctx context.Context, cfg CockroachConfig) (Store, error) {
	var db *sql.DB
	var ownsDB bool
	switch {
	case cfg.DB != nil:
		db = cfg.DB
	case cfg.DSN != "":
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("syncpipeline: open database: %w", err)
		}
		ownsDB = true
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("syncpipeline: ping database: %w", err)
		}
	default:
		return nil, fmt.Errorf("syncpipeline: either DSN or DB must be provided")
	}

	store := &cockroachStore{db: db, ownsDB: ownsDB}
	if cfg.RunMigrations {
		if err := store.runMigrations(ctx); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, fmt.Errorf("syncpipeline: run migrations: %w", err)
		}
	}
	return store, nil
}

func (s *cockroachStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS syncpipeline_schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	paths, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(paths)

	applied := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM syncpipeline_schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migration: %w", err)
		}
		applied[id] = true
	}
	rows.Close()

	for _, path := range paths {
		id := strings.TrimSuffix(strings.TrimPrefix(path, "migrations/"), ".up.sql")
		if applied[id] {
			continue
		}
		sqlBytes, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", id, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO syncpipeline_schema_migrations (id) VALUES ($1)`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", id, err)
		}
	}
	return nil
}

// LogEvent inserts a sync_events row through exec. Passing the registry's
// own *sql.Tx (rather than falling back to s.db) is what makes the
// SyncEvent commit or roll back atomically with the entity mutation it
// records; a nil exec falls back to s.db for callers with no transaction
// to share.
func (s *cockroachStore) LogEvent(ctx context.Context, exec registry.ExecerContext, entityType, entityID string, op models.SyncOperation, oldSnapshot, newSnapshot map[string]any) error {
	if exec == nil {
		exec = s.db
	}
	oldJSON, err := json.Marshal(oldSnapshot)
	if err != nil {
		return fmt.Errorf("marshal old_snapshot: %w", err)
	}
	newJSON, err := json.Marshal(newSnapshot)
	if err != nil {
		return fmt.Errorf("marshal new_snapshot: %w", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO sync_events (entity_type, entity_id, operation, old_snapshot, new_snapshot, sync_status, max_retries)
		VALUES ($1,$2,$3,$4,$5,'pending',$6)`,
		entityType, entityID, string(op), oldJSON, newJSON, DefaultMaxRetries)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// ClaimBatch uses SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers
// never claim the same row twice, followed by an UPDATE of exactly those
// ids.
func (s *cockroachStore) ClaimBatch(ctx context.Context, batchSize int) ([]*models.SyncEvent, error) {
	if batchSize <= 0 {
		batchSize = 10
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT event_id FROM sync_events
		WHERE sync_status = 'pending' OR (sync_status = 'failed' AND retry_count < max_retries)
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claimable id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`
		UPDATE sync_events SET sync_status = 'processing', processed_at = now()
		WHERE event_id IN (%s)
		RETURNING event_id, entity_type, entity_id, operation, old_snapshot, new_snapshot,
			sync_status, retry_count, max_retries, error_message, created_at, processed_at, synced_at`,
		strings.Join(placeholders, ","))
	claimedRows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	events, err := scanEvents(claimedRows)
	claimedRows.Close()
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })
	return events, tx.Commit()
}

func (s *cockroachStore) MarkSynced(ctx context.Context, eventID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_events SET sync_status = 'synced', synced_at = now(), error_message = ''
		WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return checkAffected(res)
}

func (s *cockroachStore) MarkFailed(ctx context.Context, eventID int64, errMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_events SET sync_status = 'failed', error_message = $2, retry_count = retry_count + 1
		WHERE event_id = $1`, eventID, truncate(errMessage, 1000))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *cockroachStore) Statistics(ctx context.Context) (models.SyncStatistics, error) {
	stats := models.SyncStatistics{ByStatus: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sync_events`).Scan(&stats.TotalEvents); err != nil {
		return stats, fmt.Errorf("count total: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT sync_status, count(*) FROM sync_events GROUP BY sync_status`)
	if err != nil {
		return stats, fmt.Errorf("group by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[status] = count
	}
	rows.Close()
	stats.Pending = stats.ByStatus[string(models.SyncStatusPending)]
	stats.Synced = stats.ByStatus[string(models.SyncStatusSynced)]
	stats.Failed = stats.ByStatus[string(models.SyncStatusFailed)]

	failedRows, err := s.db.QueryContext(ctx, `
		SELECT event_id, entity_type, entity_id, operation, old_snapshot, new_snapshot,
			sync_status, retry_count, max_retries, error_message, created_at, processed_at, synced_at
		FROM sync_events WHERE sync_status = 'failed' ORDER BY created_at DESC LIMIT 10`)
	if err != nil {
		return stats, fmt.Errorf("recent failures: %w", err)
	}
	events, err := scanEvents(failedRows)
	failedRows.Close()
	if err != nil {
		return stats, err
	}
	stats.RecentFailures = events
	return stats, nil
}

func (s *cockroachStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]*models.SyncEvent, error) {
	out := []*models.SyncEvent{}
	for rows.Next() {
		var ev models.SyncEvent
		var op, status string
		var oldJSON, newJSON []byte
		var processedAt, syncedAt sql.NullTime
		if err := rows.Scan(
			&ev.EventID, &ev.EntityType, &ev.EntityID, &op, &oldJSON, &newJSON,
			&status, &ev.RetryCount, &ev.MaxRetries, &ev.ErrorMessage,
			&ev.CreatedAt, &processedAt, &syncedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Operation = models.SyncOperation(op)
		ev.SyncStatus = models.SyncStatus(status)
		if processedAt.Valid {
			ev.ProcessedAt = processedAt.Time
		}
		if syncedAt.Valid {
			ev.SyncedAt = syncedAt.Time
		}
		if len(oldJSON) > 0 {
			if err := json.Unmarshal(oldJSON, &ev.OldSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshal old_snapshot: %w", err)
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &ev.NewSnapshot); err != nil {
				return nil, fmt.Errorf("unmarshal new_snapshot: %w", err)
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/conduit/pkg/models"
)

// CockroachConfig configures connection pooling for the registry's
// Cockroach/Postgres-backed store.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns sensible connection pool settings.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// cockroachStore persists FunctionSchema rows in a `function_schemas`
// table. Every mutation that changes entity state opens its own
// transaction and calls EventLogger.LogEvent with that same *sql.Tx before
// committing, so the entity change and its SyncEvent land atomically.
type cockroachStore struct {
	db     *sql.DB
	events EventLogger
	owns   bool
}

// NewCockroachStoreFromDSN opens (or reuses, if db is non-nil via
// NewCockroachStore) a Postgres/CockroachDB connection for the registry.
func NewCockroachStoreFromDSN(dsn string, cfg *CockroachConfig, events EventLogger) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultCockroachConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &cockroachStore{db: db, events: events, owns: true}, nil
}

func (s *cockroachStore) Create(ctx context.Context, fn *models.FunctionSchema) error {
	if fn == nil || fn.FunctionID == "" {
		return ErrNotFound
	}
	now := time.Now()
	fn.CreatedAt, fn.UpdatedAt = now, now
	if fn.Version == 0 {
		fn.Version = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	paramsJSON, err := json.Marshal(fn.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	responseJSON, err := json.Marshal(fn.ResponseSchema)
	if err != nil {
		return fmt.Errorf("marshal response schema: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO function_schemas (
			function_id, name, description, category, endpoint, http_method,
			auth_required, parameters, response_schema, cache_ttl_seconds,
			timeout_seconds, tags, deprecated, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		fn.FunctionID, fn.Name, fn.Description, fn.Category, fn.Endpoint, fn.HTTPMethod,
		fn.AuthRequired, paramsJSON, responseJSON, fn.CacheTTLSeconds,
		fn.TimeoutSeconds, pq.Array(fn.Tags), fn.Deprecated, fn.Version, fn.CreatedAt, fn.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create function: %w", err)
	}

	if err := s.logEventTx(ctx, tx, fn.FunctionID, models.SyncOpInsert, nil, snapshot(fn)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *cockroachStore) Get(ctx context.Context, functionID string) (*models.FunctionSchema, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT function_id, name, description, category, endpoint, http_method,
			auth_required, parameters, response_schema, cache_ttl_seconds,
			timeout_seconds, tags, deprecated, version,
			call_count, avg_response_time_ms, success_rate, last_called_at,
			created_at, updated_at
		FROM function_schemas WHERE function_id = $1`, functionID)
	return scanFunction(row)
}

func (s *cockroachStore) Update(ctx context.Context, fn *models.FunctionSchema) error {
	if fn == nil || fn.FunctionID == "" {
		return ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	old, err := s.getTx(ctx, tx, fn.FunctionID)
	if err != nil {
		return err
	}
	merged := mergeFunction(old, fn)
	merged.UpdatedAt = time.Now()
	merged.Version = old.Version + 1

	paramsJSON, err := json.Marshal(merged.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	responseJSON, err := json.Marshal(merged.ResponseSchema)
	if err != nil {
		return fmt.Errorf("marshal response schema: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE function_schemas SET
			name = $1, description = $2, category = $3, endpoint = $4, http_method = $5,
			auth_required = $6, parameters = $7, response_schema = $8, cache_ttl_seconds = $9,
			timeout_seconds = $10, tags = $11, deprecated = $12, version = $13, updated_at = $14
		WHERE function_id = $15`,
		merged.Name, merged.Description, merged.Category, merged.Endpoint, merged.HTTPMethod,
		merged.AuthRequired, paramsJSON, responseJSON, merged.CacheTTLSeconds,
		merged.TimeoutSeconds, pq.Array(merged.Tags), merged.Deprecated, merged.Version, merged.UpdatedAt,
		fn.FunctionID,
	)
	if err != nil {
		return fmt.Errorf("update function: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if err := s.logEventTx(ctx, tx, fn.FunctionID, models.SyncOpUpdate, snapshot(old), snapshot(merged)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *cockroachStore) Delete(ctx context.Context, functionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	old, err := s.getTx(ctx, tx, functionID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM function_schemas WHERE function_id = $1`, functionID)
	if err != nil {
		return fmt.Errorf("delete function: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if err := s.logEventTx(ctx, tx, functionID, models.SyncOpDelete, snapshot(old), nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *cockroachStore) List(ctx context.Context, filter models.FunctionFilter, page models.Page) ([]*models.FunctionSchema, int, error) {
	where, args := filterClause(filter)
	var total int
	countQuery := "SELECT count(*) FROM function_schemas" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count functions: %w", err)
	}

	query := `SELECT function_id, name, description, category, endpoint, http_method,
			auth_required, parameters, response_schema, cache_ttl_seconds,
			timeout_seconds, tags, deprecated, version,
			call_count, avg_response_time_ms, success_rate, last_called_at,
			created_at, updated_at
		FROM function_schemas` + where + " ORDER BY created_at DESC" + pageClause(&args, page)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list functions: %w", err)
	}
	defer rows.Close()
	fns, err := scanFunctions(rows)
	return fns, total, err
}

// Search performs a lexical OR full-text/trigram-style match over name,
// description, and id, ordered by call_count descending.
func (s *cockroachStore) Search(ctx context.Context, text string, filter models.FunctionFilter, page models.Page) ([]*models.FunctionSchema, int, error) {
	where, args := filterClause(filter)
	needle := "%" + strings.ToLower(strings.TrimSpace(text)) + "%"
	textClause := "(lower(name) LIKE $%d OR lower(description) LIKE $%d OR lower(function_id) LIKE $%d)"
	args = append(args, needle)
	idx := len(args)
	textClause = fmt.Sprintf(textClause, idx, idx, idx)
	if where == "" {
		where = " WHERE " + textClause
	} else {
		where += " AND " + textClause
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM function_schemas"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search: %w", err)
	}

	query := `SELECT function_id, name, description, category, endpoint, http_method,
			auth_required, parameters, response_schema, cache_ttl_seconds,
			timeout_seconds, tags, deprecated, version,
			call_count, avg_response_time_ms, success_rate, last_called_at,
			created_at, updated_at
		FROM function_schemas` + where + " ORDER BY call_count DESC" + pageClause(&args, page)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search functions: %w", err)
	}
	defer rows.Close()
	fns, err := scanFunctions(rows)
	return fns, total, err
}

func (s *cockroachStore) RecordUsage(ctx context.Context, functionID string, responseTimeMs float64, success bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	fn, err := s.getTx(ctx, tx, functionID)
	if err != nil {
		return err
	}
	applyUsage(fn, responseTimeMs, success)

	_, err = tx.ExecContext(ctx, `
		UPDATE function_schemas
		SET call_count = $1, avg_response_time_ms = $2, success_rate = $3, last_called_at = $4
		WHERE function_id = $5`,
		fn.CallCount, fn.AvgResponseTimeMs, fn.SuccessRate, fn.LastCalledAt, functionID,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return tx.Commit()
}

func (s *cockroachStore) Statistics(ctx context.Context) (models.FunctionStatistics, error) {
	stats := models.FunctionStatistics{ByCategory: make(map[string]int)}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*), count(*) FILTER (WHERE deprecated), coalesce(sum(call_count),0) FROM function_schemas`).
		Scan(&stats.TotalFunctions, &stats.DeprecatedFunctions, &stats.TotalCalls); err != nil {
		return stats, fmt.Errorf("registry statistics: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT category, count(*) FROM function_schemas GROUP BY category`)
	if err != nil {
		return stats, fmt.Errorf("registry statistics by category: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return stats, fmt.Errorf("scan category count: %w", err)
		}
		stats.ByCategory[category] = count
	}
	return stats, rows.Err()
}

func (s *cockroachStore) Close() error {
	if !s.owns {
		return nil
	}
	return s.db.Close()
}

func (s *cockroachStore) getTx(ctx context.Context, tx *sql.Tx, functionID string) (*models.FunctionSchema, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT function_id, name, description, category, endpoint, http_method,
			auth_required, parameters, response_schema, cache_ttl_seconds,
			timeout_seconds, tags, deprecated, version,
			call_count, avg_response_time_ms, success_rate, last_called_at,
			created_at, updated_at
		FROM function_schemas WHERE function_id = $1 FOR UPDATE`, functionID)
	return scanFunction(row)
}

func (s *cockroachStore) logEventTx(ctx context.Context, tx *sql.Tx, functionID string, op models.SyncOperation, old, new map[string]any) error {
	if s.events == nil {
		return nil
	}
	return s.events.LogEvent(ctx, tx, "function", functionID, op, old, new)
}

func filterClause(filter models.FunctionFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Deprecated != nil {
		args = append(args, *filter.Deprecated)
		clauses = append(clauses, fmt.Sprintf("deprecated = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func pageClause(args *[]any, page models.Page) string {
	clause := ""
	if page.Limit > 0 {
		*args = append(*args, page.Limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if page.Offset > 0 {
		*args = append(*args, page.Offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFunction(row rowScanner) (*models.FunctionSchema, error) {
	var fn models.FunctionSchema
	var paramsJSON, responseJSON []byte
	var tags []string
	var lastCalledAt sql.NullTime

	err := row.Scan(
		&fn.FunctionID, &fn.Name, &fn.Description, &fn.Category, &fn.Endpoint, &fn.HTTPMethod,
		&fn.AuthRequired, &paramsJSON, &responseJSON, &fn.CacheTTLSeconds,
		&fn.TimeoutSeconds, pq.Array(&tags), &fn.Deprecated, &fn.Version,
		&fn.CallCount, &fn.AvgResponseTimeMs, &fn.SuccessRate, &lastCalledAt,
		&fn.CreatedAt, &fn.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan function: %w", err)
	}
	fn.Tags = tags
	if lastCalledAt.Valid {
		fn.LastCalledAt = lastCalledAt.Time
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &fn.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if len(responseJSON) > 0 {
		if err := json.Unmarshal(responseJSON, &fn.ResponseSchema); err != nil {
			return nil, fmt.Errorf("unmarshal response schema: %w", err)
		}
	}
	return &fn, nil
}

func scanFunctions(rows *sql.Rows) ([]*models.FunctionSchema, error) {
	out := []*models.FunctionSchema{}
	for rows.Next() {
		fn, err := scanFunction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, rows.Err()
}

package vectorindex

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGConfig configures the pgvector-backed Index.
type PGConfig struct {
	// DSN is the PostgreSQL connection string. If empty, DB must be set.
	DSN string

	// DB reuses an existing connection; when set, DSN is ignored and the
	// index never closes it.
	DB *sql.DB

	// RunMigrations applies the embedded schema on startup. Default true.
	RunMigrations bool
}

// PGIndex implements Index against a pgvector-enabled Postgres/CockroachDB
// database.
type PGIndex struct {
	db     *sql.DB
	ownsDB bool
}

// NewPGIndex opens (or reuses) a connection and optionally runs migrations.
func NewPGIndex(ctx context.Context, cfg PGConfig) (*PGIndex, error) {
	var db *sql.DB
	var ownsDB bool

	switch {
	case cfg.DB != nil:
		db = cfg.DB
	case cfg.DSN != "":
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: open database: %w", err)
		}
		ownsDB = true
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("vectorindex: ping database: %w", err)
		}
	default:
		return nil, errors.New("vectorindex: either DSN or DB must be provided")
	}

	idx := &PGIndex{db: db, ownsDB: ownsDB}
	if cfg.RunMigrations {
		if err := idx.runMigrations(ctx); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, fmt.Errorf("vectorindex: run migrations: %w", err)
		}
	}
	return idx, nil
}

func (idx *PGIndex) runMigrations(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vectorindex_schema_migrations (
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
	rows, err := idx.db.QueryContext(ctx, `SELECT id FROM vectorindex_schema_migrations`)
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

		tx, err := idx.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vectorindex_schema_migrations (id) VALUES ($1)`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", id, err)
		}
	}
	return nil
}

func (idx *PGIndex) Insert(ctx context.Context, rec Record) error {
	return idx.InsertBatch(ctx, []Record{rec})
}

func (idx *PGIndex) InsertBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorindex: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO function_embeddings (function_id, category, embedding, updated_at)
		VALUES ($1, $2, $3::vector, now())
		ON CONFLICT (function_id) DO UPDATE SET
			category = EXCLUDED.category,
			embedding = EXCLUDED.embedding,
			updated_at = now()`)
	if err != nil {
		return fmt.Errorf("vectorindex: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, rec.FunctionID, rec.Category, encodeVector(rec.Embedding)); err != nil {
			return fmt.Errorf("vectorindex: insert %s: %w", rec.FunctionID, err)
		}
	}
	return tx.Commit()
}

func (idx *PGIndex) Search(ctx context.Context, query []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := encodeVector(query)

	sqlQuery := `
		SELECT function_id, category, 1 - (embedding <=> $1::vector) AS score
		FROM function_embeddings
		WHERE 1=1`
	args := []any{vec}
	if filter.Category != "" {
		sqlQuery += " AND category = $2"
		args = append(args, filter.Category)
	}
	sqlQuery += " ORDER BY embedding <=> $1::vector ASC LIMIT " + fmt.Sprintf("%d", topK)

	rows, err := idx.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}
	defer rows.Close()

	var out []ScoredRecord
	for rows.Next() {
		var rec ScoredRecord
		if err := rows.Scan(&rec.FunctionID, &rec.Category, &rec.Score); err != nil {
			return nil, fmt.Errorf("vectorindex: scan search row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (idx *PGIndex) DeleteByID(ctx context.Context, functionID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM function_embeddings WHERE function_id = $1`, functionID)
	if err != nil {
		return fmt.Errorf("vectorindex: delete %s: %w", functionID, err)
	}
	return nil
}

func (idx *PGIndex) Count(ctx context.Context) (int, error) {
	var count int
	err := idx.db.QueryRowContext(ctx, `SELECT count(*) FROM function_embeddings`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("vectorindex: count: %w", err)
	}
	return count, nil
}

func (idx *PGIndex) Clear(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM function_embeddings`)
	if err != nil {
		return fmt.Errorf("vectorindex: clear: %w", err)
	}
	return nil
}

func (idx *PGIndex) Close() error {
	if idx.ownsDB && idx.db != nil {
		return idx.db.Close()
	}
	return nil
}

// encodeVector renders v in pgvector's text input format: [0.1,0.2,...].
// pq.Array doesn't know about the vector type, so this is built directly.
func encodeVector(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	return sb.String()
}

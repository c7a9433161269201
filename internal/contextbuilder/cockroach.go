package contextbuilder

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/conduit/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGConfig configures the Postgres/CockroachDB-backed stores.
type PGConfig struct {
	// DSN opens a new connection. Ignored when DB is set.
	DSN string
	// DB reuses an existing connection; the stores never close it.
	DB *sql.DB
	// RunMigrations applies the embedded schema on startup. Default true.
	RunMigrations bool
}

// cockroachBackend is the shared *sql.DB handle behind
// CockroachProfileStore and CockroachConversationStore — constructed once
// via NewCockroachStores so both share one connection pool and one
// migration run, matching internal/registry's single-database-per-domain
// convention.
type cockroachBackend struct {
	db     *sql.DB
	ownsDB bool
}

// NewCockroachStores opens (or reuses) a connection and returns both the
// profile and conversation stores backed by it.
func NewCockroachStores(ctx context.Context, cfg PGConfig) (*CockroachProfileStore, *CockroachConversationStore, error) {
	var db *sql.DB
	var ownsDB bool
	switch {
	case cfg.DB != nil:
		db = cfg.DB
	case cfg.DSN != "":
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("contextbuilder: open database: %w", err)
		}
		ownsDB = true
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("contextbuilder: ping database: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("contextbuilder: either DSN or DB must be provided")
	}

	backend := &cockroachBackend{db: db, ownsDB: ownsDB}
	if cfg.RunMigrations {
		if err := backend.runMigrations(ctx); err != nil {
			if ownsDB {
				db.Close()
			}
			return nil, nil, fmt.Errorf("contextbuilder: run migrations: %w", err)
		}
	}
	return &CockroachProfileStore{backend: backend}, &CockroachConversationStore{backend: backend}, nil
}

func (b *cockroachBackend) runMigrations(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS contextbuilder_schema_migrations (
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
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM contextbuilder_schema_migrations`)
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
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO contextbuilder_schema_migrations (id) VALUES ($1)`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", id, err)
		}
	}
	return nil
}

func (b *cockroachBackend) Close() error {
	if !b.ownsDB {
		return nil
	}
	return b.db.Close()
}

// CockroachProfileStore persists UserProfile rows in `user_profiles`.
type CockroachProfileStore struct {
	backend *cockroachBackend
}

func (s *CockroachProfileStore) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	row := s.backend.db.QueryRowContext(ctx, `
		SELECT user_id, preferences, custom_instructions, api_permissions, created_at, updated_at
		FROM user_profiles WHERE user_id = $1`, userID)
	return scanProfile(row)
}

func (s *CockroachProfileStore) Create(ctx context.Context, profile *models.UserProfile) error {
	now := time.Now()
	profile.CreatedAt, profile.UpdatedAt = now, now
	prefsJSON, err := json.Marshal(profile.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	_, err = s.backend.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, preferences, custom_instructions, api_permissions, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id) DO NOTHING`,
		profile.UserID, prefsJSON, profile.CustomInstructions, pq.Array(profile.PermissionList()), profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *CockroachProfileStore) Update(ctx context.Context, profile *models.UserProfile) error {
	profile.UpdatedAt = time.Now()
	prefsJSON, err := json.Marshal(profile.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	res, err := s.backend.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET preferences = $1, custom_instructions = $2, api_permissions = $3, updated_at = $4
		WHERE user_id = $5`,
		prefsJSON, profile.CustomInstructions, pq.Array(profile.PermissionList()), profile.UpdatedAt, profile.UserID,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update profile rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row interface{ Scan(dest ...any) error }) (*models.UserProfile, error) {
	var p models.UserProfile
	var prefsJSON []byte
	var perms []string
	err := row.Scan(&p.UserID, &prefsJSON, &p.CustomInstructions, pq.Array(&perms), &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &p.Preferences); err != nil {
			return nil, fmt.Errorf("unmarshal preferences: %w", err)
		}
	}
	if len(perms) > 0 {
		p.APIPermissions = make(map[string]struct{}, len(perms))
		for _, perm := range perms {
			p.APIPermissions[perm] = struct{}{}
		}
	}
	return &p, nil
}

// CockroachConversationStore persists Conversation and
// ConversationMessage rows.
type CockroachConversationStore struct {
	backend *cockroachBackend
}

func (s *CockroachConversationStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.backend.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, title, created_at, updated_at
		FROM conversations WHERE conversation_id = $1`, conversationID,
	).Scan(&c.ConversationID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

func (s *CockroachConversationStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now()
	conv.CreatedAt, conv.UpdatedAt = now, now
	_, err := s.backend.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, user_id, title, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (conversation_id) DO NOTHING`,
		conv.ConversationID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *CockroachConversationStore) TouchConversation(ctx context.Context, conversationID string) error {
	res, err := s.backend.db.ExecContext(ctx, `
		UPDATE conversations SET updated_at = $1 WHERE conversation_id = $2`, time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch conversation rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CockroachConversationStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.ConversationMessage, error) {
	query := `
		SELECT message_id, conversation_id, role, content, metadata, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.backend.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		var metaJSON []byte
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows were fetched newest-first for the LIMIT to bound the right end
	// of history; reverse to chronological order before returning.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CockroachConversationStore) AppendMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	metaJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.backend.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (message_id, conversation_id, role, content, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		msg.MessageID, msg.ConversationID, msg.Role, msg.Content, metaJSON, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

package registry

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/conduit/pkg/models"
)

func setupMockStore(t *testing.T) (*cockroachStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &cockroachStore{db: db}, mock
}

func TestCockroachStore_Create(t *testing.T) {
	store, mock := setupMockStore(t)
	fn := &models.FunctionSchema{
		FunctionID: "get_weather",
		Name:       "get_weather",
		HTTPMethod: "GET",
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO function_schemas").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Create(context.Background(), fn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// txCapturingLogger records the exec handle it was called with and, when
// asked, uses it to run a real INSERT against the same transaction the
// caller is inside — proving exec is not just type-compatible but is
// genuinely the live *sql.Tx, not a separate connection.
type txCapturingLogger struct {
	gotExec ExecerContext
	insert  bool
}

func (l *txCapturingLogger) LogEvent(ctx context.Context, exec ExecerContext, entityType, entityID string, op models.SyncOperation, old, new map[string]any) error {
	l.gotExec = exec
	if !l.insert {
		return nil
	}
	_, err := exec.ExecContext(ctx, "INSERT INTO sync_events (entity_id) VALUES ($1)", entityID)
	return err
}

func TestCockroachStore_Create_LogsEventOnRegistrysTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := &txCapturingLogger{insert: true}
	store := &cockroachStore{db: db, events: logger}
	fn := &models.FunctionSchema{FunctionID: "get_weather", Name: "get_weather", HTTPMethod: "GET"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO function_schemas").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO sync_events").WithArgs("get_weather").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Create(context.Background(), fn))
	assert.NoError(t, mock.ExpectationsWereMet())

	if _, ok := logger.gotExec.(*sql.Tx); !ok {
		t.Fatalf("EventLogger.LogEvent got exec of type %T, want *sql.Tx", logger.gotExec)
	}
}

// TestCockroachStore_Create_EventLogFailureRollsBackEntity proves the two
// writes are atomic: when the SyncEvent insert fails, the entity insert
// that preceded it in the same transaction must not be committed either.
func TestCockroachStore_Create_EventLogFailureRollsBackEntity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := &txCapturingLogger{insert: true}
	store := &cockroachStore{db: db, events: logger}
	fn := &models.FunctionSchema{FunctionID: "get_weather", Name: "get_weather", HTTPMethod: "GET"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO function_schemas").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO sync_events").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err = store.Create(context.Background(), fn)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_Create_Duplicate(t *testing.T) {
	store, mock := setupMockStore(t)
	fn := &models.FunctionSchema{FunctionID: "dup", Name: "dup"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO function_schemas").
		WillReturnError(&duplicateKeyError{})
	mock.ExpectRollback()

	err := store.Create(context.Background(), fn)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type duplicateKeyError struct{}

func (e *duplicateKeyError) Error() string { return "duplicate key value violates unique constraint" }

func TestCockroachStore_Get_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM function_schemas WHERE function_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func functionRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"function_id", "name", "description", "category", "endpoint", "http_method",
		"auth_required", "parameters", "response_schema", "cache_ttl_seconds",
		"timeout_seconds", "tags", "deprecated", "version",
		"call_count", "avg_response_time_ms", "success_rate", "last_called_at",
		"created_at", "updated_at",
	}).AddRow(
		"get_weather", "get_weather", "desc", "weather", "https://example.com", "GET",
		false, []byte(`{}`), []byte(`{}`), 0,
		10, "{}", false, 1,
		0, 0.0, 0.0, nil,
		time.Now(), time.Now(),
	)
}

func TestCockroachStore_Get_Found(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM function_schemas WHERE function_id").
		WithArgs("get_weather").
		WillReturnRows(functionRow())

	fn, err := store.Get(context.Background(), "get_weather")
	require.NoError(t, err)
	assert.Equal(t, "get_weather", fn.FunctionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_Delete_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM function_schemas WHERE function_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCockroachStore_Delete_RowsAffectedZero(t *testing.T) {
	store, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM function_schemas WHERE function_id").
		WithArgs("get_weather").
		WillReturnRows(functionRow())
	mock.ExpectExec("DELETE FROM function_schemas").
		WithArgs("get_weather").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Delete(context.Background(), "get_weather")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres"), nil), mock
}

func TestPostgresUpsert(t *testing.T) {
	store, mock := newMockStore(t)
	s := &Snapshot{
		ExecutionID:  "exec-1",
		WorkflowName: "pr-notify",
		Status:       StatusRunning,
		StartTime:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO execution_history").
		WithArgs(s.ExecutionID, s.WorkflowName, "running", s.StartTime, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), s))

	// Update re-applies the same statement: writes are idempotent.
	mock.ExpectExec("INSERT INTO execution_history").
		WithArgs(s.ExecutionID, s.WorkflowName, "running", s.StartTime, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Update(context.Background(), s))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQuery(t *testing.T) {
	store, mock := newMockStore(t)

	snap := &Snapshot{ExecutionID: "exec-1", WorkflowName: "alpha", Status: StatusCompleted}
	blob, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT snapshot FROM execution_history").
		WithArgs("alpha", "completed", "failed", 5).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow(blob))

	out, err := store.Query(context.Background(), Filter{
		WorkflowName: "alpha",
		Statuses:     []Status{StatusCompleted, StatusFailed},
		Limit:        5,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "exec-1", out[0].ExecutionID)
	assert.Equal(t, StatusCompleted, out[0].Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteOlderThan(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectExec("DELETE FROM execution_history").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS execution_history").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

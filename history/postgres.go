package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	// Postgres driver registration.
	_ "github.com/lib/pq"
)

// PostgresStore persists snapshots to Postgres. Filterable columns are
// broken out; the full snapshot rides along as JSONB so the schema never
// chases the snapshot shape.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS execution_history (
	execution_id  TEXT PRIMARY KEY,
	workflow_name TEXT NOT NULL,
	status        TEXT NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	snapshot      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS execution_history_workflow_idx ON execution_history (workflow_name, start_time DESC);
CREATE INDEX IF NOT EXISTS execution_history_start_idx ON execution_history (start_time);
`

const upsertSQL = `
INSERT INTO execution_history (execution_id, workflow_name, status, start_time, snapshot)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (execution_id)
DO UPDATE SET status = EXCLUDED.status, snapshot = EXCLUDED.snapshot`

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect history store: %w", err)
	}
	return NewPostgresStore(db, logger), nil
}

// Migrate creates the history table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("migrate history store: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) upsert(ctx context.Context, s *Snapshot) error {
	blob, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = p.db.ExecContext(ctx, upsertSQL,
		s.ExecutionID, s.WorkflowName, s.Status.String(), s.StartTime, blob)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", s.ExecutionID, err)
	}
	return nil
}

// Create inserts or overwrites a snapshot.
func (p *PostgresStore) Create(ctx context.Context, s *Snapshot) error {
	return p.upsert(ctx, s)
}

// Update is identical to Create; writes are idempotent full snapshots.
func (p *PostgresStore) Update(ctx context.Context, s *Snapshot) error {
	return p.upsert(ctx, s)
}

// Query returns matching snapshots, newest first.
func (p *PostgresStore) Query(ctx context.Context, f Filter) ([]*Snapshot, error) {
	query := "SELECT snapshot FROM execution_history WHERE 1=1"
	var args []any

	// Build with ? placeholders throughout; Rebind renumbers for Postgres.
	if f.WorkflowName != "" {
		args = append(args, f.WorkflowName)
		query += " AND workflow_name = ?"
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = s.String()
		}
		inQuery, inArgs, err := sqlx.In(" AND status IN (?)", statuses)
		if err != nil {
			return nil, fmt.Errorf("build status filter: %w", err)
		}
		query += inQuery
		args = append(args, inArgs...)
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += " AND start_time >= ?"
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += " AND start_time <= ?"
	}
	query += " ORDER BY start_time DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT ?"
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET ?"
	}

	rows, err := p.db.QueryContext(ctx, p.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var s Snapshot
		if err := json.Unmarshal(blob, &s); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Aggregate loads matching snapshots and summarizes them in process; the
// top-errors and per-bucket counts come from the JSONB payloads.
func (p *PostgresStore) Aggregate(ctx context.Context, f Filter) (*Aggregate, error) {
	unbounded := f
	unbounded.Limit = 0
	unbounded.Offset = 0
	snaps, err := p.Query(ctx, unbounded)
	if err != nil {
		return nil, err
	}
	return aggregateSnapshots(snaps), nil
}

// DeleteOlderThan removes executions started before the cutoff.
func (p *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx,
		"DELETE FROM execution_history WHERE start_time < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hushgate/internal/safety"
)

// Schema is the SQL DDL for the verdict_audit table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS verdict_audit (
    id               UUID PRIMARY KEY,
    created_at       TIMESTAMPTZ NOT NULL,
    source           TEXT NOT NULL,
    fingerprint      TEXT NOT NULL DEFAULT '',
    detection_method TEXT NOT NULL,
    flagged          BOOLEAN NOT NULL,
    reason           TEXT NOT NULL DEFAULT '',
    categories       JSONB NOT NULL DEFAULT '[]',
    trace_id         TEXT NOT NULL DEFAULT ''
);
ALTER TABLE verdict_audit ADD COLUMN IF NOT EXISTS trace_id TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_verdict_audit_created ON verdict_audit(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_verdict_audit_fingerprint ON verdict_audit(fingerprint) WHERE fingerprint <> '';
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Recorder] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Recorder = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn, applies the schema and returns the
// store together with the pool so the caller can close it.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("audit: ping: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record inserts r.
func (s *PostgresStore) Record(ctx context.Context, r Record) error {
	cats := r.Categories
	if cats == nil {
		cats = []string{}
	}
	catsJSON, err := json.Marshal(cats)
	if err != nil {
		return fmt.Errorf("audit: marshal categories: %w", err)
	}

	const query = `
		INSERT INTO verdict_audit (
			id, created_at, source, fingerprint, detection_method,
			flagged, reason, categories, trace_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = s.db.Exec(ctx, query,
		r.ID, r.Time, string(r.Source), r.Fingerprint, string(r.Method),
		r.Flagged, r.Reason, catsJSON, r.TraceID,
	)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id::text, created_at, source, fingerprint, detection_method,
		       flagged, reason, categories, trace_id
		FROM verdict_audit
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r        Record
			source   string
			method   string
			catsJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.Time, &source, &r.Fingerprint, &method,
			&r.Flagged, &r.Reason, &catsJSON, &r.TraceID); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		r.Source = Source(source)
		r.Method = safety.Method(method)
		if err := json.Unmarshal(catsJSON, &r.Categories); err != nil {
			return nil, fmt.Errorf("audit: unmarshal categories: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	return out, nil
}

// Check runs a trivial query, for readiness probes.
func (s *PostgresStore) Check(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

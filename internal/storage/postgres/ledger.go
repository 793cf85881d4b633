// Package postgres records archived posts and finished batches in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// Default table names.
const (
	DefaultTable      = "post_archives"
	DefaultBatchTable = "archive_batches"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	BatchTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Ledger writes one row per archived record and one per finished batch.
// It serves as both an archive.Mirror and an archive.Notifier.
type Ledger struct {
	pool       execCloser
	table      string
	batchTable string
}

// New creates a Postgres-backed Ledger using the provided config.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, batchTable, err := tableNames(cfg.Table, cfg.BatchTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: pool, table: table, batchTable: batchTable}, nil
}

// NewWithPool constructs a ledger from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table, batchTable string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, batchTable, err := tableNames(table, batchTable)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: pool, table: table, batchTable: batchTable}, nil
}

func tableNames(table, batchTable string) (string, string, error) {
	if table == "" {
		table = DefaultTable
	}
	if batchTable == "" {
		batchTable = DefaultBatchTable
	}
	for _, name := range []string{table, batchTable} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return table, batchTable, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	records := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	batch_id      TEXT        NOT NULL,
	field         TEXT        NOT NULL,
	student_id    TEXT        NOT NULL,
	target_url    TEXT        NOT NULL,
	ok            BOOLEAN     NOT NULL,
	error_text    TEXT        NOT NULL DEFAULT '',
	status_code   INTEGER     NOT NULL,
	hops          INTEGER     NOT NULL,
	content_hash  TEXT        NOT NULL,
	content_bytes INTEGER     NOT NULL,
	archived_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (batch_id, field, student_id)
)`, l.table)
	if _, err := l.pool.Exec(ctx, records); err != nil {
		return fmt.Errorf("create table %s: %w", l.table, err)
	}
	batches := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	batch_id      TEXT        PRIMARY KEY,
	field         TEXT        NOT NULL,
	processed     INTEGER     NOT NULL,
	succeeded     INTEGER     NOT NULL,
	failed        INTEGER     NOT NULL,
	write_errors  INTEGER     NOT NULL,
	mirror_errors INTEGER     NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
)`, l.batchTable)
	if _, err := l.pool.Exec(ctx, batches); err != nil {
		return fmt.Errorf("create table %s: %w", l.batchTable, err)
	}
	return nil
}

// Mirror inserts the ledger row for one archived record. Re-archiving the
// same record within a batch replaces the row.
func (l *Ledger) Mirror(ctx context.Context, entry archive.Entry) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if entry.BatchID == "" || entry.StudentID == "" {
		return fmt.Errorf("batch id and student id are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	batch_id,
	field,
	student_id,
	target_url,
	ok,
	error_text,
	status_code,
	hops,
	content_hash,
	content_bytes,
	archived_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (batch_id, field, student_id) DO UPDATE SET
	target_url = EXCLUDED.target_url,
	ok = EXCLUDED.ok,
	error_text = EXCLUDED.error_text,
	status_code = EXCLUDED.status_code,
	hops = EXCLUDED.hops,
	content_hash = EXCLUDED.content_hash,
	content_bytes = EXCLUDED.content_bytes,
	archived_at = EXCLUDED.archived_at`, l.table)

	args := []any{
		entry.BatchID,
		entry.Field,
		entry.StudentID,
		entry.TargetURL,
		entry.OK,
		entry.ErrorText,
		entry.StatusCode,
		entry.Hops,
		entry.ContentHash,
		len(entry.Content),
		entry.ArchivedAt,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert archive row: %w", err)
	}
	return nil
}

// Notify records the batch report.
func (l *Ledger) Notify(ctx context.Context, report archive.Report) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if report.BatchID == "" {
		return fmt.Errorf("batch id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	batch_id,
	field,
	processed,
	succeeded,
	failed,
	write_errors,
	mirror_errors,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (batch_id) DO NOTHING`, l.batchTable)

	args := []any{
		report.BatchID,
		report.Field,
		report.Processed,
		report.Succeeded,
		report.Failed,
		report.WriteErrors,
		report.MirrorErrors,
		report.Started,
		report.Finished,
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert batch row: %w", err)
	}
	return nil
}

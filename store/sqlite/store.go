// Package sqlite implements history.Store on an embedded SQLite
// database via database/sql and the modernc.org/sqlite driver.
// Suitable for single-node deployments that need history to survive a
// restart without running an external database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/history"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

var _ history.Store = (*Store)(nil)

// Store persists terminal job records in a single SQLite table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, enables WAL mode, and
// runs migrations. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: open %q: %w", path, err)
	}

	// WAL lets the pruning sweep run alongside completion writes.
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("conveyor/sqlite: enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. The caller owns the handle's
// lifecycle and must run Migrate before use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the history table and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrate(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS conveyor_history (
  id             TEXT PRIMARY KEY,
  kind           TEXT NOT NULL,
  payload        BLOB,
  status         TEXT NOT NULL,
  attempt        INTEGER NOT NULL DEFAULT 0,
  max_attempts   INTEGER NOT NULL DEFAULT 1,
  last_error     TEXT,
  correlation_id TEXT,
  timeout_ms     INTEGER NOT NULL DEFAULT 0,
  created_at     TEXT NOT NULL,
  started_at     TEXT,
  finished_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conveyor_history_finished
  ON conveyor_history (finished_at);
CREATE INDEX IF NOT EXISTS idx_conveyor_history_kind
  ON conveyor_history (kind);
CREATE INDEX IF NOT EXISTS idx_conveyor_history_status
  ON conveyor_history (status);
CREATE INDEX IF NOT EXISTS idx_conveyor_history_correlation
  ON conveyor_history (correlation_id);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("conveyor/sqlite: migrate: %w", err)
	}
	return nil
}

// Record upserts the terminal record.
func (s *Store) Record(ctx context.Context, r *job.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conveyor_history
		  (id, kind, payload, status, attempt, max_attempts, last_error,
		   correlation_id, timeout_ms, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(),
		r.Kind,
		r.Payload,
		string(r.Status),
		r.Attempt,
		r.MaxAttempts,
		r.LastError,
		r.CorrelationID,
		r.Timeout.Milliseconds(),
		formatTime(r.CreatedAt),
		formatTimePtr(r.StartedAt),
		formatTimePtr(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: record job %s: %w", r.ID, err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, payload, status, attempt, max_attempts, last_error,
		       correlation_id, timeout_ms, created_at, started_at, finished_at
		FROM conveyor_history WHERE id = ?`, jobID.String())

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conveyor.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: get job %s: %w", jobID, err)
	}
	return rec, nil
}

// List returns matching records, most recently finished first.
func (s *Store) List(ctx context.Context, opts history.ListOpts) ([]*job.Record, error) {
	var (
		where []string
		args  []any
	)
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, opts.Kind)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, opts.CorrelationID)
	}

	q := `SELECT id, kind, payload, status, attempt, max_attempts, last_error,
	             correlation_id, timeout_ms, created_at, started_at, finished_at
	      FROM conveyor_history`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY finished_at DESC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		// SQLite requires LIMIT when OFFSET is present.
		q += " LIMIT -1"
	}
	if opts.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list: %w", err)
	}
	defer rows.Close()

	var out []*job.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list: %w", err)
	}
	return out, nil
}

// Prune deletes records finished strictly before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conveyor_history WHERE finished_at < ?`,
		formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: prune rows affected: %w", err)
	}
	return int(n), nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*job.Record, error) {
	var (
		rec       job.Record
		rawID     string
		status    string
		lastErr   sql.NullString
		correl    sql.NullString
		timeoutMs int64
		createdAt string
		startedAt sql.NullString
		finished  sql.NullString
	)
	err := row.Scan(&rawID, &rec.Kind, &rec.Payload, &status, &rec.Attempt,
		&rec.MaxAttempts, &lastErr, &correl, &timeoutMs, &createdAt,
		&startedAt, &finished)
	if err != nil {
		return nil, err
	}

	rec.ID, err = id.ParseJobID(rawID)
	if err != nil {
		return nil, err
	}
	rec.Status = job.Status(status)
	rec.LastError = lastErr.String
	rec.CorrelationID = correl.String
	rec.Timeout = time.Duration(timeoutMs) * time.Millisecond

	rec.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	if rec.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if rec.FinishedAt, err = parseTimePtr(finished); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Timestamps are stored as fixed-width UTC strings so lexical order
// matches chronological order for the prune comparison and the
// finished_at sort. RFC3339Nano would not work here: it trims trailing
// zeros, which breaks lexical ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

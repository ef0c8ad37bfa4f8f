// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
	"github.com/jeranaias/rigrun-dispatch/internal/router"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrClosed        = errors.New("archive closed")
	ErrDatabaseError = errors.New("database error")
)

// Sink receives archived records.
type Sink interface {
	Write(ctx context.Context, r joblog.Record) error
	Close() error
}

// =============================================================================
// SQLITE STORE
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS job_records (
    id          TEXT PRIMARY KEY,
    job_id      TEXT NOT NULL,
    attempt     INTEGER NOT NULL,
    ts          INTEGER NOT NULL,
    prompt      TEXT NOT NULL DEFAULT '',
    category    TEXT NOT NULL,
    tier        TEXT NOT NULL,
    backend     TEXT NOT NULL DEFAULT '',
    success     INTEGER NOT NULL,
    error_kind  TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    duration_ns INTEGER NOT NULL DEFAULT 0,
    tokens      INTEGER NOT NULL DEFAULT 0,
    cost        REAL NOT NULL DEFAULT 0,
    rationale   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_job_records_ts ON job_records(ts);
CREATE INDEX IF NOT EXISTS idx_job_records_job ON job_records(job_id);
`

const selectColumns = `id, job_id, attempt, ts, prompt, category, tier, backend,
       success, error_kind, error, duration_ns, tokens, cost, rationale`

// SQLiteStore keeps job history in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the history database at path.
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrDatabaseError, err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrDatabaseError, p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrDatabaseError, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Write inserts r. Records are keyed by ID; rewriting one is a no-op.
func (s *SQLiteStore) Write(ctx context.Context, r joblog.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO job_records (
			id, job_id, attempt, ts, prompt, category, tier, backend,
			success, error_kind, error, duration_ns, tokens, cost, rationale
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.Attempt, r.Timestamp.UnixNano(), r.Prompt,
		string(r.Category), r.Tier.String(), r.Backend,
		boolToInt(r.Success), r.ErrorKind, r.Error, int64(r.Duration),
		r.Tokens, r.Cost, r.Rationale,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", r.ID, err)
	}
	return nil
}

// Records returns archived records with a timestamp at or after since,
// oldest first. A zero since returns everything.
func (s *SQLiteStore) Records(ctx context.Context, since time.Time) ([]joblog.Record, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM job_records WHERE ts >= ? ORDER BY ts ASC, job_id ASC, attempt ASC`,
		from)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []joblog.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of archived records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// PruneBefore deletes records strictly older than cutoff and returns how
// many were removed.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM job_records WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecord(rows *sql.Rows) (joblog.Record, error) {
	var (
		r                  joblog.Record
		ts, durationNs     int64
		category, tierName string
		success            int
	)
	if err := rows.Scan(
		&r.ID, &r.JobID, &r.Attempt, &ts, &r.Prompt, &category, &tierName, &r.Backend,
		&success, &r.ErrorKind, &r.Error, &durationNs, &r.Tokens, &r.Cost, &r.Rationale,
	); err != nil {
		return joblog.Record{}, fmt.Errorf("scan record: %w", err)
	}

	r.Timestamp = time.Unix(0, ts).UTC()
	r.Duration = time.Duration(durationNs)
	r.Category = router.Category(category)
	r.Success = success != 0
	if tier, err := router.ParseTier(tierName); err == nil {
		r.Tier = tier
	}
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/tripsync/internal/clock"
	"github.com/ashureev/tripsync/internal/retry"
	"github.com/ashureev/tripsync/internal/shared"
)

// writePolicy retries journal writes that hit SQLITE_BUSY or a locked
// database: 50ms, 100ms, then give up.
var writePolicy = retry.Policy{
	MaxAttempts: 3,
	Backoff:     retry.Exponential(50*time.Millisecond, 0),
	Retryable:   shared.IsStorageConflict,
}

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db      *sql.DB
	clk     clock.Clock
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite opens (or creates) the journal database at dbPath.
func NewSQLite(dbPath string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &SQLiteJournal{db: db, clk: clock.Real{}}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS job_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_key TEXT NOT NULL,
		job_id TEXT,
		event TEXT NOT NULL,
		status TEXT,
		retry_count INTEGER DEFAULT 0,
		polls INTEGER DEFAULT 0,
		error_kind TEXT,
		message TEXT,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_job_events_owner ON job_events(owner_key, id);

	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		thread_id TEXT,
		event TEXT NOT NULL,
		detail TEXT,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, id);
	`
	if _, err := j.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (j *SQLiteJournal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *SQLiteJournal) exec(ctx context.Context, query string, args ...any) error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	err := retry.Attempt(ctx, j.clk, writePolicy, func(ctx context.Context, attempt int) error {
		_, err := j.db.ExecContext(ctx, query, args...)
		if err != nil && shared.IsStorageConflict(err) {
			slog.Debug("Journal write hit a locked database, retrying", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return shared.ClassifyStorage(err, "journal write")
	}
	return nil
}

func (j *SQLiteJournal) stamp(t time.Time) int64 {
	if t.IsZero() {
		t = j.clk.Now()
	}
	return t.UnixNano()
}

// RecordJob appends a job entry.
func (j *SQLiteJournal) RecordJob(ctx context.Context, e JobEntry) error {
	query := `
	INSERT INTO job_events (owner_key, job_id, event, status, retry_count, polls, error_kind, message, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if err := j.exec(ctx, query,
		e.OwnerKey, e.JobID, e.Event, e.Status, e.RetryCount, e.Polls,
		e.ErrorKind, e.Message, j.stamp(e.At),
	); err != nil {
		return fmt.Errorf("record job event: %w", err)
	}
	return nil
}

// RecordSession appends a session entry.
func (j *SQLiteJournal) RecordSession(ctx context.Context, e SessionEntry) error {
	query := `
	INSERT INTO session_events (session_id, thread_id, event, detail, recorded_at)
	VALUES (?, ?, ?, ?, ?)`
	if err := j.exec(ctx, query, e.SessionID, e.ThreadID, e.Event, e.Detail, j.stamp(e.At)); err != nil {
		return fmt.Errorf("record session event: %w", err)
	}
	return nil
}

// JobHistory returns the entries for ownerKey, oldest first.
func (j *SQLiteJournal) JobHistory(ctx context.Context, ownerKey string) ([]JobEntry, error) {
	query := `
		SELECT owner_key, job_id, event, status, retry_count, polls, error_kind, message, recorded_at
		FROM job_events WHERE owner_key = ? ORDER BY id`

	rows, err := j.db.QueryContext(ctx, query, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	var out []JobEntry
	for rows.Next() {
		var e JobEntry
		var jobID, status, errKind, msg sql.NullString
		var at int64
		if err := rows.Scan(&e.OwnerKey, &jobID, &e.Event, &status, &e.RetryCount, &e.Polls, &errKind, &msg, &at); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		e.JobID = jobID.String
		e.Status = status.String
		e.ErrorKind = errKind.String
		e.Message = msg.String
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job events: %w", err)
	}
	return out, nil
}

// SessionHistory returns the entries for sessionID, oldest first.
func (j *SQLiteJournal) SessionHistory(ctx context.Context, sessionID string) ([]SessionEntry, error) {
	query := `
		SELECT session_id, thread_id, event, detail, recorded_at
		FROM session_events WHERE session_id = ? ORDER BY id`

	rows, err := j.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var out []SessionEntry
	for rows.Next() {
		var e SessionEntry
		var threadID, detail sql.NullString
		var at int64
		if err := rows.Scan(&e.SessionID, &threadID, &e.Event, &detail, &at); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		e.ThreadID = threadID.String
		e.Detail = detail.String
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session events: %w", err)
	}
	return out, nil
}

// Prune removes entries recorded before the cutoff.
func (j *SQLiteJournal) Prune(ctx context.Context, before time.Time) (int64, error) {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	cutoff := before.UnixNano()
	var total int64
	for _, table := range []string{"job_events", "session_events"} {
		result, err := j.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE recorded_at < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("get rows affected: %w", err)
		}
		total += n
	}
	if total > 0 {
		slog.Info("Pruned journal entries", "count", total, "before", before)
	}
	return total, nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

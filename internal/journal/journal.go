// Package journal persists a record of every terminal job to SQLite.
// Live jobs stay in memory; the journal exists so operators can inspect
// what ran after the in-memory table has been evicted.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"easel/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS terminal_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    status TEXT NOT NULL,
    quality_requested TEXT NOT NULL,
    quality_effective TEXT NOT NULL,
    degraded INTEGER NOT NULL,
    error_message TEXT,
    duration_ms INTEGER NOT NULL,
    finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_terminal_jobs_finished_at ON terminal_jobs(finished_at);
`

// Entry is one journaled terminal job.
type Entry struct {
	JobID            string
	SessionID        string
	Status           string
	QualityRequested string
	QualityEffective string
	Degraded         bool
	ErrorMessage     string
	Duration         time.Duration
	FinishedAt       time.Time
}

// Summary aggregates journal contents for status surfaces.
type Summary struct {
	Total     int64 `json:"total"`
	Done      int64 `json:"done"`
	Errored   int64 `json:"errored"`
	Cancelled int64 `json:"cancelled"`
	Degraded  int64 `json:"degraded"`
}

// Store manages journal persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "journal.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends a terminal job to the journal.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	finished := entry.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO terminal_jobs (
            job_id, session_id, status, quality_requested, quality_effective,
            degraded, error_message, duration_ms, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.JobID,
		entry.SessionID,
		entry.Status,
		entry.QualityRequested,
		entry.QualityEffective,
		boolToInt(entry.Degraded),
		nullableString(entry.ErrorMessage),
		entry.Duration.Milliseconds(),
		finished.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert terminal job: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, session_id, status, quality_requested, quality_effective,
            degraded, error_message, duration_ms, finished_at
         FROM terminal_jobs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query terminal jobs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate terminal jobs: %w", err)
	}
	return entries, nil
}

// Summary aggregates the whole journal.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var summary Summary
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
            COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(degraded), 0)
         FROM terminal_jobs`,
	).Scan(&summary.Total, &summary.Done, &summary.Errored, &summary.Cancelled, &summary.Degraded)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize terminal jobs: %w", err)
	}
	return summary, nil
}

// Prune deletes entries finished before the cutoff and returns the
// number removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM terminal_jobs WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune terminal jobs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry      Entry
		degraded   int64
		errMessage sql.NullString
		durationMS int64
		finishedAt string
	)
	if err := rows.Scan(
		&entry.JobID,
		&entry.SessionID,
		&entry.Status,
		&entry.QualityRequested,
		&entry.QualityEffective,
		&degraded,
		&errMessage,
		&durationMS,
		&finishedAt,
	); err != nil {
		return Entry{}, fmt.Errorf("scan terminal job: %w", err)
	}
	entry.Degraded = degraded != 0
	entry.ErrorMessage = errMessage.String
	entry.Duration = time.Duration(durationMS) * time.Millisecond
	if parsed, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
		entry.FinishedAt = parsed
	}
	return entry, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const jobsSchema = `CREATE TABLE IF NOT EXISTS transcode_jobs (
    asset_id   TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    renditions TEXT NOT NULL,
    outputs    TEXT,
    error      TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`

// SQLiteStore persists transcode jobs in a SQLite database so job history
// survives restarts.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (creating if needed) the job database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: ensure directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
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
	if _, err := db.Exec(jobsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create transcode_jobs: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const jobColumns = `asset_id, status, renditions, outputs, error, created_at, updated_at`

// GetJob implements Store.GetJob.
func (s *SQLiteStore) GetJob(ctx context.Context, assetID string) (TranscodeJob, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM transcode_jobs WHERE asset_id = ?`, assetID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TranscodeJob{}, false, nil
	}
	if err != nil {
		return TranscodeJob{}, false, fmt.Errorf("select job %s: %w", assetID, err)
	}
	return job, true, nil
}

// ListByStatus implements Store.ListByStatus.
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...JobStatus) ([]TranscodeJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	where, args := statusFilter(statuses)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM transcode_jobs WHERE `+where+` ORDER BY asset_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []TranscodeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (TranscodeJob, error) {
	var (
		job                  TranscodeJob
		status, renditions   string
		outputs, errMsg      sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&job.AssetID, &status, &renditions, &outputs, &errMsg, &createdAt, &updatedAt); err != nil {
		return TranscodeJob{}, err
	}

	job.Status = JobStatus(status)
	job.Error = errMsg.String
	if err := json.Unmarshal([]byte(renditions), &job.Renditions); err != nil {
		return TranscodeJob{}, fmt.Errorf("decode renditions for %s: %w", job.AssetID, err)
	}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &job.Outputs); err != nil {
			return TranscodeJob{}, fmt.Errorf("decode outputs for %s: %w", job.AssetID, err)
		}
	}
	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return TranscodeJob{}, fmt.Errorf("parse created_at for %s: %w", job.AssetID, err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return TranscodeJob{}, fmt.Errorf("parse updated_at for %s: %w", job.AssetID, err)
	}
	return job, nil
}

func statusFilter(statuses []JobStatus) (string, []any) {
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return "status IN (" + strings.Join(placeholders, ", ") + ")", args
}

// PutJob implements Store.PutJob as an upsert.
func (s *SQLiteStore) PutJob(ctx context.Context, job TranscodeJob) error {
	renditions, err := json.Marshal(job.Renditions)
	if err != nil {
		return fmt.Errorf("encode renditions: %w", err)
	}
	var outputs any
	if len(job.Outputs) > 0 {
		b, err := json.Marshal(job.Outputs)
		if err != nil {
			return fmt.Errorf("encode outputs: %w", err)
		}
		outputs = string(b)
	}
	var errMsg any
	if job.Error != "" {
		errMsg = job.Error
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcode_jobs (asset_id, status, renditions, outputs, error, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(asset_id) DO UPDATE SET
            status = excluded.status,
            renditions = excluded.renditions,
            outputs = excluded.outputs,
            error = excluded.error,
            updated_at = excluded.updated_at`,
		job.AssetID,
		string(job.Status),
		string(renditions),
		outputs,
		errMsg,
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
		job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.AssetID, err)
	}
	return nil
}

// CountByStatus implements Store.CountByStatus.
func (s *SQLiteStore) CountByStatus(ctx context.Context, statuses ...JobStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	where, args := statusFilter(statuses)
	query := "SELECT COUNT(*) FROM transcode_jobs WHERE " + where

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// Package persistence backs the job coordinator with sqlite so that queued
// and interrupted work survives a restart.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mkang/shadowclip/internal/jobs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore implements jobs.Store on a single sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT j.id, j.request_json, j.status, j.progress, j.output_path, j.error_json,
		        j.created_at, j.updated_at, COALESCE(c.completed, 0)
		 FROM jobs j
		 LEFT JOIN job_checkpoints c ON c.job_id = j.id
		 ORDER BY j.created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var item jobs.Job
		var requestJSON string
		var status string
		var errorJSON sql.NullString
		if err := rows.Scan(
			&item.ID,
			&requestJSON,
			&status,
			&item.Progress,
			&item.OutputPath,
			&errorJSON,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.Checkpoint,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(requestJSON), &item.Request); err != nil {
			return nil, fmt.Errorf("decode request for job %s: %w", item.ID, err)
		}
		if errorJSON.Valid && errorJSON.String != "" {
			var jobErr jobs.JobError
			if err := json.Unmarshal([]byte(errorJSON.String), &jobErr); err != nil {
				return nil, fmt.Errorf("decode error for job %s: %w", item.ID, err)
			}
			item.Error = &jobErr
		}
		item.Status = jobs.Status(status)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	requestJSON, err := json.Marshal(job.Request)
	if err != nil {
		return err
	}
	var errorJSON sql.NullString
	if job.Error != nil {
		encoded, err := json.Marshal(job.Error)
		if err != nil {
			return err
		}
		errorJSON = sql.NullString{String: string(encoded), Valid: true}
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, template_id, source, dedupe_key, request_json, status, progress, output_path, error_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			template_id=excluded.template_id,
			source=excluded.source,
			dedupe_key=excluded.dedupe_key,
			request_json=excluded.request_json,
			status=excluded.status,
			progress=excluded.progress,
			output_path=excluded.output_path,
			error_json=excluded.error_json,
			updated_at=excluded.updated_at`,
		job.ID,
		job.Request.TemplateID,
		job.Request.Source,
		job.Request.DedupeKey,
		string(requestJSON),
		string(job.Status),
		job.Progress,
		job.OutputPath,
		errorJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, jobID string, completed int) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_checkpoints (job_id, completed, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
			completed=excluded.completed,
			updated_at=excluded.updated_at`,
		jobID,
		completed,
		time.Now().UTC(),
	)
	return err
}

// DeleteJobData removes the checkpoint state associated with a job.
func (s *SQLiteStore) DeleteJobData(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_checkpoints WHERE job_id = ?`, jobID)
	return err
}

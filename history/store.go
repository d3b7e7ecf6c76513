// Package history keeps a local audit log of deployment runs. The log is
// advisory: it is never consulted when deciding an upsert, so the backend's
// own registry stays the single source of truth for what is deployed.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Run struct {
	ID         string
	Backend    string
	Status     string
	StartedAt  int64
	FinishedAt int64
}

type Entry struct {
	RunID      string
	Backend    string
	Job        string
	Kind       string
	Operation  string
	Error      string
	RecordedAt int64
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.Exec(`PRAGMA foreign_keys = ON`)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS deploy_runs (
        id TEXT PRIMARY KEY,
        backend TEXT NOT NULL,
        status TEXT,
        started_at INTEGER,
        finished_at INTEGER
    )`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS deploy_results (
        run_id TEXT NOT NULL,
        backend TEXT NOT NULL,
        job TEXT NOT NULL,
        kind TEXT NOT NULL,
        operation TEXT,
        error TEXT,
        recorded_at INTEGER
    )`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_deploy_results_run ON deploy_results(run_id)`)
	return err
}

func (s *Store) StartRun(ctx context.Context, id, backend string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deploy_runs (id, backend, status, started_at) VALUES (?, ?, ?, ?)`,
		id, backend, "running", time.Now().Unix())
	return err
}

func (s *Store) FinishRun(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deploy_runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id)
	return err
}

func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.RecordedAt == 0 {
		e.RecordedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deploy_results (run_id, backend, job, kind, operation, error, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Backend, e.Job, e.Kind, e.Operation, e.Error, e.RecordedAt)
	return err
}

func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, backend, status, started_at, COALESCE(finished_at, 0)
        FROM deploy_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Backend, &r.Status, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Results(ctx context.Context, runID string) ([]Entry, error) {
	// rowid order preserves the order results were appended in.
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, backend, job, kind, operation, error, recorded_at
        FROM deploy_results WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.Backend, &e.Job, &e.Kind, &e.Operation, &e.Error, &e.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

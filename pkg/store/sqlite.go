package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/debiflow/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps blobs and the stage-run journal in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database and initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables if they don't already exist.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS blobs (
		path TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS stage_runs (
		id TEXT PRIMARY KEY,
		investor TEXT NOT NULL,
		period TEXT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stage_runs_investor ON stage_runs(investor, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Read returns the blob at path.
func (s *SQLiteStore) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE path = ?`, path).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Write inserts or replaces the blob at path.
func (s *SQLiteStore) Write(ctx context.Context, path string, data []byte, contentType string) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (path, data, content_type, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data, content_type = excluded.content_type, updated_at = excluded.updated_at`,
		path, data, contentType, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a blob is stored at path.
func (s *SQLiteStore) Exists(ctx context.Context, path string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM blobs WHERE path = ?`, path).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", path, err)
	}
	return n > 0, nil
}

// List returns the stored paths that begin with prefix.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM blobs WHERE path LIKE ? ESCAPE '\' ORDER BY path ASC`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path row: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return paths, nil
}

// escapeLike quotes the LIKE wildcards so prefixes are matched literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RecordRun inserts or updates a stage run.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *models.StageRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (id, investor, period, stage, status, output, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, output = excluded.output, error = excluded.error, finished_at = excluded.finished_at`,
		run.ID.String(), run.Investor, string(run.Period), string(run.Stage), string(run.Status), run.Output, run.Error, run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns an investor's runs, oldest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, investor string) ([]*models.StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, investor, period, stage, status, output, error, started_at, finished_at
		FROM stage_runs WHERE investor = ? ORDER BY started_at ASC, rowid ASC`, investor)
	if err != nil {
		return nil, fmt.Errorf("failed to get runs for %s: %w", investor, err)
	}
	defer rows.Close()

	var runs []*models.StageRun
	for rows.Next() {
		var run models.StageRun
		var idStr, period, stage, status string
		if err := rows.Scan(&idStr, &run.Investor, &period, &stage, &status, &run.Output, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid run id %q: %w", idStr, err)
		}
		run.ID = id
		run.Period = models.Period(period)
		run.Stage = models.Stage(stage)
		run.Status = models.RunStatus(status)
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for runs: %w", err)
	}
	return runs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/webxuker/internal/storage"
)

// DefaultListLimit caps history listings when no limit is given.
const DefaultListLimit = 50

// Store is a SQLite implementation of storage.DeploymentStore.
type Store struct {
	db *sqlx.DB
}

var _ storage.DeploymentStore = (*Store)(nil)

// New opens (and creates if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	if !strings.HasPrefix(dbPath, "file:") && dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			repo TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			failed_step TEXT NOT NULL DEFAULT '',
			exit_code INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			duration_ns INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_repo_stage ON deployments(repo, stage)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_started ON deployments(started_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// RecordDeployment inserts d, assigning an ID and start time when missing.
func (s *Store) RecordDeployment(ctx context.Context, d *storage.Deployment) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}
	d.StartedAt = d.StartedAt.UTC()

	query := `INSERT INTO deployments
		(id, repo, stage, status, failed_step, exit_code, error, request_id, started_at, duration_ns)
		VALUES (:id, :repo, :stage, :status, :failed_step, :exit_code, :error, :request_id, :started_at, :duration_ns)`

	if _, err := s.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}
	return nil
}

// ListDeployments returns the most recent deployments first.
func (s *Store) ListDeployments(ctx context.Context, opts storage.ListOptions) ([]*storage.Deployment, error) {
	var (
		where []string
		args  []any
	)
	if opts.Repo != "" {
		where = append(where, "repo = ?")
		args = append(args, opts.Repo)
	}
	if opts.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, opts.Stage)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, repo, stage, status, failed_step, exit_code, error, request_id, started_at, duration_ns
		FROM deployments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	var deployments []*storage.Deployment
	if err := s.db.SelectContext(ctx, &deployments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return deployments, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

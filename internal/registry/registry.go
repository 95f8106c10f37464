package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Run statuses recorded per repository.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrNotRegistered is returned when an operation names an unknown repository.
var ErrNotRegistered = errors.New("repository not registered")

// Repository is a tracked repository and the outcome of its last ingestion.
type Repository struct {
	Org           string     `db:"org"`
	Repo          string     `db:"repo"`
	Enabled       bool       `db:"enabled"`
	Topics        []string   `db:"-"`
	TopicsJSON    string     `db:"topics"`
	Stars         int        `db:"stars"`
	AddedAt       time.Time  `db:"added_at"`
	LastRunID     string     `db:"last_run_id"`
	LastRunAt     *time.Time `db:"last_run_at"`
	LastRunStatus string     `db:"last_run_status"`
	LastError     string     `db:"last_error"`
}

// Key returns the "org/repo" form used across checkpoints and node IDs.
func (r Repository) Key() string {
	return r.Org + "/" + r.Repo
}

// Registry tracks which repositories to ingest. It shares the graph
// database handle, so the same backend (SQLite or PostgreSQL) holds both
// the graph and the registry; the SQL sticks to the syntax both support.
type Registry struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// New creates a registry on db and ensures its schema.
func New(db *sqlx.DB, logger *logrus.Logger) (*Registry, error) {
	r := &Registry{db: db, logger: logger}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("init registry schema: %w", err)
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		org TEXT NOT NULL,
		repo TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		topics TEXT NOT NULL DEFAULT '[]',
		stars INTEGER NOT NULL DEFAULT 0,
		added_at TIMESTAMP NOT NULL,
		last_run_id TEXT NOT NULL DEFAULT '',
		last_run_at TIMESTAMP,
		last_run_status TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (org, repo)
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Add registers a repository, or re-enables and updates an existing entry.
func (r *Registry) Add(ctx context.Context, org, repo string, topics []string, stars int) error {
	if org == "" || repo == "" {
		return fmt.Errorf("add repository: org and repo are required")
	}

	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	query := r.db.Rebind(`
		INSERT INTO repositories (org, repo, enabled, topics, stars, added_at)
		VALUES (?, ?, TRUE, ?, ?, ?)
		ON CONFLICT (org, repo) DO UPDATE SET
			enabled = TRUE,
			topics = EXCLUDED.topics,
			stars = EXCLUDED.stars
	`)
	_, err = r.db.ExecContext(ctx, query, org, repo, string(topicsJSON), stars, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add repository %s/%s: %w", org, repo, err)
	}

	r.logger.WithField("repo", org+"/"+repo).Info("repository registered")
	return nil
}

// Remove deletes a repository from the registry. Graph data already
// ingested for it stays in place.
func (r *Registry) Remove(ctx context.Context, org, repo string) error {
	query := r.db.Rebind(`DELETE FROM repositories WHERE org = ? AND repo = ?`)
	res, err := r.db.ExecContext(ctx, query, org, repo)
	if err != nil {
		return fmt.Errorf("remove repository %s/%s: %w", org, repo, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", org, repo, ErrNotRegistered)
	}
	return nil
}

// SetEnabled toggles a repository without forgetting its run history.
func (r *Registry) SetEnabled(ctx context.Context, org, repo string, enabled bool) error {
	query := r.db.Rebind(`UPDATE repositories SET enabled = ? WHERE org = ? AND repo = ?`)
	res, err := r.db.ExecContext(ctx, query, enabled, org, repo)
	if err != nil {
		return fmt.Errorf("update repository %s/%s: %w", org, repo, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", org, repo, ErrNotRegistered)
	}
	return nil
}

// Get returns a single registered repository.
func (r *Registry) Get(ctx context.Context, org, repo string) (Repository, error) {
	var row Repository
	query := r.db.Rebind(`SELECT * FROM repositories WHERE org = ? AND repo = ?`)
	if err := r.db.GetContext(ctx, &row, query, org, repo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Repository{}, fmt.Errorf("%s/%s: %w", org, repo, ErrNotRegistered)
		}
		return Repository{}, err
	}
	return decodeTopics(row)
}

// List returns every registered repository, enabled or not.
func (r *Registry) List(ctx context.Context) ([]Repository, error) {
	return r.selectRepos(ctx, `SELECT * FROM repositories ORDER BY org, repo`)
}

// ListEnabled returns the repositories that ingestion should cover.
func (r *Registry) ListEnabled(ctx context.Context) ([]Repository, error) {
	return r.selectRepos(ctx, `SELECT * FROM repositories WHERE enabled = TRUE ORDER BY org, repo`)
}

// MarkRunning stamps the start of an ingestion run.
func (r *Registry) MarkRunning(ctx context.Context, org, repo, runID string) error {
	query := r.db.Rebind(`
		UPDATE repositories
		SET last_run_id = ?, last_run_at = ?, last_run_status = ?, last_error = ''
		WHERE org = ? AND repo = ?
	`)
	_, err := r.db.ExecContext(ctx, query, runID, time.Now().UTC(), StatusPending, org, repo)
	return err
}

// MarkCompleted records the outcome of a run. A non-empty errMsg sets the
// error status; otherwise the run is recorded as successful.
func (r *Registry) MarkCompleted(ctx context.Context, org, repo, runID, errMsg string) error {
	status := StatusSuccess
	if errMsg != "" {
		status = StatusError
	}

	query := r.db.Rebind(`
		UPDATE repositories
		SET last_run_id = ?, last_run_status = ?, last_error = ?
		WHERE org = ? AND repo = ?
	`)
	_, err := r.db.ExecContext(ctx, query, runID, status, errMsg, org, repo)
	return err
}

func (r *Registry) selectRepos(ctx context.Context, query string) ([]Repository, error) {
	var rows []Repository
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	repos := make([]Repository, 0, len(rows))
	for _, row := range rows {
		repo, err := decodeTopics(row)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func decodeTopics(row Repository) (Repository, error) {
	if row.TopicsJSON == "" {
		return row, nil
	}
	if err := json.Unmarshal([]byte(row.TopicsJSON), &row.Topics); err != nil {
		return Repository{}, fmt.Errorf("decode topics for %s: %w", row.Key(), err)
	}
	return row, nil
}

// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contentvault/crawld/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// NewPool builds a pgx pool from the config. Both stores share one pool.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// JobStore persists crawl jobs in the crawl_jobs table.
type JobStore struct {
	pool querier
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(pool querier) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertJob inserts the job or fully replaces the existing row.
func (s *JobStore) UpsertJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	var resultJSON []byte
	if job.Result != nil {
		resultJSON, err = json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	query := `
INSERT INTO crawl_jobs (
	id, url, status, config, created_at, updated_at, completed_at, result, error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	status = EXCLUDED.status,
	config = EXCLUDED.config,
	updated_at = EXCLUDED.updated_at,
	completed_at = EXCLUDED.completed_at,
	result = EXCLUDED.result,
	error_text = EXCLUDED.error_text`

	args := []any{
		job.ID,
		job.URL,
		string(job.Status),
		configJSON,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
		resultJSON,
		job.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// GetJob loads one job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := `
SELECT id, url, status, config, created_at, updated_at, completed_at, result, error_text
FROM crawl_jobs
WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (s *JobStore) ListJobs(ctx context.Context, status *crawler.JobStatus, limit int) ([]crawler.Job, error) {
	query := `
SELECT id, url, status, config, created_at, updated_at, completed_at, result, error_text
FROM crawl_jobs`
	args := []any{}
	if status != nil {
		query += `
WHERE status = $1
ORDER BY created_at DESC
LIMIT $2`
		args = append(args, string(*status), limit)
	} else {
		query += `
ORDER BY created_at DESC
LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job        crawler.Job
		status     string
		configJSON []byte
		resultJSON []byte
	)
	err := row.Scan(
		&job.ID,
		&job.URL,
		&status,
		&configJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
		&resultJSON,
		&job.ErrorText,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &job.Config); err != nil {
			return crawler.Job{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var result crawler.CrawlResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return crawler.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}

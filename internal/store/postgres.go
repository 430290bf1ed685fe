package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casgen-dev/casgen/internal/types"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id                   TEXT PRIMARY KEY,
    tenant_key_id        TEXT NOT NULL,
    status               TEXT NOT NULL,
    priority             TEXT NOT NULL,
    progress             INTEGER NOT NULL DEFAULT 0,
    phase_description    TEXT NOT NULL DEFAULT '',
    request              JSONB NOT NULL,
    output_files         JSONB,
    error                JSONB,
    summary              JSONB,
    partial              BOOLEAN NOT NULL DEFAULT FALSE,
    deleted              BOOLEAN NOT NULL DEFAULT FALSE,
    created_at           TIMESTAMPTZ NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL,
    started_at           TIMESTAMPTZ,
    completed_at         TIMESTAMPTZ,
    estimated_completion TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS jobs_tenant_created_idx ON jobs (tenant_key_id, created_at DESC);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);

CREATE TABLE IF NOT EXISTS api_keys (
    id             TEXT PRIMARY KEY,
    key_hash       TEXT NOT NULL UNIQUE,
    name           TEXT NOT NULL,
    email          TEXT NOT NULL DEFAULT '',
    is_active      BOOLEAN NOT NULL DEFAULT TRUE,
    is_demo        BOOLEAN NOT NULL DEFAULT FALSE,
    limits         JSONB NOT NULL,
    total_requests BIGINT NOT NULL DEFAULT 0,
    total_patients BIGINT NOT NULL DEFAULT 0,
    daily_requests BIGINT NOT NULL DEFAULT 0,
    daily_reset_at TIMESTAMPTZ NOT NULL,
    expires_at     TIMESTAMPTZ,
    metadata       JSONB,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, tenant_key_id, status, priority, progress, phase_description,
       request, output_files, error, summary, partial, deleted,
       created_at, updated_at, started_at, completed_at, estimated_completion`

const (
	sqlInsertJob = `
INSERT INTO jobs (id, tenant_key_id, status, priority, progress, phase_description,
                  request, output_files, error, summary, partial, deleted,
                  created_at, updated_at, started_at, completed_at, estimated_completion)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	sqlSelectJob = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	sqlSelectJobsByStatus = `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at ASC, id ASC`

	sqlUpdateJob = `
UPDATE jobs
SET status = $2, priority = $3, progress = $4, phase_description = $5,
    output_files = $6, error = $7, summary = $8, partial = $9, deleted = $10,
    updated_at = $11, started_at = $12, completed_at = $13, estimated_completion = $14
WHERE id = $1`
)

const (
	keyColumns = `id, key_hash, name, email, is_active, is_demo, limits,
       total_requests, total_patients, daily_requests, daily_reset_at,
       expires_at, metadata, created_at, updated_at`

	sqlInsertKey = `
INSERT INTO api_keys (id, key_hash, name, email, is_active, is_demo, limits,
                      total_requests, total_patients, daily_requests, daily_reset_at,
                      expires_at, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	sqlSelectKeyByID   = `SELECT ` + keyColumns + ` FROM api_keys WHERE id = $1`
	sqlSelectKeyByHash = `SELECT ` + keyColumns + ` FROM api_keys WHERE key_hash = $1`
	sqlSelectAllKeys   = `SELECT ` + keyColumns + ` FROM api_keys ORDER BY created_at ASC, id ASC`

	sqlUpdateKey = `
UPDATE api_keys
SET key_hash = $2, name = $3, email = $4, is_active = $5, is_demo = $6,
    limits = $7, expires_at = $8, metadata = $9, updated_at = $10
WHERE id = $1`

	sqlDeleteKey = `DELETE FROM api_keys WHERE id = $1`

	sqlSelectCountersForUpdate = `
SELECT total_requests, total_patients, daily_requests, daily_reset_at
FROM api_keys WHERE id = $1 FOR UPDATE`

	sqlUpdateCounters = `
UPDATE api_keys
SET total_requests = $2, total_patients = $3, daily_requests = $4,
    daily_reset_at = $5, updated_at = $6
WHERE id = $1`
)

// Postgres is the production store, backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Ping verifies the database connection.
func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *Postgres) Close() { s.pool.Close() }

func (s *Postgres) CreateJob(ctx context.Context, job *types.Job) error {
	requestJSON, filesJSON, errorJSON, summaryJSON, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sqlInsertJob,
		job.ID, job.TenantKeyID, string(job.Status), string(job.Priority),
		job.Progress, job.PhaseDescription,
		requestJSON, filesJSON, errorJSON, summaryJSON,
		job.Partial, job.Deleted,
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt, job.EstimatedCompletion,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (*types.Job, error) {
	return scanJob(s.pool.QueryRow(ctx, sqlSelectJob, id))
}

func (s *Postgres) UpdateJob(ctx context.Context, job *types.Job) error {
	_, filesJSON, errorJSON, summaryJSON, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sqlUpdateJob,
		job.ID, string(job.Status), string(job.Priority),
		job.Progress, job.PhaseDescription,
		filesJSON, errorJSON, summaryJSON,
		job.Partial, job.Deleted,
		job.UpdatedAt, job.StartedAt, job.CompletedAt, job.EstimatedCompletion,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListJobs(ctx context.Context, filter JobFilter) ([]*types.Job, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.TenantKeyID != "" {
		args = append(args, filter.TenantKeyID)
		where += fmt.Sprintf(" AND tenant_key_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *Postgres) JobsByStatus(ctx context.Context, status types.JobStatus) ([]*types.Job, error) {
	rows, err := s.pool.Query(ctx, sqlSelectJobsByStatus, string(status))
	if err != nil {
		return nil, fmt.Errorf("jobs by status: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs by status: %w", err)
	}
	return jobs, nil
}

func (s *Postgres) CreateKey(ctx context.Context, key *types.APIKey) error {
	limitsJSON, metadataJSON, err := marshalKeyBlobs(key)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sqlInsertKey,
		key.ID, key.KeyHash, key.Name, key.Email, key.IsActive, key.IsDemo, limitsJSON,
		key.Counters.TotalRequests, key.Counters.TotalPatients,
		key.Counters.DailyRequests, key.Counters.DailyResetAt,
		key.ExpiresAt, metadataJSON, key.CreatedAt, key.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

func (s *Postgres) GetKeyByID(ctx context.Context, id string) (*types.APIKey, error) {
	return scanKey(s.pool.QueryRow(ctx, sqlSelectKeyByID, id))
}

func (s *Postgres) GetKeyByHash(ctx context.Context, hash string) (*types.APIKey, error) {
	return scanKey(s.pool.QueryRow(ctx, sqlSelectKeyByHash, hash))
}

func (s *Postgres) ListKeys(ctx context.Context) ([]*types.APIKey, error) {
	rows, err := s.pool.Query(ctx, sqlSelectAllKeys)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []*types.APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (s *Postgres) UpdateKey(ctx context.Context, key *types.APIKey) error {
	limitsJSON, metadataJSON, err := marshalKeyBlobs(key)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sqlUpdateKey,
		key.ID, key.KeyHash, key.Name, key.Email, key.IsActive, key.IsDemo,
		limitsJSON, key.ExpiresAt, metadataJSON, key.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("update key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteKey(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, sqlDeleteKey, id)
	if err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage runs the read-modify-write inside a transaction with
// the key row locked, so concurrent admissions never lose an update.
func (s *Postgres) IncrementUsage(ctx context.Context, id string, requests int, patients int64, now time.Time) (*types.KeyCounters, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var c types.KeyCounters
	err = tx.QueryRow(ctx, sqlSelectCountersForUpdate, id).
		Scan(&c.TotalRequests, &c.TotalPatients, &c.DailyRequests, &c.DailyResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select counters: %w", err)
	}

	applyUsage(&c, requests, patients, now)

	if _, err := tx.Exec(ctx, sqlUpdateCounters,
		id, c.TotalRequests, c.TotalPatients, c.DailyRequests, c.DailyResetAt, now.UTC(),
	); err != nil {
		return nil, fmt.Errorf("update counters: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &c, nil
}

// applyUsage is the single definition of the counter update shared by
// both backends: expire the daily window, then add.
func applyUsage(c *types.KeyCounters, requests int, patients int64, now time.Time) {
	if !now.Before(c.DailyResetAt) {
		c.DailyRequests = 0
		c.DailyResetAt = types.NextDailyReset(now)
	}
	c.TotalRequests += requests
	c.DailyRequests += requests
	c.TotalPatients += patients
}

func marshalJobBlobs(job *types.Job) (request, files, jobErr, summary []byte, err error) {
	request, err = json.Marshal(job.Request)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal request: %w", err)
	}
	if job.OutputFiles != nil {
		if files, err = json.Marshal(job.OutputFiles); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal output files: %w", err)
		}
	}
	if job.Error != nil {
		if jobErr, err = json.Marshal(job.Error); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal job error: %w", err)
		}
	}
	if job.Summary != nil {
		if summary, err = json.Marshal(job.Summary); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal summary: %w", err)
		}
	}
	return request, files, jobErr, summary, nil
}

func marshalKeyBlobs(key *types.APIKey) (limits, metadata []byte, err error) {
	limits, err = json.Marshal(key.Limits)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal limits: %w", err)
	}
	if key.Metadata != nil {
		if metadata, err = json.Marshal(key.Metadata); err != nil {
			return nil, nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	return limits, metadata, nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var (
		job         types.Job
		requestJSON []byte
		filesJSON   []byte
		errorJSON   []byte
		summaryJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.TenantKeyID, &job.Status, &job.Priority,
		&job.Progress, &job.PhaseDescription,
		&requestJSON, &filesJSON, &errorJSON, &summaryJSON,
		&job.Partial, &job.Deleted,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt, &job.EstimatedCompletion,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(requestJSON, &job.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if filesJSON != nil {
		if err := json.Unmarshal(filesJSON, &job.OutputFiles); err != nil {
			return nil, fmt.Errorf("unmarshal output files: %w", err)
		}
	}
	if errorJSON != nil {
		if err := json.Unmarshal(errorJSON, &job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal job error: %w", err)
		}
	}
	if summaryJSON != nil {
		if err := json.Unmarshal(summaryJSON, &job.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	return &job, nil
}

func scanKey(row pgx.Row) (*types.APIKey, error) {
	var (
		key          types.APIKey
		limitsJSON   []byte
		metadataJSON []byte
	)
	err := row.Scan(
		&key.ID, &key.KeyHash, &key.Name, &key.Email, &key.IsActive, &key.IsDemo, &limitsJSON,
		&key.Counters.TotalRequests, &key.Counters.TotalPatients,
		&key.Counters.DailyRequests, &key.Counters.DailyResetAt,
		&key.ExpiresAt, &metadataJSON, &key.CreatedAt, &key.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan key: %w", err)
	}
	if err := json.Unmarshal(limitsJSON, &key.Limits); err != nil {
		return nil, fmt.Errorf("unmarshal limits: %w", err)
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &key.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &key, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spotguard/spotguard/pkg/types"
)

// ConsolidationJobStore tracks consolidation runs and their crash-recovery
// checkpoints
type ConsolidationJobStore struct {
	pool *pgxpool.Pool
}

const jobColumns = `id, status, trigger, window_from, window_to, last_pool,
	pool_count, sample_count, written_count, gap_count, error_message,
	heartbeat_at, started_at, ended_at`

func scanJob(row pgx.Row) (*types.ConsolidationJob, error) {
	var job types.ConsolidationJob
	err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Trigger,
		&job.WindowFrom,
		&job.WindowTo,
		&job.LastPool,
		&job.PoolCount,
		&job.SampleCount,
		&job.WrittenCount,
		&job.GapCount,
		&job.ErrorMessage,
		&job.HeartbeatAt,
		&job.StartedAt,
		&job.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Create inserts a new RUNNING job record
func (s *ConsolidationJobStore) Create(ctx context.Context, job *types.ConsolidationJob) error {
	query := `
		INSERT INTO consolidation_jobs (id, status, trigger, window_from, window_to)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.Trigger,
		job.WindowFrom,
		job.WindowTo,
	)

	if err != nil {
		return fmt.Errorf("insert consolidation job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by ID
func (s *ConsolidationJobStore) GetByID(ctx context.Context, id string) (*types.ConsolidationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM consolidation_jobs WHERE id = $1`

	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query consolidation job: %w", err)
	}

	return job, nil
}

// Checkpoint records progress after one fully written pool. The counter
// arguments are that pool's contribution alone; a resumed job skips every
// pool up to and including last_pool.
func (s *ConsolidationJobStore) Checkpoint(ctx context.Context, id, lastPool string, samples, written, gaps int) error {
	query := `
		UPDATE consolidation_jobs
		SET last_pool = $1,
			sample_count = sample_count + $2,
			written_count = written_count + $3,
			gap_count = gap_count + $4,
			pool_count = pool_count + 1,
			heartbeat_at = NOW()
		WHERE id = $5
	`

	tag, err := s.pool.Exec(ctx, query, lastPool, samples, written, gaps, id)
	if err != nil {
		return fmt.Errorf("checkpoint consolidation job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Complete marks a job COMPLETED
func (s *ConsolidationJobStore) Complete(ctx context.Context, id string) error {
	query := `
		UPDATE consolidation_jobs
		SET status = $1, ended_at = NOW(), heartbeat_at = NOW()
		WHERE id = $2
	`

	tag, err := s.pool.Exec(ctx, query, types.ConsolidationStatusCompleted, id)
	if err != nil {
		return fmt.Errorf("complete consolidation job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Fail marks a job FAILED with an error message
func (s *ConsolidationJobStore) Fail(ctx context.Context, id string, errorMessage string) error {
	query := `
		UPDATE consolidation_jobs
		SET status = $1, error_message = $2, ended_at = NOW()
		WHERE id = $3
	`

	tag, err := s.pool.Exec(ctx, query, types.ConsolidationStatusFailed, errorMessage, id)
	if err != nil {
		return fmt.Errorf("fail consolidation job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// LastCompleted returns the most recent COMPLETED job; its window end is
// the resume point for the next scheduled run
func (s *ConsolidationJobStore) LastCompleted(ctx context.Context) (*types.ConsolidationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM consolidation_jobs
		WHERE status = 'COMPLETED'
		ORDER BY window_to DESC
		LIMIT 1
	`

	job, err := scanJob(s.pool.QueryRow(ctx, query))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query last completed job: %w", err)
	}

	return job, nil
}

// LastInterrupted returns the most recent RUNNING job whose heartbeat went
// stale (crashed run); the runner resumes it from its checkpoint
func (s *ConsolidationJobStore) LastInterrupted(ctx context.Context, staleAfter time.Duration) (*types.ConsolidationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM consolidation_jobs
		WHERE status = 'RUNNING'
			AND heartbeat_at < NOW() - $1::interval
		ORDER BY started_at DESC
		LIMIT 1
	`

	job, err := scanJob(s.pool.QueryRow(ctx, query, staleAfter))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query interrupted job: %w", err)
	}

	return job, nil
}

// List retrieves job history, newest first
func (s *ConsolidationJobStore) List(ctx context.Context, limit, offset int) ([]*types.ConsolidationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM consolidation_jobs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query consolidation jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*types.ConsolidationJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consolidation job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consolidation jobs: %w", err)
	}

	return jobs, nil
}

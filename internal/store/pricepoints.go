package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spotguard/spotguard/pkg/types"
)

// PricePointStore handles the canonical pricing tier. Only the consolidator
// writes here; all writes are replace-on-conflict keyed by (pool_id, bucket)
// so concurrent or repeated runs converge to the same rows.
type PricePointStore struct {
	pool *pgxpool.Pool
}

// UpsertBatch writes consolidated points idempotently
func (s *PricePointStore) UpsertBatch(ctx context.Context, points []*types.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	query := `
		INSERT INTO consolidated_price_points (
			pool_id, bucket, price, confidence, interpolated, source_count, job_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (pool_id, bucket) DO UPDATE
		SET price = EXCLUDED.price,
			confidence = EXCLUDED.confidence,
			interpolated = EXCLUDED.interpolated,
			source_count = EXCLUDED.source_count,
			job_id = EXCLUDED.job_id,
			updated_at = NOW()
	`

	for _, p := range points {
		_, err := s.pool.Exec(ctx, query,
			p.PoolID,
			p.Bucket,
			p.Price,
			p.Confidence,
			p.Interpolated,
			p.SourceCount,
			p.JobID,
		)
		if err != nil {
			return fmt.Errorf("upsert price point %s@%s: %w", p.PoolID, p.Bucket.Format(time.RFC3339), err)
		}
	}

	return nil
}

// ListRange retrieves consolidated points for a pool within [from, to)
func (s *PricePointStore) ListRange(ctx context.Context, poolID string, from, to time.Time) ([]*types.PricePoint, error) {
	query := `
		SELECT pool_id, bucket, price, confidence, interpolated, source_count,
			job_id, updated_at
		FROM consolidated_price_points
		WHERE pool_id = $1 AND bucket >= $2 AND bucket < $3
		ORDER BY bucket ASC
	`

	rows, err := s.pool.Query(ctx, query, poolID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query price points: %w", err)
	}
	defer rows.Close()

	points := []*types.PricePoint{}
	for rows.Next() {
		var p types.PricePoint
		err := rows.Scan(
			&p.PoolID,
			&p.Bucket,
			&p.Price,
			&p.Confidence,
			&p.Interpolated,
			&p.SourceCount,
			&p.JobID,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price points: %w", err)
	}

	return points, nil
}

// Latest retrieves the most recent consolidated point for a pool
func (s *PricePointStore) Latest(ctx context.Context, poolID string) (*types.PricePoint, error) {
	query := `
		SELECT pool_id, bucket, price, confidence, interpolated, source_count,
			job_id, updated_at
		FROM consolidated_price_points
		WHERE pool_id = $1
		ORDER BY bucket DESC
		LIMIT 1
	`

	var p types.PricePoint
	err := s.pool.QueryRow(ctx, query, poolID).Scan(
		&p.PoolID,
		&p.Bucket,
		&p.Price,
		&p.Confidence,
		&p.Interpolated,
		&p.SourceCount,
		&p.JobID,
		&p.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest price point: %w", err)
	}

	return &p, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spotguard/spotguard/pkg/types"
)

// SampleStore handles raw price sample operations. The raw tier is
// append-only: samples are never updated or deleted by request handlers.
type SampleStore struct {
	pool *pgxpool.Pool
}

// Append stores one validated raw sample
func (s *SampleStore) Append(ctx context.Context, sample *types.PriceSample) error {
	query := `
		INSERT INTO raw_price_samples (
			id, pool_id, agent_id, source_role, price, captured_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := s.pool.Exec(ctx, query,
		sample.ID,
		sample.PoolID,
		sample.AgentID,
		sample.SourceRole,
		sample.Price,
		sample.CapturedAt,
	)

	if err != nil {
		return fmt.Errorf("insert price sample: %w", err)
	}

	return nil
}

// ListRange retrieves raw samples for a pool within [from, to), ordered by
// capture time
func (s *SampleStore) ListRange(ctx context.Context, poolID string, from, to time.Time) ([]*types.PriceSample, error) {
	query := `
		SELECT id, pool_id, agent_id, source_role, price, captured_at, created_at
		FROM raw_price_samples
		WHERE pool_id = $1 AND captured_at >= $2 AND captured_at < $3
		ORDER BY captured_at ASC
	`

	rows, err := s.pool.Query(ctx, query, poolID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query price samples: %w", err)
	}
	defer rows.Close()

	samples := []*types.PriceSample{}
	for rows.Next() {
		var sample types.PriceSample
		err := rows.Scan(
			&sample.ID,
			&sample.PoolID,
			&sample.AgentID,
			&sample.SourceRole,
			&sample.Price,
			&sample.CapturedAt,
			&sample.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price sample: %w", err)
		}
		samples = append(samples, &sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price samples: %w", err)
	}

	return samples, nil
}

// ListPoolsWithSamples returns the distinct pools that have samples in
// [from, to); the consolidator iterates these
func (s *SampleStore) ListPoolsWithSamples(ctx context.Context, from, to time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT pool_id
		FROM raw_price_samples
		WHERE captured_at >= $1 AND captured_at < $2
		ORDER BY pool_id
	`

	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query pools with samples: %w", err)
	}
	defer rows.Close()

	pools := []string{}
	for rows.Next() {
		var poolID string
		if err := rows.Scan(&poolID); err != nil {
			return nil, fmt.Errorf("scan pool id: %w", err)
		}
		pools = append(pools, poolID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}

	return pools, nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spotguard/spotguard/pkg/types"
)

// ReplicaStore handles replica database operations
type ReplicaStore struct {
	pool *pgxpool.Pool
}

const replicaColumns = `id, agent_id, instance_id, status, creation_reason,
	sync_status, boot_time_seconds, request_id, version, created_at,
	updated_at, promoted_at`

func scanReplica(row pgx.Row) (*types.Replica, error) {
	var rep types.Replica
	err := row.Scan(
		&rep.ID,
		&rep.AgentID,
		&rep.InstanceID,
		&rep.Status,
		&rep.CreationReason,
		&rep.SyncStatus,
		&rep.BootTimeSeconds,
		&rep.RequestID,
		&rep.Version,
		&rep.CreatedAt,
		&rep.UpdatedAt,
		&rep.PromotedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// Create inserts a new replica record. The partial unique index on
// (agent_id) for non-terminal rows enforces the one-active-replica
// invariant; the unique request_id makes emergency creation idempotent.
// A request_id collision returns the existing replica with no error, a
// second active replica returns ErrReplicaExists.
func (s *ReplicaStore) Create(ctx context.Context, rep *types.Replica) (*types.Replica, error) {
	// Re-sent requests short-circuit here. The ON CONFLICT below only
	// arbitrates on request_id; without this read a retry that also
	// trips the one-active index would surface as ErrReplicaExists.
	existing, err := s.GetByRequestID(ctx, rep.RequestID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	query := `
		INSERT INTO replicas (
			id, agent_id, instance_id, status, creation_reason,
			sync_status, request_id, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING ` + replicaColumns

	created, err := scanReplica(s.pool.QueryRow(ctx, query,
		rep.ID,
		rep.AgentID,
		rep.InstanceID,
		rep.Status,
		rep.CreationReason,
		rep.SyncStatus,
		rep.RequestID,
		rep.Version,
	))

	if err == pgx.ErrNoRows {
		// Same request_id raced or was re-sent: return the winner.
		return s.GetByRequestID(ctx, rep.RequestID)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// Unique violation on the one-active-replica partial index.
		return nil, ErrReplicaExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert replica: %w", err)
	}

	return created, nil
}

// GetByID retrieves a replica by ID
func (s *ReplicaStore) GetByID(ctx context.Context, id string) (*types.Replica, error) {
	query := `SELECT ` + replicaColumns + ` FROM replicas WHERE id = $1`

	rep, err := scanReplica(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query replica: %w", err)
	}

	return rep, nil
}

// GetByRequestID retrieves a replica by its idempotency key
func (s *ReplicaStore) GetByRequestID(ctx context.Context, requestID string) (*types.Replica, error) {
	query := `SELECT ` + replicaColumns + ` FROM replicas WHERE request_id = $1`

	rep, err := scanReplica(s.pool.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query replica by request id: %w", err)
	}

	return rep, nil
}

// GetActive retrieves the non-terminal replica for an agent, if any
func (s *ReplicaStore) GetActive(ctx context.Context, agentID string) (*types.Replica, error) {
	query := `
		SELECT ` + replicaColumns + `
		FROM replicas
		WHERE agent_id = $1 AND status IN ('LAUNCHING', 'READY')
	`

	rep, err := scanReplica(s.pool.QueryRow(ctx, query, agentID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active replica: %w", err)
	}

	return rep, nil
}

// MarkReady records that a replica finished booting and is promotable.
// Boot time feeds the per-agent fastest-pool cache.
func (s *ReplicaStore) MarkReady(ctx context.Context, id string, expectedVersion int64, bootSeconds float64) error {
	query := `
		UPDATE replicas
		SET status = 'READY', sync_status = 'in_sync', boot_time_seconds = $1,
			version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3 AND status = 'LAUNCHING'
	`

	tag, err := s.pool.Exec(ctx, query, bootSeconds, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("mark replica ready: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}

	return nil
}

// UpdateSyncStatus records replica lag as reported by the agent
func (s *ReplicaStore) UpdateSyncStatus(ctx context.Context, id string, syncStatus types.SyncStatus) error {
	query := `
		UPDATE replicas
		SET sync_status = $1, updated_at = NOW()
		WHERE id = $2
	`

	tag, err := s.pool.Exec(ctx, query, syncStatus, id)
	if err != nil {
		return fmt.Errorf("update replica sync status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkPromotedTx finalizes a replica as PROMOTED inside the promotion
// transaction. A replica is promoted exactly once: the status guard makes a
// second promotion attempt report ErrVersionConflict instead of rewriting.
func (s *ReplicaStore) MarkPromotedTx(ctx context.Context, tx pgx.Tx, id string, expectedVersion int64) error {
	query := `
		UPDATE replicas
		SET status = 'PROMOTED', promoted_at = NOW(),
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'READY'
	`

	tag, err := tx.Exec(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("mark replica promoted: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	return nil
}

// Abort marks a replica ABORTED (failed boot, cancelled emergency)
func (s *ReplicaStore) Abort(ctx context.Context, id string, expectedVersion int64) error {
	query := `
		UPDATE replicas
		SET status = 'ABORTED', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status IN ('LAUNCHING', 'READY')
	`

	tag, err := s.pool.Exec(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("abort replica: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}

	return nil
}

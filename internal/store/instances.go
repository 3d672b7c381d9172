package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spotguard/spotguard/internal/lifecycle"
	"github.com/spotguard/spotguard/pkg/types"
)

// InstanceStore handles instance database operations. It is the only
// permitted write path for instance rows: all mutation goes through the
// version-checked transition functions.
type InstanceStore struct {
	pool *pgxpool.Pool
}

const instanceColumns = `id, agent_id, provider_id, role, status, mode, pool_id,
	version, launch_requested_at, launch_confirmed_at,
	termination_requested_at, termination_confirmed_at, last_heartbeat_at,
	created_at, updated_at`

func scanInstance(row pgx.Row) (*types.Instance, error) {
	var inst types.Instance
	err := row.Scan(
		&inst.ID,
		&inst.AgentID,
		&inst.ProviderID,
		&inst.Role,
		&inst.Status,
		&inst.Mode,
		&inst.PoolID,
		&inst.Version,
		&inst.LaunchRequestedAt,
		&inst.LaunchConfirmedAt,
		&inst.TerminationRequestedAt,
		&inst.TerminationConfirmedAt,
		&inst.LastHeartbeatAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// Create inserts a new instance record
func (s *InstanceStore) Create(ctx context.Context, inst *types.Instance) error {
	query := `
		INSERT INTO instances (
			id, agent_id, provider_id, role, status, mode, pool_id,
			version, launch_requested_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := s.pool.Exec(ctx, query,
		inst.ID,
		inst.AgentID,
		inst.ProviderID,
		inst.Role,
		inst.Status,
		inst.Mode,
		inst.PoolID,
		inst.Version,
		inst.LaunchRequestedAt,
	)

	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	return nil
}

// GetByID retrieves an instance by ID
func (s *InstanceStore) GetByID(ctx context.Context, id string) (*types.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`

	inst, err := scanInstance(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query instance: %w", err)
	}

	return inst, nil
}

// GetByProviderID retrieves an instance by its provider-assigned ID
func (s *InstanceStore) GetByProviderID(ctx context.Context, providerID string) (*types.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE provider_id = $1`

	inst, err := scanInstance(s.pool.QueryRow(ctx, query, providerID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query instance by provider id: %w", err)
	}

	return inst, nil
}

// GetPrimary retrieves the non-terminal PRIMARY instance for an agent
func (s *InstanceStore) GetPrimary(ctx context.Context, agentID string) (*types.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE agent_id = $1 AND role = 'PRIMARY' AND status != 'TERMINATED'
	`

	inst, err := scanInstance(s.pool.QueryRow(ctx, query, agentID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query primary instance: %w", err)
	}

	return inst, nil
}

// ListByAgent retrieves all instances for an agent, newest first
func (s *InstanceStore) ListByAgent(ctx context.Context, agentID string) ([]*types.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE agent_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("query instances by agent: %w", err)
	}
	defer rows.Close()

	instances := []*types.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}

	return instances, nil
}

// ListRunningPrimaries returns every RUNNING PRIMARY instance, for the
// advisor's periodic cost evaluation
func (s *InstanceStore) ListRunningPrimaries(ctx context.Context) ([]*types.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE role = 'PRIMARY' AND status = 'RUNNING'
		ORDER BY created_at ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query running primaries: %w", err)
	}
	defer rows.Close()

	instances := []*types.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate running primaries: %w", err)
	}

	return instances, nil
}

// ListZombies returns ZOMBIE instances older than the given interval,
// oldest first, for the reaper
func (s *InstanceStore) ListZombies(ctx context.Context, olderThan string) ([]*types.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE status = 'ZOMBIE'
			AND updated_at < NOW() - $1::interval
		ORDER BY updated_at ASC
	`

	rows, err := s.pool.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query zombie instances: %w", err)
	}
	defer rows.Close()

	instances := []*types.Instance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zombie instance: %w", err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zombie instances: %w", err)
	}

	return instances, nil
}

// transitionTimestamp returns the timestamp column touched by entering the
// given status, or "" when none applies
func transitionTimestamp(status types.InstanceStatus) string {
	switch status {
	case types.InstanceStatusRunning:
		return "launch_confirmed_at"
	case types.InstanceStatusTerminating:
		return "termination_requested_at"
	case types.InstanceStatusTerminated:
		return "termination_confirmed_at"
	default:
		return ""
	}
}

// Transition performs an optimistic-concurrency state transition.
//
// The caller supplies the version it last observed. The row is updated only
// if the stored version still matches, atomically incrementing it. A version
// mismatch returns ErrVersionConflict; an edge the state machine forbids
// returns ErrInvalidTransition. On conflict the caller re-reads and retries
// or abandons; the row is never partially written.
func (s *InstanceStore) Transition(ctx context.Context, id string, expectedVersion int64, newStatus types.InstanceStatus, newRole types.InstanceRole) (int64, error) {
	return s.transition(ctx, s.pool, id, expectedVersion, newStatus, newRole)
}

// TransitionTx is Transition within an existing transaction
func (s *InstanceStore) TransitionTx(ctx context.Context, tx pgx.Tx, id string, expectedVersion int64, newStatus types.InstanceStatus, newRole types.InstanceRole) (int64, error) {
	return s.transition(ctx, tx, id, expectedVersion, newStatus, newRole)
}

// querier abstracts over the pool and an open transaction so the transition
// logic runs identically in both
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *InstanceStore) transition(ctx context.Context, q querier, id string, expectedVersion int64, newStatus types.InstanceStatus, newRole types.InstanceRole) (int64, error) {
	// Validate the edge against the current row first so an illegal request
	// is rejected without mutation and distinguishably from a lost race.
	current, err := scanInstance(q.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read instance for transition: %w", err)
	}

	from := lifecycle.State{Status: current.Status, Role: current.Role}
	to := lifecycle.State{Status: newStatus, Role: newRole}
	if err := lifecycle.Validate(from, to); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTransition, err)
	}

	query := `
		UPDATE instances
		SET status = $1, role = $2, version = version + 1, updated_at = NOW()
	`
	if col := transitionTimestamp(newStatus); col != "" {
		query += fmt.Sprintf(", %s = NOW()", col)
	}
	query += ` WHERE id = $3 AND version = $4`

	tag, err := q.Exec(ctx, query, newStatus, newRole, id, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("transition instance: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// The row exists but the version moved underneath us.
		return 0, ErrVersionConflict
	}

	return expectedVersion + 1, nil
}

// Heartbeat records agent liveness against the instance's observed version.
// A stale version returns ErrVersionConflict together with no mutation so
// the agent re-reads and resynchronizes.
func (s *InstanceStore) Heartbeat(ctx context.Context, id string, expectedVersion int64) error {
	query := `
		UPDATE instances
		SET last_heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND version = $2
	`

	tag, err := s.pool.Exec(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("heartbeat instance: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}

	return nil
}

// PromoteResult reports the versions written by a successful promotion
type PromoteResult struct {
	ReplicaVersion int64
	PrimaryVersion int64
}

// PromoteReplica swaps a ready replica in for a dying primary. All three
// rows move in one transaction: the replica instance becomes PRIMARY,
// the old primary becomes a zombie, and the replica record is closed
// out. Either everything moves or nothing does, so no interleaving of
// transactions can observe two primaries.
func (s *Store) PromoteReplica(ctx context.Context, replica *types.Replica, replicaInstance, primary *types.Instance) (*PromoteResult, error) {
	var result PromoteResult

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		// Demote first: the partial unique index on (agent_id) for
		// non-terminal PRIMARY rows is checked per statement.
		pv, err := s.Instances.TransitionTx(ctx, tx, primary.ID, primary.Version,
			types.InstanceStatusZombie, types.RoleZombie)
		if err != nil {
			return fmt.Errorf("demote primary instance: %w", err)
		}

		rv, err := s.Instances.TransitionTx(ctx, tx, replicaInstance.ID, replicaInstance.Version,
			types.InstanceStatusRunning, types.RolePrimary)
		if err != nil {
			return fmt.Errorf("promote replica instance: %w", err)
		}

		if err := s.Replicas.MarkPromotedTx(ctx, tx, replica.ID, replica.Version); err != nil {
			return fmt.Errorf("close replica record: %w", err)
		}

		result.ReplicaVersion = rv
		result.PrimaryVersion = pv
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// ConfirmLaunch records the provider ID once the provider confirms the
// machine exists, via the same CAS discipline as any other transition
func (s *InstanceStore) ConfirmLaunch(ctx context.Context, id string, expectedVersion int64, providerID string) (int64, error) {
	query := `
		UPDATE instances
		SET provider_id = $1, status = 'RUNNING', launch_confirmed_at = NOW(),
			version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3 AND status = 'LAUNCHING'
	`

	tag, err := s.pool.Exec(ctx, query, providerID, id, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("confirm launch: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return 0, err
		}
		return 0, ErrVersionConflict
	}

	return expectedVersion + 1, nil
}

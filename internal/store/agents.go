package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spotguard/spotguard/pkg/types"
)

// AgentStore handles agent database operations
type AgentStore struct {
	pool *pgxpool.Pool
}

const agentColumns = `id, name, client_id, api_key_hash,
	manual_replica_enabled, emergency_auto_enabled, config_version,
	fastest_boot_pool, fastest_boot_seconds, last_seen_at, created_at,
	updated_at`

func scanAgent(row pgx.Row) (*types.Agent, error) {
	var agent types.Agent
	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.ClientID,
		&agent.APIKeyHash,
		&agent.ManualReplicaEnabled,
		&agent.EmergencyAutoEnabled,
		&agent.ConfigVersion,
		&agent.FastestBootPool,
		&agent.FastestBootSeconds,
		&agent.LastSeenAt,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// Create inserts a new agent record
func (s *AgentStore) Create(ctx context.Context, agent *types.Agent) error {
	query := `
		INSERT INTO agents (id, name, client_id, api_key_hash)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query,
		agent.ID,
		agent.Name,
		agent.ClientID,
		agent.APIKeyHash,
	)

	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}

	return nil
}

// GetByID retrieves an agent by ID
func (s *AgentStore) GetByID(ctx context.Context, id string) (*types.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	agent, err := scanAgent(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}

	return agent, nil
}

// EnableManualReplica turns manual replica mode on. The WHERE clause makes
// the write conditional on emergency mode being off, so the mutual
// exclusion between modes holds even when two enables race: the losing
// update matches no row and returns ErrModeConflict.
func (s *AgentStore) EnableManualReplica(ctx context.Context, id string) error {
	query := `
		UPDATE agents
		SET manual_replica_enabled = TRUE, config_version = config_version + 1,
			updated_at = NOW()
		WHERE id = $1 AND emergency_auto_enabled = FALSE
	`

	return s.setMode(ctx, query, id)
}

// EnableEmergencyAuto turns automated emergency mode on; rejected while
// manual mode is active
func (s *AgentStore) EnableEmergencyAuto(ctx context.Context, id string) error {
	query := `
		UPDATE agents
		SET emergency_auto_enabled = TRUE, config_version = config_version + 1,
			updated_at = NOW()
		WHERE id = $1 AND manual_replica_enabled = FALSE
	`

	return s.setMode(ctx, query, id)
}

// DisableReplicaModes turns both modes off
func (s *AgentStore) DisableReplicaModes(ctx context.Context, id string) error {
	query := `
		UPDATE agents
		SET manual_replica_enabled = FALSE, emergency_auto_enabled = FALSE,
			config_version = config_version + 1, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("disable replica modes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *AgentStore) setMode(ctx context.Context, query, id string) error {
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("set agent mode: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrModeConflict
	}

	return nil
}

// ListModeViolations returns agents with both mode flags set. This is an
// invariant violation (bootstrap race); the reaper alarms on it and leaves
// resolution to an operator.
func (s *AgentStore) ListModeViolations(ctx context.Context) ([]*types.Agent, error) {
	query := `
		SELECT ` + agentColumns + `
		FROM agents
		WHERE manual_replica_enabled = TRUE AND emergency_auto_enabled = TRUE
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query mode violations: %w", err)
	}
	defer rows.Close()

	agents := []*types.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mode violations: %w", err)
	}

	return agents, nil
}

// Touch records that an agent was heard from
func (s *AgentStore) Touch(ctx context.Context, id string) error {
	query := `UPDATE agents SET last_seen_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordBootTime updates the cached fastest-boot pool when the observed
// boot beats the current best. The orchestrator reads this cache on the
// emergency path instead of consulting the decision provider.
func (s *AgentStore) RecordBootTime(ctx context.Context, id, poolID string, bootSeconds float64) error {
	query := `
		UPDATE agents
		SET fastest_boot_pool = $1, fastest_boot_seconds = $2, updated_at = NOW()
		WHERE id = $3
			AND (fastest_boot_seconds IS NULL OR fastest_boot_seconds > $2)
	`

	if _, err := s.pool.Exec(ctx, query, poolID, bootSeconds, id); err != nil {
		return fmt.Errorf("record boot time: %w", err)
	}

	return nil
}

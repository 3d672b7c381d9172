package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spotguard/spotguard/pkg/types"
)

// CommandStore handles the durable command queue. The unique constraint on
// request_id is the queue's concurrency primitive: concurrent enqueues of
// the same request converge on one row instead of taking a lock.
type CommandStore struct {
	pool *pgxpool.Pool
}

const commandColumns = `id, agent_id, command_type, payload, request_id,
	priority, status, reason, pre_state, post_state, dedup_count,
	error_message, expires_at, delivered_at, acked_at, created_at, updated_at`

func scanCommand(row pgx.Row) (*types.Command, error) {
	var cmd types.Command
	err := row.Scan(
		&cmd.ID,
		&cmd.AgentID,
		&cmd.Type,
		&cmd.Payload,
		&cmd.RequestID,
		&cmd.Priority,
		&cmd.Status,
		&cmd.Reason,
		&cmd.PreState,
		&cmd.PostState,
		&cmd.DedupCount,
		&cmd.ErrorMessage,
		&cmd.ExpiresAt,
		&cmd.DeliveredAt,
		&cmd.AckedAt,
		&cmd.CreatedAt,
		&cmd.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// EnqueueResult reports the stored command and whether the enqueue was
// deduplicated against an earlier request
type EnqueueResult struct {
	Command *types.Command
	Deduped bool
}

// Enqueue inserts a command, idempotent on request_id: re-enqueuing the
// same request returns the existing command with its dedup counter bumped
// and does not duplicate work.
func (s *CommandStore) Enqueue(ctx context.Context, cmd *types.Command) (*EnqueueResult, error) {
	query := `
		INSERT INTO commands (
			id, agent_id, command_type, payload, request_id, priority,
			status, reason, pre_state, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING ` + commandColumns

	created, err := scanCommand(s.pool.QueryRow(ctx, query,
		cmd.ID,
		cmd.AgentID,
		cmd.Type,
		cmd.Payload,
		cmd.RequestID,
		cmd.Priority,
		types.CommandStatusPending,
		cmd.Reason,
		cmd.PreState,
		cmd.ExpiresAt,
	))

	if err == pgx.ErrNoRows {
		existing, err := s.markDeduped(ctx, cmd.RequestID)
		if err != nil {
			return nil, err
		}
		return &EnqueueResult{Command: existing, Deduped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert command: %w", err)
	}

	return &EnqueueResult{Command: created}, nil
}

func (s *CommandStore) markDeduped(ctx context.Context, requestID string) (*types.Command, error) {
	query := `
		UPDATE commands
		SET dedup_count = dedup_count + 1, updated_at = NOW()
		WHERE request_id = $1
		RETURNING ` + commandColumns

	cmd, err := scanCommand(s.pool.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark command deduped: %w", err)
	}

	return cmd, nil
}

// GetByID retrieves a command by ID
func (s *CommandStore) GetByID(ctx context.Context, id string) (*types.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE id = $1`

	cmd, err := scanCommand(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query command: %w", err)
	}

	return cmd, nil
}

// Poll atomically claims pending commands for an agent, marking them
// DELIVERED, ordered by priority then age. Emergency commands always come
// out first.
func (s *CommandStore) Poll(ctx context.Context, agentID string, limit int) ([]*types.Command, error) {
	query := `
		UPDATE commands
		SET status = 'DELIVERED', delivered_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM commands
			WHERE agent_id = $1 AND status = 'PENDING' AND expires_at > NOW()
			ORDER BY priority ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + commandColumns

	rows, err := s.pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("poll commands: %w", err)
	}
	defer rows.Close()

	commands := []*types.Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan polled command: %w", err)
		}
		commands = append(commands, cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate polled commands: %w", err)
	}

	return commands, nil
}

// Ack finalizes a command with the agent-reported outcome. Acking is
// idempotent: a repeat ack of a terminal command affects no row and
// returns the stored command unchanged.
func (s *CommandStore) Ack(ctx context.Context, id string, success bool, errorMessage *string, postState types.Payload) (*types.Command, error) {
	status := types.CommandStatusExecuted
	if !success {
		status = types.CommandStatusFailed
	}

	query := `
		UPDATE commands
		SET status = $1, error_message = $2, post_state = $3,
			acked_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND status IN ('PENDING', 'DELIVERED')
		RETURNING ` + commandColumns

	cmd, err := scanCommand(s.pool.QueryRow(ctx, query, status, errorMessage, postState, id))
	if err == pgx.ErrNoRows {
		// Already terminal or unknown; hand back whatever exists.
		return s.GetByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ack command: %w", err)
	}

	return cmd, nil
}

// ExpireOverdue marks unacknowledged commands past their expiry EXPIRED and
// returns them for operator attention. Expired commands are not retried.
func (s *CommandStore) ExpireOverdue(ctx context.Context) ([]*types.Command, error) {
	query := `
		UPDATE commands
		SET status = 'EXPIRED', updated_at = NOW()
		WHERE status IN ('PENDING', 'DELIVERED') AND expires_at <= NOW()
		RETURNING ` + commandColumns

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("expire commands: %w", err)
	}
	defer rows.Close()

	commands := []*types.Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired command: %w", err)
		}
		commands = append(commands, cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired commands: %w", err)
	}

	return commands, nil
}

// ListByAgent retrieves command history for an agent, newest first
func (s *CommandStore) ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]*types.Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.pool.Query(ctx, query, agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query commands by agent: %w", err)
	}
	defer rows.Close()

	commands := []*types.Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		commands = append(commands, cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}

	return commands, nil
}

// ExpiresIn computes an expiry timestamp for new commands
func ExpiresIn(d time.Duration) time.Time {
	return time.Now().Add(d)
}

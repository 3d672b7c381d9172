package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spotguard/spotguard/pkg/types"
)

// AuditStore handles audit event operations
type AuditStore struct {
	pool *pgxpool.Pool
}

// Log creates an immutable audit event record
func (s *AuditStore) Log(ctx context.Context, event *types.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, actor, action, agent_id, instance_id, reason, deduped, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := s.pool.Exec(ctx, query,
		event.ID,
		event.Actor,
		event.Action,
		event.AgentID,
		event.InstanceID,
		event.Reason,
		event.Deduped,
		event.Metadata,
	)

	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

// ListByAgent retrieves audit events for an agent, newest first
func (s *AuditStore) ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]*types.AuditEvent, error) {
	query := `
		SELECT id, actor, action, agent_id, instance_id, reason, deduped,
			metadata, created_at
		FROM audit_events
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.pool.Query(ctx, query, agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit events by agent: %w", err)
	}
	defer rows.Close()

	events := []*types.AuditEvent{}
	for rows.Next() {
		var event types.AuditEvent
		err := rows.Scan(
			&event.ID,
			&event.Actor,
			&event.Action,
			&event.AgentID,
			&event.InstanceID,
			&event.Reason,
			&event.Deduped,
			&event.Metadata,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

package types

import "time"

// AuditAction names the recorded event kinds
type AuditAction string

const (
	AuditActionDecision          AuditAction = "decision"
	AuditActionRebalanceNotice   AuditAction = "rebalance_notice"
	AuditActionTerminationNotice AuditAction = "termination_notice"
	AuditActionPromotion         AuditAction = "promotion"
	AuditActionFreshLaunch       AuditAction = "fresh_launch"
	AuditActionCommandExpired    AuditAction = "command_expired"
	AuditActionModeChange        AuditAction = "mode_change"
	AuditActionModeViolation     AuditAction = "mode_violation"
	AuditActionGapReport         AuditAction = "gap_report"
)

// AuditEvent is an immutable record of a decision or failover action.
// Together these rows reconstruct WHY every switch happened and whether
// the triggering request was idempotently deduplicated.
type AuditEvent struct {
	ID         string      `db:"id" json:"id"`
	Actor      string      `db:"actor" json:"actor"`
	Action     AuditAction `db:"action" json:"action"`
	AgentID    *string     `db:"agent_id" json:"agent_id"`
	InstanceID *string     `db:"instance_id" json:"instance_id"`
	Reason     string      `db:"reason" json:"reason"`
	Deduped    bool        `db:"deduped" json:"deduped"`
	Metadata   Payload     `db:"metadata" json:"metadata"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

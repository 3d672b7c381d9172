package types

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// CommandType represents the kind of work addressed to an agent
type CommandType string

const (
	CommandTypeCreateReplica     CommandType = "CREATE_REPLICA"
	CommandTypePromoteReplica    CommandType = "PROMOTE_REPLICA"
	CommandTypeSwitchPool        CommandType = "SWITCH_POOL"
	CommandTypeTerminateInstance CommandType = "TERMINATE_INSTANCE"
	CommandTypeLaunchInstance    CommandType = "LAUNCH_INSTANCE"
)

// CommandStatus represents the delivery state of a command
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "PENDING"
	CommandStatusDelivered CommandStatus = "DELIVERED"
	CommandStatusExecuted  CommandStatus = "EXECUTED"
	CommandStatusFailed    CommandStatus = "FAILED"
	CommandStatusExpired   CommandStatus = "EXPIRED"
)

// Terminal reports whether the command can no longer change state
func (s CommandStatus) Terminal() bool {
	return s == CommandStatusExecuted || s == CommandStatusFailed || s == CommandStatusExpired
}

// CommandPriority orders delivery; lower values are delivered first
type CommandPriority int

const (
	PriorityEmergency CommandPriority = 0
	PriorityScheduled CommandPriority = 10
	PriorityManual    CommandPriority = 20
)

// CommandReason records why a command was created, so switch/failover
// history shows interruption vs cost optimization vs manual action
type CommandReason string

const (
	CommandReasonInterruption CommandReason = "interruption"
	CommandReasonCost         CommandReason = "cost"
	CommandReasonManual       CommandReason = "manual"
	CommandReasonReaper       CommandReason = "reaper"
)

// Payload is arbitrary JSON stored with a command or audit event
type Payload map[string]interface{}

// Value implements driver.Valuer for database serialization
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for database deserialization
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, p)
}

// Command is one unit of work addressed to an agent. RequestID is the
// idempotency key: re-enqueuing the same request returns the existing
// command and bumps DedupCount instead of duplicating work.
type Command struct {
	ID           string          `db:"id" json:"id"`
	AgentID      string          `db:"agent_id" json:"agent_id"`
	Type         CommandType     `db:"command_type" json:"type"`
	Payload      Payload         `db:"payload" json:"payload"`
	RequestID    string          `db:"request_id" json:"request_id"`
	Priority     CommandPriority `db:"priority" json:"priority"`
	Status       CommandStatus   `db:"status" json:"status"`
	Reason       CommandReason   `db:"reason" json:"reason"`
	PreState     Payload         `db:"pre_state" json:"pre_state"`
	PostState    Payload         `db:"post_state" json:"post_state"`
	DedupCount   int             `db:"dedup_count" json:"dedup_count"`
	ErrorMessage *string         `db:"error_message" json:"error_message"`
	ExpiresAt    time.Time       `db:"expires_at" json:"expires_at"`
	DeliveredAt  *time.Time      `db:"delivered_at" json:"delivered_at"`
	AckedAt      *time.Time      `db:"acked_at" json:"acked_at"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

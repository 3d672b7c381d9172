package types

import (
	"time"
)

// InstanceRole represents the role an instance plays for its agent
type InstanceRole string

const (
	RolePrimary InstanceRole = "PRIMARY"
	RoleReplica InstanceRole = "REPLICA"
	RoleZombie  InstanceRole = "ZOMBIE"
)

// InstanceStatus represents the lifecycle state of an instance
type InstanceStatus string

const (
	InstanceStatusLaunching   InstanceStatus = "LAUNCHING"
	InstanceStatusRunning     InstanceStatus = "RUNNING"
	InstanceStatusPromoting   InstanceStatus = "PROMOTING"
	InstanceStatusZombie      InstanceStatus = "ZOMBIE"
	InstanceStatusTerminating InstanceStatus = "TERMINATING"
	InstanceStatusTerminated  InstanceStatus = "TERMINATED"
)

// Terminal reports whether the status is a terminal lifecycle state
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusTerminated
}

// CapacityMode represents the billing tier an instance runs on
type CapacityMode string

const (
	ModeDiscounted CapacityMode = "discounted"
	ModeStable     CapacityMode = "stable"
)

// Instance represents one monitored compute instance.
// The row ID is the stable logical identity; ProviderID is the
// provider-assigned identifier of the machine currently backing it.
type Instance struct {
	ID                     string         `db:"id" json:"id"`
	AgentID                string         `db:"agent_id" json:"agent_id"`
	ProviderID             string         `db:"provider_id" json:"provider_id"`
	Role                   InstanceRole   `db:"role" json:"role"`
	Status                 InstanceStatus `db:"status" json:"status"`
	Mode                   CapacityMode   `db:"mode" json:"mode"`
	PoolID                 string         `db:"pool_id" json:"pool_id"`
	Version                int64          `db:"version" json:"version"`
	LaunchRequestedAt      *time.Time     `db:"launch_requested_at" json:"launch_requested_at"`
	LaunchConfirmedAt      *time.Time     `db:"launch_confirmed_at" json:"launch_confirmed_at"`
	TerminationRequestedAt *time.Time     `db:"termination_requested_at" json:"termination_requested_at"`
	TerminationConfirmedAt *time.Time     `db:"termination_confirmed_at" json:"termination_confirmed_at"`
	LastHeartbeatAt        *time.Time     `db:"last_heartbeat_at" json:"last_heartbeat_at"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at" json:"updated_at"`
}

// LaunchDurationSeconds returns the time from launch request to confirmation,
// or 0 if the launch has not been confirmed
func (i *Instance) LaunchDurationSeconds() float64 {
	if i.LaunchRequestedAt == nil || i.LaunchConfirmedAt == nil {
		return 0
	}
	return i.LaunchConfirmedAt.Sub(*i.LaunchRequestedAt).Seconds()
}

// TerminationDurationSeconds returns the time from termination request to
// confirmation, or 0 if the termination has not been confirmed
func (i *Instance) TerminationDurationSeconds() float64 {
	if i.TerminationRequestedAt == nil || i.TerminationConfirmedAt == nil {
		return 0
	}
	return i.TerminationConfirmedAt.Sub(*i.TerminationRequestedAt).Seconds()
}

// ReplicaStatus represents the lifecycle state of a standby replica record
type ReplicaStatus string

const (
	ReplicaStatusLaunching ReplicaStatus = "LAUNCHING"
	ReplicaStatusReady     ReplicaStatus = "READY"
	ReplicaStatusPromoted  ReplicaStatus = "PROMOTED"
	ReplicaStatusAborted   ReplicaStatus = "ABORTED"
)

// Terminal reports whether the replica can no longer be promoted
func (s ReplicaStatus) Terminal() bool {
	return s == ReplicaStatusPromoted || s == ReplicaStatusAborted
}

// CreationReason records why a replica was created
type CreationReason string

const (
	ReasonManual    CreationReason = "manual"
	ReasonEmergency CreationReason = "emergency"
)

// SyncStatus reports how far a replica lags its primary
type SyncStatus string

const (
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusInSync  SyncStatus = "in_sync"
	SyncStatusLagging SyncStatus = "lagging"
)

// Replica represents a standby instance kept ready to assume primary duties.
// At most one non-terminal replica exists per agent; RequestID makes
// emergency creation idempotent.
type Replica struct {
	ID              string         `db:"id" json:"id"`
	AgentID         string         `db:"agent_id" json:"agent_id"`
	InstanceID      string         `db:"instance_id" json:"instance_id"`
	Status          ReplicaStatus  `db:"status" json:"status"`
	CreationReason  CreationReason `db:"creation_reason" json:"creation_reason"`
	SyncStatus      SyncStatus     `db:"sync_status" json:"sync_status"`
	BootTimeSeconds *float64       `db:"boot_time_seconds" json:"boot_time_seconds"`
	RequestID       string         `db:"request_id" json:"request_id"`
	Version         int64          `db:"version" json:"version"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
	PromotedAt      *time.Time     `db:"promoted_at" json:"promoted_at"`
}

package types

import "time"

// Agent represents one logical reporting agent: the stable identity that
// survives instance replacement. Mode flags are mutually exclusive; the
// store enforces this with conditional updates.
type Agent struct {
	ID                   string     `db:"id" json:"id"`
	Name                 string     `db:"name" json:"name"`
	ClientID             string     `db:"client_id" json:"client_id"`
	APIKeyHash           string     `db:"api_key_hash" json:"-"`
	ManualReplicaEnabled bool       `db:"manual_replica_enabled" json:"manual_replica_enabled"`
	EmergencyAutoEnabled bool       `db:"emergency_auto_enabled" json:"emergency_auto_enabled"`
	ConfigVersion        int64      `db:"config_version" json:"config_version"`
	FastestBootPool      *string    `db:"fastest_boot_pool" json:"fastest_boot_pool"`
	FastestBootSeconds   *float64   `db:"fastest_boot_seconds" json:"fastest_boot_seconds"`
	LastSeenAt           *time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// ReplicaMode names the replica management mode an agent runs in
type ReplicaMode string

const (
	ReplicaModeOff       ReplicaMode = "off"
	ReplicaModeManual    ReplicaMode = "manual"
	ReplicaModeEmergency ReplicaMode = "emergency"
)

// Mode derives the active replica mode from the flag pair. Both flags set
// at once is an invariant violation detected by the reaper; this accessor
// reports manual in that case so read paths stay deterministic.
func (a *Agent) Mode() ReplicaMode {
	switch {
	case a.ManualReplicaEnabled:
		return ReplicaModeManual
	case a.EmergencyAutoEnabled:
		return ReplicaModeEmergency
	default:
		return ReplicaModeOff
	}
}

// AgentConfig is the config snapshot delivered alongside heartbeat
// responses. Agents cache it and re-pull when the version bumps.
type AgentConfig struct {
	Version              int64       `json:"version"`
	ReplicaMode          ReplicaMode `json:"replica_mode"`
	HeartbeatIntervalSec int         `json:"heartbeat_interval_sec"`
	PriceReportIntervalSec int       `json:"price_report_interval_sec"`
}

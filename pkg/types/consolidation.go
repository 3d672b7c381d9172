package types

import "time"

// ConsolidationStatus represents the state of a consolidation run
type ConsolidationStatus string

const (
	ConsolidationStatusRunning   ConsolidationStatus = "RUNNING"
	ConsolidationStatusCompleted ConsolidationStatus = "COMPLETED"
	ConsolidationStatusFailed    ConsolidationStatus = "FAILED"
)

// ConsolidationTrigger records what started a run
type ConsolidationTrigger string

const (
	TriggerScheduled ConsolidationTrigger = "scheduled"
	TriggerCatchup   ConsolidationTrigger = "catchup"
)

// ConsolidationJob tracks one consolidation run. LastPool is the crash
// recovery checkpoint: pools are processed in sorted order, so a resumed
// run skips every pool up to and including it.
type ConsolidationJob struct {
	ID            string               `db:"id" json:"id"`
	Status        ConsolidationStatus  `db:"status" json:"status"`
	Trigger       ConsolidationTrigger `db:"trigger" json:"trigger"`
	WindowFrom    time.Time            `db:"window_from" json:"window_from"`
	WindowTo      time.Time            `db:"window_to" json:"window_to"`
	LastPool      *string              `db:"last_pool" json:"last_pool"`
	PoolCount     int                  `db:"pool_count" json:"pool_count"`
	SampleCount   int                  `db:"sample_count" json:"sample_count"`
	WrittenCount  int                  `db:"written_count" json:"written_count"`
	GapCount      int                  `db:"gap_count" json:"gap_count"`
	ErrorMessage  *string              `db:"error_message" json:"error_message"`
	HeartbeatAt   time.Time            `db:"heartbeat_at" json:"heartbeat_at"`
	StartedAt     time.Time            `db:"started_at" json:"started_at"`
	EndedAt       *time.Time           `db:"ended_at" json:"ended_at"`
}

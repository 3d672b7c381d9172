package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceRole declares which side of a primary/replica pair reported a sample
type SourceRole string

const (
	SourcePrimary SourceRole = "primary"
	SourceReplica SourceRole = "replica"
)

// PriceSample is one raw telemetry tuple. Immutable once stored; samples
// arrive out of order and may duplicate across reporters.
type PriceSample struct {
	ID         string          `db:"id" json:"id"`
	PoolID     string          `db:"pool_id" json:"pool_id"`
	AgentID    string          `db:"agent_id" json:"agent_id"`
	SourceRole SourceRole      `db:"source_role" json:"source_role"`
	Price      decimal.Decimal `db:"price" json:"price"`
	CapturedAt time.Time       `db:"captured_at" json:"captured_at"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// PricePoint is one record of the canonical pricing tier: exactly one per
// (pool_id, bucket). Written only by the consolidator.
type PricePoint struct {
	PoolID       string          `db:"pool_id" json:"pool_id"`
	Bucket       time.Time       `db:"bucket" json:"bucket"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Confidence   float64         `db:"confidence" json:"confidence"`
	Interpolated bool            `db:"interpolated" json:"interpolated"`
	SourceCount  int             `db:"source_count" json:"source_count"`
	JobID        string          `db:"job_id" json:"job_id"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// PriceGap reports a stretch of buckets too wide to interpolate safely.
// Gaps are surfaced, never filled with fabricated data.
type PriceGap struct {
	PoolID  string    `json:"pool_id"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Buckets int       `json:"buckets"`
}

// Package decision answers one question: should an instance stay in its
// pool or switch to a cheaper one. Providers are advisory and read-only;
// nothing in this package mutates instance state. A deterministic rules
// provider always backs the configured provider, so a slow or failing
// provider degrades to a local answer instead of an error.
package decision

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spotguard/spotguard/pkg/types"
)

// Action is a provider's verdict
type Action string

const (
	ActionStay   Action = "stay"
	ActionSwitch Action = "switch"
)

// PoolQuote is one pool's current consolidated price alongside its
// configured stable rate
type PoolQuote struct {
	PoolID     string          `json:"pool_id"`
	Discounted decimal.Decimal `json:"discounted"`
	Stable     decimal.Decimal `json:"stable"`
	Confidence float64         `json:"confidence"`
	Bucket     time.Time       `json:"bucket"`
}

// Input is everything a provider may consider for one instance
type Input struct {
	Instance      *types.Instance `json:"instance"`
	CurrentPool   string          `json:"current_pool"`
	EnteredPoolAt time.Time       `json:"entered_pool_at"`
	Candidates    []PoolQuote     `json:"candidates"`
	AskedAt       time.Time       `json:"asked_at"`
}

// Recommendation is a provider's advisory answer
type Recommendation struct {
	Action     Action  `json:"action"`
	TargetPool string  `json:"target_pool,omitempty"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

// Provider produces a recommendation for one instance
type Provider interface {
	Name() string
	Decide(ctx context.Context, input *Input) (*Recommendation, error)
}

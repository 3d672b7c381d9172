package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spotguard/spotguard/internal/config"
)

// RulesProvider is the deterministic local provider. It recommends a
// switch only when a candidate's discounted price undercuts the switch
// ratio of its stable rate, the candidate beats the current pool's price,
// and the instance has dwelled long enough for the move to pay off.
// It never returns an error, which is what makes it a safe fallback.
type RulesProvider struct {
	switchRatio decimal.Decimal
	minDwell    time.Duration
}

// NewRulesProvider creates the rules provider from configuration
func NewRulesProvider(cfg config.DecisionConfig) (*RulesProvider, error) {
	ratio, err := decimal.NewFromString(cfg.SwitchRatio)
	if err != nil {
		return nil, fmt.Errorf("parse switch ratio %q: %w", cfg.SwitchRatio, err)
	}
	if !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("switch ratio must be in (0, 1], got %s", ratio)
	}

	return &RulesProvider{
		switchRatio: ratio,
		minDwell:    cfg.MinDwell,
	}, nil
}

// Name identifies the provider in audit records
func (p *RulesProvider) Name() string { return "rules" }

// Decide applies the threshold rule
func (p *RulesProvider) Decide(_ context.Context, input *Input) (*Recommendation, error) {
	stay := func(reason string) (*Recommendation, error) {
		return &Recommendation{
			Action:     ActionStay,
			Reason:     reason,
			Confidence: 1.0,
			Provider:   p.Name(),
		}, nil
	}

	if dwell := input.AskedAt.Sub(input.EnteredPoolAt); dwell < p.minDwell {
		return stay(fmt.Sprintf("dwell %s below minimum %s", dwell.Round(time.Second), p.minDwell))
	}

	var current *PoolQuote
	for i := range input.Candidates {
		if input.Candidates[i].PoolID == input.CurrentPool {
			current = &input.Candidates[i]
			break
		}
	}

	// Cheapest candidate that clears the ratio threshold against its own
	// stable rate
	var best *PoolQuote
	for i := range input.Candidates {
		quote := &input.Candidates[i]
		if quote.PoolID == input.CurrentPool {
			continue
		}
		if quote.Discounted.GreaterThanOrEqual(p.switchRatio.Mul(quote.Stable)) {
			continue
		}
		if best == nil || quote.Discounted.LessThan(best.Discounted) {
			best = quote
		}
	}

	if best == nil {
		return stay("no candidate pool clears the switch threshold")
	}

	if current != nil && best.Discounted.GreaterThanOrEqual(current.Discounted) {
		return stay(fmt.Sprintf("current pool %s already cheapest at %s", input.CurrentPool, current.Discounted))
	}

	return &Recommendation{
		Action:     ActionSwitch,
		TargetPool: best.PoolID,
		Reason: fmt.Sprintf("pool %s at %s undercuts %s of its stable rate %s",
			best.PoolID, best.Discounted, p.switchRatio, best.Stable),
		Confidence: best.Confidence,
		Provider:   p.Name(),
	}, nil
}

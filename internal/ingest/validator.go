// Package ingest validates raw pricing telemetry before it reaches the
// append-only sample tier. Reports are checked against the pool catalog
// and sanity bounds; accepted samples are stored verbatim, rejected ones
// are counted and returned with a reason. Ingestion never consolidates
// and never mutates existing samples.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/pkg/types"
)

var (
	// ErrUnknownPool means the reported pool is not in the catalog
	ErrUnknownPool = errors.New("unknown pool")

	// ErrPriceOutOfRange means the price fell outside the configured bounds
	ErrPriceOutOfRange = errors.New("price out of range")

	// ErrFutureSample means the capture timestamp is too far ahead of now
	ErrFutureSample = errors.New("sample timestamp in the future")

	// ErrStaleSample means the sample is older than the acceptance window
	ErrStaleSample = errors.New("sample too old")

	// ErrBadSourceRole means the source role is neither primary nor replica
	ErrBadSourceRole = errors.New("invalid source role")

	// ErrRateLimited means the agent exceeded its report budget
	ErrRateLimited = errors.New("rate limit exceeded")
)

// PoolChecker reports whether a pool name is known and enabled
type PoolChecker interface {
	Exists(name string) bool
}

// SampleAppender persists accepted samples
type SampleAppender interface {
	Append(ctx context.Context, sample *types.PriceSample) error
}

// Report is one incoming price observation before validation
type Report struct {
	PoolID     string           `json:"pool_id"`
	SourceRole types.SourceRole `json:"source_role"`
	Price      decimal.Decimal  `json:"price"`
	CapturedAt time.Time        `json:"captured_at"`
}

// Rejection pairs a rejected report with the reason it was refused
type Rejection struct {
	Report Report `json:"report"`
	Reason string `json:"reason"`
}

// BatchResult summarizes one ingested report batch
type BatchResult struct {
	Accepted []*types.PriceSample `json:"-"`
	Rejected []Rejection          `json:"rejected"`
}

// Validator screens incoming reports and appends the survivors
type Validator struct {
	minPrice      decimal.Decimal
	maxPrice      decimal.Decimal
	maxFutureSkew time.Duration
	maxAge        time.Duration

	pools    PoolChecker
	samples  SampleAppender
	limiters *agentLimiters

	now func() time.Time
}

// NewValidator creates a validator from the ingest configuration
func NewValidator(cfg config.IngestConfig, pools PoolChecker, samples SampleAppender) (*Validator, error) {
	minPrice, err := decimal.NewFromString(cfg.MinPrice)
	if err != nil {
		return nil, fmt.Errorf("parse min price %q: %w", cfg.MinPrice, err)
	}

	maxPrice, err := decimal.NewFromString(cfg.MaxPrice)
	if err != nil {
		return nil, fmt.Errorf("parse max price %q: %w", cfg.MaxPrice, err)
	}

	if maxPrice.LessThanOrEqual(minPrice) {
		return nil, fmt.Errorf("max price %s must exceed min price %s", maxPrice, minPrice)
	}

	return &Validator{
		minPrice:      minPrice,
		maxPrice:      maxPrice,
		maxFutureSkew: cfg.MaxFutureSkew,
		maxAge:        cfg.MaxAge,
		pools:         pools,
		samples:       samples,
		limiters:      newAgentLimiters(cfg.RatePerAgent, cfg.RateBurst),
		now:           time.Now,
	}, nil
}

// Ingest validates a single report and appends it on success
func (v *Validator) Ingest(ctx context.Context, agentID string, report Report) (*types.PriceSample, error) {
	if !v.limiters.Allow(agentID) {
		return nil, ErrRateLimited
	}

	if err := v.check(report); err != nil {
		return nil, err
	}

	sample := &types.PriceSample{
		ID:         types.GenerateSampleID(),
		PoolID:     report.PoolID,
		AgentID:    agentID,
		SourceRole: report.SourceRole,
		Price:      report.Price,
		CapturedAt: report.CapturedAt.UTC(),
	}

	if err := v.samples.Append(ctx, sample); err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}

	return sample, nil
}

// IngestBatch validates a batch of reports. Invalid entries are collected
// with their rejection reason; they never block the valid ones. The whole
// batch counts as one unit against the agent's rate budget.
func (v *Validator) IngestBatch(ctx context.Context, agentID string, reports []Report) (*BatchResult, error) {
	if !v.limiters.Allow(agentID) {
		return nil, ErrRateLimited
	}

	result := &BatchResult{}
	for _, report := range reports {
		if err := v.check(report); err != nil {
			result.Rejected = append(result.Rejected, Rejection{Report: report, Reason: err.Error()})
			continue
		}

		sample := &types.PriceSample{
			ID:         types.GenerateSampleID(),
			PoolID:     report.PoolID,
			AgentID:    agentID,
			SourceRole: report.SourceRole,
			Price:      report.Price,
			CapturedAt: report.CapturedAt.UTC(),
		}

		if err := v.samples.Append(ctx, sample); err != nil {
			return nil, fmt.Errorf("append sample: %w", err)
		}

		result.Accepted = append(result.Accepted, sample)
	}

	return result, nil
}

// check applies the validation rules shared by single and batch ingestion
func (v *Validator) check(report Report) error {
	if report.SourceRole != types.SourcePrimary && report.SourceRole != types.SourceReplica {
		return fmt.Errorf("%w: %q", ErrBadSourceRole, report.SourceRole)
	}

	if !v.pools.Exists(report.PoolID) {
		return fmt.Errorf("%w: %s", ErrUnknownPool, report.PoolID)
	}

	if report.Price.LessThan(v.minPrice) || report.Price.GreaterThan(v.maxPrice) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrPriceOutOfRange, report.Price, v.minPrice, v.maxPrice)
	}

	now := v.now()
	if report.CapturedAt.After(now.Add(v.maxFutureSkew)) {
		return fmt.Errorf("%w: captured %s", ErrFutureSample, report.CapturedAt.Format(time.RFC3339))
	}
	if report.CapturedAt.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("%w: captured %s", ErrStaleSample, report.CapturedAt.Format(time.RFC3339))
	}

	return nil
}

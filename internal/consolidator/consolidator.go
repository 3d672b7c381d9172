// Package consolidator turns raw price samples into the canonical pricing
// tier: one point per (pool, bucket), with a confidence score and explicit
// gap reports. Consolidation is deterministic: the same raw samples always
// produce the same points regardless of arrival order or how many runs it
// takes to cover a window.
package consolidator

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/pkg/types"
)

// Confidence levels for measured buckets. Interpolated buckets decay from
// full confidence with distance to the nearest measured bucket.
const (
	confidenceAgreed    = 1.0
	confidenceDisagreed = 0.8
)

// Params holds the parsed consolidation tuning values
type Params struct {
	BucketWidth     time.Duration
	MaxGap          time.Duration
	Tolerance       decimal.Decimal
	ConfidenceDecay float64
	ConfidenceFloor float64
}

// NewParams parses the consolidator configuration
func NewParams(cfg config.ConsolidatorConfig) (Params, error) {
	tolerance, err := decimal.NewFromString(cfg.DisagreementTolerance)
	if err != nil {
		return Params{}, fmt.Errorf("parse disagreement tolerance %q: %w", cfg.DisagreementTolerance, err)
	}
	if cfg.BucketWidth <= 0 {
		return Params{}, fmt.Errorf("bucket width must be positive, got %s", cfg.BucketWidth)
	}

	return Params{
		BucketWidth:     cfg.BucketWidth,
		MaxGap:          cfg.MaxGap,
		Tolerance:       tolerance,
		ConfidenceDecay: cfg.ConfidenceDecay,
		ConfidenceFloor: cfg.ConfidenceFloor,
	}, nil
}

// maxGapBuckets is the widest run of empty buckets interpolation may fill
func (p Params) maxGapBuckets() int {
	return int(p.MaxGap / p.BucketWidth)
}

// Consolidate reduces one pool's raw samples over [from, to) to canonical
// price points plus gap reports. Samples outside the window are ignored.
func Consolidate(poolID string, samples []*types.PriceSample, from, to time.Time, params Params) ([]*types.PricePoint, []types.PriceGap) {
	from = from.Truncate(params.BucketWidth)
	to = to.Truncate(params.BucketWidth)
	if !to.After(from) {
		return nil, nil
	}

	nBuckets := int(to.Sub(from) / params.BucketWidth)

	// Group samples into buckets, split by source role
	type bucketSamples struct {
		primary []decimal.Decimal
		replica []decimal.Decimal
	}
	buckets := make(map[int]*bucketSamples)
	for _, sample := range samples {
		capturedAt := sample.CapturedAt.UTC()
		if capturedAt.Before(from) || !capturedAt.Before(to) {
			continue
		}
		idx := int(capturedAt.Sub(from) / params.BucketWidth)

		bs, ok := buckets[idx]
		if !ok {
			bs = &bucketSamples{}
			buckets[idx] = bs
		}
		switch sample.SourceRole {
		case types.SourceReplica:
			bs.replica = append(bs.replica, sample.Price)
		default:
			bs.primary = append(bs.primary, sample.Price)
		}
	}

	// Resolve each measured bucket to one point
	points := make([]*types.PricePoint, nBuckets)
	for idx, bs := range buckets {
		points[idx] = resolveBucket(poolID, from.Add(time.Duration(idx)*params.BucketWidth), bs.primary, bs.replica, params)
	}

	// Fill or report the empty stretches
	gaps := interpolate(poolID, points, from, params)

	result := make([]*types.PricePoint, 0, nBuckets)
	for _, point := range points {
		if point != nil {
			result = append(result, point)
		}
	}

	return result, gaps
}

// resolveBucket collapses one bucket's samples to a single point. With
// both roles reporting, the point is the mean of the per-role averages;
// disagreement beyond the tolerance lowers confidence but still averages,
// because neither source is authoritative over the other.
func resolveBucket(poolID string, bucket time.Time, primary, replica []decimal.Decimal, params Params) *types.PricePoint {
	point := &types.PricePoint{
		PoolID: poolID,
		Bucket: bucket,
	}

	switch {
	case len(primary) > 0 && len(replica) > 0:
		primaryAvg := mean(primary)
		replicaAvg := mean(replica)
		point.Price = primaryAvg.Add(replicaAvg).Div(decimal.NewFromInt(2))
		point.SourceCount = 2
		if primaryAvg.Sub(replicaAvg).Abs().GreaterThan(params.Tolerance) {
			point.Confidence = confidenceDisagreed
		} else {
			point.Confidence = confidenceAgreed
		}
	case len(primary) > 0:
		point.Price = mean(primary)
		point.SourceCount = 1
		point.Confidence = confidenceAgreed
	default:
		point.Price = mean(replica)
		point.SourceCount = 1
		point.Confidence = confidenceAgreed
	}

	return point
}

// interpolate fills interior empty runs no wider than the gap limit with
// linearly interpolated points and returns the runs it refused to fill.
// Runs at the window edges have only one measured neighbor, so they are
// always reported, never fabricated.
func interpolate(poolID string, points []*types.PricePoint, from time.Time, params Params) []types.PriceGap {
	measured := []int{}
	for idx, point := range points {
		if point != nil {
			measured = append(measured, idx)
		}
	}

	gaps := []types.PriceGap{}
	reportGap := func(start, end int) {
		gaps = append(gaps, types.PriceGap{
			PoolID:  poolID,
			From:    from.Add(time.Duration(start) * params.BucketWidth),
			To:      from.Add(time.Duration(end+1) * params.BucketWidth),
			Buckets: end - start + 1,
		})
	}

	if len(measured) == 0 {
		if len(points) > 0 {
			reportGap(0, len(points)-1)
		}
		return gaps
	}

	// Leading and trailing runs
	if measured[0] > 0 {
		reportGap(0, measured[0]-1)
	}
	if last := measured[len(measured)-1]; last < len(points)-1 {
		reportGap(last+1, len(points)-1)
	}

	// Interior runs between consecutive measured buckets
	for i := 0; i < len(measured)-1; i++ {
		left, right := measured[i], measured[i+1]
		run := right - left - 1
		if run == 0 {
			continue
		}
		if run > params.maxGapBuckets() {
			reportGap(left+1, right-1)
			continue
		}

		leftPrice := points[left].Price
		step := points[right].Price.Sub(leftPrice).Div(decimal.NewFromInt(int64(right - left)))
		for idx := left + 1; idx < right; idx++ {
			offset := idx - left

			// Confidence decays with distance to the NEAREST measured
			// bucket, the price follows the line between both neighbors
			distance := offset
			if right-idx < distance {
				distance = right - idx
			}
			confidence := confidenceAgreed - params.ConfidenceDecay*float64(distance)
			if confidence < params.ConfidenceFloor {
				confidence = params.ConfidenceFloor
			}

			points[idx] = &types.PricePoint{
				PoolID:       poolID,
				Bucket:       from.Add(time.Duration(idx) * params.BucketWidth),
				Price:        leftPrice.Add(step.Mul(decimal.NewFromInt(int64(offset)))),
				Confidence:   confidence,
				Interpolated: true,
				SourceCount:  0,
			}
		}
	}

	sort.Slice(gaps, func(i, j int) bool { return gaps[i].From.Before(gaps[j].From) })
	return gaps
}

func mean(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

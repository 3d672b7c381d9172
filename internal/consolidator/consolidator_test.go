package consolidator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/pkg/types"
)

var windowStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testParams(t *testing.T) Params {
	t.Helper()
	params, err := NewParams(config.ConsolidatorConfig{
		BucketWidth:           5 * time.Minute,
		MaxGap:                30 * time.Minute,
		DisagreementTolerance: "0.001",
		ConfidenceDecay:       0.1,
		ConfidenceFloor:       0.5,
	})
	require.NoError(t, err)
	return params
}

func sample(role types.SourceRole, price string, offset time.Duration) *types.PriceSample {
	return &types.PriceSample{
		ID:         types.GenerateSampleID(),
		PoolID:     "pool-a",
		AgentID:    "agt_1",
		SourceRole: role,
		Price:      decimal.RequireFromString(price),
		CapturedAt: windowStart.Add(offset),
	}
}

func TestConsolidate_SingleBucket(t *testing.T) {
	params := testParams(t)
	end := windowStart.Add(5 * time.Minute)

	t.Run("sources within tolerance get full confidence", func(t *testing.T) {
		points, gaps := Consolidate("pool-a", []*types.PriceSample{
			sample(types.SourcePrimary, "0.0500", time.Minute),
			sample(types.SourceReplica, "0.0508", 2*time.Minute),
		}, windowStart, end, params)

		require.Len(t, points, 1)
		assert.Empty(t, gaps)
		assert.True(t, points[0].Price.Equal(decimal.RequireFromString("0.0504")))
		assert.Equal(t, 1.0, points[0].Confidence)
		assert.Equal(t, 2, points[0].SourceCount)
		assert.False(t, points[0].Interpolated)
	})

	t.Run("disagreeing sources average with reduced confidence", func(t *testing.T) {
		points, _ := Consolidate("pool-a", []*types.PriceSample{
			sample(types.SourcePrimary, "0.050", time.Minute),
			sample(types.SourceReplica, "0.052", 2*time.Minute),
		}, windowStart, end, params)

		require.Len(t, points, 1)
		assert.True(t, points[0].Price.Equal(decimal.RequireFromString("0.051")))
		assert.Equal(t, 0.8, points[0].Confidence)
		assert.Equal(t, 2, points[0].SourceCount)
	})

	t.Run("single source keeps full confidence", func(t *testing.T) {
		points, _ := Consolidate("pool-a", []*types.PriceSample{
			sample(types.SourceReplica, "0.042", time.Minute),
		}, windowStart, end, params)

		require.Len(t, points, 1)
		assert.Equal(t, 1.0, points[0].Confidence)
		assert.Equal(t, 1, points[0].SourceCount)
	})

	t.Run("duplicate reports from one role average within the role", func(t *testing.T) {
		points, _ := Consolidate("pool-a", []*types.PriceSample{
			sample(types.SourcePrimary, "0.04", time.Minute),
			sample(types.SourcePrimary, "0.06", 3*time.Minute),
		}, windowStart, end, params)

		require.Len(t, points, 1)
		assert.True(t, points[0].Price.Equal(decimal.RequireFromString("0.05")))
		assert.Equal(t, 1, points[0].SourceCount)
	})
}

func TestConsolidate_Interpolation(t *testing.T) {
	params := testParams(t)

	t.Run("short gap is filled linearly with decaying confidence", func(t *testing.T) {
		// Measured 0.05 at bucket 0 and 0.09 at bucket 4, buckets 1-3 empty
		points, gaps := Consolidate("pool-a", []*types.PriceSample{
			sample(types.SourcePrimary, "0.05", time.Minute),
			sample(types.SourcePrimary, "0.09", 21*time.Minute),
		}, windowStart, windowStart.Add(25*time.Minute), params)

		require.Len(t, points, 5)
		assert.Empty(t, gaps)

		wantPrice := []string{"0.05", "0.06", "0.07", "0.08", "0.09"}
		wantConfidence := []float64{1.0, 0.9, 0.8, 0.9, 1.0}
		for i, point := range points {
			assert.True(t, point.Price.Equal(decimal.RequireFromString(wantPrice[i])),
				"bucket %d: want %s got %s", i, wantPrice[i], point.Price)
			assert.InDelta(t, wantConfidence[i], point.Confidence, 1e-9, "bucket %d", i)
			assert.Equal(t, i != 0 && i != 4, point.Interpolated, "bucket %d", i)
		}
	})

	t.Run("confidence never drops below the floor", func(t *testing.T) {
		// Six empty buckets: the middle ones would decay past 0.5
		points, gaps := Consolidate("pool-a", []*types.PriceSample{
			sample(types.SourcePrimary, "0.05", time.Minute),
			sample(types.SourcePrimary, "0.12", 36*time.Minute),
		}, windowStart, windowStart.Add(40*time.Minute), params)

		require.Len(t, points, 8)
		assert.Empty(t, gaps)
		for _, point := range points {
			assert.GreaterOrEqual(t, point.Confidence, 0.5, "bucket %s", point.Bucket)
		}
	})

	t.Run("gap wider than the limit is reported not filled", func(t *testing.T) {
		// Seven empty buckets exceeds the 30m/6-bucket limit
		points, gaps := Consolidate("pool-a", []*types.PriceSample{
			sample(types.SourcePrimary, "0.05", time.Minute),
			sample(types.SourcePrimary, "0.09", 41*time.Minute),
		}, windowStart, windowStart.Add(45*time.Minute), params)

		assert.Len(t, points, 2)
		require.Len(t, gaps, 1)
		assert.Equal(t, 7, gaps[0].Buckets)
		assert.Equal(t, windowStart.Add(5*time.Minute), gaps[0].From)
		assert.Equal(t, windowStart.Add(40*time.Minute), gaps[0].To)
	})

	t.Run("edge gaps are reported never fabricated", func(t *testing.T) {
		points, gaps := Consolidate("pool-a", []*types.PriceSample{
			sample(types.SourcePrimary, "0.05", 11*time.Minute),
		}, windowStart, windowStart.Add(20*time.Minute), params)

		assert.Len(t, points, 1)
		require.Len(t, gaps, 2)
		assert.Equal(t, 2, gaps[0].Buckets)
		assert.Equal(t, 1, gaps[1].Buckets)
	})

	t.Run("window with no samples is one gap", func(t *testing.T) {
		points, gaps := Consolidate("pool-a", nil, windowStart, windowStart.Add(15*time.Minute), params)

		assert.Empty(t, points)
		require.Len(t, gaps, 1)
		assert.Equal(t, 3, gaps[0].Buckets)
	})
}

func TestConsolidate_Determinism(t *testing.T) {
	params := testParams(t)
	end := windowStart.Add(30 * time.Minute)

	samples := []*types.PriceSample{
		sample(types.SourcePrimary, "0.05", time.Minute),
		sample(types.SourceReplica, "0.07", 2*time.Minute),
		sample(types.SourcePrimary, "0.055", 12*time.Minute),
		sample(types.SourceReplica, "0.056", 13*time.Minute),
		sample(types.SourcePrimary, "0.06", 27*time.Minute),
	}
	reversed := make([]*types.PriceSample, len(samples))
	for i, s := range samples {
		reversed[len(samples)-1-i] = s
	}

	forward, forwardGaps := Consolidate("pool-a", samples, windowStart, end, params)
	backward, backwardGaps := Consolidate("pool-a", reversed, windowStart, end, params)

	require.Equal(t, len(forward), len(backward))
	for i := range forward {
		assert.True(t, forward[i].Price.Equal(backward[i].Price), "bucket %d", i)
		assert.Equal(t, forward[i].Confidence, backward[i].Confidence, "bucket %d", i)
		assert.Equal(t, forward[i].Bucket, backward[i].Bucket, "bucket %d", i)
	}
	assert.Equal(t, forwardGaps, backwardGaps)
}

func TestConsolidate_WindowBounds(t *testing.T) {
	params := testParams(t)

	// Samples outside [from, to) are ignored
	points, _ := Consolidate("pool-a", []*types.PriceSample{
		sample(types.SourcePrimary, "0.05", -time.Minute),
		sample(types.SourcePrimary, "0.06", time.Minute),
		sample(types.SourcePrimary, "0.07", 5*time.Minute),
	}, windowStart, windowStart.Add(5*time.Minute), params)

	require.Len(t, points, 1)
	assert.True(t, points[0].Price.Equal(decimal.RequireFromString("0.06")))
}

func TestNewParams(t *testing.T) {
	t.Run("rejects bad tolerance", func(t *testing.T) {
		_, err := NewParams(config.ConsolidatorConfig{
			BucketWidth:           5 * time.Minute,
			DisagreementTolerance: "narrow",
		})
		assert.Error(t, err)
	})

	t.Run("rejects zero bucket width", func(t *testing.T) {
		_, err := NewParams(config.ConsolidatorConfig{
			DisagreementTolerance: "0.001",
		})
		assert.Error(t, err)
	})
}

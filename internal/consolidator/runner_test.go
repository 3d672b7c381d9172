package consolidator

import (
	"context"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

// Runner tests need a real PostgreSQL via TEST_DATABASE_URL, like the
// store integration tests.

func setupRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	st, err := store.NewStore(url)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))

	runner, err := NewRunner(st, config.ConsolidatorConfig{
		Interval:              6 * time.Hour,
		BucketWidth:           5 * time.Minute,
		MaxGap:                30 * time.Minute,
		DisagreementTolerance: "0.001",
		ConfidenceDecay:       0.1,
		ConfidenceFloor:       0.5,
		StaleAfter:            30 * time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)

	return runner, st
}

// testWindow returns a distinct historical window per invocation, so runs
// against a shared database never see each other's samples
func testWindow() (time.Time, time.Time) {
	from := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC).
		Add(time.Duration(rand.Int63n(8760*40)) * time.Hour)
	return from, from.Add(10 * time.Minute)
}

func appendSample(t *testing.T, st *store.Store, poolID, price string, at time.Time) {
	t.Helper()
	require.NoError(t, st.Samples.Append(context.Background(), &types.PriceSample{
		ID:         types.GenerateSampleID(),
		PoolID:     poolID,
		AgentID:    "agt_consolidation_test",
		SourceRole: types.SourcePrimary,
		Price:      decimal.RequireFromString(price),
		CapturedAt: at,
	}))
}

func TestRunWindow_CountersAreExact(t *testing.T) {
	runner, st := setupRunner(t)
	ctx := context.Background()

	from, to := testWindow()
	suffix := ksuid.New().String()[:8]
	poolA := "ckpt-a-" + suffix
	poolB := "ckpt-b-" + suffix

	appendSample(t, st, poolA, "0.050", from.Add(time.Minute))
	appendSample(t, st, poolA, "0.052", from.Add(6*time.Minute))
	appendSample(t, st, poolB, "0.070", from.Add(2*time.Minute))
	appendSample(t, st, poolB, "0.072", from.Add(7*time.Minute))

	job, err := runner.RunWindow(ctx, from, to, types.TriggerCatchup)
	require.NoError(t, err)

	stored, err := st.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ConsolidationStatusCompleted, stored.Status)

	// Each checkpoint adds one pool's contribution, never a running sum
	assert.Equal(t, 2, stored.PoolCount)
	assert.Equal(t, 4, stored.SampleCount)
	assert.Equal(t, 4, stored.WrittenCount)
	assert.Equal(t, 0, stored.GapCount)
	require.NotNil(t, stored.LastPool)
	assert.Equal(t, poolB, *stored.LastPool)
}

func TestRun_ResumeContinuesPastCheckpointedPool(t *testing.T) {
	runner, st := setupRunner(t)
	ctx := context.Background()

	from, to := testWindow()
	suffix := ksuid.New().String()[:8]
	poolA := "resume-a-" + suffix
	poolB := "resume-b-" + suffix

	appendSample(t, st, poolA, "0.050", from.Add(time.Minute))
	appendSample(t, st, poolA, "0.052", from.Add(6*time.Minute))
	appendSample(t, st, poolB, "0.070", from.Add(2*time.Minute))
	appendSample(t, st, poolB, "0.072", from.Add(7*time.Minute))

	job := &types.ConsolidationJob{
		ID:         types.GenerateJobID(),
		Status:     types.ConsolidationStatusRunning,
		Trigger:    types.TriggerScheduled,
		WindowFrom: from,
		WindowTo:   to,
	}
	require.NoError(t, st.Jobs.Create(ctx, job))

	// As if the run crashed right after the first pool committed
	require.NoError(t, st.Jobs.Checkpoint(ctx, job.ID, poolA, 2, 2, 0))

	resumed, err := st.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed.LastPool)

	require.NoError(t, runner.run(ctx, resumed))

	// The checkpointed pool is skipped, everything after it is written
	pointsA, err := st.PricePoints.ListRange(ctx, poolA, from, to)
	require.NoError(t, err)
	assert.Empty(t, pointsA)

	pointsB, err := st.PricePoints.ListRange(ctx, poolB, from, to)
	require.NoError(t, err)
	assert.Len(t, pointsB, 2)

	final, err := st.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.PoolCount)
	assert.Equal(t, 4, final.SampleCount)
	assert.Equal(t, 4, final.WrittenCount)
	require.NotNil(t, final.LastPool)
	assert.Equal(t, poolB, *final.LastPool)
}

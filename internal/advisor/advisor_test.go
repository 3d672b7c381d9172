package advisor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/internal/decision"
	"github.com/spotguard/spotguard/internal/pool"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

type fakeInstances struct {
	primaries []*types.Instance
}

func (f *fakeInstances) ListRunningPrimaries(_ context.Context) ([]*types.Instance, error) {
	return f.primaries, nil
}

type fakePrices struct {
	latest map[string]*types.PricePoint
}

func (f *fakePrices) Latest(_ context.Context, poolID string) (*types.PricePoint, error) {
	point, ok := f.latest[poolID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return point, nil
}

type fakeQueue struct {
	byRequestID map[string]*types.Command
	enqueued    []*types.Command
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{byRequestID: map[string]*types.Command{}}
}

func (f *fakeQueue) Enqueue(_ context.Context, cmd *types.Command) (*store.EnqueueResult, error) {
	if existing, ok := f.byRequestID[cmd.RequestID]; ok {
		existing.DedupCount++
		return &store.EnqueueResult{Command: existing, Deduped: true}, nil
	}
	f.byRequestID[cmd.RequestID] = cmd
	f.enqueued = append(f.enqueued, cmd)
	return &store.EnqueueResult{Command: cmd}, nil
}

type fakeCatalog struct {
	pools []*pool.Pool
}

func (f *fakeCatalog) List() []*pool.Pool { return f.pools }

type fakeAudit struct {
	events []*types.AuditEvent
}

func (f *fakeAudit) Log(_ context.Context, event *types.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

func testPool(name, stable string) *pool.Pool {
	return &pool.Pool{
		Name:         name,
		DisplayName:  name,
		Provider:     "aws",
		Region:       "us-east-1",
		Zone:         "us-east-1a",
		InstanceType: "m5.large",
		Enabled:      true,
		Pricing:      pool.PricingConfig{StableHourly: stable, Currency: "USD"},
	}
}

func testAdvisor(t *testing.T, instances *fakeInstances, prices *fakePrices, queue *fakeQueue, catalog *fakeCatalog) *Advisor {
	t.Helper()

	cfg := config.Default()
	gateway, err := decision.NewGateway(cfg.Decision, &fakeAudit{}, zap.NewNop())
	require.NoError(t, err)

	adv := New(instances, prices, queue, catalog, gateway, cfg.Decision, cfg.Commands, zap.NewNop())
	adv.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return adv
}

func runningPrimary(id, agentID, poolID string, launchedAgo time.Duration) *types.Instance {
	launched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(-launchedAgo)
	return &types.Instance{
		ID:                id,
		AgentID:           agentID,
		ProviderID:        "i-0123456789",
		Role:              types.RolePrimary,
		Status:            types.InstanceStatusRunning,
		Mode:              types.ModeDiscounted,
		PoolID:            poolID,
		Version:           1,
		LaunchConfirmedAt: &launched,
		CreatedAt:         launched,
	}
}

func pricePoint(poolID, price string, confidence float64) *types.PricePoint {
	return &types.PricePoint{
		PoolID:     poolID,
		Bucket:     time.Date(2026, 3, 1, 11, 55, 0, 0, time.UTC),
		Price:      decimal.RequireFromString(price),
		Confidence: confidence,
	}
}

func TestAdvisorRunOnce(t *testing.T) {
	t.Run("enqueues switch command when cheaper pool clears threshold", func(t *testing.T) {
		catalog := &fakeCatalog{pools: []*pool.Pool{
			testPool("us-east-1a", "0.20"),
			testPool("us-east-1b", "0.20"),
		}}
		prices := &fakePrices{latest: map[string]*types.PricePoint{
			"us-east-1a": pricePoint("us-east-1a", "0.15", 1.0),
			"us-east-1b": pricePoint("us-east-1b", "0.051", 0.8),
		}}
		instances := &fakeInstances{primaries: []*types.Instance{
			runningPrimary("inst_1", "agt_1", "us-east-1a", 2*time.Hour),
		}}
		queue := newFakeQueue()

		adv := testAdvisor(t, instances, prices, queue, catalog)
		require.NoError(t, adv.RunOnce(context.Background()))

		require.Len(t, queue.enqueued, 1)
		cmd := queue.enqueued[0]
		assert.Equal(t, types.CommandTypeSwitchPool, cmd.Type)
		assert.Equal(t, "agt_1", cmd.AgentID)
		assert.Equal(t, types.CommandReasonCost, cmd.Reason)
		assert.Equal(t, types.PriorityScheduled, cmd.Priority)
		assert.Equal(t, "us-east-1b", cmd.Payload["target_pool"])
		assert.GreaterOrEqual(t, cmd.Payload["confidence"].(float64), 0.8)
	})

	t.Run("re-run dedups on request id", func(t *testing.T) {
		catalog := &fakeCatalog{pools: []*pool.Pool{
			testPool("us-east-1a", "0.20"),
			testPool("us-east-1b", "0.20"),
		}}
		prices := &fakePrices{latest: map[string]*types.PricePoint{
			"us-east-1a": pricePoint("us-east-1a", "0.15", 1.0),
			"us-east-1b": pricePoint("us-east-1b", "0.051", 0.8),
		}}
		instances := &fakeInstances{primaries: []*types.Instance{
			runningPrimary("inst_1", "agt_1", "us-east-1a", 2*time.Hour),
		}}
		queue := newFakeQueue()

		adv := testAdvisor(t, instances, prices, queue, catalog)
		require.NoError(t, adv.RunOnce(context.Background()))
		require.NoError(t, adv.RunOnce(context.Background()))

		assert.Len(t, queue.enqueued, 1)
		assert.Equal(t, 1, queue.enqueued[0].DedupCount)
	})

	t.Run("no command when current pool already cheapest", func(t *testing.T) {
		catalog := &fakeCatalog{pools: []*pool.Pool{
			testPool("us-east-1a", "0.20"),
			testPool("us-east-1b", "0.20"),
		}}
		prices := &fakePrices{latest: map[string]*types.PricePoint{
			"us-east-1a": pricePoint("us-east-1a", "0.05", 1.0),
			"us-east-1b": pricePoint("us-east-1b", "0.06", 1.0),
		}}
		instances := &fakeInstances{primaries: []*types.Instance{
			runningPrimary("inst_1", "agt_1", "us-east-1a", 2*time.Hour),
		}}
		queue := newFakeQueue()

		adv := testAdvisor(t, instances, prices, queue, catalog)
		require.NoError(t, adv.RunOnce(context.Background()))

		assert.Empty(t, queue.enqueued)
	})

	t.Run("no command before minimum dwell", func(t *testing.T) {
		catalog := &fakeCatalog{pools: []*pool.Pool{
			testPool("us-east-1a", "0.20"),
			testPool("us-east-1b", "0.20"),
		}}
		prices := &fakePrices{latest: map[string]*types.PricePoint{
			"us-east-1a": pricePoint("us-east-1a", "0.15", 1.0),
			"us-east-1b": pricePoint("us-east-1b", "0.051", 0.8),
		}}
		instances := &fakeInstances{primaries: []*types.Instance{
			runningPrimary("inst_1", "agt_1", "us-east-1a", 5*time.Minute),
		}}
		queue := newFakeQueue()

		adv := testAdvisor(t, instances, prices, queue, catalog)
		require.NoError(t, adv.RunOnce(context.Background()))

		assert.Empty(t, queue.enqueued)
	})

	t.Run("pools without consolidated data are skipped", func(t *testing.T) {
		catalog := &fakeCatalog{pools: []*pool.Pool{
			testPool("us-east-1a", "0.20"),
			testPool("us-east-1b", "0.20"),
		}}
		prices := &fakePrices{latest: map[string]*types.PricePoint{
			"us-east-1a": pricePoint("us-east-1a", "0.15", 1.0),
		}}
		instances := &fakeInstances{primaries: []*types.Instance{
			runningPrimary("inst_1", "agt_1", "us-east-1a", 2*time.Hour),
		}}
		queue := newFakeQueue()

		adv := testAdvisor(t, instances, prices, queue, catalog)
		require.NoError(t, adv.RunOnce(context.Background()))

		assert.Empty(t, queue.enqueued)
	})

	t.Run("no consolidated data at all skips the sweep", func(t *testing.T) {
		catalog := &fakeCatalog{pools: []*pool.Pool{testPool("us-east-1a", "0.20")}}
		prices := &fakePrices{latest: map[string]*types.PricePoint{}}
		instances := &fakeInstances{primaries: []*types.Instance{
			runningPrimary("inst_1", "agt_1", "us-east-1a", 2*time.Hour),
		}}
		queue := newFakeQueue()

		adv := testAdvisor(t, instances, prices, queue, catalog)
		require.NoError(t, adv.RunOnce(context.Background()))

		assert.Empty(t, queue.enqueued)
	})
}

func TestAdvisorDecisionAudit(t *testing.T) {
	catalog := &fakeCatalog{pools: []*pool.Pool{
		testPool("us-east-1a", "0.20"),
		testPool("us-east-1b", "0.20"),
	}}
	prices := &fakePrices{latest: map[string]*types.PricePoint{
		"us-east-1a": pricePoint("us-east-1a", "0.15", 1.0),
		"us-east-1b": pricePoint("us-east-1b", "0.051", 0.8),
	}}
	instances := &fakeInstances{primaries: []*types.Instance{
		runningPrimary("inst_1", "agt_1", "us-east-1a", 2*time.Hour),
	}}
	queue := newFakeQueue()

	cfg := config.Default()
	audit := &fakeAudit{}
	gateway, err := decision.NewGateway(cfg.Decision, audit, zap.NewNop())
	require.NoError(t, err)

	adv := New(instances, prices, queue, catalog, gateway, cfg.Decision, cfg.Commands, zap.NewNop())
	require.NoError(t, adv.RunOnce(context.Background()))

	require.Len(t, audit.events, 1)
	assert.Equal(t, types.AuditActionDecision, audit.events[0].Action)
	assert.Equal(t, "switch", audit.events[0].Metadata["action"])
	assert.Equal(t, "us-east-1b", audit.events[0].Metadata["target_pool"])
}

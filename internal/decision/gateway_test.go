package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/pkg/types"
)

type fakeAudit struct {
	events []*types.AuditEvent
}

func (f *fakeAudit) Log(_ context.Context, event *types.AuditEvent) error {
	f.events = append(f.events, event)
	return nil
}

// slowProvider blocks until its context is cancelled
type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }
func (slowProvider) Decide(ctx context.Context, _ *Input) (*Recommendation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingProvider always errors
type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }
func (failingProvider) Decide(context.Context, *Input) (*Recommendation, error) {
	return nil, errors.New("boom")
}

func decisionConfig() config.DecisionConfig {
	return config.DecisionConfig{
		Provider:        "rules",
		ProviderTimeout: 2 * time.Second,
		SwitchRatio:     "0.6",
		MinDwell:        30 * time.Minute,
	}
}

func quote(poolID, discounted, stable string, confidence float64) PoolQuote {
	return PoolQuote{
		PoolID:     poolID,
		Discounted: decimal.RequireFromString(discounted),
		Stable:     decimal.RequireFromString(stable),
		Confidence: confidence,
	}
}

func decisionInput(candidates ...PoolQuote) *Input {
	asked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Input{
		Instance: &types.Instance{
			ID:      "ins_1",
			AgentID: "agt_1",
			Role:    types.RolePrimary,
			Status:  types.InstanceStatusRunning,
		},
		CurrentPool:   "pool-current",
		EnteredPoolAt: asked.Add(-2 * time.Hour),
		Candidates:    candidates,
		AskedAt:       asked,
	}
}

func TestRulesProvider_Decide(t *testing.T) {
	provider, err := NewRulesProvider(decisionConfig())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("switches to a pool well under its stable rate", func(t *testing.T) {
		// 0.051 against a 0.20 stable rate clears the 0.6 threshold
		input := decisionInput(
			quote("pool-current", "0.09", "0.10", 1.0),
			quote("pool-cheap", "0.051", "0.20", 0.8),
		)

		rec, err := provider.Decide(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ActionSwitch, rec.Action)
		assert.Equal(t, "pool-cheap", rec.TargetPool)
		assert.GreaterOrEqual(t, rec.Confidence, 0.8)
	})

	t.Run("stays during the dwell period", func(t *testing.T) {
		input := decisionInput(
			quote("pool-current", "0.09", "0.10", 1.0),
			quote("pool-cheap", "0.051", "0.20", 0.8),
		)
		input.EnteredPoolAt = input.AskedAt.Add(-10 * time.Minute)

		rec, err := provider.Decide(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ActionStay, rec.Action)
		assert.Contains(t, rec.Reason, "dwell")
	})

	t.Run("stays when no candidate clears the threshold", func(t *testing.T) {
		// 0.15 is 75% of its 0.20 stable rate, above the 0.6 ratio
		input := decisionInput(
			quote("pool-current", "0.09", "0.10", 1.0),
			quote("pool-pricey", "0.15", "0.20", 1.0),
		)

		rec, err := provider.Decide(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ActionStay, rec.Action)
	})

	t.Run("stays when current pool is already cheapest", func(t *testing.T) {
		input := decisionInput(
			quote("pool-current", "0.02", "0.10", 1.0),
			quote("pool-other", "0.05", "0.20", 1.0),
		)

		rec, err := provider.Decide(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ActionStay, rec.Action)
	})

	t.Run("picks the cheapest of several eligible pools", func(t *testing.T) {
		input := decisionInput(
			quote("pool-current", "0.09", "0.10", 1.0),
			quote("pool-a", "0.06", "0.20", 0.9),
			quote("pool-b", "0.04", "0.20", 0.9),
		)

		rec, err := provider.Decide(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ActionSwitch, rec.Action)
		assert.Equal(t, "pool-b", rec.TargetPool)
	})
}

func TestGateway_Decide(t *testing.T) {
	logger := zap.NewNop()

	t.Run("records every decision in the audit trail", func(t *testing.T) {
		audit := &fakeAudit{}
		gateway, err := NewGateway(decisionConfig(), audit, logger)
		require.NoError(t, err)

		input := decisionInput(
			quote("pool-current", "0.09", "0.10", 1.0),
			quote("pool-cheap", "0.051", "0.20", 0.8),
		)
		rec, err := gateway.Decide(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, ActionSwitch, rec.Action)

		require.Len(t, audit.events, 1)
		assert.Equal(t, types.AuditActionDecision, audit.events[0].Action)
		assert.Equal(t, "switch", audit.events[0].Metadata["action"])
		assert.Equal(t, "rules", audit.events[0].Metadata["provider"])
	})

	t.Run("slow provider falls back within the budget", func(t *testing.T) {
		audit := &fakeAudit{}
		cfg := decisionConfig()
		cfg.ProviderTimeout = 50 * time.Millisecond
		gateway, err := NewGateway(cfg, audit, logger)
		require.NoError(t, err)
		gateway.provider = slowProvider{}

		input := decisionInput(
			quote("pool-current", "0.09", "0.10", 1.0),
			quote("pool-cheap", "0.051", "0.20", 0.8),
		)

		started := time.Now()
		rec, err := gateway.Decide(context.Background(), input)
		elapsed := time.Since(started)

		require.NoError(t, err)
		assert.Less(t, elapsed, time.Second, "fallback must answer promptly")
		assert.Equal(t, ActionSwitch, rec.Action)
		assert.Equal(t, "rules", rec.Provider)
		assert.Contains(t, rec.Reason, "fallback")
		require.Len(t, audit.events, 1)
	})

	t.Run("provider error is not an error for the caller", func(t *testing.T) {
		audit := &fakeAudit{}
		gateway, err := NewGateway(decisionConfig(), audit, logger)
		require.NoError(t, err)
		gateway.provider = failingProvider{}

		rec, err := gateway.Decide(context.Background(), decisionInput(
			quote("pool-current", "0.09", "0.10", 1.0),
		))
		require.NoError(t, err)
		assert.Equal(t, ActionStay, rec.Action)
	})

	t.Run("rejects unknown provider kind", func(t *testing.T) {
		cfg := decisionConfig()
		cfg.Provider = "oracle"
		_, err := NewGateway(cfg, &fakeAudit{}, logger)
		assert.Error(t, err)
	})

	t.Run("remote provider requires a URL", func(t *testing.T) {
		cfg := decisionConfig()
		cfg.Provider = "remote"
		_, err := NewGateway(cfg, &fakeAudit{}, logger)
		assert.Error(t, err)
	})
}

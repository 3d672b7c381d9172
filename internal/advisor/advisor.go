// Package advisor periodically evaluates each running primary against the
// consolidated price series and turns switch recommendations into queued
// agent commands. It is the only caller of the decision gateway on the
// cost-optimization path; the emergency path never waits on it.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/internal/decision"
	"github.com/spotguard/spotguard/internal/pool"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

// InstanceLister reads the instances under evaluation
type InstanceLister interface {
	ListRunningPrimaries(ctx context.Context) ([]*types.Instance, error)
}

// PriceReader reads the canonical consolidated series
type PriceReader interface {
	Latest(ctx context.Context, poolID string) (*types.PricePoint, error)
}

// CommandQueue enqueues idempotent agent commands
type CommandQueue interface {
	Enqueue(ctx context.Context, cmd *types.Command) (*store.EnqueueResult, error)
}

// Catalog lists the enabled pools to quote
type Catalog interface {
	List() []*pool.Pool
}

// Decider produces a recommendation for one instance
type Decider interface {
	Decide(ctx context.Context, input *decision.Input) (*decision.Recommendation, error)
}

// Advisor drives the periodic cost evaluation loop
type Advisor struct {
	instances InstanceLister
	prices    PriceReader
	commands  CommandQueue
	catalog   Catalog
	gateway   Decider

	interval      time.Duration
	commandExpiry time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// New creates an advisor
func New(
	instances InstanceLister,
	prices PriceReader,
	commands CommandQueue,
	catalog Catalog,
	gateway Decider,
	cfg config.DecisionConfig,
	cmdCfg config.CommandConfig,
	logger *zap.Logger,
) *Advisor {
	return &Advisor{
		instances:     instances,
		prices:        prices,
		commands:      commands,
		catalog:       catalog,
		gateway:       gateway,
		interval:      cfg.EvaluateInterval,
		commandExpiry: cmdCfg.Expiry,
		logger:        logger,
		now:           time.Now,
	}
}

// Start runs the evaluation loop until the context is cancelled
func (a *Advisor) Start(ctx context.Context) error {
	a.logger.Info("advisor starting", zap.Duration("interval", a.interval))

	if err := a.RunOnce(ctx); err != nil {
		a.logger.Error("advisor run failed", zap.Error(err))
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("advisor stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.Error("advisor run failed", zap.Error(err))
			}
		}
	}
}

// RunOnce evaluates every running primary once. A failure for one
// instance does not stop the sweep.
func (a *Advisor) RunOnce(ctx context.Context) error {
	quotes, err := a.collectQuotes(ctx)
	if err != nil {
		return fmt.Errorf("collect pool quotes: %w", err)
	}
	if len(quotes) == 0 {
		a.logger.Debug("no consolidated prices yet, skipping evaluation")
		return nil
	}

	primaries, err := a.instances.ListRunningPrimaries(ctx)
	if err != nil {
		return fmt.Errorf("list running primaries: %w", err)
	}

	for _, inst := range primaries {
		if err := a.evaluate(ctx, inst, quotes); err != nil {
			a.logger.Error("evaluate instance",
				zap.String("instance_id", inst.ID),
				zap.Error(err))
		}
	}

	return nil
}

// collectQuotes builds one quote per enabled pool from the latest
// consolidated point. Pools without consolidated data yet are skipped.
func (a *Advisor) collectQuotes(ctx context.Context) ([]decision.PoolQuote, error) {
	var quotes []decision.PoolQuote
	for _, p := range a.catalog.List() {
		point, err := a.prices.Latest(ctx, p.Name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("latest price for pool %s: %w", p.Name, err)
		}

		stable, err := p.StablePrice()
		if err != nil {
			return nil, fmt.Errorf("stable price for pool %s: %w", p.Name, err)
		}

		quotes = append(quotes, decision.PoolQuote{
			PoolID:     p.Name,
			Discounted: point.Price,
			Stable:     stable,
			Confidence: point.Confidence,
			Bucket:     point.Bucket,
		})
	}
	return quotes, nil
}

func (a *Advisor) evaluate(ctx context.Context, inst *types.Instance, quotes []decision.PoolQuote) error {
	rec, err := a.gateway.Decide(ctx, &decision.Input{
		Instance:      inst,
		CurrentPool:   inst.PoolID,
		EnteredPoolAt: enteredPoolAt(inst),
		Candidates:    quotes,
		AskedAt:       a.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}

	if rec.Action != decision.ActionSwitch {
		return nil
	}

	// One command per instance, target and price bucket; retries and
	// overlapping sweeps dedup on the request id
	bucket := quoteBucket(quotes, rec.TargetPool)
	requestID := fmt.Sprintf("switch-%s-%s-%d", inst.ID, rec.TargetPool, bucket.Unix())

	enqueued, err := a.commands.Enqueue(ctx, &types.Command{
		ID:        types.GenerateCommandID(),
		AgentID:   inst.AgentID,
		Type:      types.CommandTypeSwitchPool,
		RequestID: requestID,
		Priority:  types.PriorityScheduled,
		Reason:    types.CommandReasonCost,
		Payload: types.Payload{
			"instance_id": inst.ID,
			"target_pool": rec.TargetPool,
			"confidence":  rec.Confidence,
			"provider":    rec.Provider,
		},
		PreState:  types.Payload{"instance_id": inst.ID, "pool_id": inst.PoolID},
		ExpiresAt: store.ExpiresIn(a.commandExpiry),
	})
	if err != nil {
		return fmt.Errorf("enqueue switch command: %w", err)
	}

	a.logger.Info("switch recommended",
		zap.String("instance_id", inst.ID),
		zap.String("agent_id", inst.AgentID),
		zap.String("from_pool", inst.PoolID),
		zap.String("to_pool", rec.TargetPool),
		zap.Float64("confidence", rec.Confidence),
		zap.Bool("deduped", enqueued.Deduped))

	return nil
}

// enteredPoolAt approximates when the instance entered its current pool
func enteredPoolAt(inst *types.Instance) time.Time {
	if inst.LaunchConfirmedAt != nil {
		return *inst.LaunchConfirmedAt
	}
	return inst.CreatedAt
}

func quoteBucket(quotes []decision.PoolQuote, poolID string) time.Time {
	for i := range quotes {
		if quotes[i].PoolID == poolID {
			return quotes[i].Bucket
		}
	}
	return time.Time{}
}

package consolidator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

// Runner drives scheduled consolidation runs. Each run is recorded as a
// job row with per-pool checkpoints, so a crashed run resumes from its
// last checkpoint instead of redoing the whole window. Overlapping
// windows are harmless: points upsert deterministically.
type Runner struct {
	store    *store.Store
	params   Params
	cfg      config.ConsolidatorConfig
	runnerID string
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a consolidation runner
func NewRunner(st *store.Store, cfg config.ConsolidatorConfig, logger *zap.Logger) (*Runner, error) {
	params, err := NewParams(cfg)
	if err != nil {
		return nil, fmt.Errorf("consolidator params: %w", err)
	}

	hostname, _ := os.Hostname()
	runnerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	return &Runner{
		store:    st,
		params:   params,
		cfg:      cfg,
		runnerID: runnerID,
		logger:   logger.With(zap.String("runner_id", runnerID)),
	}, nil
}

// Start runs the scheduled loop until the context is cancelled. A stale
// interrupted job is resumed before the first scheduled run.
func (r *Runner) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.logger.Info("consolidation runner starting",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("bucket_width", r.cfg.BucketWidth))

	if err := r.resumeInterrupted(r.ctx); err != nil {
		r.logger.Error("resume interrupted consolidation", zap.Error(err))
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("consolidation runner shutting down")
			return r.ctx.Err()

		case <-ticker.C:
			if _, err := r.RunScheduled(r.ctx); err != nil {
				r.logger.Error("scheduled consolidation run failed", zap.Error(err))
			}
		}
	}
}

// Stop cancels the running loop
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// RunScheduled consolidates from the end of the last completed window up
// to the current bucket boundary.
func (r *Runner) RunScheduled(ctx context.Context) (*types.ConsolidationJob, error) {
	to := time.Now().UTC().Truncate(r.params.BucketWidth)
	from := to.Add(-r.cfg.Interval)

	last, err := r.store.Jobs.LastCompleted(ctx)
	if err == nil {
		from = last.WindowTo
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("find last completed run: %w", err)
	}

	if !to.After(from) {
		return nil, nil
	}

	return r.RunWindow(ctx, from, to, types.TriggerScheduled)
}

// RunWindow consolidates an explicit window. Used by scheduled runs and
// by operator-triggered catch-up after an outage.
func (r *Runner) RunWindow(ctx context.Context, from, to time.Time, trigger types.ConsolidationTrigger) (*types.ConsolidationJob, error) {
	from = from.UTC().Truncate(r.params.BucketWidth)
	to = to.UTC().Truncate(r.params.BucketWidth)
	if !to.After(from) {
		return nil, fmt.Errorf("window [%s, %s) is empty", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	job := &types.ConsolidationJob{
		ID:         types.GenerateJobID(),
		Status:     types.ConsolidationStatusRunning,
		Trigger:    trigger,
		WindowFrom: from,
		WindowTo:   to,
	}
	if err := r.store.Jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create consolidation job: %w", err)
	}

	if err := r.run(ctx, job); err != nil {
		if failErr := r.store.Jobs.Fail(ctx, job.ID, err.Error()); failErr != nil {
			r.logger.Error("mark consolidation job failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return job, err
	}

	if err := r.store.Jobs.Complete(ctx, job.ID); err != nil {
		return job, fmt.Errorf("complete consolidation job: %w", err)
	}

	r.logger.Info("consolidation run complete",
		zap.String("job_id", job.ID),
		zap.String("trigger", string(trigger)),
		zap.Int("pools", job.PoolCount),
		zap.Int("samples", job.SampleCount),
		zap.Int("points", job.WrittenCount),
		zap.Int("gaps", job.GapCount))

	return job, nil
}

// resumeInterrupted picks up a RUNNING job whose heartbeat went stale and
// continues it past the checkpointed pool.
func (r *Runner) resumeInterrupted(ctx context.Context) error {
	job, err := r.store.Jobs.LastInterrupted(ctx, r.cfg.StaleAfter)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find interrupted job: %w", err)
	}

	r.logger.Info("resuming interrupted consolidation",
		zap.String("job_id", job.ID),
		zap.Stringp("last_pool", job.LastPool))

	if err := r.run(ctx, job); err != nil {
		if failErr := r.store.Jobs.Fail(ctx, job.ID, err.Error()); failErr != nil {
			r.logger.Error("mark consolidation job failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return err
	}

	return r.store.Jobs.Complete(ctx, job.ID)
}

// run consolidates the job window pool by pool, checkpointing after each
// pool so a crash loses at most one pool of work. Pools arrive in sorted
// order; a resumed job skips every pool at or before the checkpoint.
func (r *Runner) run(ctx context.Context, job *types.ConsolidationJob) error {
	pools, err := r.store.Samples.ListPoolsWithSamples(ctx, job.WindowFrom, job.WindowTo)
	if err != nil {
		return fmt.Errorf("list pools with samples: %w", err)
	}

	for _, poolID := range pools {
		if err := ctx.Err(); err != nil {
			return err
		}
		if job.LastPool != nil && poolID <= *job.LastPool {
			continue
		}

		samples, err := r.store.Samples.ListRange(ctx, poolID, job.WindowFrom, job.WindowTo)
		if err != nil {
			return fmt.Errorf("list samples for pool %s: %w", poolID, err)
		}

		points, gaps := Consolidate(poolID, samples, job.WindowFrom, job.WindowTo, r.params)
		for _, point := range points {
			point.JobID = job.ID
		}

		if err := r.store.PricePoints.UpsertBatch(ctx, points); err != nil {
			return fmt.Errorf("upsert points for pool %s: %w", poolID, err)
		}

		for _, gap := range gaps {
			r.reportGap(ctx, job, gap)
		}

		// Counters carry this pool's contribution only; the store adds
		// them onto the running totals.
		if err := r.store.Jobs.Checkpoint(ctx, job.ID, poolID, len(samples), len(points), len(gaps)); err != nil {
			return fmt.Errorf("checkpoint job: %w", err)
		}

		job.LastPool = &poolID
		job.PoolCount++
		job.SampleCount += len(samples)
		job.WrittenCount += len(points)
		job.GapCount += len(gaps)
	}

	return nil
}

// reportGap records an unfillable gap in the audit trail. Gap reporting
// failures are logged, not fatal: the points already written stand.
func (r *Runner) reportGap(ctx context.Context, job *types.ConsolidationJob, gap types.PriceGap) {
	event := &types.AuditEvent{
		ID:     types.GenerateEventID(),
		Actor:  "consolidator",
		Action: types.AuditActionGapReport,
		Reason: fmt.Sprintf("pool %s has %d buckets without usable samples", gap.PoolID, gap.Buckets),
		Metadata: types.Payload{
			"job_id":  job.ID,
			"pool_id": gap.PoolID,
			"from":    gap.From.Format(time.RFC3339),
			"to":      gap.To.Format(time.RFC3339),
			"buckets": gap.Buckets,
		},
	}

	if err := r.store.Audit.Log(ctx, event); err != nil {
		r.logger.Error("record gap report", zap.String("pool_id", gap.PoolID), zap.Error(err))
	}

	r.logger.Warn("pricing gap too wide to interpolate",
		zap.String("pool_id", gap.PoolID),
		zap.Time("from", gap.From),
		zap.Time("to", gap.To),
		zap.Int("buckets", gap.Buckets))
}

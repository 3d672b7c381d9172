// Package reaper runs the periodic hygiene tasks: expiring overdue
// commands, terminating zombies that outlived their grace period, and
// flagging agents whose mode flags contradict each other. Violations
// are alarmed, never silently repaired.
package reaper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/cloud"
	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/internal/notify"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

// Config holds reaper configuration
type Config struct {
	CheckInterval time.Duration
	ZombieGrace   time.Duration
	CommandExpiry time.Duration
	JobStaleAfter time.Duration
}

// FromConfig derives reaper settings from the application configuration
func FromConfig(cfg *config.Config) *Config {
	return &Config{
		CheckInterval: time.Minute,
		ZombieGrace:   cfg.Failover.ZombieGrace,
		CommandExpiry: cfg.Commands.Expiry,
		JobStaleAfter: cfg.Consolidator.StaleAfter,
	}
}

// Reaper performs periodic cleanup tasks
type Reaper struct {
	config   *Config
	store    *store.Store
	provider cloud.Provider
	notifier notify.Notifier
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a reaper instance
func New(cfg *Config, st *store.Store, provider cloud.Provider, notifier notify.Notifier, logger *zap.Logger) *Reaper {
	return &Reaper{
		config:   cfg,
		store:    st,
		provider: provider,
		notifier: notifier,
		logger:   logger,
	}
}

// Start runs the reaper loop until the context is cancelled. The first
// sweep runs immediately.
func (r *Reaper) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.logger.Info("reaper starting",
		zap.Duration("check_interval", r.config.CheckInterval),
		zap.Duration("zombie_grace", r.config.ZombieGrace))

	r.run(r.ctx)

	ticker := time.NewTicker(r.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("reaper shutting down")
			return r.ctx.Err()

		case <-ticker.C:
			r.run(r.ctx)
		}
	}
}

// Stop cancels the running loop
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// run performs one sweep of all tasks. The loop context is passed
// through so shutdown aborts an in-flight sweep.
func (r *Reaper) run(ctx context.Context) {
	if err := r.expireCommands(ctx); err != nil {
		r.logger.Error("expire overdue commands", zap.Error(err))
	}

	if err := r.reapZombies(ctx); err != nil {
		r.logger.Error("reap zombies", zap.Error(err))
	}

	if err := r.flagModeViolations(ctx); err != nil {
		r.logger.Error("flag mode violations", zap.Error(err))
	}

	if err := r.failStaleJobs(ctx); err != nil {
		r.logger.Error("fail stale consolidation jobs", zap.Error(err))
	}
}

// expireCommands marks overdue commands EXPIRED and records each one.
// An expired command means an agent went quiet mid-failover, which is
// worth an operator's attention.
func (r *Reaper) expireCommands(ctx context.Context) error {
	expired, err := r.store.Commands.ExpireOverdue(ctx)
	if err != nil {
		return fmt.Errorf("expire overdue: %w", err)
	}

	for _, cmd := range expired {
		r.logger.Warn("command expired unacknowledged",
			zap.String("command_id", cmd.ID),
			zap.String("agent_id", cmd.AgentID),
			zap.String("type", string(cmd.Type)))

		event := &types.AuditEvent{
			ID:      types.GenerateEventID(),
			Actor:   "reaper",
			Action:  types.AuditActionCommandExpired,
			AgentID: &cmd.AgentID,
			Reason:  fmt.Sprintf("command %s (%s) expired without acknowledgement", cmd.ID, cmd.Type),
			Metadata: types.Payload{
				"command_id": cmd.ID,
				"type":       string(cmd.Type),
				"request_id": cmd.RequestID,
			},
		}
		if err := r.store.Audit.Log(ctx, event); err != nil {
			r.logger.Error("record expired command", zap.String("command_id", cmd.ID), zap.Error(err))
		}

		r.notifier.Send(ctx, "command expired",
			fmt.Sprintf("agent %s never acknowledged %s command %s", cmd.AgentID, cmd.Type, cmd.ID),
			map[string]interface{}{"agent_id": cmd.AgentID, "command_id": cmd.ID})
	}

	return nil
}

// reapZombies moves zombies past their grace period toward termination
func (r *Reaper) reapZombies(ctx context.Context) error {
	zombies, err := r.store.Instances.ListZombies(ctx, r.config.ZombieGrace.String())
	if err != nil {
		return fmt.Errorf("list zombies: %w", err)
	}

	for _, zombie := range zombies {
		version, err := r.store.Instances.Transition(ctx, zombie.ID, zombie.Version,
			types.InstanceStatusTerminating, types.RoleZombie)
		if err != nil {
			// A concurrent actor already moved it; the next sweep retries
			if err == store.ErrVersionConflict {
				continue
			}
			r.logger.Error("mark zombie terminating", zap.String("instance_id", zombie.ID), zap.Error(err))
			continue
		}

		if zombie.ProviderID != "" {
			if err := r.provider.Terminate(ctx, zombie.ProviderID); err != nil {
				r.logger.Error("terminate zombie at provider",
					zap.String("instance_id", zombie.ID),
					zap.String("provider_id", zombie.ProviderID),
					zap.Error(err))
				continue
			}
		}

		if _, err := r.store.Instances.Transition(ctx, zombie.ID, version,
			types.InstanceStatusTerminated, types.RoleZombie); err != nil {
			r.logger.Error("confirm zombie terminated", zap.String("instance_id", zombie.ID), zap.Error(err))
			continue
		}

		r.logger.Info("zombie terminated",
			zap.String("instance_id", zombie.ID),
			zap.String("agent_id", zombie.AgentID))
	}

	return nil
}

// failStaleJobs marks RUNNING consolidation jobs with a stale heartbeat
// FAILED so the next scheduled run re-covers their window. Consolidation
// is convergent, so re-covering is safe.
func (r *Reaper) failStaleJobs(ctx context.Context) error {
	stale, err := r.store.Jobs.LastInterrupted(ctx, r.config.JobStaleAfter)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find stale job: %w", err)
	}

	if err := r.store.Jobs.Fail(ctx, stale.ID,
		fmt.Sprintf("heartbeat stale for over %s, runner presumed dead", r.config.JobStaleAfter)); err != nil {
		return fmt.Errorf("fail stale job %s: %w", stale.ID, err)
	}

	r.logger.Warn("stale consolidation job failed for re-run",
		zap.String("job_id", stale.ID),
		zap.Time("last_heartbeat", stale.HeartbeatAt))

	return nil
}

// flagModeViolations surfaces agents with both replica modes enabled
func (r *Reaper) flagModeViolations(ctx context.Context) error {
	violators, err := r.store.Agents.ListModeViolations(ctx)
	if err != nil {
		return fmt.Errorf("list mode violations: %w", err)
	}

	for _, agent := range violators {
		r.logger.Warn("agent has both replica modes enabled", zap.String("agent_id", agent.ID))

		event := &types.AuditEvent{
			ID:      types.GenerateEventID(),
			Actor:   "reaper",
			Action:  types.AuditActionModeViolation,
			AgentID: &agent.ID,
			Reason:  "manual and emergency replica modes are both enabled",
		}
		if err := r.store.Audit.Log(ctx, event); err != nil {
			r.logger.Error("record mode violation", zap.String("agent_id", agent.ID), zap.Error(err))
		}

		r.notifier.Send(ctx, "replica mode violation",
			fmt.Sprintf("agent %s has both replica modes enabled", agent.ID),
			map[string]interface{}{"agent_id": agent.ID})
	}

	return nil
}

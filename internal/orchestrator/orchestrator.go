// Package orchestrator reacts to provider interruption notices. A
// rebalance notice warms up a standby replica; a termination notice
// promotes the standby, or launches fresh stable capacity when no
// standby is ready. Every action is idempotent: notices are retried by
// agents and often arrive more than once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/cloud"
	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/internal/notify"
	"github.com/spotguard/spotguard/internal/pool"
	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

// InstanceStore is the slice of the instance store the orchestrator needs
type InstanceStore interface {
	GetByID(ctx context.Context, id string) (*types.Instance, error)
	Create(ctx context.Context, inst *types.Instance) error
	Transition(ctx context.Context, id string, expectedVersion int64, newStatus types.InstanceStatus, newRole types.InstanceRole) (int64, error)
	ConfirmLaunch(ctx context.Context, id string, expectedVersion int64, providerID string) (int64, error)
}

// ReplicaStore is the slice of the replica store the orchestrator needs
type ReplicaStore interface {
	Create(ctx context.Context, rep *types.Replica) (*types.Replica, error)
	GetByID(ctx context.Context, id string) (*types.Replica, error)
	GetActive(ctx context.Context, agentID string) (*types.Replica, error)
	MarkReady(ctx context.Context, id string, expectedVersion int64, bootSeconds float64) error
}

// CommandQueue enqueues idempotent agent commands
type CommandQueue interface {
	Enqueue(ctx context.Context, cmd *types.Command) (*store.EnqueueResult, error)
}

// AgentStore reads agent records and their mode flags
type AgentStore interface {
	GetByID(ctx context.Context, id string) (*types.Agent, error)
	RecordBootTime(ctx context.Context, id, poolID string, bootSeconds float64) error
}

// ErrNotOwner is returned when a report names a resource that belongs
// to a different agent
var ErrNotOwner = errors.New("resource belongs to another agent")

// errPromotionFailed marks promote failures that left the dying
// primary untouched, so a fresh launch is still safe
var errPromotionFailed = errors.New("promotion failed")

// Promoter atomically swaps a ready replica in for a dying primary
type Promoter interface {
	Promote(ctx context.Context, replica *types.Replica, replicaInstance, primary *types.Instance) error
}

// Catalog resolves pool names for replica and fresh-launch placement
type Catalog interface {
	Get(name string) (*pool.Pool, error)
	List() []*pool.Pool
}

// AuditLogger records orchestrator actions
type AuditLogger interface {
	Log(ctx context.Context, event *types.AuditEvent) error
}

// Action names what the orchestrator did with a notice
type Action string

const (
	ActionNone          Action = "none"
	ActionReplicaQueued Action = "replica_queued"
	ActionPromoted      Action = "promoted"
	ActionFreshLaunch   Action = "fresh_launch"
)

// Result reports the outcome of one handled notice
type Result struct {
	Action  Action         `json:"action"`
	Deduped bool           `json:"deduped"`
	Command *types.Command `json:"command,omitempty"`
	PoolID  string         `json:"pool_id,omitempty"`
	Elapsed time.Duration  `json:"elapsed_ms"`
}

// Orchestrator handles interruption notices for all agents
type Orchestrator struct {
	instances InstanceStore
	replicas  ReplicaStore
	commands  CommandQueue
	agents    AgentStore
	promoter  Promoter
	catalog   Catalog
	provider  cloud.Provider
	audit     AuditLogger
	notifier  notify.Notifier
	logger    *zap.Logger

	promotionBudget time.Duration
	commandExpiry   time.Duration

	now func() time.Time
}

// New creates an orchestrator
func New(
	instances InstanceStore,
	replicas ReplicaStore,
	commands CommandQueue,
	agents AgentStore,
	promoter Promoter,
	catalog Catalog,
	provider cloud.Provider,
	audit AuditLogger,
	notifier notify.Notifier,
	failover config.FailoverConfig,
	commandCfg config.CommandConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		instances:       instances,
		replicas:        replicas,
		commands:        commands,
		agents:          agents,
		promoter:        promoter,
		catalog:         catalog,
		provider:        provider,
		audit:           audit,
		notifier:        notifier,
		logger:          logger,
		promotionBudget: failover.PromotionBudget,
		commandExpiry:   commandCfg.Expiry,
		now:             time.Now,
	}
}

// HandleRebalance reacts to an advance capacity warning by ensuring a
// standby replica exists for the threatened instance. Re-delivered
// notices find the existing replica and do nothing.
func (o *Orchestrator) HandleRebalance(ctx context.Context, agentID, instanceID string) (*Result, error) {
	started := o.now()

	agent, err := o.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	instance, err := o.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if instance.AgentID != agentID {
		return nil, fmt.Errorf("instance %s does not belong to agent %s", instanceID, agentID)
	}

	if agent.Mode() != types.ReplicaModeEmergency {
		result := &Result{Action: ActionNone, Elapsed: o.now().Sub(started)}
		o.auditNotice(ctx, types.AuditActionRebalanceNotice, agent, instance,
			fmt.Sprintf("rebalance notice recorded, replica mode is %s", agent.Mode()), false)
		return result, nil
	}

	// An active replica already covers this agent
	if existing, err := o.replicas.GetActive(ctx, agentID); err == nil {
		result := &Result{Action: ActionNone, Deduped: true, Elapsed: o.now().Sub(started)}
		o.auditNotice(ctx, types.AuditActionRebalanceNotice, agent, instance,
			fmt.Sprintf("replica %s already active", existing.ID), true)
		return result, nil
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("check active replica: %w", err)
	}

	target, err := o.replicaPool(agent, instance)
	if err != nil {
		return nil, err
	}

	requestID := fmt.Sprintf("rebalance-%s", instanceID)
	now := o.now().UTC()

	replicaInstance := &types.Instance{
		ID:                types.GenerateInstanceID(),
		AgentID:           agentID,
		Role:              types.RoleReplica,
		Status:            types.InstanceStatusLaunching,
		Mode:              types.ModeDiscounted,
		PoolID:            target.Name,
		LaunchRequestedAt: &now,
	}
	if err := o.instances.Create(ctx, replicaInstance); err != nil {
		return nil, fmt.Errorf("create replica instance: %w", err)
	}

	replica, err := o.replicas.Create(ctx, &types.Replica{
		ID:             types.GenerateReplicaID(),
		AgentID:        agentID,
		InstanceID:     replicaInstance.ID,
		Status:         types.ReplicaStatusLaunching,
		CreationReason: types.ReasonEmergency,
		SyncStatus:     types.SyncStatusSyncing,
		RequestID:      requestID,
	})
	if err != nil {
		return nil, fmt.Errorf("create replica record: %w", err)
	}

	enqueued, err := o.commands.Enqueue(ctx, &types.Command{
		ID:        types.GenerateCommandID(),
		AgentID:   agentID,
		Type:      types.CommandTypeCreateReplica,
		RequestID: requestID,
		Priority:  types.PriorityEmergency,
		Reason:    types.CommandReasonInterruption,
		Payload: types.Payload{
			"replica_id":  replica.ID,
			"instance_id": replicaInstance.ID,
			"pool_id":     target.Name,
		},
		PreState:  types.Payload{"instance_id": instanceID, "pool_id": instance.PoolID},
		ExpiresAt: store.ExpiresIn(o.commandExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue replica command: %w", err)
	}

	o.auditNotice(ctx, types.AuditActionRebalanceNotice, agent, instance,
		fmt.Sprintf("replica %s queued in pool %s", replica.ID, target.Name), enqueued.Deduped)

	o.logger.Info("rebalance notice handled",
		zap.String("agent_id", agentID),
		zap.String("instance_id", instanceID),
		zap.String("replica_pool", target.Name),
		zap.Bool("deduped", enqueued.Deduped))

	return &Result{
		Action:  ActionReplicaQueued,
		Deduped: enqueued.Deduped,
		Command: enqueued.Command,
		PoolID:  target.Name,
		Elapsed: o.now().Sub(started),
	}, nil
}

// HandleReplicaBuilt processes an agent's report that a replica
// finished booting. The replica record flips to READY, its instance
// leaves LAUNCHING so the state machine permits a later promotion, and
// the boot time feeds the agent's fastest-pool cache. Re-delivered
// reports are no-ops.
func (o *Orchestrator) HandleReplicaBuilt(ctx context.Context, agentID, replicaID, providerID string, bootSeconds float64) error {
	replica, err := o.replicas.GetByID(ctx, replicaID)
	if err != nil {
		return fmt.Errorf("load replica: %w", err)
	}
	if replica.AgentID != agentID {
		return ErrNotOwner
	}

	instance, err := o.instances.GetByID(ctx, replica.InstanceID)
	if err != nil {
		return fmt.Errorf("load replica instance: %w", err)
	}

	if err := o.replicas.MarkReady(ctx, replica.ID, replica.Version, bootSeconds); err != nil {
		// Already ready or promoted; an earlier report handled it
		if errors.Is(err, store.ErrVersionConflict) {
			return nil
		}
		return fmt.Errorf("mark replica ready: %w", err)
	}

	if instance.Status == types.InstanceStatusLaunching {
		if providerID != "" {
			_, err = o.instances.ConfirmLaunch(ctx, instance.ID, instance.Version, providerID)
		} else {
			_, err = o.instances.Transition(ctx, instance.ID, instance.Version, types.InstanceStatusRunning, instance.Role)
		}
		if err != nil {
			return fmt.Errorf("activate replica instance %s: %w", instance.ID, err)
		}
	}

	if err := o.agents.RecordBootTime(ctx, agentID, instance.PoolID, bootSeconds); err != nil {
		o.logger.Warn("record boot time",
			zap.String("agent_id", agentID),
			zap.Error(err))
	}

	o.logger.Info("replica ready",
		zap.String("agent_id", agentID),
		zap.String("replica_id", replica.ID),
		zap.String("pool_id", instance.PoolID),
		zap.Float64("boot_seconds", bootSeconds))

	return nil
}

// HandleTermination reacts to a final termination notice. A ready
// replica is promoted in a single transaction; without one, fresh
// stable capacity is launched directly. The decision gateway is never
// consulted on this path.
func (o *Orchestrator) HandleTermination(ctx context.Context, agentID, instanceID string) (*Result, error) {
	started := o.now()

	agent, err := o.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	instance, err := o.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if instance.AgentID != agentID {
		return nil, fmt.Errorf("instance %s does not belong to agent %s", instanceID, agentID)
	}

	// A re-delivered notice finds the instance already demoted
	if instance.Role == types.RoleZombie || instance.Status.Terminal() {
		o.auditNotice(ctx, types.AuditActionTerminationNotice, agent, instance,
			"termination notice re-delivered, instance already handled", true)
		return &Result{Action: ActionNone, Deduped: true, Elapsed: o.now().Sub(started)}, nil
	}

	if agent.Mode() != types.ReplicaModeEmergency {
		o.auditNotice(ctx, types.AuditActionTerminationNotice, agent, instance,
			fmt.Sprintf("termination notice recorded, replica mode is %s", agent.Mode()), false)
		return &Result{Action: ActionNone, Elapsed: o.now().Sub(started)}, nil
	}

	replica, err := o.replicas.GetActive(ctx, agentID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("check active replica: %w", err)
	}

	if err == nil && replica.Status == types.ReplicaStatusReady {
		result, promoteErr := o.promote(ctx, started, agent, instance, replica)
		if promoteErr == nil {
			return result, nil
		}
		if !errors.Is(promoteErr, errPromotionFailed) {
			return nil, promoteErr
		}
		// The swap never committed, so the primary is still in place
		// and stable capacity can take over instead
		o.logger.Error("promotion failed, falling back to fresh launch",
			zap.String("agent_id", agentID),
			zap.String("replica_id", replica.ID),
			zap.Error(promoteErr))
	}

	return o.freshLaunch(ctx, started, agent, instance)
}

// promote swaps the ready replica in for the dying primary
func (o *Orchestrator) promote(ctx context.Context, started time.Time, agent *types.Agent, primary *types.Instance, replica *types.Replica) (*Result, error) {
	replicaInstance, err := o.instances.GetByID(ctx, replica.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("load replica instance: %w: %w", errPromotionFailed, err)
	}

	if err := o.promoter.Promote(ctx, replica, replicaInstance, primary); err != nil {
		return nil, fmt.Errorf("promote replica %s: %w: %w", replica.ID, errPromotionFailed, err)
	}

	requestID := fmt.Sprintf("term-%s", primary.ID)
	enqueued, err := o.commands.Enqueue(ctx, &types.Command{
		ID:        types.GenerateCommandID(),
		AgentID:   agent.ID,
		Type:      types.CommandTypePromoteReplica,
		RequestID: requestID,
		Priority:  types.PriorityEmergency,
		Reason:    types.CommandReasonInterruption,
		Payload: types.Payload{
			"replica_id":     replica.ID,
			"new_primary_id": replica.InstanceID,
			"old_primary_id": primary.ID,
		},
		PreState:  types.Payload{"primary_id": primary.ID, "pool_id": primary.PoolID},
		ExpiresAt: store.ExpiresIn(o.commandExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue promote command: %w", err)
	}

	elapsed := o.now().Sub(started)
	withinBudget := elapsed <= o.promotionBudget

	o.auditEvent(ctx, &types.AuditEvent{
		ID:         types.GenerateEventID(),
		Actor:      "orchestrator",
		Action:     types.AuditActionPromotion,
		AgentID:    &agent.ID,
		InstanceID: &replica.InstanceID,
		Reason:     fmt.Sprintf("replica %s promoted after termination notice for %s", replica.ID, primary.ID),
		Deduped:    enqueued.Deduped,
		Metadata: types.Payload{
			"elapsed_ms":    elapsed.Milliseconds(),
			"within_budget": withinBudget,
			"old_primary":   primary.ID,
		},
	})

	if !withinBudget {
		o.logger.Warn("promotion exceeded budget",
			zap.String("agent_id", agent.ID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", o.promotionBudget))
		o.notifier.Send(ctx, "promotion over budget",
			fmt.Sprintf("promotion for agent %s took %s", agent.ID, elapsed),
			map[string]interface{}{"agent_id": agent.ID, "elapsed_ms": elapsed.Milliseconds()})
	}

	return &Result{
		Action:  ActionPromoted,
		Deduped: enqueued.Deduped,
		Command: enqueued.Command,
		PoolID:  replicaInstance.PoolID,
		Elapsed: elapsed,
	}, nil
}

// freshLaunch replaces a dying primary with new stable capacity when no
// replica is ready. Stable capacity costs more but cannot be preempted
// while the agent rebuilds its standby.
func (o *Orchestrator) freshLaunch(ctx context.Context, started time.Time, agent *types.Agent, primary *types.Instance) (*Result, error) {
	target, err := o.replicaPool(agent, primary)
	if err != nil {
		return nil, err
	}

	// Demote the dying primary first so the new instance can take the
	// PRIMARY role without tripping the single-primary constraint
	if _, err := o.instances.Transition(ctx, primary.ID, primary.Version, types.InstanceStatusZombie, types.RoleZombie); err != nil {
		return nil, fmt.Errorf("demote dying primary: %w", err)
	}

	now := o.now().UTC()
	fresh := &types.Instance{
		ID:                types.GenerateInstanceID(),
		AgentID:           agent.ID,
		Role:              types.RolePrimary,
		Status:            types.InstanceStatusLaunching,
		Mode:              types.ModeStable,
		PoolID:            target.Name,
		LaunchRequestedAt: &now,
	}
	if err := o.instances.Create(ctx, fresh); err != nil {
		return nil, fmt.Errorf("create replacement instance: %w", err)
	}

	launched, err := o.provider.Launch(ctx, cloud.LaunchRequest{
		Pool:           target,
		AgentID:        agent.ID,
		StableCapacity: true,
	})
	if err != nil {
		return nil, fmt.Errorf("launch replacement in pool %s: %w", target.Name, err)
	}

	if _, err := o.instances.ConfirmLaunch(ctx, fresh.ID, fresh.Version, launched.ProviderID); err != nil {
		return nil, fmt.Errorf("confirm replacement launch: %w", err)
	}

	requestID := fmt.Sprintf("term-%s", primary.ID)
	enqueued, err := o.commands.Enqueue(ctx, &types.Command{
		ID:        types.GenerateCommandID(),
		AgentID:   agent.ID,
		Type:      types.CommandTypeLaunchInstance,
		RequestID: requestID,
		Priority:  types.PriorityEmergency,
		Reason:    types.CommandReasonInterruption,
		Payload: types.Payload{
			"instance_id": fresh.ID,
			"provider_id": launched.ProviderID,
			"pool_id":     target.Name,
			"mode":        string(types.ModeStable),
		},
		PreState:  types.Payload{"primary_id": primary.ID, "pool_id": primary.PoolID},
		ExpiresAt: store.ExpiresIn(o.commandExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue launch command: %w", err)
	}

	elapsed := o.now().Sub(started)

	o.auditEvent(ctx, &types.AuditEvent{
		ID:         types.GenerateEventID(),
		Actor:      "orchestrator",
		Action:     types.AuditActionFreshLaunch,
		AgentID:    &agent.ID,
		InstanceID: &fresh.ID,
		Reason:     fmt.Sprintf("no ready replica for %s, launched stable capacity in %s", primary.ID, target.Name),
		Deduped:    enqueued.Deduped,
		Metadata: types.Payload{
			"provider_id": launched.ProviderID,
			"pool_id":     target.Name,
			"elapsed_ms":  elapsed.Milliseconds(),
		},
	})

	o.logger.Info("fresh launch after termination notice",
		zap.String("agent_id", agent.ID),
		zap.String("pool_id", target.Name),
		zap.String("provider_id", launched.ProviderID))

	return &Result{
		Action:  ActionFreshLaunch,
		Deduped: enqueued.Deduped,
		Command: enqueued.Command,
		PoolID:  target.Name,
		Elapsed: elapsed,
	}, nil
}

// replicaPool picks where standby or replacement capacity goes: the
// agent's fastest observed boot pool when it is still in the catalog,
// otherwise the catalog's safest pool. The threatened pool itself is
// never chosen.
func (o *Orchestrator) replicaPool(agent *types.Agent, threatened *types.Instance) (*pool.Pool, error) {
	if agent.FastestBootPool != nil && *agent.FastestBootPool != threatened.PoolID {
		if p, err := o.catalog.Get(*agent.FastestBootPool); err == nil {
			return p, nil
		}
	}

	var best *pool.Pool
	for _, candidate := range o.catalog.List() {
		if candidate.Name == threatened.PoolID {
			continue
		}
		if best == nil || candidate.Risk.FallbackRank < best.Risk.FallbackRank {
			best = candidate
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no pool available outside threatened pool %s", threatened.PoolID)
	}
	return best, nil
}

func (o *Orchestrator) auditNotice(ctx context.Context, action types.AuditAction, agent *types.Agent, instance *types.Instance, reason string, deduped bool) {
	o.auditEvent(ctx, &types.AuditEvent{
		ID:         types.GenerateEventID(),
		Actor:      "orchestrator",
		Action:     action,
		AgentID:    &agent.ID,
		InstanceID: &instance.ID,
		Reason:     reason,
		Deduped:    deduped,
	})
}

func (o *Orchestrator) auditEvent(ctx context.Context, event *types.AuditEvent) {
	if err := o.audit.Log(ctx, event); err != nil {
		o.logger.Error("record audit event", zap.String("action", string(event.Action)), zap.Error(err))
	}
}

package decision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spotguard/spotguard/internal/config"
	"github.com/spotguard/spotguard/pkg/types"
)

// AuditLogger records decision outcomes
type AuditLogger interface {
	Log(ctx context.Context, event *types.AuditEvent) error
}

// Gateway wraps a provider with a hard timeout and the deterministic
// fallback. A provider failure or timeout is NOT an error from the
// gateway's point of view: the caller always gets a recommendation, and
// the audit trail records which provider actually answered.
type Gateway struct {
	provider Provider
	fallback *RulesProvider
	timeout  time.Duration
	audit    AuditLogger
	logger   *zap.Logger
}

// NewGateway builds the gateway from configuration. The configured
// provider may be "rules", "remote" or "disabled"; disabled means the
// fallback answers directly.
func NewGateway(cfg config.DecisionConfig, audit AuditLogger, logger *zap.Logger) (*Gateway, error) {
	fallback, err := NewRulesProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("rules provider: %w", err)
	}

	var provider Provider
	switch cfg.Provider {
	case "rules", "disabled", "":
		provider = fallback
	case "remote":
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("remote decision provider requires a URL")
		}
		provider = NewRemoteProvider(cfg.RemoteURL)
	default:
		return nil, fmt.Errorf("unknown decision provider %q", cfg.Provider)
	}

	return &Gateway{
		provider: provider,
		fallback: fallback,
		timeout:  cfg.ProviderTimeout,
		audit:    audit,
		logger:   logger,
	}, nil
}

// Decide obtains a recommendation for the instance within the configured
// budget and records it in the audit trail.
func (g *Gateway) Decide(ctx context.Context, input *Input) (*Recommendation, error) {
	if input.AskedAt.IsZero() {
		input.AskedAt = time.Now().UTC()
	}

	rec := g.consult(ctx, input)

	event := &types.AuditEvent{
		ID:         types.GenerateEventID(),
		Actor:      "decision-gateway",
		Action:     types.AuditActionDecision,
		AgentID:    &input.Instance.AgentID,
		InstanceID: &input.Instance.ID,
		Reason:     rec.Reason,
		Metadata: types.Payload{
			"provider":     rec.Provider,
			"action":       string(rec.Action),
			"target_pool":  rec.TargetPool,
			"current_pool": input.CurrentPool,
			"confidence":   rec.Confidence,
		},
	}
	if err := g.audit.Log(ctx, event); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}

	return rec, nil
}

// consult calls the configured provider under the timeout and falls back
// to the local rules when it misbehaves.
func (g *Gateway) consult(ctx context.Context, input *Input) *Recommendation {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rec, err := g.provider.Decide(callCtx, input)
	if err == nil {
		return rec
	}

	g.logger.Warn("decision provider failed, using fallback",
		zap.String("provider", g.provider.Name()),
		zap.String("instance_id", input.Instance.ID),
		zap.Error(err))

	// The rules provider cannot fail
	rec, _ = g.fallback.Decide(ctx, input)
	rec.Reason = fmt.Sprintf("fallback after %s provider error: %s", g.provider.Name(), rec.Reason)
	return rec
}
